// Package server exposes the intake pipeline, the ledger and the privileged
// wormhole surface over HTTP.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/buildcoprojects/signalhub/pkg/api"
	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/buildcoprojects/signalhub/pkg/audit"
	"github.com/buildcoprojects/signalhub/pkg/auth"
	"github.com/buildcoprojects/signalhub/pkg/chat"
	"github.com/buildcoprojects/signalhub/pkg/config"
	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/extract"
	"github.com/buildcoprojects/signalhub/pkg/ledger"
	"github.com/buildcoprojects/signalhub/pkg/payment"
	"github.com/buildcoprojects/signalhub/pkg/pipeline"
	"github.com/buildcoprojects/signalhub/pkg/repository"
	"github.com/buildcoprojects/signalhub/pkg/wormhole"
)

// Submitter runs submissions.
type Submitter interface {
	SubmitJSON(ctx context.Context, raw []byte) (*pipeline.Result, error)
}

// Ledger is the read side of the signal ledger.
type Ledger interface {
	List(ctx context.Context, q ledger.Query) (ledger.Page, error)
	ListAudit(ctx context.Context, limit int) ([]audit.Event, error)
}

// Router is the privileged command surface.
type Router interface {
	ProcessArtefact(ctx context.Context, content string, meta wormhole.Metadata) (contracts.WormholeOutcome, error)
	Health(ctx context.Context) wormhole.HealthReport
}

// Chat streams and lists chat sessions.
type Chat interface {
	Stream(ctx context.Context, session, message string, relay func(string) error) (chat.Message, error)
	History(ctx context.Context, session string) ([]chat.Message, error)
}

// OperatorRole is required to execute wormhole commands.
const OperatorRole = "operator"

// Deps are the server's collaborators. Chat and Checkout may be nil; their
// routes then answer 503. Audit should write synchronously
// so a command response can report whether its record was stored.
type Deps struct {
	Pipeline  Submitter
	Ledger    Ledger
	Router    Router
	Repo      repository.Service
	Store     artifacts.Store
	Chat      Chat
	Checkout  payment.Checkout
	Audit     audit.Logger
	Validator *auth.JWTValidator
	Limiter   api.LimiterStore
	Detector  *extract.Detector
	Uploads   config.UploadConfig
	RateLimit config.RateLimitConfig
	Logger    *slog.Logger
}

type Server struct {
	deps    Deps
	global  *api.GlobalRateLimiter
	logger  *slog.Logger
	handler http.Handler
}

func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Detector == nil {
		d.Detector = extract.NewDetector(d.Uploads.AllowedTypes)
	}
	if d.Uploads.MaxBytes <= 0 {
		d.Uploads.MaxBytes = 20 << 20
	}
	if d.Limiter == nil {
		d.Limiter = api.NewMemoryLimiterStore()
	}
	if d.RateLimit.RPS <= 0 {
		d.RateLimit.RPS = 10
	}
	if d.RateLimit.Burst <= 0 {
		d.RateLimit.Burst = 2 * d.RateLimit.RPS
	}
	if d.RateLimit.PrivilegedRPM <= 0 {
		d.RateLimit.PrivilegedRPM = 30
	}
	s := &Server{
		deps:   d,
		global: api.NewGlobalRateLimiter(d.RateLimit.RPS, d.RateLimit.Burst),
		logger: d.Logger.With("component", "server"),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// Close stops background work owned by the server.
func (s *Server) Close() { s.global.Close() }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(auth.TraceMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.Use(s.global.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.WriteErrorR(w, r, http.StatusNotFound, "Not Found", "No route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		api.WriteMethodNotAllowed(w)
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/signal", s.handleSubmit)
		r.Get("/signal", s.handleListSignals)
		r.Get("/signals", s.handleListSignals)
		r.Post("/upload", s.handleUpload)
		r.Post("/checkout", s.handleCheckout)

		r.Group(func(r chi.Router) {
			r.Use(auth.NewMiddleware(s.deps.Validator))
			r.Use(api.WithLimiterStore(s.deps.Limiter, s.deps.RateLimit.PrivilegedRPM, s.deps.RateLimit.PrivilegedRPM, func(r *http.Request) string {
				return auth.ActorID(r.Context())
			}))
			r.With(auth.RequireRole(OperatorRole)).Post("/wormhole", s.handleWormholeCommand)
			r.Get("/wormhole", s.handleWormholeStatus)
			r.Get("/audit", s.handleAudit)
			r.Get("/repo", s.handleRepo)
		})

		r.Post("/chat", s.handleChat)
		r.Get("/chat/{session}", s.handleChatHistory)
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"trace_id", auth.TraceID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Router.Health(r.Context())
	status := http.StatusOK
	if report.Status != wormhole.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
