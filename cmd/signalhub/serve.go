package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/buildcoprojects/signalhub/pkg/api"
	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/buildcoprojects/signalhub/pkg/audit"
	"github.com/buildcoprojects/signalhub/pkg/auth"
	"github.com/buildcoprojects/signalhub/pkg/chat"
	"github.com/buildcoprojects/signalhub/pkg/config"
	"github.com/buildcoprojects/signalhub/pkg/deploy"
	"github.com/buildcoprojects/signalhub/pkg/extract"
	"github.com/buildcoprojects/signalhub/pkg/ledger"
	"github.com/buildcoprojects/signalhub/pkg/llm"
	"github.com/buildcoprojects/signalhub/pkg/observability"
	"github.com/buildcoprojects/signalhub/pkg/payment"
	"github.com/buildcoprojects/signalhub/pkg/pipeline"
	"github.com/buildcoprojects/signalhub/pkg/repository"
	"github.com/buildcoprojects/signalhub/pkg/server"
	"github.com/buildcoprojects/signalhub/pkg/util/resiliency"
	"github.com/buildcoprojects/signalhub/pkg/wormhole"
)

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// app is the wired service.
type app struct {
	server    *server.Server
	telemetry *observability.Provider
	audit     *audit.AsyncLogger
	closers   []func() error
	logger    *slog.Logger
}

// buildApp wires every collaborator from cfg. Optional integrations fall
// back to local implementations when their credentials are missing.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	if cfg.ProfilePath != "" {
		profile, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		cfg.Apply(profile)
		logger.Info("profile applied", "path", cfg.ProfilePath)
	}

	primary, err := artifacts.NewStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("primary store: %w", err)
	}
	a.closers = append(a.closers, closerFor(primary))
	fallback, err := artifacts.NewFallbackStore(cfg.Storage)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("fallback store: %w", err)
	}
	lgr := ledger.New(primary, fallback, logger)

	telemetry, err := observability.New(ctx, observability.FromTelemetry(cfg.Telemetry, version, os.Getenv("SIGNALHUB_ENV")))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.telemetry = telemetry

	llmClient := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL, resiliency.NewEnhancedClient("openai"))
	var classifier llm.Classifier = llm.HeuristicClassifier{}
	var chatSvc server.Chat
	if cfg.OpenAI.APIKey != "" {
		classifier = llm.NewClassifier(llmClient, cfg.OpenAI.ClassifyTimeout, logger)
		chatSvc = chat.NewService(primary, llmClient, logger, chat.WithModel(cfg.OpenAI.Model))
	} else {
		logger.Warn("OPENAI_API_KEY not set; using keyword classification and disabling chat")
	}

	var (
		payments payment.Provider
		checkout payment.Checkout
	)
	if cfg.Stripe.SecretKey != "" {
		sc := payment.NewStripeClient(cfg.Stripe, resiliency.NewEnhancedClient("stripe"), logger)
		payments, checkout = sc, sc
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; payments are simulated")
		sim := payment.NewSimulated()
		payments, checkout = sim, sim
	}

	repo, err := repository.NewGitHubClient(cfg.GitHub, resiliency.NewEnhancedClient("github"), logger)
	if err != nil {
		a.close()
		return nil, err
	}

	policy, err := wormhole.NewPolicy(cfg.Wormhole.Policy)
	if err != nil {
		a.close()
		return nil, err
	}
	router, err := wormhole.NewRouter(wormhole.Deps{
		LLM:      llmClient,
		Model:    cfg.OpenAI.Model,
		Repo:     repo,
		Deployer: deploy.NewHook(cfg.Deploy, resiliency.NewEnhancedClient("deploy"), logger),
		Store:    primary,
		Signals:  lgr,
		Policy:   policy,
		Gate:     wormhole.NewGate(cfg.Wormhole.TokenSecret),
		Logger:   logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.audit = audit.NewAsyncLogger(lgr, logger)

	pipe, err := pipeline.New(pipeline.Deps{
		Store:      primary,
		Ledger:     lgr,
		Classifier: classifier,
		Payments:   payments,
		Router:     router,
		Audit:      a.audit,
		Telemetry:  telemetry,
		Logger:     logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	var limiter api.LimiterStore = api.NewMemoryLimiterStore()
	if cfg.Redis.Addr != "" {
		rl := api.NewRedisLimiterStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := rl.Ping(ctx); err != nil {
			logger.Warn("redis limiter unreachable; using in-process limiter", "addr", cfg.Redis.Addr, "error", err)
		} else {
			limiter = rl
		}
	}

	validator := auth.NewJWTValidator(cfg.Auth.JWTSecret)
	if validator == nil {
		logger.Warn("AUTH_JWT_SECRET not set; privileged routes are open to the local principal")
	}

	a.server = server.New(server.Deps{
		Pipeline:  pipe,
		Ledger:    lgr,
		Router:    router,
		Repo:      repo,
		Store:     primary,
		Chat:      chatSvc,
		Checkout:  checkout,
		Audit:     audit.NewSinkLogger(lgr),
		Validator: validator,
		Limiter:   limiter,
		Detector:  extract.NewDetector(cfg.Uploads.AllowedTypes),
		Uploads:   cfg.Uploads,
		RateLimit: cfg.RateLimit,
		Logger:    logger,
	})
	return a, nil
}

func closerFor(s artifacts.Store) func() error {
	return func() error {
		if c, ok := s.(io.Closer); ok {
			return c.Close()
		}
		return nil
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	if a.server != nil {
		a.server.Close()
	}
	if a.audit != nil {
		a.audit.Wait()
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

func runServer(ctx context.Context, cfg *config.Config, stderr io.Writer) error {
	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("signalhub listening", "addr", srv.Addr, "version", version, "storage", cfg.Storage.Type)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
