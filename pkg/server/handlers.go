package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/buildcoprojects/signalhub/pkg/api"
	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/buildcoprojects/signalhub/pkg/audit"
	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/extract"
	"github.com/buildcoprojects/signalhub/pkg/payment"
	"github.com/buildcoprojects/signalhub/pkg/repository"
	"github.com/buildcoprojects/signalhub/pkg/wormhole"
)

const previewChars = 2000

// extraction reports what happened to the text of an upload.
type extraction struct {
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.deps.Uploads.MaxBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteTooLarge(w, limit)
			return
		}
		api.WriteBadRequest(w, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		api.WriteBadRequest(w, "could not read upload")
		return
	}
	if int64(len(data)) > limit {
		api.WriteTooLarge(w, limit)
		return
	}
	if len(data) == 0 {
		api.WriteBadRequest(w, "upload is empty")
		return
	}

	mediaType, ok := s.deps.Detector.Detect(data, header.Header.Get("Content-Type"))
	if !ok {
		api.WriteUnsupportedMediaType(w, fmt.Sprintf("content type %q is not accepted", mediaType))
		return
	}

	handle, err := artifacts.PutArtefact(r.Context(), s.deps.Store, header.Filename, data, mediaType)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "upload store failed", "error", err)
		api.WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "The artefact store is unavailable")
		return
	}

	resp := map[string]any{
		"status":   "success",
		"url":      handle.Key,
		"artefact": handle,
	}
	// The artefact is stored either way; a document that fails to parse
	// turns the response into a partial success.
	text, err := extract.Text(mediaType, data)
	switch {
	case err == nil:
		resp["text"] = truncate(text, previewChars)
		resp["extraction"] = extraction{OK: true}
	case errors.Is(err, extract.ErrNoText), errors.Is(err, extract.ErrUnsupported):
		resp["extraction"] = extraction{Skipped: true}
	default:
		s.logger.WarnContext(r.Context(), "text extraction failed", "key", handle.Key, "error", err)
		resp["status"] = "partial"
		resp["extraction"] = extraction{Error: err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

type checkoutRequest struct {
	Amount        contracts.Amount `json:"amount"`
	Currency      string           `json:"currency"`
	CustomerEmail string           `json:"customerEmail"`
	CustomerName  string           `json:"customerName"`
	NodeReference string           `json:"nodeReference"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Checkout == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Checkout is not configured")
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		api.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if req.Amount.Value <= 0 {
		writeFailure(w, http.StatusBadRequest, contracts.NewValidationError("amount", "valid amount is required"))
		return
	}
	if c := strings.TrimSpace(req.Currency); c != "" && len(c) != 3 {
		writeFailure(w, http.StatusBadRequest, contracts.NewValidationError("currency", "must be a three-letter ISO code"))
		return
	}

	sess, err := s.deps.Checkout.CreateCheckoutSession(r.Context(), payment.CheckoutRequest{
		Amount:   req.Amount.Value,
		Currency: strings.TrimSpace(req.Currency),
		Customer: payment.Customer{
			Email:         strings.TrimSpace(req.CustomerEmail),
			Name:          strings.TrimSpace(req.CustomerName),
			NodeReference: strings.TrimSpace(req.NodeReference),
		},
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "checkout session failed", "error", err)
		api.WriteError(w, http.StatusBadGateway, "Bad Gateway", "Failed to create checkout session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"sessionId": sess.ID,
		"url":       sess.URL,
		"metadata":  sess.Metadata,
	})
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (s *Server) handleWormholeCommand(w http.ResponseWriter, r *http.Request) {
	var cmd wormhole.Command
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.submitLimit()))
	if err := dec.Decode(&cmd); err != nil {
		api.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if err := cmd.Validate(); err != nil {
		writeFailure(w, http.StatusBadRequest, err)
		return
	}

	content, meta := cmd.Input()
	out, err := s.deps.Router.ProcessArtefact(r.Context(), content, meta)

	md := map[string]any{
		"command":   cmd.Command,
		"artefact":  cmd.Artefact,
		"actions":   len(out.Actions),
		"succeeded": out.Succeeded(),
	}
	if cmd.Target != "" {
		md["target"] = cmd.Target
	}
	if err != nil {
		md["error"] = err.Error()
	}
	audited := false
	if s.deps.Audit != nil {
		if aerr := s.deps.Audit.Record(r.Context(), audit.EventCommand, "wormhole.command", cmd.Artefact, md); aerr != nil {
			s.logger.WarnContext(r.Context(), "audit write failed", "error", aerr)
		} else {
			audited = true
		}
	}

	// Commands are not ledger records; persisted reports the audit write.
	env := Envelope{Status: "success", WormholeResult: &out, Persisted: audited}
	status := http.StatusOK
	if err != nil {
		env.Status = "error"
		env.ErrorDetail = err.Error()
		env.ErrorType = contracts.Kind(err)
		status = http.StatusBadGateway
	}
	writeJSON(w, status, env)
}

func (s *Server) handleWormholeStatus(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Router.Health(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "success",
		"systemHealth":     report,
		"readyForCommands": report.Status == wormhole.StatusHealthy,
		"timestamp":        time.Now().UTC(),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		api.WriteBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if limit == 0 {
		limit = 100
	}
	events, err := s.deps.Ledger.ListAudit(r.Context(), limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "audit read failed", "error", err)
		api.WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "The audit stream is unavailable")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "events": events})
}

func (s *Server) handleRepo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := q.Get("path")
	if strings.Contains(p, "..") {
		api.WriteBadRequest(w, "invalid path parameter")
		return
	}
	if s.deps.Repo == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "No repository is configured")
		return
	}

	switch kind := q.Get("type"); kind {
	case "", "structure":
		entries, err := s.deps.Repo.ListTree(r.Context(), p)
		if err != nil {
			s.writeRepoError(w, r, err)
			return
		}
		if entries == nil {
			entries = []repository.Entry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "success",
			"path":        p,
			"isDirectory": true,
			"items":       entries,
		})
	case "content":
		if p == "" {
			api.WriteBadRequest(w, "path is required")
			return
		}
		f, err := s.deps.Repo.GetFile(r.Context(), p)
		if err != nil {
			s.writeRepoError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"path":    f.Path,
			"sha":     f.SHA,
			"source":  f.Source,
			"size":    len(f.Content),
			"content": string(f.Content),
		})
	default:
		api.WriteBadRequest(w, fmt.Sprintf("invalid type parameter %q", kind))
	}
}

func (s *Server) writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		api.WriteNotFound(w, "path not found")
	case errors.Is(err, repository.ErrPathNotAllowed):
		api.WriteForbidden(w, "path is outside the allowed prefixes")
	case errors.Is(err, repository.ErrInvalidPath):
		api.WriteBadRequest(w, "invalid path parameter")
	default:
		s.logger.ErrorContext(r.Context(), "repository read failed", "error", err)
		api.WriteError(w, http.StatusBadGateway, "Bad Gateway", "The repository is unavailable")
	}
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// handleChat relays the reply as server-sent events. Headers are written on
// the first delta so failures before streaming still get a JSON error.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Chat is not configured")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		api.WriteBadRequest(w, "invalid JSON body")
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	relay := func(delta string) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		b, _ := json.Marshal(map[string]string{"delta": delta})
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	reply, err := s.deps.Chat.Stream(r.Context(), req.SessionID, req.Message, relay)
	if !started {
		switch {
		case err == nil:
			// Empty reply; still a valid stream.
			_ = relay("")
		default:
			if contracts.Kind(err) == "ValidationError" {
				writeFailure(w, http.StatusBadRequest, err)
				return
			}
			s.logger.ErrorContext(r.Context(), "chat failed", "session", req.SessionID, "error", err)
			api.WriteError(w, http.StatusBadGateway, "Bad Gateway", "The model provider is unavailable")
			return
		}
	}
	if err != nil {
		s.logger.WarnContext(r.Context(), "chat stream ended early", "session", req.SessionID, "error", err)
		b, _ := json.Marshal(map[string]string{"error": contracts.Kind(err)})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", b)
		return
	}
	b, _ := json.Marshal(map[string]any{"done": true, "content": reply.Content})
	fmt.Fprintf(w, "data: %s\n\n", b)
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Chat is not configured")
		return
	}
	msgs, err := s.deps.Chat.History(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		var ve *contracts.ValidationError
		if errors.As(err, &ve) {
			api.WriteBadRequest(w, err.Error())
			return
		}
		s.logger.ErrorContext(r.Context(), "chat history failed", "error", err)
		api.WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Chat history is unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "messages": msgs})
}
