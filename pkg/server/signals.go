package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/buildcoprojects/signalhub/pkg/api"
	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/ledger"
)

// Envelope is the submission response.
type Envelope struct {
	Status         string                     `json:"status"`
	Event          *contracts.Signal          `json:"event,omitempty"`
	WormholeResult *contracts.WormholeOutcome `json:"wormholeResult,omitempty"`
	Persisted      bool                       `json:"persisted"`
	ErrorDetail    string                     `json:"errorDetail,omitempty"`
	ErrorType      string                     `json:"errorType,omitempty"`
	Fields         []contracts.FieldError     `json:"fields,omitempty"`
}

// redact drops the passphrase hash before a record leaves the process.
func redact(s contracts.Signal) contracts.Signal {
	s.SecurePassphrase = ""
	return s
}

func writeFailure(w http.ResponseWriter, status int, err error) {
	env := Envelope{Status: "error", ErrorDetail: err.Error(), ErrorType: contracts.Kind(err)}
	var ve *contracts.ValidationError
	if errors.As(err, &ve) {
		env.Fields = ve.Fields
	}
	writeJSON(w, status, env)
}

func (s *Server) submitLimit() int64 {
	// Inline artefacts arrive base64 encoded.
	return s.deps.Uploads.MaxBytes*4/3 + 64<<10
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	limit := s.submitLimit()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteTooLarge(w, limit)
			return
		}
		api.WriteBadRequest(w, "could not read request body")
		return
	}

	res, err := s.deps.Pipeline.SubmitJSON(r.Context(), body)
	if err != nil {
		switch contracts.Kind(err) {
		case "ValidationError":
			writeFailure(w, http.StatusBadRequest, err)
		case "SecurityError":
			writeFailure(w, http.StatusForbidden, err)
		default:
			api.WriteInternal(w, err)
		}
		return
	}

	event := redact(*res.Signal)
	env := Envelope{
		Status:         "success",
		Event:          &event,
		WormholeResult: res.Wormhole,
		Persisted:      res.Persisted,
	}
	status := http.StatusOK
	if !res.Persisted {
		env.Status = "error"
		env.ErrorType = contracts.Kind(res.Err)
		if res.Err != nil {
			env.ErrorDetail = res.Err.Error()
		}
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, env)
}

func queryInt(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		api.WriteBadRequest(w, "limit must be a non-negative integer")
		return
	}
	offset, ok := queryInt(r, "offset")
	if !ok {
		api.WriteBadRequest(w, "offset must be a non-negative integer")
		return
	}
	q := r.URL.Query()
	page, err := s.deps.Ledger.List(r.Context(), ledger.Query{
		Limit:    limit,
		Offset:   offset,
		Category: q.Get("category"),
		Flag:     q.Get("flag"),
	})
	if err != nil {
		s.logger.ErrorContext(r.Context(), "ledger read failed", "error", err)
		api.WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "The ledger is unavailable")
		return
	}
	for i := range page.Signals {
		page.Signals[i] = redact(page.Signals[i])
	}
	writeJSON(w, http.StatusOK, page)
}
