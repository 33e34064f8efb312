package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/buildcoprojects/signalhub/pkg/audit"
	"github.com/buildcoprojects/signalhub/pkg/auth"
	"github.com/buildcoprojects/signalhub/pkg/chat"
	"github.com/buildcoprojects/signalhub/pkg/config"
	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/ledger"
	"github.com/buildcoprojects/signalhub/pkg/payment"
	"github.com/buildcoprojects/signalhub/pkg/pipeline"
	"github.com/buildcoprojects/signalhub/pkg/repository"
	"github.com/buildcoprojects/signalhub/pkg/wormhole"
)

type fakeSubmitter struct {
	res *pipeline.Result
	err error
	raw []byte
}

func (f *fakeSubmitter) SubmitJSON(_ context.Context, raw []byte) (*pipeline.Result, error) {
	f.raw = raw
	return f.res, f.err
}

type fakeLedger struct {
	query  ledger.Query
	page   ledger.Page
	events []audit.Event
	err    error
}

func (f *fakeLedger) List(_ context.Context, q ledger.Query) (ledger.Page, error) {
	f.query = q
	return f.page, f.err
}

func (f *fakeLedger) ListAudit(_ context.Context, limit int) ([]audit.Event, error) {
	if limit < len(f.events) {
		return f.events[:limit], f.err
	}
	return f.events, f.err
}

type fakeRouter struct {
	out     contracts.WormholeOutcome
	err     error
	status  string
	content string
	meta    wormhole.Metadata
}

func (f *fakeRouter) ProcessArtefact(_ context.Context, content string, meta wormhole.Metadata) (contracts.WormholeOutcome, error) {
	f.content, f.meta = content, meta
	return f.out, f.err
}

func (f *fakeRouter) Health(context.Context) wormhole.HealthReport {
	status := f.status
	if status == "" {
		status = wormhole.StatusHealthy
	}
	return wormhole.HealthReport{Status: status, Checks: map[string]wormhole.Check{"storage": {OK: status == wormhole.StatusHealthy}}}
}

type fakeRepo struct {
	files   map[string]string
	entries []repository.Entry
}

func (f *fakeRepo) CommitFiles(context.Context, []repository.FileChange, string, string) (repository.CommitRef, error) {
	return repository.CommitRef{}, errors.New("read only")
}

func (f *fakeRepo) GetFile(_ context.Context, p string) (repository.File, error) {
	c, ok := f.files[p]
	if !ok {
		return repository.File{}, repository.ErrNotFound
	}
	return repository.File{Path: p, Content: []byte(c), SHA: "abc", Source: "local"}, nil
}

func (f *fakeRepo) ListTree(_ context.Context, dir string) ([]repository.Entry, error) {
	if dir == "secret" {
		return nil, repository.ErrPathNotAllowed
	}
	return f.entries, nil
}

func (f *fakeRepo) CreatePullRequest(context.Context, string, string, string, string) (repository.PullRequest, error) {
	return repository.PullRequest{}, errors.New("read only")
}

func (f *fakeRepo) Ping(context.Context) error { return nil }

type fakeChat struct {
	deltas []string
	err    error
}

func (f *fakeChat) Stream(_ context.Context, session, message string, relay func(string) error) (chat.Message, error) {
	if session == "" || message == "" {
		return chat.Message{}, contracts.NewValidationError("sessionId", "required")
	}
	if f.err != nil {
		return chat.Message{}, f.err
	}
	var acc strings.Builder
	for _, d := range f.deltas {
		acc.WriteString(d)
		if err := relay(d); err != nil {
			return chat.Message{}, err
		}
	}
	return chat.Message{Role: "assistant", Content: acc.String()}, nil
}

func (f *fakeChat) History(_ context.Context, session string) ([]chat.Message, error) {
	if session == "bad..id" {
		return nil, contracts.NewValidationError("sessionId", "invalid")
	}
	return []chat.Message{{Role: "user", Content: "hi"}}, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Record(ctx context.Context, t audit.EventType, action, resource string, md map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, audit.NewEvent(ctx, t, action, resource, md))
	return nil
}

type fixture struct {
	srv       *Server
	submitter *fakeSubmitter
	ledger    *fakeLedger
	router    *fakeRouter
	repo      *fakeRepo
	chat      *fakeChat
	audit     *recordingAudit
	store     *artifacts.MemoryStore
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		submitter: &fakeSubmitter{},
		ledger:    &fakeLedger{},
		router:    &fakeRouter{},
		repo: &fakeRepo{
			files:   map[string]string{"README.md": "# hello"},
			entries: []repository.Entry{{Name: "README.md", Path: "README.md", Type: "file", Size: 7}},
		},
		chat:  &fakeChat{deltas: []string{"Hel", "lo"}},
		audit: &recordingAudit{},
		store: artifacts.NewMemoryStore(),
	}
	d := Deps{
		Pipeline:  f.submitter,
		Ledger:    f.ledger,
		Router:    f.router,
		Repo:      f.repo,
		Store:     f.store,
		Chat:      f.chat,
		Audit:     f.audit,
		Uploads:   config.UploadConfig{MaxBytes: 1 << 20},
		RateLimit: config.RateLimitConfig{RPS: 1000, Burst: 1000, PrivilegedRPM: 1000},
	}
	for _, m := range mutate {
		m(&d)
	}
	f.srv = New(d)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestSubmit_SuccessRedactsPassphraseHash(t *testing.T) {
	f := newFixture(t)
	f.submitter.res = &pipeline.Result{
		Signal: &contracts.Signal{
			ID:               "evt_1",
			SecurePassphrase: "$2a$10$hash",
			SecurityStatus:   contracts.SecuritySecured,
		},
		Persisted: true,
		Tier:      "primary",
	}

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/signal", strings.NewReader(`{"companyName":"Acme"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(auth.TraceHeader))
	assert.Equal(t, `{"companyName":"Acme"}`, string(f.submitter.raw))

	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["persisted"])
	event := body["event"].(map[string]any)
	assert.Equal(t, "evt_1", event["id"])
	assert.NotContains(t, event, "securePassphrase")
}

func TestSubmit_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"validation", contracts.NewValidationError("contactEmail", "must be a valid email"), http.StatusBadRequest, "ValidationError"},
		{"security", &contracts.SecurityError{Reason: "passphrase mismatch"}, http.StatusForbidden, "SecurityError"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.submitter.err = tt.err
			rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/signal", strings.NewReader(`{}`)))
			assert.Equal(t, tt.code, rec.Code)
			if tt.kind != "" {
				body := decode(t, rec)
				assert.Equal(t, tt.kind, body["errorType"])
				assert.Equal(t, false, body["persisted"])
			}
		})
	}
}

func TestSubmit_NotPersistedIs503WithEvent(t *testing.T) {
	f := newFixture(t)
	f.submitter.res = &pipeline.Result{
		Signal:    &contracts.Signal{ID: "evt_2"},
		Persisted: false,
		Err:       &contracts.PersistenceError{Tiers: []string{"primary", "fallback"}, Err: errors.New("disk full")},
	}
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/signal", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "PersistenceError", body["errorType"])
	assert.Equal(t, false, body["persisted"])
	assert.Equal(t, "evt_2", body["event"].(map[string]any)["id"])
}

func TestListSignals(t *testing.T) {
	f := newFixture(t)
	f.ledger.page = ledger.Page{
		Signals: []contracts.Signal{{ID: "evt_1", SecurePassphrase: "hash"}},
		Total:   1,
		Limit:   5,
	}

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/signals?limit=5&offset=2&category=Partnership&flag=highSignal", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ledger.Query{Limit: 5, Offset: 2, Category: "Partnership", Flag: "highSignal"}, f.ledger.query)
	assert.NotContains(t, rec.Body.String(), "hash")

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/signal?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.ledger.err = errors.New("unreachable")
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/signal", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func multipartFile(t *testing.T, name, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, multipartFile(t, "notes.md", "text/markdown", []byte("# Plan\nship it")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "# Plan\nship it", body["text"])
	assert.Equal(t, true, body["extraction"].(map[string]any)["ok"])
	key := body["url"].(string)
	exists, err := f.store.Exists(context.Background(), artifacts.NamespaceArtifacts, key)
	require.NoError(t, err)
	assert.True(t, exists)

	// Same bytes, same key; no second object.
	before := f.store.Len()
	rec = f.do(t, multipartFile(t, "notes.md", "text/markdown", []byte("# Plan\nship it")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, before, f.store.Len())

	zip := []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00")
	rec = f.do(t, multipartFile(t, "a.zip", "application/zip", zip))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("nope")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_ExtractionFailureIsPartialSuccess(t *testing.T) {
	f := newFixture(t)
	broken := []byte("%PDF-1.4\n" + strings.Repeat("% padding\n", 20) + "startxref\n999999\n%%EOF\n")

	rec := f.do(t, multipartFile(t, "report.pdf", "application/pdf", broken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "partial", body["status"])
	assert.NotContains(t, body, "text")

	ext := body["extraction"].(map[string]any)
	assert.Equal(t, false, ext["ok"])
	assert.Contains(t, ext["error"], "malformed document")

	handle := body["artefact"].(map[string]any)
	assert.Equal(t, "application/pdf", handle["contentType"])
	exists, err := f.store.Exists(context.Background(), artifacts.NamespaceArtifacts, body["url"].(string))
	require.NoError(t, err)
	assert.True(t, exists, "the file is stored even though extraction failed")
}

type failingCheckout struct{}

func (failingCheckout) CreateCheckoutSession(context.Context, payment.CheckoutRequest) (payment.CheckoutSession, error) {
	return payment.CheckoutSession{}, errors.New("stripe 500: boom")
}

func newCheckoutRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(body))
}

func TestCheckout(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Checkout = payment.NewSimulated() })

	rec := f.do(t, newCheckoutRequest(`{"amount":"125.50","customerEmail":"buyer@acme.io","customerName":"Acme","nodeReference":"node-4"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Regexp(t, `^cs_test_`, body["sessionId"])
	assert.NotEmpty(t, body["url"])
	md := body["metadata"].(map[string]any)
	assert.Equal(t, "node-4", md["nodeReference"])
	assert.Equal(t, "Acme", md["customerName"])

	for _, bad := range []string{`{"amount":0}`, `{"amount":"lots"}`, `{"amount":10,"currency":"dollars"}`} {
		rec = f.do(t, newCheckoutRequest(bad))
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
		assert.Equal(t, "ValidationError", decode(t, rec)["errorType"], bad)
	}
	rec = f.do(t, newCheckoutRequest(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckout_Unavailable(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, newCheckoutRequest(`{"amount":10}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	f = newFixture(t, func(d *Deps) { d.Checkout = failingCheckout{} })
	rec = f.do(t, newCheckoutRequest(`{"amount":10}`))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestUpload_TooLarge(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Uploads.MaxBytes = 16 })
	rec := f.do(t, multipartFile(t, "big.txt", "text/plain", bytes.Repeat([]byte("a"), 64)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func wormholeRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/wormhole", strings.NewReader(body))
}

func TestWormholeCommand(t *testing.T) {
	f := newFixture(t)
	f.router.out = contracts.WormholeOutcome{
		Eligible: true,
		Actions:  []contracts.ActionSpec{{Type: contracts.ActionDiagnostic, Operation: "healthCheck"}},
		ExecutionResults: []contracts.ActionResult{
			{Action: contracts.ActionSpec{Type: contracts.ActionDiagnostic, Operation: "healthCheck"}, Success: true, Executed: true},
		},
		Summary: "Executed 1 actions, 1 succeeded",
	}

	rec := f.do(t, wormholeRequest(`{"command":"check health","artefact":"ops-note","target":"prod"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "check health", f.router.content)
	assert.True(t, f.router.meta.Wormhole)
	assert.Equal(t, "prod", f.router.meta.Target)

	body := decode(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, true, body["persisted"])
	assert.Equal(t, "Executed 1 actions, 1 succeeded", body["wormholeResult"].(map[string]any)["summary"])

	require.Len(t, f.audit.events, 1)
	ev := f.audit.events[0]
	assert.Equal(t, audit.EventCommand, ev.Type)
	assert.Equal(t, "ops-note", ev.Resource)
	assert.Equal(t, "local", ev.ActorID)
	assert.Equal(t, 1, ev.Metadata["succeeded"])
}

func TestWormholeCommand_Failures(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, wormholeRequest(`{"command":""}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decode(t, rec)["fields"], 2)
	assert.Empty(t, f.audit.events, "invalid commands are not executed")

	rec = f.do(t, wormholeRequest(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.router.err = &contracts.PlanParseError{Excerpt: "nope", Err: errors.New("no JSON object")}
	f.router.out = contracts.WormholeOutcome{Eligible: true, Error: "plan parse failed"}
	rec = f.do(t, wormholeRequest(`{"command":"do it","artefact":"x"}`))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "PlanParseError", decode(t, rec)["errorType"])
	require.Len(t, f.audit.events, 1, "failed commands are still audited")
	assert.Contains(t, f.audit.events[0].Metadata, "error")
}

func TestPrivilegedRoutesRequireToken(t *testing.T) {
	v := auth.NewJWTValidator("test-secret")
	f := newFixture(t, func(d *Deps) { d.Validator = v })

	for _, path := range []string{"/api/wormhole", "/api/audit", "/api/repo"} {
		rec := f.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	// Public routes stay open.
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/signals", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	sign := func(sub string, roles ...string) string {
		token, err := v.Sign(auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}, Roles: roles})
		require.NoError(t, err)
		return "Bearer " + token
	}

	// Reading is open to any authenticated principal; executing needs the role.
	req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
	req.Header.Set("Authorization", sign("viewer-1"))
	assert.Equal(t, http.StatusOK, f.do(t, req).Code)

	req = wormholeRequest(`{"command":"status","artefact":"a"}`)
	req.Header.Set("Authorization", sign("viewer-1"))
	assert.Equal(t, http.StatusForbidden, f.do(t, req).Code)
	assert.Empty(t, f.audit.events)

	req = wormholeRequest(`{"command":"status","artefact":"a"}`)
	req.Header.Set("Authorization", sign("ops-1", OperatorRole))
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, "ops-1", f.audit.events[0].ActorID)
}

func TestPrivilegedRateLimitPerActor(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.RateLimit.PrivilegedRPM = 1 })
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestWormholeStatusAndHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/wormhole", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["readyForCommands"])

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	f.router.status = wormhole.StatusDegraded
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/wormhole", nil))
	assert.Equal(t, false, decode(t, rec)["readyForCommands"])
}

func TestAudit(t *testing.T) {
	f := newFixture(t)
	f.ledger.events = []audit.Event{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/audit?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["events"], 2)

	f.ledger.events = nil
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	assert.JSONEq(t, `{"status":"success","events":[]}`, rec.Body.String())
}

func TestRepo(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/repo?path=../etc&type=content", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/repo", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["isDirectory"])
	assert.Len(t, body["items"], 1)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/repo?path=README.md&type=content", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# hello", decode(t, rec)["content"])

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/repo?path=missing.go&type=content", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/repo?path=secret", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/repo?type=info", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_StreamsServerSentEvents(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"sessionId":"s1","message":"hi"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Contains(t, out, `data: {"delta":"Hel"}`)
	assert.Contains(t, out, `data: {"delta":"lo"}`)
	assert.Contains(t, out, `"content":"Hello"`)
	assert.Less(t, strings.Index(out, `"Hel"`), strings.Index(out, `"done":true`))
}

func TestChat_Errors(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"sessionId":"","message":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	f.chat.err = &contracts.DependencyError{Dependency: "llm", Err: errors.New("401")}
	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"sessionId":"s1","message":"hi"}`)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/chat/s1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["messages"], 1)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/chat/bad..id", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	off := newFixture(t, func(d *Deps) { d.Chat = nil })
	rec = off.do(t, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/signal", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
