package deploy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildcoprojects/signalhub/pkg/config"
)

func TestTrigger_API(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sites/site-1/builds", r.URL.Path)
		assert.Equal(t, "Bearer nf_token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"b1","deploy_state":"new"}`))
	}))
	defer srv.Close()

	h := NewHook(config.DeployConfig{NetlifyToken: "nf_token", SiteID: "site-1", APIBase: srv.URL}, srv.Client(), nil)
	d, err := h.Trigger(context.Background(), Request{Message: "from wormhole"})
	require.NoError(t, err)
	assert.Equal(t, Deployment{ID: "b1", State: "new", SiteID: "site-1", Via: "api"}, d)
}

func TestTrigger_HookAcceptsEmptyBody(t *testing.T) {
	var title string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title = r.URL.Query().Get("trigger_title")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewHook(config.DeployConfig{HookURL: srv.URL + "/build_hooks/abc"}, srv.Client(), nil)
	d, err := h.Trigger(context.Background(), Request{Message: "redeploy"})
	require.NoError(t, err)
	assert.Equal(t, "hook", d.Via)
	assert.Equal(t, "accepted", d.State)
	assert.Equal(t, "redeploy", title)
}

func TestTrigger_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	h := NewHook(config.DeployConfig{HookURL: srv.URL}, srv.Client(), nil)
	_, err := h.Trigger(context.Background(), Request{})
	assert.Error(t, err)
}

func TestTrigger_NotConfigured(t *testing.T) {
	h := NewHook(config.DeployConfig{}, nil, nil)
	assert.False(t, h.Configured())
	_, err := h.Trigger(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, h.Ping(context.Background()), ErrNotConfigured)
}
