// Package deploy triggers site rebuilds, either through the Netlify API or
// through a plain build hook URL.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/buildcoprojects/signalhub/pkg/config"
	"github.com/buildcoprojects/signalhub/pkg/util/resiliency"
)

var ErrNotConfigured = errors.New("deploy: no API token or build hook configured")

// Request describes one deploy trigger.
type Request struct {
	SiteID  string
	Message string
}

// Deployment is what the provider accepted.
type Deployment struct {
	ID     string `json:"id,omitempty"`
	State  string `json:"state"`
	SiteID string `json:"siteId,omitempty"`
	Via    string `json:"via"` // api | hook
}

// Hook triggers deploys.
type Hook struct {
	token      string
	siteID     string
	apiBase    string
	hookURL    string
	httpClient resiliency.Doer
	logger     *slog.Logger
}

func NewHook(cfg config.DeployConfig, httpClient resiliency.Doer, logger *slog.Logger) *Hook {
	if httpClient == nil {
		httpClient = resiliency.NewEnhancedClient("deploy")
	}
	if logger == nil {
		logger = slog.Default()
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = "https://api.netlify.com/api/v1"
	}
	return &Hook{
		token:      cfg.NetlifyToken,
		siteID:     cfg.SiteID,
		apiBase:    strings.TrimRight(apiBase, "/"),
		hookURL:    cfg.HookURL,
		httpClient: httpClient,
		logger:     logger.With("component", "deploy"),
	}
}

// Configured reports whether Trigger has anywhere to send a request.
func (h *Hook) Configured() bool {
	return h.token != "" || h.hookURL != ""
}

// Trigger starts a build. The API path is used when a token and a site id
// are known, the build hook otherwise. Any 2xx means accepted.
func (h *Hook) Trigger(ctx context.Context, r Request) (Deployment, error) {
	site := r.SiteID
	if site == "" {
		site = h.siteID
	}

	switch {
	case h.token != "" && site != "":
		var out struct {
			ID          string `json:"id"`
			DeployState string `json:"deploy_state"`
		}
		u := fmt.Sprintf("%s/sites/%s/builds", h.apiBase, url.PathEscape(site))
		body := map[string]string{}
		if r.Message != "" {
			body["title"] = r.Message
		}
		if err := h.post(ctx, u, body, true, &out); err != nil {
			return Deployment{}, fmt.Errorf("netlify build: %w", err)
		}
		state := out.DeployState
		if state == "" {
			state = "accepted"
		}
		h.logger.InfoContext(ctx, "deploy triggered", "via", "api", "site_id", site, "build_id", out.ID)
		return Deployment{ID: out.ID, State: state, SiteID: site, Via: "api"}, nil

	case h.hookURL != "":
		u := h.hookURL
		if r.Message != "" {
			sep := "?"
			if strings.Contains(u, "?") {
				sep = "&"
			}
			u += sep + "trigger_title=" + url.QueryEscape(r.Message)
		}
		if err := h.post(ctx, u, map[string]string{}, false, nil); err != nil {
			return Deployment{}, fmt.Errorf("build hook: %w", err)
		}
		h.logger.InfoContext(ctx, "deploy triggered", "via", "hook")
		return Deployment{State: "accepted", SiteID: site, Via: "hook"}, nil
	}
	return Deployment{}, ErrNotConfigured
}

// Ping checks the site is reachable through the API. Hook-only setups have
// nothing to check and report nil.
func (h *Hook) Ping(ctx context.Context) error {
	if h.token == "" || h.siteID == "" {
		if !h.Configured() {
			return ErrNotConfigured
		}
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/sites/%s", h.apiBase, url.PathEscape(h.siteID)), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("netlify %d", resp.StatusCode)
	}
	return nil
}

func (h *Hook) post(ctx context.Context, u string, in any, auth bool, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		// Bodies are informational; an accepted trigger with an empty or
		// unexpected body still counts.
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
