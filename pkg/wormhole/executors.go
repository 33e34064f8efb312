package wormhole

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/deploy"
	"github.com/buildcoprojects/signalhub/pkg/repository"
)

// errUnsupported marks an action that was never dispatched.
var errUnsupported = errors.New("unsupported action")

type executor func(ctx context.Context, op string, p params) (string, map[string]any, error)

func (r *Router) executors() map[contracts.ActionType]executor {
	return map[contracts.ActionType]executor{
		contracts.ActionRepository: r.execRepository,
		contracts.ActionDeploy:     r.execDeploy,
		contracts.ActionStorage:    r.execStorage,
		contracts.ActionRepair:     r.execRepair,
		contracts.ActionDiagnostic: r.execDiagnostic,
	}
}

// execute runs a single action. It never panics and never returns an error;
// failures are reported in the result.
func (r *Router) execute(ctx context.Context, a contracts.ActionSpec) (res contracts.ActionResult) {
	exec, ok := r.executors()[a.Type]
	if !ok {
		return r.result(a, false, false, fmt.Sprintf("unknown action type %q", a.Type), nil)
	}
	if ok, reason := r.policy.Allow(a); !ok {
		r.logger.WarnContext(ctx, "action denied", "type", a.Type, "operation", a.Operation, "reason", reason)
		return r.result(a, false, false, reason, nil)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "action panicked", "type", a.Type, "operation", a.Operation, "panic", rec)
			res = r.result(a, false, true, fmt.Sprintf("action panicked: %v", rec), nil)
		}
	}()

	msg, data, err := exec(ctx, a.Operation, params(a.Params))
	switch {
	case errors.Is(err, errUnsupported):
		return r.result(a, false, false, err.Error(), nil)
	case err != nil:
		r.logger.WarnContext(ctx, "action failed", "type", a.Type, "operation", a.Operation, "error", err)
		return r.result(a, false, true, err.Error(), data)
	}
	return r.result(a, true, true, msg, data)
}

func unsupported(t contracts.ActionType, op string) error {
	return fmt.Errorf("%w: %s.%s", errUnsupported, t, op)
}

func invalidParam(name string) error {
	return fmt.Errorf("%w: missing or invalid parameter %q", errUnsupported, name)
}

func (r *Router) execRepository(ctx context.Context, op string, p params) (string, map[string]any, error) {
	switch op {
	case "commit":
		files, err := p.files("files")
		if err != nil {
			return "", nil, err
		}
		msg := p.str("message", "Automated update")
		ref, err := r.repo.CommitFiles(ctx, files, msg, p.str("branch", ""))
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("committed %d files to %s", len(files), ref.Branch),
			map[string]any{"sha": ref.SHA, "url": ref.URL, "branch": ref.Branch}, nil
	case "createPullRequest":
		title, head := p.str("title", ""), p.str("head", "")
		if title == "" {
			return "", nil, invalidParam("title")
		}
		if head == "" {
			return "", nil, invalidParam("head")
		}
		pr, err := r.repo.CreatePullRequest(ctx, title, head, p.str("base", ""), p.str("body", ""))
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("opened pull request #%d", pr.Number),
			map[string]any{"number": pr.Number, "url": pr.URL}, nil
	}
	return "", nil, unsupported(contracts.ActionRepository, op)
}

func (r *Router) execDeploy(ctx context.Context, op string, p params) (string, map[string]any, error) {
	if op != "deploy" && op != "trigger" {
		return "", nil, unsupported(contracts.ActionDeploy, op)
	}
	if r.deployer == nil {
		return "", nil, deploy.ErrNotConfigured
	}
	d, err := r.deployer.Trigger(ctx, deploy.Request{
		SiteID:  p.str("siteId", ""),
		Message: p.str("message", "Triggered by signal intake"),
	})
	if err != nil {
		return "", nil, err
	}
	return "deploy " + d.State,
		map[string]any{"id": d.ID, "state": d.State, "siteId": d.SiteID, "via": d.Via}, nil
}

func storageNamespace(p params) (artifacts.Namespace, error) {
	switch ns := artifacts.Namespace(p.str("store", string(artifacts.NamespaceSignals))); ns {
	case artifacts.NamespaceSignals, artifacts.NamespaceChat, artifacts.NamespaceArtifacts:
		return ns, nil
	default:
		return "", fmt.Errorf("%w: unknown store %q", errUnsupported, ns)
	}
}

func (r *Router) execStorage(ctx context.Context, op string, p params) (string, map[string]any, error) {
	ns, err := storageNamespace(p)
	if err != nil {
		return "", nil, err
	}
	switch op {
	case "read", "get":
		key := p.str("key", "")
		if key == "" {
			return "", nil, invalidParam("key")
		}
		obj, err := r.store.Get(ctx, ns, key)
		if err != nil {
			return "", nil, err
		}
		var v any
		if json.Unmarshal(obj.Data, &v) != nil {
			v = string(obj.Data)
		}
		return fmt.Sprintf("read %s/%s", ns, key), map[string]any{"key": key, "value": v}, nil

	case "write", "set":
		key := p.str("key", "")
		if key == "" {
			return "", nil, invalidParam("key")
		}
		// The signal ledger is append-only through the pipeline.
		if ns == artifacts.NamespaceSignals {
			return "", nil, errors.New("the signals store is read-only for actions")
		}
		data, ok := p["data"]
		if !ok {
			return "", nil, invalidParam("data")
		}
		if s, isStr := data.(string); isStr {
			err = r.store.Set(ctx, ns, key, artifacts.Object{Data: []byte(s), ContentType: "text/plain; charset=utf-8"})
		} else {
			err = artifacts.SetJSON(ctx, r.store, ns, key, data)
		}
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("wrote %s/%s", ns, key), map[string]any{"key": key}, nil

	case "list":
		keys, err := r.store.List(ctx, ns, p.str("prefix", ""))
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("listed %d keys", len(keys)), map[string]any{"keys": keys}, nil
	}
	return "", nil, unsupported(contracts.ActionStorage, op)
}

func (r *Router) execRepair(ctx context.Context, op string, p params) (string, map[string]any, error) {
	if op != "fixCode" {
		return "", nil, unsupported(contracts.ActionRepair, op)
	}
	file := p.str("file", "")
	if file == "" {
		return "", nil, invalidParam("file")
	}
	changes, err := p.replacements("changes")
	if err != nil {
		return "", nil, err
	}

	current, err := r.repo.GetFile(ctx, file)
	if err != nil {
		return "", nil, err
	}
	before := string(current.Content)
	after := before
	for _, c := range changes {
		after = strings.ReplaceAll(after, c.find, c.replace)
	}
	if after == before {
		return "no changes needed for " + file, map[string]any{"file": file, "changed": false}, nil
	}

	ref, err := r.repo.CommitFiles(ctx,
		[]repository.FileChange{{Path: file, Content: after}},
		p.str("message", "Repair "+file),
		p.str("branch", ""),
	)
	if err != nil {
		return "", nil, err
	}
	return "repaired " + file, map[string]any{"file": file, "changed": true, "sha": ref.SHA, "source": current.Source}, nil
}

func (r *Router) execDiagnostic(ctx context.Context, op string, p params) (string, map[string]any, error) {
	switch op {
	case "analyzeSystem", "healthCheck":
		st := r.SystemState(ctx)
		return "system " + st.Health.Status, map[string]any{"state": st}, nil
	case "checkEndpoint":
		return r.checkEndpoint(ctx, p.str("url", ""))
	}
	return "", nil, unsupported(contracts.ActionDiagnostic, op)
}

func (r *Router) checkEndpoint(ctx context.Context, raw string) (string, map[string]any, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", nil, invalidParam("url")
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	start := time.Now()
	resp, err := r.http.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return "", map[string]any{"url": u.String(), "latencyMs": latency}, err
	}
	defer func() { _ = resp.Body.Close() }()

	data := map[string]any{"url": u.String(), "status": resp.StatusCode, "latencyMs": latency}
	if resp.StatusCode >= 400 {
		return "", data, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return fmt.Sprintf("endpoint returned %d", resp.StatusCode), data, nil
}

// params reads loosely-typed plan parameters.
type params map[string]any

func (p params) str(key, def string) string {
	if v, ok := p[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p params) objects(key string) ([]map[string]any, error) {
	list, ok := p[key].([]any)
	if !ok || len(list) == 0 {
		return nil, invalidParam(key)
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, invalidParam(key)
		}
		out = append(out, m)
	}
	return out, nil
}

func (p params) files(key string) ([]repository.FileChange, error) {
	items, err := p.objects(key)
	if err != nil {
		return nil, err
	}
	files := make([]repository.FileChange, 0, len(items))
	for _, m := range items {
		path, _ := m["path"].(string)
		content, ok := m["content"].(string)
		if path == "" || !ok {
			return nil, invalidParam(key)
		}
		files = append(files, repository.FileChange{Path: path, Content: content})
	}
	return files, nil
}

type replacement struct{ find, replace string }

func (p params) replacements(key string) ([]replacement, error) {
	items, err := p.objects(key)
	if err != nil {
		return nil, err
	}
	out := make([]replacement, 0, len(items))
	for _, m := range items {
		find, _ := m["find"].(string)
		repl, ok := m["replace"].(string)
		if find == "" || !ok {
			return nil, invalidParam(key)
		}
		out = append(out, replacement{find: find, replace: repl})
	}
	return out, nil
}
