package wormhole

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/deploy"
	"github.com/buildcoprojects/signalhub/pkg/llm"
	"github.com/buildcoprojects/signalhub/pkg/repository"
	"github.com/buildcoprojects/signalhub/pkg/util/resiliency"
)

// Deployer triggers site deploys.
type Deployer interface {
	Trigger(ctx context.Context, r deploy.Request) (deploy.Deployment, error)
}

// SignalSource exposes recent ledger entries for the system snapshot.
type SignalSource interface {
	Recent(ctx context.Context, n int) ([]contracts.Signal, int, error)
}

// Deps are the router's collaborators. LLM, Repo and Store are required.
type Deps struct {
	LLM      llm.Client
	Model    string
	Repo     repository.Service
	Deployer Deployer
	Store    artifacts.Store
	Signals  SignalSource
	HTTP     resiliency.Doer
	Policy   *Policy
	Gate     Gate
	Logger   *slog.Logger

	PlanTimeout time.Duration
	PingTimeout time.Duration
	Clock       func() time.Time
}

// Router plans and executes wormhole actions.
type Router struct {
	llm         llm.Client
	model       string
	repo        repository.Service
	deployer    Deployer
	store       artifacts.Store
	signals     SignalSource
	http        resiliency.Doer
	policy      *Policy
	gate        Gate
	logger      *slog.Logger
	planTimeout time.Duration
	pingTimeout time.Duration
	now         func() time.Time
}

func NewRouter(d Deps) (*Router, error) {
	if d.LLM == nil || d.Repo == nil || d.Store == nil {
		return nil, errors.New("wormhole: LLM, Repo and Store are required")
	}
	r := &Router{
		llm:         d.LLM,
		model:       d.Model,
		repo:        d.Repo,
		deployer:    d.Deployer,
		store:       d.Store,
		signals:     d.Signals,
		http:        d.HTTP,
		policy:      d.Policy,
		gate:        d.Gate,
		logger:      d.Logger,
		planTimeout: d.PlanTimeout,
		pingTimeout: d.PingTimeout,
		now:         d.Clock,
	}
	if r.policy == nil {
		p, err := NewPolicy(nil)
		if err != nil {
			return nil, err
		}
		r.policy = p
	}
	if r.http == nil {
		r.http = resiliency.NewEnhancedClient("wormhole-diagnostic")
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "wormhole")
	if r.planTimeout <= 0 {
		r.planTimeout = 60 * time.Second
	}
	if r.pingTimeout <= 0 {
		r.pingTimeout = 5 * time.Second
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r, nil
}

// Eligible reports whether content may take the wormhole path.
func (r *Router) Eligible(content string, meta Metadata) bool {
	return r.gate.Eligible(content, meta)
}

// ProcessArtefact plans and executes actions for an eligible artefact.
// Ineligible content returns {Eligible: false} without touching any
// collaborator. A planning failure is returned alongside a partial outcome
// and no action runs.
func (r *Router) ProcessArtefact(ctx context.Context, content string, meta Metadata) (contracts.WormholeOutcome, error) {
	out := contracts.WormholeOutcome{
		Actions:          []contracts.ActionSpec{},
		ExecutionResults: []contracts.ActionResult{},
	}
	if !r.gate.Eligible(content, meta) {
		return out, nil
	}
	out.Eligible = true
	body := StripToken(content)

	state := r.SystemState(ctx)

	pctx, cancel := context.WithTimeout(ctx, r.planTimeout)
	resp, err := r.llm.Chat(pctx, buildPlanMessages(body, meta, state), &llm.Options{
		Model:       r.model,
		Temperature: 0.1,
		JSON:        true,
	})
	cancel()
	if err != nil {
		derr := &contracts.DependencyError{Dependency: "llm", Err: err}
		out.Error = derr.Error()
		return out, derr
	}

	analysis, summary, actions, err := ParsePlan(resp.Content)
	if err != nil {
		out.Error = err.Error()
		r.logger.WarnContext(ctx, "unusable plan", "error", err)
		return out, err
	}
	out.Analysis = &analysis
	out.Actions = actions

	for i, a := range actions {
		if ctx.Err() != nil {
			for _, rest := range actions[i:] {
				out.ExecutionResults = append(out.ExecutionResults, r.result(rest, false, false, "cancelled before execution", nil))
			}
			break
		}
		out.ExecutionResults = append(out.ExecutionResults, r.execute(ctx, a))
	}

	out.Summary = fmt.Sprintf("Executed %d actions, %d succeeded", len(out.ExecutionResults), out.Succeeded())
	if summary != "" {
		out.Summary = summary + " " + out.Summary
	}
	r.logger.InfoContext(ctx, "wormhole processed",
		"category", analysis.Category,
		"actions", len(actions),
		"succeeded", out.Succeeded(),
	)
	return out, nil
}

func (r *Router) result(a contracts.ActionSpec, success, executed bool, msg string, data map[string]any) contracts.ActionResult {
	return contracts.ActionResult{
		Action:    a,
		Success:   success,
		Executed:  executed,
		Message:   msg,
		Data:      data,
		Timestamp: r.now(),
	}
}
