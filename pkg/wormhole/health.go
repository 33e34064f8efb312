package wormhole

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/repository"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Check is one collaborator health result.
type Check struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// HealthReport aggregates the storage, repository and classifier checks.
type HealthReport struct {
	Status    string           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

type pinger struct {
	name string
	run  func(context.Context) error
}

// Health pings every collaborator concurrently. It never writes.
func (r *Router) Health(ctx context.Context) HealthReport {
	pingers := []pinger{
		{"storage", r.store.Ping},
		{"repository", r.repo.Ping},
		{"classifier", r.llm.Ping},
	}

	var mu sync.Mutex
	report := HealthReport{Status: StatusHealthy, Checks: make(map[string]Check, len(pingers))}
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pingers {
		p := p
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, r.pingTimeout)
			defer cancel()
			start := time.Now()
			err := p.run(pctx)
			c := Check{OK: err == nil, LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				c.Error = err.Error()
			}
			mu.Lock()
			report.Checks[p.name] = c
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range report.Checks {
		if !c.OK {
			report.Status = StatusDegraded
		}
	}
	report.Timestamp = r.now()
	return report
}

// SignalSummary is the compact form of a ledger entry shown to the planner.
type SignalSummary struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Company   string             `json:"company"`
	LeadType  contracts.LeadType `json:"leadType"`
	Category  contracts.Category `json:"category,omitempty"`
}

// SystemState is the snapshot the planner receives.
type SystemState struct {
	Structure      []repository.Entry `json:"structure,omitempty"`
	StructureError string             `json:"structureError,omitempty"`
	SignalCount    int                `json:"signalCount"`
	RecentSignals  []SignalSummary    `json:"recentSignals,omitempty"`
	SignalsError   string             `json:"signalsError,omitempty"`
	Health         HealthReport       `json:"health"`
	Timestamp      time.Time          `json:"timestamp"`
}

// recentForState is how many ledger entries the planner sees.
const recentForState = 10

// SystemState gathers repository layout, recent signals and health. Partial
// failures are reported inline.
func (r *Router) SystemState(ctx context.Context) SystemState {
	var st SystemState
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entries, err := r.repo.ListTree(gctx, "")
		if err != nil {
			st.StructureError = err.Error()
			return nil
		}
		st.Structure = entries
		return nil
	})
	g.Go(func() error {
		if r.signals == nil {
			return nil
		}
		sigs, total, err := r.signals.Recent(gctx, recentForState)
		if err != nil {
			st.SignalsError = err.Error()
			return nil
		}
		st.SignalCount = total
		for _, s := range sigs {
			sum := SignalSummary{ID: s.ID, Timestamp: s.Timestamp, Company: s.CompanyName, LeadType: s.LeadType}
			if s.Classification != nil {
				sum.Category = s.Classification.Category
			}
			st.RecentSignals = append(st.RecentSignals, sum)
		}
		return nil
	})
	g.Go(func() error {
		st.Health = r.Health(gctx)
		return nil
	})
	_ = g.Wait()
	st.Timestamp = r.now()
	return st
}
