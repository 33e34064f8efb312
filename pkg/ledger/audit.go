package ledger

import (
	"context"
	"errors"
	"sort"

	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/buildcoprojects/signalhub/pkg/audit"
	"github.com/buildcoprojects/signalhub/pkg/retry"
)

const (
	keyAudit = "audit"
	// maxAuditEntries bounds the audit stream per location; the oldest
	// entries are dropped first.
	maxAuditEntries = 5000
)

var _ audit.Sink = (*Ledger)(nil)

func readAudit(ctx context.Context, s artifacts.Store) ([]audit.Event, error) {
	var out []audit.Event
	err := artifacts.GetJSON(ctx, s, artifacts.NamespaceSignals, keyAudit, &out)
	if errors.Is(err, artifacts.ErrNotFound) {
		return nil, nil
	}
	return out, err
}

func prependAudit(ctx context.Context, s artifacts.Store, e audit.Event) error {
	events, err := readAudit(ctx, s)
	if err != nil {
		return err
	}
	next := make([]audit.Event, 0, len(events)+1)
	next = append(next, e)
	next = append(next, events...)
	if len(next) > maxAuditEntries {
		next = next[:maxAuditEntries]
	}
	return artifacts.SetJSON(ctx, s, artifacts.NamespaceSignals, keyAudit, next)
}

// AppendAudit records e in the audit stream. The stream is separate from
// signal records and never affects them.
func (l *Ledger) AppendAudit(ctx context.Context, e audit.Event) error {
	l.auditMu.Lock()
	defer l.auditMu.Unlock()

	strategies := []retry.Strategy{{Name: TierHistory, Attempts: l.attempts, Run: func(ctx context.Context) error {
		return prependAudit(ctx, l.primary, e)
	}}}
	if l.fallback != nil {
		strategies = append(strategies, retry.Strategy{Name: TierMinimal, Run: func(ctx context.Context) error {
			return prependAudit(ctx, l.fallback, e)
		}})
	}
	_, err := retry.FirstSuccess(ctx, l.policy, "audit:"+e.ID, strategies...)
	return err
}

// ListAudit returns up to limit audit events, newest first.
func (l *Ledger) ListAudit(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	events, err := readAudit(ctx, l.primary)
	if err != nil {
		return nil, err
	}
	if l.fallback != nil {
		if more, ferr := readAudit(ctx, l.fallback); ferr == nil {
			events = append(events, more...)
		}
	}
	seen := make(map[string]bool, len(events))
	out := events[:0]
	for _, e := range events {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
