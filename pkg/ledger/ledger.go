// Package ledger is the append-only signal ledger. Signals are written
// through an ordered list of persistence tiers and read back merged from
// every location they may have landed in.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/buildcoprojects/signalhub/pkg/artifacts"
	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/retry"
)

// Persistence tiers, in the order they are tried.
const (
	TierHistory = "history"
	TierRecord  = "record"
	TierMinimal = "minimal"
)

const (
	keyEvents    = "events"
	recordPrefix = "records/"

	DefaultLimit = 100
	MaxLimit     = 1000
)

var ErrDuplicate = errors.New("ledger: signal id already recorded")

// Ledger stores signals in the signals namespace of a primary store, with a
// local fallback store as the last tier.
type Ledger struct {
	primary  artifacts.Store
	fallback artifacts.Store
	policy   retry.BackoffPolicy
	attempts int
	logger   *slog.Logger

	mu      sync.Mutex // serializes history read-modify-write in this process
	auditMu sync.Mutex
}

type Option func(*Ledger)

// WithPolicy overrides the retry backoff between attempts of one tier.
func WithPolicy(p retry.BackoffPolicy) Option { return func(l *Ledger) { l.policy = p } }

// WithAttempts sets the attempts per primary tier.
func WithAttempts(n int) Option { return func(l *Ledger) { l.attempts = n } }

// New builds a ledger. fallback may be nil, which drops the minimal tier.
func New(primary, fallback artifacts.Store, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		primary:  primary,
		fallback: fallback,
		policy:   retry.DefaultPolicy,
		attempts: 2,
		logger:   logger.With("component", "ledger"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func recordKey(id string) string { return recordPrefix + id + ".json" }

// Append persists s and returns the tier that accepted it. When every tier
// fails the error is a *contracts.PersistenceError. An id that is already
// recorded is never rewritten.
func (l *Ledger) Append(ctx context.Context, s *contracts.Signal) (string, error) {
	if s == nil || s.ID == "" || strings.ContainsAny(s.ID, "/\\") {
		return "", errors.New("ledger: signal needs a plain id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.recorded(ctx, s.ID) {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, s.ID)
	}

	strategies := []retry.Strategy{
		{Name: TierHistory, Attempts: l.attempts, Run: func(ctx context.Context) error {
			history, err := readHistory(ctx, l.primary)
			if err != nil {
				return err
			}
			next := make([]contracts.Signal, 0, len(history)+1)
			next = append(next, *s)
			next = append(next, history...)
			return artifacts.SetJSON(ctx, l.primary, artifacts.NamespaceSignals, keyEvents, next)
		}},
		{Name: TierRecord, Attempts: l.attempts, Run: func(ctx context.Context) error {
			return artifacts.SetJSON(ctx, l.primary, artifacts.NamespaceSignals, recordKey(s.ID), s)
		}},
	}
	if l.fallback != nil {
		strategies = append(strategies, retry.Strategy{Name: TierMinimal, Attempts: 1, Run: func(ctx context.Context) error {
			return artifacts.SetJSON(ctx, l.fallback, artifacts.NamespaceSignals, recordKey(s.ID), s)
		}})
	}

	tier, err := retry.FirstSuccess(ctx, l.policy, s.ID, strategies...)
	if err != nil {
		names := make([]string, len(strategies))
		for i, st := range strategies {
			names[i] = st.Name
		}
		l.logger.ErrorContext(ctx, "signal not persisted", "id", s.ID, "error", err)
		return "", &contracts.PersistenceError{Tiers: names, Err: err}
	}
	if tier != TierHistory {
		l.logger.WarnContext(ctx, "signal persisted on fallback tier", "id", s.ID, "tier", tier)
	}
	return tier, nil
}

// recorded is a best-effort check across every location. Unreachable
// locations count as "not there".
func (l *Ledger) recorded(ctx context.Context, id string) bool {
	for _, st := range []artifacts.Store{l.primary, l.fallback} {
		if st == nil {
			continue
		}
		if ok, err := st.Exists(ctx, artifacts.NamespaceSignals, recordKey(id)); err == nil && ok {
			return true
		}
	}
	history, err := readHistory(ctx, l.primary)
	if err != nil {
		return false
	}
	for i := range history {
		if history[i].ID == id {
			return true
		}
	}
	return false
}

func readHistory(ctx context.Context, s artifacts.Store) ([]contracts.Signal, error) {
	var out []contracts.Signal
	err := artifacts.GetJSON(ctx, s, artifacts.NamespaceSignals, keyEvents, &out)
	if errors.Is(err, artifacts.ErrNotFound) {
		return nil, nil
	}
	return out, err
}

func readRecords(ctx context.Context, s artifacts.Store) ([]contracts.Signal, error) {
	keys, err := s.List(ctx, artifacts.NamespaceSignals, recordPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]contracts.Signal, 0, len(keys))
	for _, k := range keys {
		if !strings.HasSuffix(k, ".json") {
			continue
		}
		var sig contracts.Signal
		if err := artifacts.GetJSON(ctx, s, artifacts.NamespaceSignals, k, &sig); err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

// all merges every location, de-duplicated by id, newest first. It fails
// only when no location could be read.
func (l *Ledger) all(ctx context.Context) ([]contracts.Signal, error) {
	type source struct {
		name string
		read func() ([]contracts.Signal, error)
	}
	sources := []source{
		{TierHistory, func() ([]contracts.Signal, error) { return readHistory(ctx, l.primary) }},
		{TierRecord, func() ([]contracts.Signal, error) { return readRecords(ctx, l.primary) }},
	}
	if l.fallback != nil {
		sources = append(sources, source{TierMinimal, func() ([]contracts.Signal, error) { return readRecords(ctx, l.fallback) }})
	}

	seen := make(map[string]bool)
	var (
		out  []contracts.Signal
		errs []error
	)
	for _, src := range sources {
		sigs, err := src.read()
		if err != nil {
			l.logger.WarnContext(ctx, "ledger location unreadable", "tier", src.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.name, err))
			continue
		}
		for _, s := range sigs {
			if s.ID == "" || seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	if len(errs) == len(sources) {
		return nil, errors.Join(errs...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Get returns one signal by id.
func (l *Ledger) Get(ctx context.Context, id string) (*contracts.Signal, error) {
	if id == "" || strings.ContainsAny(id, "/\\") {
		return nil, artifacts.ErrInvalidKey
	}
	for _, st := range []artifacts.Store{l.primary, l.fallback} {
		if st == nil {
			continue
		}
		var s contracts.Signal
		if err := artifacts.GetJSON(ctx, st, artifacts.NamespaceSignals, recordKey(id), &s); err == nil {
			return &s, nil
		}
	}
	history, err := readHistory(ctx, l.primary)
	if err != nil {
		return nil, err
	}
	for i := range history {
		if history[i].ID == id {
			return &history[i], nil
		}
	}
	return nil, artifacts.ErrNotFound
}

// Recent returns up to n of the newest signals and the ledger size.
func (l *Ledger) Recent(ctx context.Context, n int) ([]contracts.Signal, int, error) {
	page, err := l.List(ctx, Query{Limit: n})
	if err != nil {
		return nil, 0, err
	}
	return page.Signals, page.Total, nil
}

// Ping checks the primary store.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.primary.Ping(ctx)
}
