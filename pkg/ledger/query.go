package ledger

import (
	"context"
	"strings"

	"github.com/buildcoprojects/signalhub/pkg/contracts"
)

// Query selects a page of the ledger. Zero values mean "no filter" and the
// default limit.
type Query struct {
	Limit    int
	Offset   int
	Category string
	Flag     string
}

// Page is one page of signals, newest first.
type Page struct {
	Signals []contracts.Signal `json:"signals"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
	HasMore bool               `json:"hasMore"`
}

func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	q.Category = strings.TrimSpace(q.Category)
	q.Flag = strings.TrimSpace(q.Flag)
	return q
}

// Matches reports whether s passes the category and flag filters.
// Category matches the classification category, the lead type, or
// "wormhole" for wormhole-processed records.
func (q Query) Matches(s *contracts.Signal) bool {
	if q.Flag != "" && !s.Flags.Has(q.Flag) {
		return false
	}
	if q.Category == "" {
		return true
	}
	if strings.EqualFold(q.Category, "wormhole") {
		return s.Flags.WormholeProcessed
	}
	cat := contracts.NormalizeCategory(q.Category)
	if cat == contracts.CategoryUnclassified && !strings.EqualFold(q.Category, string(cat)) {
		cat = ""
	}
	if s.Classification != nil && cat != "" && cat == s.Classification.Category {
		return true
	}
	lt, ok := contracts.ParseLeadType(q.Category)
	return ok && lt == s.LeadType
}

// List returns a filtered page of the merged ledger.
func (l *Ledger) List(ctx context.Context, q Query) (Page, error) {
	q = q.normalized()
	all, err := l.all(ctx)
	if err != nil {
		return Page{}, err
	}

	filtered := all[:0]
	for i := range all {
		if q.Matches(&all[i]) {
			filtered = append(filtered, all[i])
		}
	}

	page := Page{Total: len(filtered), Limit: q.Limit, Offset: q.Offset, Signals: []contracts.Signal{}}
	if q.Offset < len(filtered) {
		end := min(q.Offset+q.Limit, len(filtered))
		page.Signals = filtered[q.Offset:end]
	}
	page.HasMore = q.Offset+len(page.Signals) < page.Total
	return page, nil
}
