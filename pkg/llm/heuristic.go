package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/buildcoprojects/signalhub/pkg/contracts"
)

type keywordRule struct {
	words      []string
	category   contracts.Category
	confidence float64
	rationale  string
}

// Checked in order, first match wins.
var heuristicRules = []keywordRule{
	{[]string{"password", "secret", "private key", "api key", "token"}, contracts.CategorySuspicious, 0.95, "Contains credential-like material"},
	{[]string{"free money", "crypto giveaway", "wire transfer", "click here"}, contracts.CategorySuspicious, 0.85, "Matches common spam phrasing"},
	{[]string{"mirror", "replicate", "duplicate", "backup node"}, contracts.CategoryNeedsMirror, 0.85, "Requests replication"},
	{[]string{"urgent", "critical", "purchase", "order", "invoice", "contract"}, contracts.CategoryConfirmed, 0.9, "Shows clear purchase intent"},
}

// HeuristicClassifier is a keyword classifier for deployments without a
// model provider.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(ctx context.Context, text string, meta map[string]any) (contracts.ClassificationResult, error) {
	if strings.TrimSpace(text) == "" {
		return contracts.ClassificationResult{}, errors.New("classify: empty text")
	}
	lower := strings.ToLower(text)
	for _, r := range heuristicRules {
		for _, w := range r.words {
			if strings.Contains(lower, w) {
				return contracts.ClassificationResult{
					Category:   r.category,
					Confidence: r.confidence,
					Rationale:  r.rationale + " (keyword: " + w + ")",
				}, nil
			}
		}
	}
	return contracts.ClassificationResult{
		Category:   contracts.CategoryConfirmed,
		Confidence: 0.6,
		Rationale:  "No notable characteristics detected",
	}, nil
}
