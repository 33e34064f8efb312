package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/buildcoprojects/signalhub/pkg/contracts"
)

// DefaultClassifyTimeout bounds a classification call.
const DefaultClassifyTimeout = 8 * time.Second

// Classifier assigns a category to free text.
type Classifier interface {
	Classify(ctx context.Context, text string, context map[string]any) (contracts.ClassificationResult, error)
}

const classifySystemPrompt = `You are a signal classification engine for an inbound lead intake.
Classify the submission into exactly one category:
- "Suspicious": likely spam, fraud, probing, or credential leakage
- "Confirmed": a genuine, actionable lead
- "Needs-Mirror": genuine but requires replication to a mirror node
Respond with a JSON object only:
{"classification": "<category>", "confidence": <number between 0 and 1>, "rationale": "<one sentence>"}`

// LLMClassifier classifies through a chat model.
type LLMClassifier struct {
	client  Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewClassifier(client Client, timeout time.Duration, logger *slog.Logger) *LLMClassifier {
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMClassifier{client: client, timeout: timeout, logger: logger.With("component", "classifier")}
}

type rawVerdict struct {
	Classification string   `json:"classification"`
	Category       string   `json:"category"`
	Confidence     *float64 `json:"confidence"`
	ConfidenceAlt  *float64 `json:"confidenceScore"`
	Rationale      string   `json:"rationale"`
}

// Classify never blocks past its timeout. A nil or empty context map is fine.
func (c *LLMClassifier) Classify(ctx context.Context, text string, meta map[string]any) (contracts.ClassificationResult, error) {
	if strings.TrimSpace(text) == "" {
		return contracts.ClassificationResult{}, errors.New("classify: empty text")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat(ctx, []Message{
		{Role: RoleSystem, Content: classifySystemPrompt},
		{Role: RoleUser, Content: buildClassifyPrompt(text, meta)},
	}, &Options{Temperature: 0.2, MaxTokens: 300, JSON: true})
	if err != nil {
		return contracts.ClassificationResult{}, fmt.Errorf("classify: %w", err)
	}

	result, err := ParseVerdict(resp.Content)
	if err != nil {
		c.logger.WarnContext(ctx, "unparseable classification", "error", err)
		return contracts.ClassificationResult{}, err
	}
	return result, nil
}

// ParseVerdict normalizes a model verdict into a ClassificationResult.
func ParseVerdict(content string) (contracts.ClassificationResult, error) {
	raw := ExtractJSON(content)
	if raw == "" {
		return contracts.ClassificationResult{}, errors.New("classify: no JSON object in response")
	}
	var v rawVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return contracts.ClassificationResult{}, fmt.Errorf("classify: decode verdict: %w", err)
	}
	label := v.Classification
	if label == "" {
		label = v.Category
	}
	if label == "" {
		return contracts.ClassificationResult{}, errors.New("classify: verdict has no category")
	}
	conf := 0.0
	switch {
	case v.Confidence != nil:
		conf = *v.Confidence
	case v.ConfidenceAlt != nil:
		conf = *v.ConfidenceAlt
	}
	return contracts.ClassificationResult{
		Category:   contracts.NormalizeCategory(label),
		Confidence: contracts.ClampConfidence(conf),
		Rationale:  strings.TrimSpace(v.Rationale),
	}, nil
}

func buildClassifyPrompt(text string, meta map[string]any) string {
	var b strings.Builder
	b.WriteString("Submission:\n")
	b.WriteString(text)
	if len(meta) > 0 {
		keys := make([]string, 0, len(meta))
		for k := range meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\nContext:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, meta[k])
		}
	}
	return b.String()
}
