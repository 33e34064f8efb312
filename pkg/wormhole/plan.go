package wormhole

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/buildcoprojects/signalhub/pkg/contracts"
	"github.com/buildcoprojects/signalhub/pkg/llm"
)

// MaxActions bounds a single plan.
const MaxActions = 20

const planSchemaURL = "https://signalhub.dev/schemas/wormhole-plan.schema.json"

const planSchema = `{
  "type": "object",
  "required": ["analysis", "actions"],
  "properties": {
    "analysis": {
      "type": "object",
      "required": ["classification"],
      "properties": {
        "classification": {"type": "string"},
        "confidenceScore": {"type": "number"},
        "summary": {"type": "string"}
      }
    },
    "actions": {
      "type": "array",
      "maxItems": 20,
      "items": {
        "type": "object",
        "required": ["type", "operation"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "operation": {"type": "string", "minLength": 1},
          "params": {"type": "object"}
        }
      }
    }
  }
}`

var compiledPlanSchema = mustCompilePlanSchema()

func mustCompilePlanSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(planSchemaURL, strings.NewReader(planSchema)); err != nil {
		panic(fmt.Sprintf("wormhole plan schema load failed: %v", err))
	}
	return c.MustCompile(planSchemaURL)
}

const planSystemPrompt = `You are the operations planner for the signal intake system. You receive an
artefact that an operator has explicitly routed to you, together with a
snapshot of the system state. Decide what the artefact asks for and answer
with a single JSON object and nothing else:

{
  "analysis": {
    "classification": "System Command" | "Diagnostic" | "Self-Repair" | "Standard",
    "confidenceScore": <number between 0 and 1>,
    "summary": "<one or two sentences>"
  },
  "actions": [
    {"type": "<action type>", "operation": "<operation>", "params": {...}}
  ]
}

Action types and operations:
- repository: commit {files: [{path, content}], message, branch?}
  createPullRequest {title, body?, head, base?}
- deploy: deploy {siteId?, message?}
- storage: read {key, store?} | write {key, data, store?} | list {prefix?, store?}
  store is one of "signals", "chat-history", "artifacts"; the default is "signals".
- repair: fixCode {file, changes: [{find, replace}], message?}
- diagnostic: analyzeSystem {} | checkEndpoint {url}

Return an empty actions array when nothing should be done. Never invent file
contents you have not been shown; prefer repair.fixCode for small edits.`

type rawPlan struct {
	Analysis struct {
		Classification  string   `json:"classification"`
		ConfidenceScore *float64 `json:"confidenceScore"`
		Summary         string   `json:"summary"`
	} `json:"analysis"`
	Actions []struct {
		Type      string         `json:"type"`
		Operation string         `json:"operation"`
		Params    map[string]any `json:"params"`
	} `json:"actions"`
}

func buildPlanMessages(content string, meta Metadata, state SystemState) []llm.Message {
	var b strings.Builder
	b.WriteString("Artefact")
	if meta.Name != "" {
		fmt.Fprintf(&b, " %q", meta.Name)
	}
	if meta.ContentType != "" {
		fmt.Fprintf(&b, " (%s)", meta.ContentType)
	}
	b.WriteString(":\n")
	b.WriteString(content)
	if meta.Command != "" {
		fmt.Fprintf(&b, "\n\nOperator command: %s", meta.Command)
	}
	if meta.Target != "" {
		fmt.Fprintf(&b, "\nTarget: %s", meta.Target)
	}
	if meta.NodeReference != "" {
		fmt.Fprintf(&b, "\nNode reference: %s", meta.NodeReference)
	}
	if snapshot, err := json.Marshal(state); err == nil {
		b.WriteString("\n\nSystem state:\n")
		b.Write(snapshot)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: planSystemPrompt},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// ParsePlan turns model output into an analysis and an ordered action list.
// Output that is not a schema-valid plan yields a *contracts.PlanParseError.
func ParsePlan(content string) (contracts.ClassificationResult, string, []contracts.ActionSpec, error) {
	fail := func(err error) (contracts.ClassificationResult, string, []contracts.ActionSpec, error) {
		return contracts.ClassificationResult{}, "", nil, &contracts.PlanParseError{Excerpt: excerpt(content), Err: err}
	}

	raw := llm.ExtractJSON(content)
	if raw == "" {
		return fail(errors.New("no JSON object in model output"))
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fail(fmt.Errorf("invalid JSON: %w", err))
	}
	if err := compiledPlanSchema.Validate(doc); err != nil {
		return fail(fmt.Errorf("schema: %w", err))
	}
	var p rawPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fail(fmt.Errorf("decode: %w", err))
	}

	analysis := contracts.ClassificationResult{
		Category:   contracts.NormalizeCategory(p.Analysis.Classification),
		Confidence: 1,
		Rationale:  strings.TrimSpace(p.Analysis.Summary),
	}
	if p.Analysis.ConfidenceScore != nil {
		analysis.Confidence = contracts.ClampConfidence(*p.Analysis.ConfidenceScore)
	}

	actions := make([]contracts.ActionSpec, 0, len(p.Actions))
	for _, a := range p.Actions {
		t, ok := contracts.ParseActionType(a.Type)
		if !ok {
			// Kept verbatim so the result reports the unknown type.
			t = contracts.ActionType(strings.TrimSpace(a.Type))
		}
		actions = append(actions, contracts.ActionSpec{
			Type:      t,
			Operation: strings.TrimSpace(a.Operation),
			Params:    a.Params,
		})
	}
	return analysis, analysis.Rationale, actions, nil
}

func excerpt(s string) string {
	const n = 200
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
