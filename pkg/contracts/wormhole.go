package contracts

import (
	"strings"
	"time"
)

// ActionType is the collaborator an action is dispatched to.
type ActionType string

const (
	ActionRepository ActionType = "repository"
	ActionDeploy     ActionType = "deploy"
	ActionStorage    ActionType = "storage"
	ActionRepair     ActionType = "repair"
	ActionDiagnostic ActionType = "diagnostic"
)

// ParseActionType accepts the canonical names and the provider names models
// tend to emit (github, netlify, blob).
func ParseActionType(s string) (ActionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "repository", "github", "repo":
		return ActionRepository, true
	case "deploy", "netlify":
		return ActionDeploy, true
	case "storage", "blob", "blobs":
		return ActionStorage, true
	case "repair":
		return ActionRepair, true
	case "diagnostic", "diagnostics":
		return ActionDiagnostic, true
	}
	return "", false
}

// ActionSpec is a single step of a model-produced plan. Specs are never built
// from caller input.
type ActionSpec struct {
	Type      ActionType     `json:"type"`
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params,omitempty"`
}

// ActionResult is the outcome of one action.
type ActionResult struct {
	Action    ActionSpec     `json:"action"`
	Success   bool           `json:"success"`
	Executed  bool           `json:"executed"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WormholeOutcome is the result of routing an artefact through the
// privileged path.
type WormholeOutcome struct {
	Eligible         bool                  `json:"eligible"`
	Analysis         *ClassificationResult `json:"analysis,omitempty"`
	Actions          []ActionSpec          `json:"actions"`
	ExecutionResults []ActionResult        `json:"executionResults"`
	Summary          string                `json:"summary,omitempty"`
	Error            string                `json:"error,omitempty"`
}

// Succeeded counts the successful execution results.
func (o WormholeOutcome) Succeeded() int {
	n := 0
	for _, r := range o.ExecutionResults {
		if r.Success {
			n++
		}
	}
	return n
}
