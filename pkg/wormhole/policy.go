package wormhole

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/buildcoprojects/signalhub/pkg/contracts"
)

// DefaultPolicy allows the five known action types.
var DefaultPolicy = []string{
	`action.type in ["repository", "deploy", "storage", "repair", "diagnostic"]`,
}

type rule struct {
	expr string
	prg  cel.Program
}

// Policy is a set of CEL expressions over `action` ({type, operation,
// params}). Every expression must evaluate to true for an action to run.
type Policy struct {
	rules []rule
}

// NewPolicy compiles exprs. An empty list means DefaultPolicy.
func NewPolicy(exprs []string) (*Policy, error) {
	if len(exprs) == 0 {
		exprs = DefaultPolicy
	}
	env, err := cel.NewEnv(cel.Variable("action", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	p := &Policy{}
	for _, expr := range exprs {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy %q: compile: %w", expr, issues.Err())
		}
		if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
			return nil, fmt.Errorf("policy %q: must evaluate to bool", expr)
		}
		prg, err := env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
		if err != nil {
			return nil, fmt.Errorf("policy %q: program: %w", expr, err)
		}
		p.rules = append(p.rules, rule{expr: expr, prg: prg})
	}
	return p, nil
}

// Allow evaluates every rule against a. It returns the first failing
// expression as reason. Evaluation errors deny.
func (p *Policy) Allow(a contracts.ActionSpec) (bool, string) {
	params := a.Params
	if params == nil {
		params = map[string]any{}
	}
	input := map[string]any{
		"action": map[string]any{
			"type":      string(a.Type),
			"operation": a.Operation,
			"params":    params,
		},
	}
	for _, r := range p.rules {
		out, _, err := r.prg.Eval(input)
		if err != nil {
			return false, fmt.Sprintf("policy %q: %v", r.expr, err)
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			return false, fmt.Sprintf("denied by policy %q", r.expr)
		}
	}
	return true, ""
}
