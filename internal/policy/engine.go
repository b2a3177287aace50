// Package policy evaluates relay admission rules with OPA.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Input is the document a request is judged on.
type Input struct {
	Model      string `json:"model"`
	InputsSize int    `json:"inputs_size"`
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allow  bool
	Reason string
}

// Engine is the OPA admission engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.relay_admission.decision"),
		rego.Module("relay_admission.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads the policy at path, or DefaultPolicy when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate judges one relay request.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"model":       input.Model,
		"inputs_size": input.InputsSize,
	}))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: true, Reason: "default"}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}

	allow, _ := obj["allow"].(bool)
	reason, _ := obj["reason"].(string)
	return Decision{Allow: allow, Reason: reason}, nil
}

// DefaultPolicy rejects empty inputs and inputs above a per-model byte ceiling.
const DefaultPolicy = `
package relay_admission

import rego.v1

default decision := {"allow": true, "reason": ""}

max_inputs_size := {
	"text-generation": 8192,
	"summarization": 65536,
	"image-classification": 10485760,
}

decision := {"allow": false, "reason": "inputs must not be empty"} if {
	input.inputs_size == 0
}

decision := {"allow": false, "reason": sprintf("inputs exceed %d bytes for %s", [max_inputs_size[input.model], input.model])} if {
	input.inputs_size > max_inputs_size[input.model]
}
`
