// Package policy decides who may write into or edit messages of a conversation.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Actions evaluated by the policy.
const (
	ActionCreate = "create"
	ActionEdit   = "edit"
)

// ErrDenied is returned by Authorize when the policy refuses the action.
var ErrDenied = errors.New("forbidden")

// Input is the document the policy sees as input.
type Input struct {
	Action      string `json:"action"`
	UserID      int64  `json:"user_id"`
	CreatorID   int64  `json:"creator_id"`
	RecipientID int64  `json:"recipient_id"`
	AuthorID    int64  `json:"author_id,omitempty"`
}

// Decision is the policy outcome.
type Decision struct {
	Allow  bool
	Reason string
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.message_policy.decision"),
		rego.Module("message_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate runs the policy for input. An undefined decision denies.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Reason: "undefined"}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}
	allow, _ := obj["allow"].(bool)
	reason, _ := obj["reason"].(string)
	return Decision{Allow: allow, Reason: reason}, nil
}

// Authorize returns ErrDenied, wrapped with the policy reason, unless input is allowed.
func (e *Engine) Authorize(ctx context.Context, input Input) error {
	d, err := e.Evaluate(ctx, input)
	if err != nil {
		return err
	}
	if !d.Allow {
		return fmt.Errorf("%w: %s", ErrDenied, d.Reason)
	}
	return nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package message_policy

import rego.v1

default decision := {"allow": false, "reason": "not a participant"}

# Either participant may post into the conversation
decision := {"allow": true, "reason": "participant"} if {
	input.action == "create"
	input.user_id in {input.creator_id, input.recipient_id}
}

# Only the author may edit
decision := {"allow": true, "reason": "author"} if {
	input.action == "edit"
	input.user_id == input.author_id
}

decision := {"allow": false, "reason": "not the author"} if {
	input.action == "edit"
	input.user_id != input.author_id
}
`
