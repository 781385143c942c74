// Package action implements the middleware ("action") pipeline that wraps
// every tool invocation: timeout, rate-limit, validation, and caching.
package action

import (
	"context"
	"time"
)

// InvocationContext carries everything an Action needs for one tool call.
// It is created fresh per call and must not be retained past the call.
type InvocationContext struct {
	// ToolName is the name of the tool being invoked.
	ToolName string
	// Arguments are the call's JSON arguments.
	Arguments map[string]any
	// CorrelationID identifies the originating JSON-RPC request.
	CorrelationID string
	// InvocationID uniquely identifies this invocation attempt.
	InvocationID string
	// Deadline is the absolute time by which this call must complete, if any.
	Deadline time.Time
	// InputSchema is the tool's JSON-Schema for argument validation, if any.
	InputSchema []byte
}

// Result is what an invocation ultimately produces.
type Result struct {
	// Content is the tool's JSON-RPC result content.
	Content any
	// IsError indicates the tool call failed at the application level
	// (as opposed to a transport/protocol failure).
	IsError bool
	// FromCache indicates the result was served from the cache action.
	FromCache bool
}

// Next invokes the remainder of the pipeline. It must be called at most
// once per Invoke; skipping it short-circuits the chain.
type Next func(ctx context.Context) (Result, error)

// Action is one stage of the invocation pipeline.
type Action interface {
	// Order determines pipeline position, ascending.
	Order() int
	// AppliesTo reports whether this action participates for ictx.
	AppliesTo(ictx *InvocationContext) bool
	// Invoke runs the action's logic, calling next to continue the chain.
	Invoke(ctx context.Context, ictx *InvocationContext, next Next) (Result, error)
}

// ActionFunc adapts a plain function to the Action interface for actions
// with a fixed order and unconditional applicability.
type ActionFunc struct {
	order     int
	invoke    func(ctx context.Context, ictx *InvocationContext, next Next) (Result, error)
	appliesTo func(ictx *InvocationContext) bool
}

// NewActionFunc builds an Action from a plain invoke function.
func NewActionFunc(order int, invoke func(context.Context, *InvocationContext, Next) (Result, error)) ActionFunc {
	return ActionFunc{order: order, invoke: invoke, appliesTo: func(*InvocationContext) bool { return true }}
}

// Order implements Action.
func (f ActionFunc) Order() int { return f.order }

// AppliesTo implements Action.
func (f ActionFunc) AppliesTo(ictx *InvocationContext) bool {
	if f.appliesTo == nil {
		return true
	}
	return f.appliesTo(ictx)
}

// Invoke implements Action.
func (f ActionFunc) Invoke(ctx context.Context, ictx *InvocationContext, next Next) (Result, error) {
	return f.invoke(ctx, ictx, next)
}

var _ Action = ActionFunc{}

// Pipeline composes a set of Actions, stably sorted by Order ascending at
// construction, into a single chain around a terminal step.
type Pipeline struct {
	actions []Action
}

// NewPipeline builds a Pipeline from actions, sorted by Order ascending.
func NewPipeline(actions []Action) *Pipeline {
	sorted := append([]Action(nil), actions...)
	stableSortByOrder(sorted)
	return &Pipeline{actions: sorted}
}

// Execute runs the pipeline for ictx, invoking every applicable action in
// order and finally terminal. If any action returns an error, execution
// stops and the error propagates; partial effects from already-run actions
// are the caller's concern.
func (p *Pipeline) Execute(ctx context.Context, ictx *InvocationContext, terminal Next) (Result, error) {
	chain := terminal
	for i := len(p.actions) - 1; i >= 0; i-- {
		act := p.actions[i]
		if !act.AppliesTo(ictx) {
			continue
		}
		next := chain
		act := act
		chain = func(ctx context.Context) (Result, error) {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			return act.Invoke(ctx, ictx, next)
		}
	}
	return chain(ctx)
}

func stableSortByOrder(actions []Action) {
	for i := 1; i < len(actions); i++ {
		for j := i; j > 0 && actions[j].Order() < actions[j-1].Order(); j-- {
			actions[j], actions[j-1] = actions[j-1], actions[j]
		}
	}
}
