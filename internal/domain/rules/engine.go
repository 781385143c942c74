// Package rules provides a generic, order-sorted, short-circuiting rule
// pipeline over an immutable rule array, modeled directly on the
// atomic-swap idiom of the gateway's outbound interceptor.
package rules

import (
	"context"
	"sort"
	"sync/atomic"
)

// Rule is one matching/applying step in an Engine, generic over a context
// type T specific to the caller's domain.
type Rule[T any] struct {
	// Order determines evaluation order, ascending.
	Order int
	// Name identifies the rule for diagnostics.
	Name string
	// Matches reports whether this rule applies to ctx.
	Matches func(ctx *T) bool
	// Apply runs the rule's effect against ctx. Rules are expected to be
	// thread-safe and allocation-free during execution.
	Apply func(ctx *T) error
}

// Engine evaluates a sequence of Rule[T] in ascending Order. Rules are
// stably sorted once at construction and stored as an immutable slice
// behind an atomic.Pointer so Execute never blocks a concurrent
// replacement via SetRules.
type Engine[T any] struct {
	rules atomic.Pointer[[]Rule[T]]
}

// NewEngine constructs an Engine from an initial rule set, stably sorted
// by Order ascending.
func NewEngine[T any](initial []Rule[T]) *Engine[T] {
	e := &Engine[T]{}
	e.SetRules(initial)
	return e
}

// SetRules atomically replaces the engine's rule set. Rules are sorted by
// Order ascending before storage.
func (e *Engine[T]) SetRules(rules []Rule[T]) {
	sorted := make([]Rule[T], len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	e.rules.Store(&sorted)
}

// Execute iterates the current rule set in order; for each rule whose
// Matches returns true, Apply is invoked sequentially. Cancellation is
// checked between rules. If Apply fails, execution stops and the error
// propagates.
func (e *Engine[T]) Execute(ctx context.Context, rctx *T) error {
	rules := *e.rules.Load()
	for _, r := range rules {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.Matches(rctx) {
			continue
		}
		if err := r.Apply(rctx); err != nil {
			return err
		}
	}
	return nil
}
