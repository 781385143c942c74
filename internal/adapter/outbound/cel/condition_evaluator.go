package cel

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// ConditionEvaluator implements policy.ConditionEvaluator, compiling each
// distinct expression once and caching the compiled program.
type ConditionEvaluator struct {
	eval *Evaluator

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewConditionEvaluator builds a ConditionEvaluator over a fresh
// Evaluator/environment.
func NewConditionEvaluator() (*ConditionEvaluator, error) {
	eval, err := NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("cel: new condition evaluator: %w", err)
	}
	return &ConditionEvaluator{eval: eval, cache: make(map[string]cel.Program)}, nil
}

// Evaluate compiles (if not cached) and runs expr against toolName/arguments.
func (c *ConditionEvaluator) Evaluate(expr string, toolName string, arguments map[string]any) (bool, error) {
	prg, err := c.compiled(expr)
	if err != nil {
		return false, err
	}
	return c.eval.Evaluate(prg, ConditionVars{ToolName: toolName, Arguments: arguments})
}

func (c *ConditionEvaluator) compiled(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, ok := c.cache[expr]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	prg, err := c.eval.Compile(expr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[expr] = prg
	c.mu.Unlock()
	return prg, nil
}
