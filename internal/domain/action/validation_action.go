package action

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// OrderValidation is the pipeline position of ValidationAction.
const OrderValidation = 300

// ValidationAction validates ictx.Arguments against ictx.InputSchema before
// allowing the call to proceed.
type ValidationAction struct{}

var _ Action = (*ValidationAction)(nil)

// Order implements Action.
func (a *ValidationAction) Order() int { return OrderValidation }

// AppliesTo implements Action; validation applies whenever a schema is set.
func (a *ValidationAction) AppliesTo(ictx *InvocationContext) bool {
	return len(ictx.InputSchema) > 0
}

// Invoke implements Action.
func (a *ValidationAction) Invoke(ctx context.Context, ictx *InvocationContext, next Next) (Result, error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal(ictx.InputSchema, &schema); err != nil {
		return Result{}, &ValidationError{ToolName: ictx.ToolName, Reason: fmt.Sprintf("malformed input schema: %v", err)}
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return Result{}, &ValidationError{ToolName: ictx.ToolName, Reason: fmt.Sprintf("unresolvable input schema: %v", err)}
	}

	if err := resolved.Validate(ictx.Arguments); err != nil {
		return Result{}, &ValidationError{ToolName: ictx.ToolName, Reason: err.Error()}
	}

	return next(ctx)
}
