package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// ConditionVars is the CEL activation for a single EndpointPolicy
// Condition expression, evaluated by the rule engine's fourth,
// lowest-priority matching rule.
type ConditionVars struct {
	// ToolName is the candidate tool name.
	ToolName string
	// Arguments are the call's arguments (nil when evaluated before a call
	// is in flight, e.g. at load-time validation).
	Arguments map[string]any
	// IdentityID is the authenticated caller's identity id, empty if
	// unauthenticated.
	IdentityID string
	// IdentityName is the authenticated caller's display name.
	IdentityName string
}

// NewPolicyEnvironment creates a CEL environment for evaluating
// EndpointPolicy Condition expressions.
func NewPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("tool_name", cel.StringType),
		cel.Variable("arguments", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("identity_id", cel.StringType),
		cel.Variable("identity_name", cel.StringType),

		// glob: glob pattern matching, e.g. glob(tool_name, "file_*").
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// arg: extract a specific argument by key, e.g. arg(arguments, "path").
		cel.Function("arg",
			cel.Overload("arg_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := keyVal.Value().(string)
					if m, ok := mapVal.Value().(map[string]any); ok {
						if v, found := m[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					}
					return types.NullValue
				}),
			),
		),
	)
}

// Activation builds the CEL variable bindings for vars.
func (v ConditionVars) Activation() map[string]any {
	args := v.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"tool_name":     v.ToolName,
		"arguments":     args,
		"identity_id":   v.IdentityID,
		"identity_name": v.IdentityName,
	}
}
