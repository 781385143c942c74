package policy

import (
	"github.com/toolgate/gateway/internal/domain/rules"
	"github.com/toolgate/gateway/internal/domain/tool"
)

// MatchContext is the per-endpoint state the policy-matching rules read
// from and write to while the rule engine walks a policy list.
type MatchContext struct {
	// Endpoint is the descriptor being matched against policies.
	Endpoint tool.EndpointDescriptor
	// Policies is the candidate list being searched (whitelist or
	// blacklist), in declared order.
	Policies []EndpointPolicy
	// Matched is set by the first rule that finds a match; later rules
	// short-circuit once this is non-nil.
	Matched *EndpointPolicy
}

// ConditionEvaluator evaluates an EndpointPolicy's optional CEL Condition
// expression against the endpoint currently being matched. Defined here
// (rather than depending on the CEL adapter directly) so the domain
// package stays free of adapter imports; the adapter/outbound/cel package
// provides the concrete implementation.
type ConditionEvaluator interface {
	Evaluate(expr string, toolName string, arguments map[string]any) (bool, error)
}

// ConditionMatchRule returns the order-400 rule that re-checks a matched
// policy's Condition expression, when set, and un-matches it if the
// condition evaluates to false. Order 400 places it after the three
// key-matching rules (100/200/300) so it only ever narrows an existing
// match, never creates one.
func ConditionMatchRule(eval ConditionEvaluator) rules.Rule[MatchContext] {
	return rules.Rule[MatchContext]{
		Order: 400,
		Name:  "match-condition",
		Matches: func(ctx *MatchContext) bool {
			return ctx.Matched != nil && ctx.Matched.Condition != ""
		},
		Apply: func(ctx *MatchContext) error {
			name := ctx.Matched.Key.ToolName
			if name == "" {
				name = ctx.Endpoint.OperationID
			}
			if name == "" {
				name = ctx.Endpoint.DisplayName
			}
			ok, err := eval.Evaluate(ctx.Matched.Condition, name, nil)
			if err != nil {
				return err
			}
			if !ok {
				ctx.Matched = nil
			}
			return nil
		},
	}
}

// BuiltinMatchRules returns the three operation-id / route+method /
// display-name matching rules at orders 100/200/300. Each short-circuits
// if an earlier rule already set ctx.Matched.
func BuiltinMatchRules() []rules.Rule[MatchContext] {
	return []rules.Rule[MatchContext]{
		{
			Order: 100,
			Name:  "match-operation-id",
			Matches: func(ctx *MatchContext) bool {
				return ctx.Matched == nil && ctx.Endpoint.OperationID != ""
			},
			Apply: func(ctx *MatchContext) error {
				for i := range ctx.Policies {
					p := &ctx.Policies[i]
					if p.Key.OperationID != "" && p.Key.OperationID == ctx.Endpoint.OperationID {
						ctx.Matched = p
						return nil
					}
				}
				return nil
			},
		},
		{
			Order: 200,
			Name:  "match-route-method",
			Matches: func(ctx *MatchContext) bool {
				return ctx.Matched == nil && ctx.Endpoint.RouteTemplate != ""
			},
			Apply: func(ctx *MatchContext) error {
				for i := range ctx.Policies {
					p := &ctx.Policies[i]
					if p.Key.RouteTemplate == "" {
						continue
					}
					if p.Key.RouteTemplate != ctx.Endpoint.RouteTemplate {
						continue
					}
					if p.Key.HTTPMethod != "" && p.Key.HTTPMethod != ctx.Endpoint.HTTPMethod {
						continue
					}
					ctx.Matched = p
					return nil
				}
				return nil
			},
		},
		{
			Order: 300,
			Name:  "match-display-name",
			Matches: func(ctx *MatchContext) bool {
				return ctx.Matched == nil && ctx.Endpoint.DisplayName != ""
			},
			Apply: func(ctx *MatchContext) error {
				for i := range ctx.Policies {
					p := &ctx.Policies[i]
					if p.Key.DisplayName != "" && p.Key.DisplayName == ctx.Endpoint.DisplayName {
						ctx.Matched = p
						return nil
					}
				}
				return nil
			},
		},
	}
}
