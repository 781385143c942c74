package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/toolgate/gateway/internal/domain/policy"
	"github.com/toolgate/gateway/internal/domain/rules"
	"github.com/toolgate/gateway/internal/domain/tool"
)

// Builder runs the catalog-build algorithm (§4.5): matching endpoint
// descriptors against a policy configuration, synthesizing tool names,
// enriching from an OpenAPI document when present, and resolving each
// tool's effective policy.
type Builder struct {
	matchEngine *rules.Engine[policy.MatchContext]
	schemas     *tool.SchemaBuilder
}

// NewBuilder constructs a Builder whose rule engine runs the three
// built-in operation-id / route+method / display-name matching rules
// plus, when eval is non-nil, the order-400 CEL condition rule. schemas
// supplies the fallback input schema for endpoints an OpenAPI document
// does not describe.
func NewBuilder(eval policy.ConditionEvaluator, schemas *tool.SchemaBuilder) *Builder {
	matchRules := policy.BuiltinMatchRules()
	if eval != nil {
		matchRules = append(matchRules, policy.ConditionMatchRule(eval))
	}
	return &Builder{matchEngine: rules.NewEngine(matchRules), schemas: schemas}
}

// Build runs the 7-step catalog-build algorithm over descs against cfg,
// enriching from doc when non-nil, and returns the resulting snapshot.
func (b *Builder) Build(ctx context.Context, cfg policy.PolicyConfig, descs []tool.EndpointDescriptor, doc *OpenAPIDoc) (*Snapshot, error) {
	// Step 1: sort descriptors into the §4.3 total order. Defensive copy
	// since callers may reuse the input slice.
	sorted := append([]tool.EndpointDescriptor(nil), descs...)
	tool.SortDescriptors(sorted)

	tools := make(map[string]ToolDescriptor, len(sorted))
	var warnings []string

	for _, desc := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Step 2: match against blacklist first (dominates), then
		// whitelist.
		blackCtx := policy.MatchContext{Endpoint: desc, Policies: cfg.Blacklist}
		if err := b.matchEngine.Execute(ctx, &blackCtx); err != nil {
			return nil, fmt.Errorf("catalog: blacklist match for %q: %w", desc.DisplayName, err)
		}
		if blackCtx.Matched != nil && blackCtx.Matched.Enabled {
			continue
		}

		whiteCtx := policy.MatchContext{Endpoint: desc, Policies: cfg.Whitelist}
		if err := b.matchEngine.Execute(ctx, &whiteCtx); err != nil {
			return nil, fmt.Errorf("catalog: whitelist match for %q: %w", desc.DisplayName, err)
		}

		var matched *policy.EndpointPolicy
		if whiteCtx.Matched != nil && whiteCtx.Matched.Enabled {
			matched = whiteCtx.Matched
		} else if cfg.DenyByDefault {
			continue
		}

		// Step 3: synthesize tool name.
		name := toolName(matched, desc)

		// Step 4: enrich from OpenAPI.
		op := doc.find(desc.OperationID, desc.RouteTemplate, desc.HTTPMethod)
		description := enrichedDescription(op)
		inputSchema := mergedInputSchema(op)
		if inputSchema == nil {
			inputSchema = b.fallbackSchema(desc)
		}

		// Step 5: resolve effective policy.
		effective := resolveEffective(matched)

		td := ToolDescriptor{
			ToolName:    name,
			Description: description,
			InputSchema: inputSchema,
			Endpoint:    desc,
			Effective:   effective,
		}

		// Step 6: dedup, first wins.
		if _, exists := tools[name]; exists {
			warnings = append(warnings, fmt.Sprintf("catalog: duplicate tool name %q, keeping first match", name))
			continue
		}
		tools[name] = td
	}
	_ = warnings // duplicate-name warnings are neither returned nor logged

	// Step 7: assemble snapshot.
	return &Snapshot{
		Tools:         tools,
		CreatedAt:     time.Now().UTC(),
		SourceVersion: sourceVersion(cfg),
	}, nil
}

// toolName synthesizes a tool name: the matched policy's ToolName
// override when set, else the operation-id, else "method_route" with the
// method lower-cased, path separators and hyphens turned into underscores,
// and braces dropped.
func toolName(matched *policy.EndpointPolicy, desc tool.EndpointDescriptor) string {
	if matched != nil && matched.Key.ToolName != "" {
		return matched.Key.ToolName
	}
	if desc.OperationID != "" {
		return desc.OperationID
	}
	return synthesizeFromRoute(desc.HTTPMethod, desc.RouteTemplate)
}

// fallbackSchema produces a permissive "open object" schema for an
// endpoint with no OpenAPI match, so tools/list still carries a valid
// inputSchema. Cached by route identity via the shared SchemaBuilder.
func (b *Builder) fallbackSchema(desc tool.EndpointDescriptor) []byte {
	if b.schemas == nil {
		return nil
	}
	doc, err := b.schemas.Build(tool.TypeDescriptor{
		Identity: "fallback:" + desc.HTTPMethod + ":" + desc.RouteTemplate,
		Root:     tool.Field{Kind: tool.KindMap, MapValue: &tool.Field{Kind: tool.KindString}},
	})
	if err != nil {
		return nil
	}
	return doc
}

func synthesizeFromRoute(method, route string) string {
	r := strings.NewReplacer("/", "_", "{", "", "}", "", "-", "_")
	cleaned := strings.Trim(r.Replace(route), "_")
	return strings.ToLower(method) + "_" + cleaned
}

func enrichedDescription(op *OpenAPIOperation) string {
	if op == nil {
		return ""
	}
	if op.Summary != "" {
		return op.Summary
	}
	return op.Description
}

func resolveEffective(matched *policy.EndpointPolicy) policy.EffectivePolicy {
	if matched == nil || matched.Effective == nil {
		return policy.EffectivePolicy{}
	}
	return *matched.Effective
}

// sourceVersion fingerprints the configuration so the provider can detect
// a no-op reload without recomputing the whole snapshot.
func sourceVersion(cfg policy.PolicyConfig) string {
	if cfg.SourceVersion != "" {
		return cfg.SourceVersion
	}
	h := xxhash.New()
	for _, p := range cfg.Whitelist {
		fmt.Fprintf(h, "w:%+v\n", p)
	}
	for _, p := range cfg.Blacklist {
		fmt.Fprintf(h, "b:%+v\n", p)
	}
	fmt.Fprintf(h, "deny:%v\n", cfg.DenyByDefault)
	return fmt.Sprintf("%x", h.Sum64())
}
