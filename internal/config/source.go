package config

import (
	"context"
	"time"

	"github.com/toolgate/gateway/internal/domain/catalog"
	"github.com/toolgate/gateway/internal/domain/policy"
	"github.com/toolgate/gateway/internal/domain/tool"
	"github.com/toolgate/gateway/internal/domain/upstream"
)

// PolicySource adapts an OSSConfig into a catalog.PolicyConfigSource.
// Acquisition of endpoint descriptors and OpenAPI documents for locally
// hosted HTTP APIs is an external collaborator (an HTTP router
// introspector), out of scope for a gateway that only ever fronts
// upstream MCP servers. Instead of introspection, DescribeEndpoints
// synthesizes one descriptor per distinct tool identity named in the
// configured whitelist/blacklist, so the catalog's rule engine has
// something to match against; the descriptors carry no route/schema
// information of their own (LoadOpenAPI stays a no-op) since gatewaycat's
// live aggregation, not an OpenAPI document, is what supplies the real
// schema and upstream routing for a matched tool.
type PolicySource struct {
	cfg *OSSConfig
}

// NewPolicySource wraps cfg as a catalog.PolicyConfigSource.
func NewPolicySource(cfg *OSSConfig) *PolicySource {
	return &PolicySource{cfg: cfg}
}

// LoadPolicy converts the catalog section of cfg into a policy.PolicyConfig.
func (s *PolicySource) LoadPolicy(ctx context.Context) (policy.PolicyConfig, error) {
	return s.cfg.ToPolicyConfig(), nil
}

// DescribeEndpoints synthesizes a descriptor for every distinct endpoint
// identity declared across the whitelist and blacklist, mirroring
// whichever identifying field each policy entry uses (operation-id,
// route+method, or display-name/tool-name) so BuiltinMatchRules has a
// real endpoint to match against.
func (s *PolicySource) DescribeEndpoints(ctx context.Context) ([]tool.EndpointDescriptor, error) {
	seen := make(map[string]struct{})
	var out []tool.EndpointDescriptor
	for _, list := range [][]EndpointPolicyConfig{s.cfg.Catalog.Whitelist, s.cfg.Catalog.Blacklist} {
		for _, p := range list {
			desc, key := policyIdentity(p)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, desc)
		}
	}
	return out, nil
}

// policyIdentity derives the synthetic endpoint descriptor a configured
// policy entry should match against, following the same OperationID >
// RouteTemplate+HTTPMethod > DisplayName priority BuiltinMatchRules uses,
// plus a string dedup key (EndpointDescriptor itself isn't comparable: it
// carries slice fields). A policy identified only by ToolName matches via
// DisplayName, since ToolName itself overrides the synthesized name only
// after a match.
func policyIdentity(p EndpointPolicyConfig) (tool.EndpointDescriptor, string) {
	switch {
	case p.OperationID != "":
		return tool.EndpointDescriptor{OperationID: p.OperationID}, "op:" + p.OperationID
	case p.RouteTemplate != "":
		return tool.EndpointDescriptor{RouteTemplate: p.RouteTemplate, HTTPMethod: p.HTTPMethod},
			"route:" + p.HTTPMethod + ":" + p.RouteTemplate
	case p.DisplayName != "":
		return tool.EndpointDescriptor{DisplayName: p.DisplayName}, "disp:" + p.DisplayName
	case p.ToolName != "":
		return tool.EndpointDescriptor{DisplayName: p.ToolName}, "disp:" + p.ToolName
	default:
		return tool.EndpointDescriptor{}, ""
	}
}

// LoadOpenAPI returns an empty document; see PolicySource doc comment.
func (s *PolicySource) LoadOpenAPI(ctx context.Context) (*catalog.OpenAPIDoc, error) {
	return &catalog.OpenAPIDoc{}, nil
}

// ToPolicyConfig converts the YAML catalog configuration into the domain
// policy.PolicyConfig the rule engine matches against.
func (c *OSSConfig) ToPolicyConfig() policy.PolicyConfig {
	denyByDefault := true
	if c.Catalog.DenyByDefault != nil {
		denyByDefault = *c.Catalog.DenyByDefault
	}

	return policy.PolicyConfig{
		SchemaVersion: 1,
		SourceVersion: c.sourceVersionFingerprint(),
		DenyByDefault: denyByDefault,
		Whitelist:     toEndpointPolicies(c.Catalog.Whitelist),
		Blacklist:     toEndpointPolicies(c.Catalog.Blacklist),
	}
}

// sourceVersionFingerprint is overridden by the fingerprint the catalog
// builder itself derives from the policy content at build time; this
// gateway's loader does not need a second, independent fingerprint.
func (c *OSSConfig) sourceVersionFingerprint() string {
	return ""
}

func toEndpointPolicies(in []EndpointPolicyConfig) []policy.EndpointPolicy {
	if len(in) == 0 {
		return nil
	}
	out := make([]policy.EndpointPolicy, 0, len(in))
	for _, p := range in {
		enabled := true
		if p.Enabled != nil {
			enabled = *p.Enabled
		}
		displayName := p.DisplayName
		if displayName == "" && p.OperationID == "" && p.RouteTemplate == "" {
			// ToolName is the common case for this gateway: an operator
			// names the tool they want to allow/deny and nothing else.
			// Matching keys off OperationID/RouteTemplate/DisplayName,
			// so fall the identity back to DisplayName and let
			// DescribeEndpoints synthesize a descriptor with the same
			// DisplayName to match against.
			displayName = p.ToolName
		}
		out = append(out, policy.EndpointPolicy{
			Key: policy.PolicyKey{
				OperationID:   p.OperationID,
				RouteTemplate: p.RouteTemplate,
				HTTPMethod:    p.HTTPMethod,
				DisplayName:   displayName,
				ToolName:      p.ToolName,
			},
			Enabled:   enabled,
			Condition: p.Condition,
			Effective: toEffectivePolicy(p),
		})
	}
	return out
}

func toEffectivePolicy(p EndpointPolicyConfig) *policy.EffectivePolicy {
	eff := &policy.EffectivePolicy{
		TimeoutMS:    p.TimeoutMS,
		RequiresAuth: p.RequiresAuth,
		Cache:        policy.CachePolicy{TTLMS: p.CacheTTLMS},
	}
	if p.RateLimit != nil {
		eff.RateLimit = policy.RateLimitPolicy{
			Strategy:    policy.RateLimitStrategyTokenBucket,
			PermitLimit: p.RateLimit.PermitLimit,
			WindowMS:    p.RateLimit.WindowMS,
			QueueLimit:  p.RateLimit.QueueLimit,
		}
	}
	return eff
}

// ToUpstreams converts the configured upstreams into domain upstream.Upstream
// values, suitable for seeding an upstream.UpstreamStore behind a
// upstream.StaticRegistry.
func (c *OSSConfig) ToUpstreams() []upstream.Upstream {
	out := make([]upstream.Upstream, 0, len(c.Upstreams))
	for _, u := range c.Upstreams {
		enabled := true
		if u.Enabled != nil {
			enabled = *u.Enabled
		}
		typ := upstream.UpstreamTypeHTTP
		if u.Command != "" {
			typ = upstream.UpstreamTypeStdio
		}
		out = append(out, upstream.Upstream{
			ID:      u.Name,
			Name:    u.Name,
			Type:    typ,
			Enabled: enabled,
			Command: u.Command,
			Args:    u.Args,
			URL:     u.HTTP,
		})
	}
	return out
}

// NamespacePrefixes returns the configured namespace prefix per upstream
// name, for upstream.NewStaticRegistry.
func (c *OSSConfig) NamespacePrefixes() map[string]string {
	out := make(map[string]string, len(c.Upstreams))
	for _, u := range c.Upstreams {
		out[u.Name] = u.NamespacePrefix
	}
	return out
}

// UpstreamTimeout returns the configured per-request timeout for the named
// upstream, falling back to 10s when unset or unparsable.
func (c *OSSConfig) UpstreamTimeout(name string) time.Duration {
	for _, u := range c.Upstreams {
		if u.Name != name {
			continue
		}
		if d, err := time.ParseDuration(u.Timeout); err == nil {
			return d
		}
	}
	return 10 * time.Second
}

var _ catalog.PolicyConfigSource = (*PolicySource)(nil)
