// Package policy contains the declarative allow/deny/rate-limit
// configuration model and its pure validator.
package policy

import "time"

// RateLimitStrategy names the limiting algorithm applied to a policy.
type RateLimitStrategy string

const (
	// RateLimitStrategyNone disables rate limiting.
	RateLimitStrategyNone RateLimitStrategy = ""
	// RateLimitStrategyTokenBucket applies a GCRA token-bucket limiter.
	RateLimitStrategyTokenBucket RateLimitStrategy = "token_bucket"
)

// RateLimitPolicy configures per-tool rate limiting.
type RateLimitPolicy struct {
	// Strategy selects the limiting algorithm. Empty disables limiting.
	Strategy RateLimitStrategy
	// PermitLimit is the number of calls allowed per Window.
	PermitLimit int
	// WindowMS is the limiting window in milliseconds.
	WindowMS int
	// QueueLimit optionally bounds how many callers may wait for a permit.
	QueueLimit int
}

// CachePolicy configures result caching for a tool.
type CachePolicy struct {
	// TTLMS is how long a cached result remains valid, in milliseconds.
	// Zero disables caching.
	TTLMS int
}

// EffectivePolicy is the resolved set of behavioral knobs attached to an
// EndpointPolicy, inherited by a ToolDescriptor at catalog-build time.
type EffectivePolicy struct {
	// TimeoutMS bounds a single tool invocation. Zero means no explicit
	// timeout beyond the caller's deadline.
	TimeoutMS int
	// RateLimit is the optional rate-limit configuration.
	RateLimit RateLimitPolicy
	// Cache is the optional cache configuration.
	Cache CachePolicy
	// RequiresAuth indicates the tool requires a validated identity.
	RequiresAuth bool
}

// PolicyKey holds the identifying fields for an EndpointPolicy. Identity
// for matching is the first non-empty key, in priority order:
// OperationID > RouteTemplate+HTTPMethod > DisplayName.
type PolicyKey struct {
	// OperationID matches an endpoint's operation-id exactly.
	OperationID string
	// RouteTemplate matches an endpoint's route template (used with
	// HTTPMethod).
	RouteTemplate string
	// HTTPMethod is the HTTP method paired with RouteTemplate.
	HTTPMethod string
	// DisplayName matches an endpoint's display name exactly.
	DisplayName string
	// ToolName, when set, overrides the synthesized tool name for a
	// matched endpoint.
	ToolName string
}

// IsEmpty reports whether no identifying key is set.
func (k PolicyKey) IsEmpty() bool {
	return k.OperationID == "" && k.RouteTemplate == "" && k.DisplayName == ""
}

// EndpointPolicy declares how one or more endpoints should be exposed
// (or blocked) as tools.
type EndpointPolicy struct {
	// Key identifies which endpoint(s) this policy applies to.
	Key PolicyKey
	// Enabled indicates if this policy is active.
	Enabled bool
	// Effective carries the behavioral configuration applied when this
	// policy matches. Nil means "use defaults".
	Effective *EffectivePolicy
	// Condition is an optional CEL expression; when set, the policy only
	// applies if the expression evaluates to true for the matching
	// context. Validated at load time, evaluated at match time.
	Condition string
}

// PolicyConfig is the full declarative configuration: a deny-by-default
// flag plus whitelist/blacklist policy lists.
type PolicyConfig struct {
	// SchemaVersion is the configuration format version.
	SchemaVersion int
	// SourceVersion is an opaque fingerprint of the configuration source,
	// used by the catalog provider to detect changes without a full
	// rebuild.
	SourceVersion string
	// DenyByDefault, when true, means only whitelisted endpoints are
	// exposed as tools. Defaults to true.
	DenyByDefault bool
	// Whitelist is the set of policies that permit exposure.
	Whitelist []EndpointPolicy
	// Blacklist is the set of policies that block exposure; blacklist
	// dominates whitelist on conflict.
	Blacklist []EndpointPolicy
	// LoadedAt is when this configuration was parsed (UTC), informational.
	LoadedAt time.Time
}

// MaxSchemaVersion is the highest schema-version this validator accepts.
const MaxSchemaVersion = 1
