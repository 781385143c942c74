// Package config provides configuration types for Toolgate.
//
// This is a file-based configuration schema designed for simplicity:
// a single YAML document (plus environment variable overrides) describes
// the server listener, the upstream MCP servers to aggregate, the
// allow/deny catalog policy, auth identities, audit output, and rate
// limiting. It intentionally excludes:
//
//   - Redis session storage (in-memory only)
//   - PostgreSQL for audit logs (stdout/file/SQLite only)
//   - SIEM integration (Splunk, Datadog)
//   - Admin web interface
//   - Content scanning (PII, injection, secrets) beyond field/pattern redaction
//   - Email/webhook notifications
//   - SSO/SAML/SCIM authentication
//   - Multi-tenant support
//   - Approval workflows (allow/deny only)
//   - TLS termination (handle via reverse proxy)
//   - Catalog-state persistence across restarts
package config

import "github.com/toolgate/gateway/internal/domain/validation"

// OSSConfig is the top-level configuration for the gateway.
type OSSConfig struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Upstreams configures the MCP servers the gateway aggregates into a
	// single namespaced tool catalog. Optional: a gateway with no
	// upstreams still serves initialize/tools/list with an empty catalog.
	Upstreams []UpstreamConfig `yaml:"upstreams" mapstructure:"upstreams" validate:"omitempty,dive"`

	// AuditFile configures the file-based audit persistence.
	AuditFile AuditFileConfig `yaml:"audit_file" mapstructure:"audit_file"`

	// Auth configures file-based identities and API keys.
	// Optional: when empty, requires-auth tools are unreachable (deny-by-default).
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Audit configures where audit logs are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// RateLimit configures the default rate-limit knobs referenced by
	// policies that request token-bucket limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Catalog configures the deny-by-default tool exposure policy:
	// whitelist/blacklist entries matched against upstream tools and
	// hosted endpoints.
	Catalog CatalogConfig `yaml:"catalog" mapstructure:"catalog"`

	// Redact configures output redaction applied to tool call results
	// before they reach the caller.
	Redact RedactConfig `yaml:"redact" mapstructure:"redact"`

	// Resiliency configures the retry/backoff policy applied to gateway
	// tool calls.
	Resiliency ResiliencyConfig `yaml:"resiliency" mapstructure:"resiliency"`

	// Validation configures the limits the JSON-RPC dispatcher enforces on
	// tool names and tools/call arguments before a call reaches the
	// catalog lookup and action pipeline.
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`

	// DevMode enables development features (verbose logging, permissive defaults).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// This gateway only supports plain HTTP (use a reverse proxy for TLS).
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// RequestTimeout bounds a single JSON-RPC dispatch (e.g., "30s").
	// Defaults to "30s" if not specified.
	RequestTimeout string `yaml:"request_timeout" mapstructure:"request_timeout" validate:"omitempty"`
}

// UpstreamConfig configures one upstream MCP server the gateway aggregates.
// Exactly one of HTTP or Command must be specified (mutually exclusive).
type UpstreamConfig struct {
	// Name is the unique, human-readable name for this upstream. Used to
	// derive the namespace prefix when NamespacePrefix is empty.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Enabled controls whether this upstream participates in catalog
	// aggregation. Defaults to true.
	Enabled *bool `yaml:"enabled" mapstructure:"enabled"`

	// NamespacePrefix overrides the tool-name prefix used to disambiguate
	// this upstream's tools in the aggregated catalog. Defaults to Name.
	NamespacePrefix string `yaml:"namespace_prefix" mapstructure:"namespace_prefix"`

	// HTTP is the URL of a remote MCP server (e.g., "http://localhost:3000/mcp").
	HTTP string `yaml:"http" mapstructure:"http" validate:"omitempty,url"`

	// Command is the path to an MCP server executable to spawn as a subprocess.
	Command string `yaml:"command" mapstructure:"command"`

	// Args are the arguments to pass to the subprocess command.
	Args []string `yaml:"args" mapstructure:"args"`

	// Timeout is the timeout for a single request to this upstream (e.g., "10s").
	// Defaults to "10s" if not specified.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`
}

// AuthConfig configures file-based authentication.
// All identities and API keys are defined in the configuration file.
type AuthConfig struct {
	// Identities defines the known identities (users/services).
	Identities []IdentityConfig `yaml:"identities" mapstructure:"identities" validate:"omitempty,dive"`

	// APIKeys defines the API keys that map to identities.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// IdentityConfig defines a file-based identity.
type IdentityConfig struct {
	// ID is the unique identifier for this identity.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Name is the human-readable name for this identity.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Roles are the roles assigned to this identity. They are validated at
	// load time; authorization does not read them.
	Roles []string `yaml:"roles" mapstructure:"roles" validate:"required,min=1"`
}

// APIKeyConfig defines an API key that authenticates as an identity.
type APIKeyConfig struct {
	// KeyHash is the SHA-256 hash of the API key, prefixed with "sha256:".
	// Generate with: toolgate hash-key <your-api-key>
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,startswith=sha256:"`

	// IdentityID references the identity this key authenticates as.
	// Must match an ID in Auth.Identities.
	IdentityID string `yaml:"identity_id" mapstructure:"identity_id" validate:"required"`
}

// AuditConfig configures audit log output.
// Supports stdout, file, or sqlite output (no PostgreSQL, SIEM).
type AuditConfig struct {
	// Output specifies where audit logs are written.
	// Valid values: "stdout", "file:///absolute/path/to/audit.log", or
	// "sqlite:///absolute/path/to/audit.db"
	// Defaults to "stdout" if empty.
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer size for the audit channel.
	// Defaults to 1000 if not specified or 0.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	// Defaults to 100 if not specified or 0.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records (e.g., "1s", "500ms").
	// Defaults to "1s" if not specified.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`

	// SendTimeout is how long to block when channel is full (e.g., "100ms", "0").
	// "0" or empty = drop immediately (no blocking).
	// Defaults to "100ms" if not specified.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty"`

	// WarningThreshold is the percentage (0-100) at which to log warnings.
	// Set to 0 to disable warnings. Defaults to 80 if not specified.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// BufferSize is the number of recent audit records to keep in the
	// in-memory ring buffer used by the diagnostics endpoint.
	// Defaults to 1000 if not specified or 0.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`
}

// AuditFileConfig configures the file-based audit persistence.
type AuditFileConfig struct {
	// Dir is the directory where audit files are stored.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// RetentionDays is the number of days to keep audit files.
	// Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
	// MaxFileSizeMB is the maximum size per audit file in megabytes before rotation.
	// Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb"`
	// CacheSize is the number of recent audit records to keep in memory.
	// Defaults to 1000.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size"`
}

// RateLimitConfig configures the default rate-limiting parameters.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off globally. A policy can still
	// opt a specific tool out by omitting its RateLimit section.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// DefaultPermitLimit is the default number of calls allowed per window
	// for policies that enable rate limiting without specifying one.
	// Defaults to 100 if rate limiting is enabled.
	DefaultPermitLimit int `yaml:"default_permit_limit" mapstructure:"default_permit_limit" validate:"omitempty,min=1"`

	// DefaultWindow is the default limiting window (e.g., "1m").
	// Defaults to "1m" if not specified.
	DefaultWindow string `yaml:"default_window" mapstructure:"default_window" validate:"omitempty"`

	// CleanupInterval is how often to clean up expired rate limit entries (e.g., "5m").
	// Defaults to "5m" if not specified.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty"`
}

// CatalogConfig configures the deny-by-default tool exposure policy.
type CatalogConfig struct {
	// DenyByDefault, when true, means only whitelisted endpoints/tools are
	// exposed. Defaults to true.
	DenyByDefault *bool `yaml:"deny_by_default" mapstructure:"deny_by_default"`

	// Whitelist is the set of policies that permit exposure.
	Whitelist []EndpointPolicyConfig `yaml:"whitelist" mapstructure:"whitelist" validate:"omitempty,dive"`

	// Blacklist is the set of policies that block exposure; blacklist
	// dominates whitelist on conflict.
	Blacklist []EndpointPolicyConfig `yaml:"blacklist" mapstructure:"blacklist" validate:"omitempty,dive"`

	// ReloadDebounce is the minimum interval between catalog rebuilds
	// triggered by EnsureFresh (e.g., "5s"). Defaults to "5s".
	ReloadDebounce string `yaml:"reload_debounce" mapstructure:"reload_debounce" validate:"omitempty"`
}

// EndpointPolicyConfig declares how one or more endpoints/tools should be
// exposed (or blocked) as MCP tools. Maps onto policy.EndpointPolicy.
type EndpointPolicyConfig struct {
	// OperationID matches an endpoint's operation-id exactly.
	OperationID string `yaml:"operation_id" mapstructure:"operation_id"`
	// RouteTemplate matches an endpoint's route template (paired with HTTPMethod).
	RouteTemplate string `yaml:"route_template" mapstructure:"route_template"`
	// HTTPMethod is the HTTP method paired with RouteTemplate.
	HTTPMethod string `yaml:"http_method" mapstructure:"http_method"`
	// DisplayName matches an endpoint's display name exactly.
	DisplayName string `yaml:"display_name" mapstructure:"display_name"`
	// ToolName overrides the synthesized tool name for a matched endpoint.
	ToolName string `yaml:"tool_name" mapstructure:"tool_name"`

	// Enabled indicates if this policy is active. Defaults to true.
	Enabled *bool `yaml:"enabled" mapstructure:"enabled"`

	// Condition is an optional CEL expression; when set, the policy only
	// applies if the expression evaluates to true for the matching context.
	Condition string `yaml:"condition" mapstructure:"condition"`

	// TimeoutMS bounds a single tool invocation. Zero means no explicit
	// timeout beyond the caller's deadline.
	TimeoutMS int `yaml:"timeout_ms" mapstructure:"timeout_ms" validate:"omitempty,min=1"`
	// RateLimit is the optional rate-limit configuration for this policy.
	RateLimit *EndpointRateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	// CacheTTLMS is how long a cached result remains valid, in milliseconds.
	// Zero disables caching.
	CacheTTLMS int `yaml:"cache_ttl_ms" mapstructure:"cache_ttl_ms" validate:"omitempty,min=1"`
	// RequiresAuth indicates the tool requires a validated identity.
	RequiresAuth bool `yaml:"requires_auth" mapstructure:"requires_auth"`
}

// ValidationConfig configures tool-call input validation limits enforced
// by the JSON-RPC dispatcher before a call reaches the catalog lookup.
type ValidationConfig struct {
	// ToolNamePattern is the compiled-character whitelist a tool name must
	// match. Defaults to "^[A-Za-z0-9_/-]+$", allowing "/" as a namespace
	// separator for gateway-routed tool names.
	ToolNamePattern string `yaml:"tool_name_pattern" mapstructure:"tool_name_pattern"`

	// MaxToolNameLength bounds a tool name's length. Defaults to 256.
	MaxToolNameLength int `yaml:"max_tool_name_length" mapstructure:"max_tool_name_length" validate:"omitempty,min=1"`

	// MaxArgumentsDepth bounds how deeply tools/call arguments may nest.
	// Defaults to 32.
	MaxArgumentsDepth int `yaml:"max_arguments_depth" mapstructure:"max_arguments_depth" validate:"omitempty,min=1"`

	// MaxArgumentsPropertyCount bounds the number of properties or
	// elements allowed at any single level of tools/call arguments.
	// Defaults to 256.
	MaxArgumentsPropertyCount int `yaml:"max_arguments_property_count" mapstructure:"max_arguments_property_count" validate:"omitempty,min=1"`
}

// EndpointRateLimitConfig configures per-tool token-bucket rate limiting.
type EndpointRateLimitConfig struct {
	// PermitLimit is the number of calls allowed per Window.
	PermitLimit int `yaml:"permit_limit" mapstructure:"permit_limit" validate:"omitempty,min=1"`
	// WindowMS is the limiting window in milliseconds.
	WindowMS int `yaml:"window_ms" mapstructure:"window_ms" validate:"omitempty,min=1"`
	// QueueLimit optionally bounds how many callers may wait for a permit.
	QueueLimit int `yaml:"queue_limit" mapstructure:"queue_limit" validate:"omitempty,min=0"`
}

// RedactConfig configures output redaction applied to tool call results.
type RedactConfig struct {
	// Fields lists JSON object keys (case-insensitive) to strip from tool
	// call results, replaced with Placeholder.
	Fields []string `yaml:"fields" mapstructure:"fields"`
	// Patterns lists regular expressions applied to string leaves; matches
	// are replaced with Placeholder.
	Patterns []string `yaml:"patterns" mapstructure:"patterns"`
	// Placeholder is the replacement text. Defaults to "[REDACTED]".
	Placeholder string `yaml:"placeholder" mapstructure:"placeholder"`
}

// ResiliencyConfig configures the retry/backoff policy applied to gateway
// tool calls.
type ResiliencyConfig struct {
	// RetryCount is the number of retries after the initial attempt.
	// Zero, the value when unset, disables retries (NoRetryPolicy).
	RetryCount int `yaml:"retry_count" mapstructure:"retry_count" validate:"omitempty,min=0"`
	// BaseDelay is the initial backoff delay (e.g., "100ms"). Defaults to "100ms".
	BaseDelay string `yaml:"base_delay" mapstructure:"base_delay" validate:"omitempty"`
	// MaxDelay caps the backoff delay (e.g., "1s"). Defaults to "1s".
	MaxDelay string `yaml:"max_delay" mapstructure:"max_delay" validate:"omitempty"`
}

// SetDevDefaults applies permissive defaults for development mode.
// This allows running toolgate with minimal config (just upstreams).
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *OSSConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	if len(c.Auth.Identities) == 0 {
		c.Auth.Identities = []IdentityConfig{
			{ID: "dev-user", Name: "Development User", Roles: []string{"admin"}},
		}
	}

	if len(c.Auth.APIKeys) == 0 {
		c.Auth.APIKeys = []APIKeyConfig{
			{
				KeyHash:    "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274",
				IdentityID: "dev-user",
			},
		}
	}

	if len(c.Catalog.Whitelist) == 0 {
		allow := true
		c.Catalog.Whitelist = []EndpointPolicyConfig{
			{Condition: "true", Enabled: &allow},
		}
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *OSSConfig) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.RequestTimeout == "" {
		c.Server.RequestTimeout = "30s"
	}

	for i := range c.Upstreams {
		if c.Upstreams[i].Timeout == "" {
			c.Upstreams[i].Timeout = "10s"
		}
		if c.Upstreams[i].NamespacePrefix == "" {
			c.Upstreams[i].NamespacePrefix = c.Upstreams[i].Name
		}
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}

	if c.RateLimit.DefaultPermitLimit == 0 {
		c.RateLimit.DefaultPermitLimit = 100
	}
	if c.RateLimit.DefaultWindow == "" {
		c.RateLimit.DefaultWindow = "1m"
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}

	if c.Catalog.DenyByDefault == nil {
		denyByDefault := true
		c.Catalog.DenyByDefault = &denyByDefault
	}
	if c.Catalog.ReloadDebounce == "" {
		c.Catalog.ReloadDebounce = "5s"
	}

	if c.Redact.Placeholder == "" {
		c.Redact.Placeholder = "[REDACTED]"
	}

	if c.Resiliency.BaseDelay == "" {
		c.Resiliency.BaseDelay = "100ms"
	}
	if c.Resiliency.MaxDelay == "" {
		c.Resiliency.MaxDelay = "1s"
	}

	if c.Validation.ToolNamePattern == "" {
		c.Validation.ToolNamePattern = validation.DefaultToolNamePattern
	}
	if c.Validation.MaxToolNameLength == 0 {
		c.Validation.MaxToolNameLength = validation.DefaultMaxToolNameLength
	}
	if c.Validation.MaxArgumentsDepth == 0 {
		c.Validation.MaxArgumentsDepth = validation.DefaultMaxArgumentsDepth
	}
	if c.Validation.MaxArgumentsPropertyCount == 0 {
		c.Validation.MaxArgumentsPropertyCount = validation.DefaultMaxArgumentsPropertyCount
	}
}
