// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with request_id/tenant_id fields.
type LoggerKey struct{}

// APIKeyKey is the context key type for the raw API key extracted from an
// inbound request's Authorization header.
type APIKeyKey struct{}

// ConnectionIDKey is the context key type for a per-connection ID
// (derived from the API key on HTTP, fixed on stdio). The cache action
// does not read it.
type ConnectionIDKey struct{}

// IPAddressKey is the context key type for the caller's real IP address.
// The rate-limit action does not read it.
type IPAddressKey struct{}
