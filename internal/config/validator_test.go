package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid OSSConfig for testing.
func minimalValidConfig() *OSSConfig {
	return &OSSConfig{
		Upstreams: []UpstreamConfig{{Name: "primary", HTTP: "http://localhost:3000/mcp"}},
		Auth: AuthConfig{
			Identities: []IdentityConfig{{ID: "user-1", Name: "Test", Roles: []string{"user"}}},
			APIKeys:    []APIKeyConfig{{KeyHash: "sha256:abc123", IdentityID: "user-1"}},
		},
		Audit: AuditConfig{Output: "stdout"},
		Catalog: CatalogConfig{
			Whitelist: []EndpointPolicyConfig{{ToolName: "primary_read", Condition: "true"}},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_NoUpstreams(t *testing.T) {
	t.Parallel()

	// No upstreams configured is valid -- an empty aggregated catalog.
	cfg := minimalValidConfig()
	cfg.Upstreams = nil

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with no upstreams unexpected error: %v", err)
	}
}

func TestValidate_UpstreamMissingTarget(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Upstreams = []UpstreamConfig{{Name: "broken"}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "must specify http or command") {
		t.Errorf("error = %q, want to contain 'must specify http or command'", err.Error())
	}
}

func TestValidate_UpstreamBothTargets(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Upstreams = []UpstreamConfig{{
		Name:    "both",
		HTTP:    "http://localhost:3000/mcp",
		Command: "/usr/bin/mcp-server",
	}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "not both") {
		t.Errorf("error = %q, want to contain 'not both'", err.Error())
	}
}

func TestValidate_DuplicateUpstreamName(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Upstreams = []UpstreamConfig{
		{Name: "dup", HTTP: "http://localhost:3000/mcp"},
		{Name: "dup", HTTP: "http://localhost:4000/mcp"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate name") {
		t.Errorf("error = %q, want to contain 'duplicate name'", err.Error())
	}
}

func TestValidate_InvalidAuditOutput(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "invalid"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "Audit.Output") {
		t.Errorf("error = %q, want to contain 'Audit.Output'", errStr)
	}
}

func TestValidate_ValidAuditOutputStdout(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "stdout"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with stdout unexpected error: %v", err)
	}
}

func TestValidate_ValidAuditOutputFile(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "file:///var/log/audit.log"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with file:// unexpected error: %v", err)
	}
}

func TestValidate_InvalidAuditOutputRelativePath(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "file://relative/path"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for relative path, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "Audit.Output") {
		t.Errorf("error = %q, want to contain 'Audit.Output'", errStr)
	}
}

func TestValidate_UnknownIdentityReference(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Auth.APIKeys[0].IdentityID = "unknown-user"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for unknown identity, got nil")
	}
	if !strings.Contains(err.Error(), "unknown identity_id") {
		t.Errorf("error = %q, want to contain 'unknown identity_id'", err.Error())
	}
}

func TestValidate_MissingIdentities(t *testing.T) {
	t.Parallel()

	// Empty identities is valid (zero-config mode).
	// But if API keys reference nonexistent identities, that should fail.
	cfg := minimalValidConfig()
	cfg.Auth.Identities = nil
	cfg.Auth.APIKeys = nil // Also clear API keys (no dangling refs)

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with empty auth unexpected error: %v", err)
	}
}

func TestValidate_MissingAPIKeys(t *testing.T) {
	t.Parallel()

	// Empty API keys is valid (zero-config mode).
	cfg := minimalValidConfig()
	cfg.Auth.APIKeys = nil

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with empty API keys unexpected error: %v", err)
	}
}

func TestValidate_InvalidKeyHashPrefix(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Auth.APIKeys[0].KeyHash = "abc123" // Missing sha256: prefix

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for missing sha256: prefix, got nil")
	}
	if !strings.Contains(err.Error(), "sha256:") {
		t.Errorf("error = %q, want to contain 'sha256:'", err.Error())
	}
}

func TestValidate_EmptyCatalog(t *testing.T) {
	t.Parallel()

	// Empty whitelist/blacklist is valid (default-deny mode: nothing exposed).
	cfg := minimalValidConfig()
	cfg.Catalog.Whitelist = nil
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with empty catalog (after defaults) unexpected error: %v", err)
	}
}

func TestValidate_ZeroConfig(t *testing.T) {
	t.Parallel()

	// Simulate a user running "toolgate serve" with no config file at all.
	cfg := &OSSConfig{}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() zero-config unexpected error: %v", err)
	}

	// Verify defaults were applied -- no default whitelist entries (default-deny)
	if len(cfg.Catalog.Whitelist) != 0 {
		t.Errorf("expected empty whitelist (default-deny), got %d entries", len(cfg.Catalog.Whitelist))
	}
	if cfg.Audit.Output != "stdout" {
		t.Errorf("default audit output = %q, want 'stdout'", cfg.Audit.Output)
	}
}

func TestValidate_CommandUpstream(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Upstreams = []UpstreamConfig{{
		Name:    "local",
		Command: "/usr/bin/mcp-server",
		Args:    []string{"--port", "3000"},
	}}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with command upstream unexpected error: %v", err)
	}
}

func TestValidate_EmptyRoles(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Auth.Identities[0].Roles = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty roles, got nil")
	}
}
