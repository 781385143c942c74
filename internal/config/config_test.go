package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSSConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg OSSConfig
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Audit.Output != "stdout" {
		t.Errorf("Audit.Output = %q, want %q", cfg.Audit.Output, "stdout")
	}
	if cfg.Catalog.DenyByDefault == nil || !*cfg.Catalog.DenyByDefault {
		t.Error("Catalog.DenyByDefault should default to true")
	}
	if cfg.RateLimit.DefaultPermitLimit != 100 {
		t.Errorf("DefaultPermitLimit default = %d, want 100", cfg.RateLimit.DefaultPermitLimit)
	}
	if cfg.Validation.MaxToolNameLength != 256 {
		t.Errorf("Validation.MaxToolNameLength default = %d, want 256", cfg.Validation.MaxToolNameLength)
	}
	if cfg.Validation.MaxArgumentsDepth != 32 {
		t.Errorf("Validation.MaxArgumentsDepth default = %d, want 32", cfg.Validation.MaxArgumentsDepth)
	}
	if cfg.Validation.MaxArgumentsPropertyCount != 256 {
		t.Errorf("Validation.MaxArgumentsPropertyCount default = %d, want 256", cfg.Validation.MaxArgumentsPropertyCount)
	}
}

func TestOSSConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	denyByDefault := false
	cfg := OSSConfig{
		Server: ServerConfig{
			HTTPAddr: ":9090",
		},
		Audit: AuditConfig{
			Output: "file:///var/log/custom.log",
		},
		RateLimit: RateLimitConfig{
			Enabled:            true,
			DefaultPermitLimit: 50,
			DefaultWindow:      "30s",
		},
		Catalog: CatalogConfig{
			DenyByDefault: &denyByDefault,
		},
	}

	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q, want %q", cfg.Server.HTTPAddr, ":9090")
	}
	if cfg.Audit.Output != "file:///var/log/custom.log" {
		t.Errorf("Audit.Output was overwritten: got %q, want %q", cfg.Audit.Output, "file:///var/log/custom.log")
	}
	if cfg.RateLimit.DefaultPermitLimit != 50 {
		t.Errorf("DefaultPermitLimit was overwritten: got %d, want 50", cfg.RateLimit.DefaultPermitLimit)
	}
	if *cfg.Catalog.DenyByDefault {
		t.Error("Catalog.DenyByDefault was overwritten")
	}
}

func TestOSSConfig_SetDefaults_RequestTimeout(t *testing.T) {
	t.Parallel()

	cfg := OSSConfig{}
	cfg.SetDefaults()

	if cfg.Server.RequestTimeout != "30s" {
		t.Errorf("RequestTimeout default: got %q, want %q", cfg.Server.RequestTimeout, "30s")
	}

	cfg2 := OSSConfig{Server: ServerConfig{RequestTimeout: "1m"}}
	cfg2.SetDefaults()

	if cfg2.Server.RequestTimeout != "1m" {
		t.Errorf("RequestTimeout custom: got %q, want %q", cfg2.Server.RequestTimeout, "1m")
	}
}

func TestOSSConfig_SetDefaults_UpstreamTimeoutAndNamespace(t *testing.T) {
	t.Parallel()

	cfg := OSSConfig{
		Upstreams: []UpstreamConfig{
			{Name: "gh", HTTP: "http://localhost:4000/mcp"},
			{Name: "fs", Command: "fs-mcp", Timeout: "5s", NamespacePrefix: "files"},
		},
	}
	cfg.SetDefaults()

	if cfg.Upstreams[0].Timeout != "10s" {
		t.Errorf("Upstreams[0].Timeout default: got %q, want %q", cfg.Upstreams[0].Timeout, "10s")
	}
	if cfg.Upstreams[0].NamespacePrefix != "gh" {
		t.Errorf("Upstreams[0].NamespacePrefix default: got %q, want %q", cfg.Upstreams[0].NamespacePrefix, "gh")
	}
	if cfg.Upstreams[1].Timeout != "5s" {
		t.Errorf("Upstreams[1].Timeout preserved: got %q, want %q", cfg.Upstreams[1].Timeout, "5s")
	}
	if cfg.Upstreams[1].NamespacePrefix != "files" {
		t.Errorf("Upstreams[1].NamespacePrefix preserved: got %q, want %q", cfg.Upstreams[1].NamespacePrefix, "files")
	}
}

func TestOSSConfig_SetDevDefaults_SeedsDevIdentityAndAllowAll(t *testing.T) {
	t.Parallel()

	cfg := OSSConfig{DevMode: true}
	cfg.SetDevDefaults()

	if len(cfg.Auth.Identities) != 1 || cfg.Auth.Identities[0].ID != "dev-user" {
		t.Fatalf("expected dev-user identity seeded, got %+v", cfg.Auth.Identities)
	}
	if len(cfg.Auth.APIKeys) != 1 {
		t.Fatalf("expected dev API key seeded, got %+v", cfg.Auth.APIKeys)
	}
	if len(cfg.Catalog.Whitelist) != 1 {
		t.Fatalf("expected catch-all whitelist entry seeded, got %+v", cfg.Catalog.Whitelist)
	}
}

func TestOSSConfig_SetDevDefaults_NoopWhenDisabled(t *testing.T) {
	t.Parallel()

	cfg := OSSConfig{}
	cfg.SetDevDefaults()

	if len(cfg.Auth.Identities) != 0 {
		t.Errorf("expected no identities seeded when DevMode is false, got %+v", cfg.Auth.Identities)
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "toolgate.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "toolgate.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "toolgate" with no extension
	_ = os.WriteFile(filepath.Join(dir, "toolgate"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "toolgate.yaml")
	ymlPath := filepath.Join(dir, "toolgate.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
