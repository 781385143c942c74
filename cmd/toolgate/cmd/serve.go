package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	outboundaudit "github.com/toolgate/gateway/internal/adapter/outbound/audit"
	"github.com/toolgate/gateway/internal/adapter/outbound/cel"
	mcpclient "github.com/toolgate/gateway/internal/adapter/outbound/mcp"
	"github.com/toolgate/gateway/internal/adapter/outbound/memory"

	httptransport "github.com/toolgate/gateway/internal/adapter/inbound/http"
	"github.com/toolgate/gateway/internal/adapter/inbound/stdio"

	"github.com/toolgate/gateway/internal/config"
	"github.com/toolgate/gateway/internal/telemetry"

	"github.com/toolgate/gateway/internal/domain/audit"
	"github.com/toolgate/gateway/internal/domain/auth"
	"github.com/toolgate/gateway/internal/domain/catalog"
	"github.com/toolgate/gateway/internal/domain/gatewaycat"
	"github.com/toolgate/gateway/internal/domain/redact"
	"github.com/toolgate/gateway/internal/domain/resiliency"
	"github.com/toolgate/gateway/internal/domain/tool"
	"github.com/toolgate/gateway/internal/domain/upstream"
	"github.com/toolgate/gateway/internal/port/inbound"
	"github.com/toolgate/gateway/internal/service"
)

var useStdio bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long: `Start the Toolgate gateway server.

By default the gateway listens over HTTP (server.http_addr in config).
Pass --stdio to serve a single client over stdin/stdout instead, the
way an MCP client like Claude Desktop launches a local server.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&useStdio, "stdio", false, "serve a single client over stdin/stdout instead of HTTP")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	// Stdio mode reserves stdout for the MCP stream; logs always go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	return serve(ctx, cfg, logger)
}

// serve wires every domain/adapter collaborator into a Dispatcher and runs
// it behind the configured inbound transport until ctx is cancelled.
func serve(ctx context.Context, cfg *config.OSSConfig, logger *slog.Logger) error {
	// ===== Telemetry =====
	// Dev mode emits trace spans and metric snapshots to stderr; production
	// runs rely on the Prometheus /metrics endpoint instead.
	telemetryProvider, err := telemetry.NewProvider(cfg.DevMode, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to configure telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// ===== Auth =====
	authStore := memory.NewAuthStore()
	seedAuth(cfg, authStore)
	apiKeyService := auth.NewAPIKeyService(authStore)

	// ===== Rate limiting =====
	cleanupInterval, err := time.ParseDuration(cfg.RateLimit.CleanupInterval)
	if err != nil {
		cleanupInterval = 5 * time.Minute
	}
	rateLimiter := memory.NewRateLimiterWithConfig(cleanupInterval, time.Hour)
	rateLimiter.StartCleanup(ctx)
	defer rateLimiter.Stop()

	// ===== Redaction =====
	redactor, err := redact.NewRedactor(cfg.Redact.Fields, cfg.Redact.Patterns)
	if err != nil {
		return fmt.Errorf("failed to build redactor: %w", err)
	}
	if cfg.Redact.Placeholder != "" {
		redactor.Placeholder = cfg.Redact.Placeholder
	}

	// ===== Audit =====
	auditStore, err := createAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	defer func() { _ = auditStore.Close() }()

	flushInterval, err := time.ParseDuration(cfg.Audit.FlushInterval)
	if err != nil {
		flushInterval = time.Second
	}
	sendTimeout, err := time.ParseDuration(cfg.Audit.SendTimeout)
	if err != nil {
		sendTimeout = 100 * time.Millisecond
	}
	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(flushInterval),
		service.WithSendTimeout(sendTimeout),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
	)
	auditService.Start(ctx)
	defer auditService.Stop()

	// ===== Catalog (policy allow/deny) =====
	conditionEvaluator, err := cel.NewConditionEvaluator()
	if err != nil {
		return fmt.Errorf("failed to build condition evaluator: %w", err)
	}
	catalogBuilder := catalog.NewBuilder(conditionEvaluator, tool.NewSchemaBuilder())
	policySource := config.NewPolicySource(cfg)
	reloadDebounce, err := time.ParseDuration(cfg.Catalog.ReloadDebounce)
	if err != nil {
		reloadDebounce = 5 * time.Second
	}
	catalogProvider := catalog.NewProvider(catalogBuilder, policySource, reloadDebounce)
	if _, err := catalogProvider.Reload(ctx); err != nil {
		return fmt.Errorf("failed to build initial catalog: %w", err)
	}

	// ===== Upstreams + gateway aggregation =====
	upstreamStore := memory.NewUpstreamStore()
	for _, u := range cfg.ToUpstreams() {
		u := u
		if err := upstreamStore.Add(ctx, &u); err != nil {
			return fmt.Errorf("failed to seed upstream %q: %w", u.Name, err)
		}
	}
	registry := upstream.NewStaticRegistry(upstreamStore, cfg.NamespacePrefixes())

	transportConfigs := make(map[string]mcpclient.TransportConfig, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		typ := upstream.UpstreamTypeHTTP
		if u.Command != "" {
			typ = upstream.UpstreamTypeStdio
		}
		transportConfigs[u.Name] = mcpclient.TransportConfig{
			Type:    typ,
			URL:     u.HTTP,
			Timeout: cfg.UpstreamTimeout(u.Name),
			Command: u.Command,
			Args:    u.Args,
		}
	}
	callerFactory := mcpclient.NewCallerFactory(transportConfigs)
	callerPool := mcpclient.NewCallerPool(callerFactory, transportConfigs)
	defer func() { _ = callerPool.Close() }()

	aggregator := gatewaycat.NewAggregator(registry, callerFactory, reloadDebounce, 10*time.Second, "/")
	if _, err := aggregator.Rebuild(ctx); err != nil {
		logger.Warn("initial gateway catalog rebuild failed, will retry lazily", "error", err)
	}

	var resiliencyPolicy resiliency.Policy = resiliency.NoRetryPolicy{}
	if cfg.Resiliency.RetryCount > 0 {
		baseDelay, err := time.ParseDuration(cfg.Resiliency.BaseDelay)
		if err != nil {
			baseDelay = 100 * time.Millisecond
		}
		maxDelay, err := time.ParseDuration(cfg.Resiliency.MaxDelay)
		if err != nil {
			maxDelay = time.Second
		}
		resiliencyPolicy = resiliency.NewBackoffRetryPolicy(cfg.Resiliency.RetryCount, baseDelay, maxDelay)
	}
	gatewayDispatcher := gatewaycat.NewDispatcher(callerPool, resiliencyPolicy)

	// ===== JSON-RPC dispatcher =====
	requestTimeout, err := time.ParseDuration(cfg.Server.RequestTimeout)
	if err != nil {
		requestTimeout = 30 * time.Second
	}
	dispatcher := service.NewDispatcher(
		catalogProvider,
		aggregator,
		gatewayDispatcher,
		apiKeyService,
		rateLimiter,
		redactor,
		auditService,
		logger,
		service.DispatcherConfig{
			ServerName:                "toolgate",
			ServerVersion:             Version,
			DefaultTimeout:            requestTimeout,
			ToolNamePattern:           cfg.Validation.ToolNamePattern,
			MaxToolNameLength:         cfg.Validation.MaxToolNameLength,
			MaxArgumentsDepth:         cfg.Validation.MaxArgumentsDepth,
			MaxArgumentsPropertyCount: cfg.Validation.MaxArgumentsPropertyCount,
		},
	)

	logger.Info("toolgate starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"upstreams", len(cfg.Upstreams),
		"rate_limit", cfg.RateLimit.Enabled,
		"audit_output", cfg.Audit.Output,
	)

	var transport inbound.ProxyService
	if useStdio {
		transport = stdio.NewStdioTransport(dispatcher, logger)
		logger.Info("transport mode: stdio")
	} else {
		healthChecker := httptransport.NewHealthChecker(nil, rateLimiter, auditService, Version)
		transport = httptransport.NewHTTPTransport(dispatcher,
			httptransport.WithAddr(cfg.Server.HTTPAddr),
			httptransport.WithLogger(logger),
			httptransport.WithHealthChecker(healthChecker),
		)
		logger.Info("transport mode: HTTP", "addr", cfg.Server.HTTPAddr)
	}

	if err := transport.Start(ctx); err != nil {
		return err
	}

	logger.Info("toolgate stopped")
	return nil
}

// seedAuth loads identities and API keys declared in config into authStore.
func seedAuth(cfg *config.OSSConfig, authStore *memory.AuthStore) {
	for _, identityCfg := range cfg.Auth.Identities {
		authStore.AddIdentity(&auth.Identity{
			ID:   identityCfg.ID,
			Name: identityCfg.Name,
		})
	}

	for _, keyCfg := range cfg.Auth.APIKeys {
		hash := strings.TrimPrefix(keyCfg.KeyHash, "sha256:")
		authStore.AddKey(&auth.APIKey{
			Key:        hash,
			IdentityID: keyCfg.IdentityID,
			CreatedAt:  time.Now().UTC(),
		})
	}
}

// createAuditStore builds the configured audit.AuditStore backend: stdout,
// a rotating file, or SQLite.
func createAuditStore(cfg *config.OSSConfig, logger *slog.Logger) (audit.AuditStore, error) {
	output := cfg.Audit.Output

	switch {
	case output == "stdout":
		logger.Debug("audit output: stdout", "buffer_size", cfg.Audit.BufferSize)
		return memory.NewAuditStore(cfg.Audit.BufferSize), nil

	case strings.HasPrefix(output, "file://"):
		path := strings.TrimPrefix(output, "file://")
		if path == "" {
			return nil, fmt.Errorf("invalid audit file URI: %s", output)
		}
		dir := cfg.AuditFile.Dir
		if dir == "" {
			dir = path
		}
		logger.Debug("audit output: file", "dir", dir)
		return outboundaudit.NewFileAuditStore(outboundaudit.AuditFileConfig{
			Dir:           dir,
			RetentionDays: cfg.AuditFile.RetentionDays,
			MaxFileSizeMB: cfg.AuditFile.MaxFileSizeMB,
			CacheSize:     cfg.AuditFile.CacheSize,
		}, logger)

	case strings.HasPrefix(output, "sqlite://"):
		path := strings.TrimPrefix(output, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("invalid audit sqlite URI: %s", output)
		}
		logger.Debug("audit output: sqlite", "path", path)
		return outboundaudit.NewSQLiteAuditStore(outboundaudit.SQLiteConfig{
			Path:          path,
			RetentionDays: cfg.AuditFile.RetentionDays,
			CacheSize:     cfg.AuditFile.CacheSize,
		}, logger)

	default:
		return nil, fmt.Errorf("invalid audit output: %s (must be 'stdout', 'file://path', or 'sqlite://path')", output)
	}
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// gracefulSignals returns the OS signals that should trigger a graceful
// shutdown rather than an immediate exit.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
