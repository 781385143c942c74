package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolgate/gateway/internal/ctxkey"
	"github.com/toolgate/gateway/internal/domain/action"
	"github.com/toolgate/gateway/internal/domain/audit"
	"github.com/toolgate/gateway/internal/domain/auth"
	"github.com/toolgate/gateway/internal/domain/catalog"
	"github.com/toolgate/gateway/internal/domain/gatewaycat"
	"github.com/toolgate/gateway/internal/domain/policy"
	"github.com/toolgate/gateway/internal/domain/ratelimit"
	"github.com/toolgate/gateway/internal/domain/redact"
	"github.com/toolgate/gateway/internal/domain/validation"
	"github.com/toolgate/gateway/pkg/mcp"
)

// DispatcherConfig configures the Dispatcher's own behavior, as opposed
// to per-tool behavior resolved from a catalog entry's EffectivePolicy.
type DispatcherConfig struct {
	// ServerName/ServerVersion are advertised in the initialize response.
	ServerName    string
	ServerVersion string
	// DefaultTimeout bounds a tool call with no policy-configured timeout.
	DefaultTimeout time.Duration

	// ToolNamePattern/MaxToolNameLength/MaxArgumentsDepth/
	// MaxArgumentsPropertyCount configure the Sanitizer applied to every
	// tools/call before catalog lookup. Zero values fall back to the
	// validation package's defaults.
	ToolNamePattern           string
	MaxToolNameLength         int
	MaxArgumentsDepth         int
	MaxArgumentsPropertyCount int
}

// Server-range JSON-RPC error codes (the reserved standard codes -32700
// through -32603 are used as documented in errorResponse callers below).
// These specializations are used by deny-by-default lookups, auth,
// timeouts, rate limiting, and upstream dispatch failures.
const (
	errCodeDenied         = -32001 // deny-by-default: tool not found or not allowed
	errCodeRateLimited    = -32002
	errCodeUpstreamDown   = -32003
	errCodeTimeout        = -32004
	errCodeUpstreamFailed = -32005
	errCodeAuthRequired   = -32010
)

// upstreamDispatchError wraps a gatewaycat dispatch failure that is not
// a tool-level error (timeout, cancellation, exhausted retries, resolve
// failure), so it surfaces as a JSON-RPC protocol error rather than a
// successful tool response with isError set.
type upstreamDispatchError struct {
	errorType string
	message   string
}

func (e *upstreamDispatchError) Error() string { return e.message }

// toolPipeline caches a built action.Pipeline alongside the
// EffectivePolicy it was built from, so a catalog reload that changes a
// tool's policy invalidates the cache (and any CacheAction state it
// holds) instead of silently running against a stale configuration.
type toolPipeline struct {
	effective policy.EffectivePolicy
	pipeline  *action.Pipeline
}

// Dispatcher is the C8 JSON-RPC entry point: it decodes one MCP message,
// authorizes and routes tools/call through the C7 action pipeline and
// the C9-C11 gateway catalog/dispatcher, and encodes the response.
// Grounded on the teacher's upstream_router.go method switch and
// buildResultResponse/buildErrorResponse helpers, generalized from a
// single-upstream forwarder to a policy-gated multi-upstream router.
type Dispatcher struct {
	catalogProvider *catalog.Provider
	gateway         *gatewaycat.Aggregator
	router          *gatewaycat.Dispatcher
	sanitizer       *validation.Sanitizer
	authSvc         *auth.APIKeyService
	limiter         ratelimit.RateLimiter
	redactor        *redact.Redactor
	audit           *AuditService
	logger          *slog.Logger
	cfg             DispatcherConfig
	stats           *StatsService
	tracer          trace.Tracer
	callCounter     metric.Int64Counter

	mu        sync.Mutex
	pipelines map[string]toolPipeline
}

// NewDispatcher constructs a Dispatcher. authSvc and limiter may be nil:
// a nil authSvc fails any tool requiring auth closed; a nil limiter
// skips rate limiting regardless of policy.
func NewDispatcher(
	catalogProvider *catalog.Provider,
	gateway *gatewaycat.Aggregator,
	router *gatewaycat.Dispatcher,
	authSvc *auth.APIKeyService,
	limiter ratelimit.RateLimiter,
	redactor *redact.Redactor,
	auditSvc *AuditService,
	logger *slog.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.Meter("toolgate/dispatcher")
	callCounter, err := meter.Int64Counter("toolgate.tool_calls",
		metric.WithDescription("Count of tools/call dispatches by decision"))
	if err != nil {
		logger.Warn("failed to create tool_calls counter, metrics will be dropped", "error", err)
	}

	sanitizer, err := validation.NewSanitizerWithConfig(validation.SanitizerConfig{
		ToolNamePattern:           cfg.ToolNamePattern,
		MaxToolNameLength:         cfg.MaxToolNameLength,
		MaxArgumentsDepth:         cfg.MaxArgumentsDepth,
		MaxArgumentsPropertyCount: cfg.MaxArgumentsPropertyCount,
	})
	if err != nil {
		logger.Warn("invalid tool-name-pattern config, falling back to default", "error", err)
		sanitizer = validation.NewSanitizer()
	}

	return &Dispatcher{
		catalogProvider: catalogProvider,
		gateway:         gateway,
		router:          router,
		sanitizer:       sanitizer,
		authSvc:         authSvc,
		limiter:         limiter,
		redactor:        redactor,
		audit:           auditSvc,
		logger:          logger,
		cfg:             cfg,
		stats:           NewStatsService(),
		tracer:          otel.Tracer("toolgate/dispatcher"),
		callCounter:     callCounter,
		pipelines:       make(map[string]toolPipeline),
	}
}

// HandleMessage decodes one JSON-RPC message, dispatches it, and returns
// the encoded response. Returns nil for notifications (no response is
// ever sent for a message with no id).
func (d *Dispatcher) HandleMessage(ctx context.Context, raw []byte) []byte {
	msg, err := mcp.WrapMessage(raw, mcp.ClientToServer)
	if err != nil {
		return errorResponse(nil, -32700, "Parse error")
	}

	if !msg.IsRequest() {
		return nil
	}
	req := msg.Request()
	rawID := msg.RawID()
	isCall := req.IsCall()

	if req.Method == "" || !validation.IsValidMCPMethod(req.Method) {
		if !isCall {
			return nil
		}
		return errorResponse(rawID, -32601, "Method not found")
	}

	switch req.Method {
	case "initialize":
		return d.handleInitialize(rawID)
	case "notifications/initialized", "initialized":
		if !isCall {
			return nil
		}
		return resultResponse(rawID, map[string]any{})
	case "tools/list":
		return d.handleToolsList(ctx, rawID)
	case "tools/call":
		if !isCall {
			return nil
		}
		return d.handleToolsCall(ctx, rawID, req.Params)
	default:
		if !isCall {
			return nil
		}
		return errorResponse(rawID, -32601, "Method not found")
	}
}

func (d *Dispatcher) handleInitialize(rawID json.RawMessage) []byte {
	result := map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    d.cfg.ServerName,
			"version": d.cfg.ServerVersion,
		},
	}
	return resultResponse(rawID, result)
}

// handleToolsList intersects the policy catalog (what's allowed) with
// the live gateway snapshot (what's actually reachable right now),
// preferring the upstream's own schema/description when present.
func (d *Dispatcher) handleToolsList(ctx context.Context, rawID json.RawMessage) []byte {
	catSnap, err := d.catalogProvider.EnsureFresh(ctx)
	if err != nil {
		d.logger.Error("tools/list: catalog refresh failed", "error", err)
		catSnap = d.catalogProvider.Get()
	}
	gwSnap, err := d.gateway.EnsureFresh(ctx)
	if err != nil {
		d.logger.Error("tools/list: gateway refresh failed", "error", err)
		gwSnap = d.gateway.Get()
	}

	tools := make([]toolEntry, 0, len(catSnap.Tools))
	for _, name := range catSnap.SortedToolNames() {
		desc := catSnap.Tools[name]
		route, ok := gwSnap.TryGetTool(name)
		if !ok {
			continue
		}
		schema := route.UpstreamInputSchema
		if len(schema) == 0 {
			schema = desc.InputSchema
		}
		description := desc.Description
		if description == "" {
			description = route.Description
		}
		tools = append(tools, toolEntry{Name: name, Description: description, InputSchema: schema})
	}

	return resultResponse(rawID, toolsListResult{Tools: tools})
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, rawID json.RawMessage, rawParams json.RawMessage) []byte {
	var params map[string]any
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &params); err != nil {
			return errorResponse(rawID, -32602, "Invalid params")
		}
	}

	sanitized, err := d.sanitizer.SanitizeToolCall(params)
	if err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			return errorResponse(rawID, verr.Code, verr.Message)
		}
		return errorResponse(rawID, -32602, "Invalid params")
	}

	toolName, _ := sanitized["name"].(string)
	arguments, _ := sanitized["arguments"].(map[string]any)
	if arguments == nil {
		arguments = map[string]any{}
	}

	corrID := strings.ReplaceAll(uuid.NewString(), "-", "")

	catSnap := d.catalogProvider.Get()
	desc, allowed := catSnap.Tools[toolName]
	if !allowed {
		d.recordAudit(toolName, "", "", arguments, audit.DecisionDeny, "tool not in catalog", corrID, 0)
		return errorResponse(rawID, errCodeDenied, fmt.Sprintf("tool not found or not allowed: %s", toolName))
	}

	var identityID, identityName string
	if desc.Effective.RequiresAuth {
		apiKey, _ := ctx.Value(ctxkey.APIKeyKey{}).(string)
		if apiKey == "" || d.authSvc == nil {
			d.recordAudit(toolName, "", "", arguments, audit.DecisionDeny, "authentication required", corrID, 0)
			return errorResponse(rawID, errCodeAuthRequired, "Authentication required")
		}
		identity, err := d.authSvc.Validate(ctx, apiKey)
		if err != nil {
			d.recordAudit(toolName, "", "", arguments, audit.DecisionDeny, "invalid api key", corrID, 0)
			return errorResponse(rawID, errCodeAuthRequired, "Authentication required")
		}
		identityID, identityName = identity.ID, identity.Name
	}

	pipeline := d.pipelineFor(toolName, desc.Effective)

	ictx := &action.InvocationContext{
		ToolName:      toolName,
		Arguments:     arguments,
		CorrelationID: corrID,
		InvocationID:  uuid.NewString(),
		InputSchema:   desc.InputSchema,
	}
	if desc.Effective.TimeoutMS > 0 {
		ictx.Deadline = time.Now().Add(time.Duration(desc.Effective.TimeoutMS) * time.Millisecond)
	}

	terminal := func(ctx context.Context) (action.Result, error) {
		gwSnap := d.gateway.Get()
		result, err := d.router.Call(ctx, toolName, arguments, gwSnap, corrID)
		if err != nil {
			return action.Result{}, err
		}
		if !result.Success {
			if result.ErrorType == "tool_error" {
				return action.Result{Content: json.RawMessage(result.Content), IsError: true}, nil
			}
			return action.Result{}, &upstreamDispatchError{errorType: result.ErrorType, message: result.ErrorMsg}
		}
		return action.Result{Content: json.RawMessage(result.Content)}, nil
	}

	ctx, span := d.tracer.Start(ctx, "tools/call", trace.WithAttributes(
		attribute.String("tool.name", toolName),
		attribute.String("correlation.id", corrID),
	))
	start := time.Now()
	res, err := pipeline.Execute(ctx, ictx, terminal)
	latency := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	decision := audit.DecisionAllow
	reason := ""
	if err != nil {
		decision = audit.DecisionDeny
		reason = err.Error()
	}
	d.recordAudit(toolName, identityID, identityName, arguments, decision, reason, corrID, latency.Microseconds())

	if err != nil {
		return d.errorResponseFor(rawID, toolName, err)
	}

	content, _ := res.Content.(json.RawMessage)
	if len(content) == 0 {
		content = json.RawMessage("[]")
	}
	resp := resultResponse(rawID, map[string]any{"content": content, "isError": res.IsError})
	if d.redactor != nil {
		resp = d.redactor.Redact(resp)
	}
	return resp
}

func (d *Dispatcher) errorResponseFor(rawID json.RawMessage, toolName string, err error) []byte {
	var timeoutErr *action.TimeoutError
	var rateLimitErr *action.RateLimitError
	var validationErr *action.ValidationError
	var dispatchErr *upstreamDispatchError

	switch {
	case errors.As(err, &timeoutErr):
		return errorResponse(rawID, errCodeTimeout, "Tool call timed out")
	case errors.As(err, &rateLimitErr):
		return errorResponse(rawID, errCodeRateLimited, "Rate limit exceeded")
	case errors.As(err, &validationErr):
		return errorResponse(rawID, validationErr.Code, validationErr.Message)
	case errors.Is(err, gatewaycat.ErrToolNotFound):
		return errorResponse(rawID, errCodeDenied, fmt.Sprintf("tool not found or not allowed: %s", toolName))
	case errors.Is(err, gatewaycat.ErrUpstreamUnavailable):
		return errorResponse(rawID, errCodeUpstreamDown, "Upstream unavailable")
	case errors.As(err, &dispatchErr):
		return errorResponse(rawID, errCodeUpstreamFailed, "Upstream call failed")
	default:
		return errorResponse(rawID, -32603, "Internal error")
	}
}

func (d *Dispatcher) recordAudit(toolName, identityID, identityName string, arguments map[string]any, decision, reason, corrID string, latencyMicros int64) {
	d.recordStats(decision, reason)

	if d.audit == nil {
		return
	}
	d.audit.Record(audit.AuditRecord{
		Timestamp:     time.Now().UTC(),
		IdentityID:    identityID,
		IdentityName:  identityName,
		ToolName:      toolName,
		ToolArguments: audit.RedactSensitiveArgs(arguments),
		Decision:      decision,
		Reason:        reason,
		RequestID:     corrID,
		LatencyMicros: latencyMicros,
		Protocol:      "mcp",
	})
}

// recordStats folds a dispatch decision into the lock-free runtime
// counters surfaced at /diagnostics. Rate-limit denials are counted
// separately from policy denials since they reflect load, not intent.
func (d *Dispatcher) recordStats(decision, reason string) {
	rateLimited := strings.Contains(reason, "rate-limited")
	switch {
	case decision == audit.DecisionAllow:
		d.stats.RecordAllow()
	case rateLimited:
		d.stats.RecordRateLimited()
	default:
		d.stats.RecordDeny()
	}
	d.stats.RecordProtocol("mcp")

	if d.callCounter != nil {
		outcome := decision
		if rateLimited {
			outcome = "rate_limited"
		}
		d.callCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("decision", outcome),
		))
	}
}

// pipelineFor returns the cached pipeline for toolName, rebuilding it
// (discarding any CacheAction/RateLimitAction state) when the catalog's
// resolved EffectivePolicy for the tool has changed since it was built.
func (d *Dispatcher) pipelineFor(toolName string, eff policy.EffectivePolicy) *action.Pipeline {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cached, ok := d.pipelines[toolName]; ok && cached.effective == eff {
		return cached.pipeline
	}

	actions := []action.Action{
		&action.TimeoutAction{DefaultTimeout: d.cfg.DefaultTimeout},
		&action.ValidationAction{},
	}
	if eff.RateLimit.Strategy == policy.RateLimitStrategyTokenBucket && d.limiter != nil {
		actions = append(actions, &action.RateLimitAction{
			Limiter: d.limiter,
			Config: ratelimit.RateLimitConfig{
				Rate:   eff.RateLimit.PermitLimit,
				Burst:  eff.RateLimit.PermitLimit,
				Period: time.Duration(eff.RateLimit.WindowMS) * time.Millisecond,
			},
		})
	}
	if eff.Cache.TTLMS > 0 {
		actions = append(actions, action.NewCacheAction(time.Duration(eff.Cache.TTLMS)*time.Millisecond))
	}

	pipeline := action.NewPipeline(actions)
	d.pipelines[toolName] = toolPipeline{effective: eff, pipeline: pipeline}
	return pipeline
}

// --- JSON-RPC response helpers and wire types ---

type jsonRPCError struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      json.RawMessage    `json:"id,omitempty"`
	Error   jsonRPCErrorDetail `json:"error"`
}

type jsonRPCErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResult struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result"`
}

type toolEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

type toolsListResult struct {
	Tools []toolEntry `json:"tools"`
}

func errorResponse(rawID json.RawMessage, code int, message string) []byte {
	resp := jsonRPCError{JSONRPC: "2.0", ID: rawID, Error: jsonRPCErrorDetail{Code: code, Message: message}}
	raw, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"}}`)
	}
	return raw
}

func resultResponse(rawID json.RawMessage, result any) []byte {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return errorResponse(rawID, -32603, "Internal error")
	}
	resp := jsonRPCResult{JSONRPC: "2.0", ID: rawID, Result: resultJSON}
	raw, err := json.Marshal(resp)
	if err != nil {
		return errorResponse(rawID, -32603, "Internal error")
	}
	return raw
}
