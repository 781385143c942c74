package gatewaycat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/toolgate/gateway/internal/domain/resiliency"
	"github.com/toolgate/gateway/internal/port/outbound"
)

// ErrToolNotFound is returned when the gateway snapshot has no route for
// the requested external tool name.
var ErrToolNotFound = errors.New("gatewaycat: tool not found")

// ErrUpstreamUnavailable is returned when a route's upstream is marked
// unhealthy in the current snapshot.
var ErrUpstreamUnavailable = errors.New("gatewaycat: upstream unavailable")

// CallResult is the outcome of a gateway-routed tool call.
type CallResult struct {
	Success   bool
	Content   []byte
	ErrorMsg  string
	ErrorType string
}

// CallerResolver locates the UpstreamCaller for a route's upstream at
// call time, so the dispatcher need not hold a live connection per
// upstream between gateway aggregator rebuilds.
type CallerResolver interface {
	Resolve(upstreamName string) (outbound.UpstreamCaller, error)
}

// Dispatcher routes a gateway tool call to its owning upstream through a
// resiliency policy (§4.11).
type Dispatcher struct {
	resolver CallerResolver
	policy   resiliency.Policy
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(resolver CallerResolver, policy resiliency.Policy) *Dispatcher {
	if policy == nil {
		policy = resiliency.NoRetryPolicy{}
	}
	return &Dispatcher{resolver: resolver, policy: policy}
}

// Call resolves externalToolName against snapshot, checks upstream
// health, and executes the upstream tools/call through the resiliency
// policy.
func (d *Dispatcher) Call(ctx context.Context, externalToolName string, arguments map[string]any, snapshot *Snapshot, correlationID string) (CallResult, error) {
	route, ok := snapshot.TryGetTool(externalToolName)
	if !ok {
		return CallResult{}, ErrToolNotFound
	}

	status, ok := snapshot.StatusFor(route.UpstreamName)
	if !ok || !status.Healthy {
		return CallResult{}, ErrUpstreamUnavailable
	}

	caller, err := d.resolver.Resolve(route.UpstreamName)
	if err != nil {
		return CallResult{}, fmt.Errorf("gatewaycat: resolve caller for %q: %w", route.UpstreamName, err)
	}

	rc := resiliency.ResiliencyContext{
		ExternalToolName: externalToolName,
		UpstreamName:     route.UpstreamName,
		CorrelationID:    correlationID,
		InvocationID:     uuid.New().String(),
	}

	op := func(ctx context.Context, rc resiliency.ResiliencyContext) (any, error) {
		return caller.CallTool(ctx, route.UpstreamToolName, arguments)
	}

	raw, err := d.policy.Execute(ctx, rc, op)
	if err != nil {
		return CallResult{Success: false, ErrorMsg: err.Error(), ErrorType: errorType(err)}, nil
	}

	result, ok := raw.(outbound.UpstreamCallResult)
	if !ok {
		return CallResult{Success: false, ErrorMsg: "gatewaycat: unexpected upstream result type", ErrorType: "internal"}, nil
	}

	if result.IsError {
		return CallResult{Success: false, Content: result.Content, ErrorType: "tool_error"}, nil
	}

	return CallResult{Success: true, Content: result.Content}, nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, resiliency.ErrResiliencyExhausted):
		return "resiliency_exhausted"
	default:
		return "upstream_error"
	}
}
