package outbound

import (
	"context"
	"encoding/json"
	"time"
)

// UpstreamTool is one tool as reported by an upstream's tools/list.
type UpstreamTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// UpstreamCallResult is the result of an upstream tools/call.
type UpstreamCallResult struct {
	Content json.RawMessage
	IsError bool
}

// UpstreamCaller is the narrow outbound port the gateway aggregator and
// dispatcher use to speak MCP JSON-RPC to one upstream server. Concrete
// stdio/HTTP transports are external collaborators implementing it.
type UpstreamCaller interface {
	// Initialize performs the MCP handshake.
	Initialize(ctx context.Context) error
	// ListTools returns the upstream's current tool list.
	ListTools(ctx context.Context) ([]UpstreamTool, error)
	// CallTool invokes a tool by its upstream-local name.
	CallTool(ctx context.Context, name string, arguments map[string]any) (UpstreamCallResult, error)
}

// UpstreamCallerFactory builds an UpstreamCaller for a named upstream,
// given its endpoint URL and per-call timeout.
type UpstreamCallerFactory interface {
	NewCaller(upstreamName, endpointURL string, timeout time.Duration) (UpstreamCaller, error)
}
