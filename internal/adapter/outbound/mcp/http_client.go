// Package mcp provides MCP upstream caller adapters: HTTP and stdio
// transports implementing outbound.UpstreamCaller.
package mcp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolgate/gateway/internal/port/outbound"
)

const (
	// maxResponseBodySize is the maximum response body size accepted from
	// an upstream. Prevents OOM from a malicious or misbehaving upstream
	// sending an unbounded response.
	maxResponseBodySize = 10 * 1024 * 1024 // 10MB
)

// rpcRequest and rpcResponse are the minimal JSON-RPC 2.0 envelopes needed
// to talk to an upstream MCP server over a synchronous request/response
// transport. The gateway's own inbound JSON-RPC handling lives in
// internal/service; this is strictly outbound wire format.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Code, e.Message)
}

// toolsListResult and callToolResult mirror the MCP tools/list and
// tools/call result shapes.
type toolsListResult struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"inputSchema"`
	} `json:"tools"`
}

type callToolResult struct {
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"isError"`
}

// HTTPCaller speaks MCP JSON-RPC to an upstream server over HTTP
// (Streamable HTTP transport): one POST per request, correlated by the
// Mcp-Session-Id header the server hands back from initialize.
type HTTPCaller struct {
	endpoint   string
	httpClient *http.Client

	mu        sync.Mutex
	sessionID string

	nextID int64
}

// HTTPCallerOption configures an HTTPCaller.
type HTTPCallerOption func(*HTTPCaller)

// WithHTTPClient sets a custom HTTP client, overriding the default.
func WithHTTPClient(client *http.Client) HTTPCallerOption {
	return func(c *HTTPCaller) {
		c.httpClient = client
	}
}

// NewHTTPCaller builds an HTTPCaller for the given MCP server endpoint,
// with requests bounded by timeout.
func NewHTTPCaller(endpoint string, timeout time.Duration, opts ...HTTPCallerOption) *HTTPCaller {
	c := &HTTPCaller{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize performs the MCP handshake and records the session ID the
// server assigns, then sends the notifications/initialized follow-up.
func (c *HTTPCaller) Initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "toolgate",
			"version": "1.0",
		},
	}
	if _, err := c.call(ctx, "initialize", params); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := c.notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("notifications/initialized: %w", err)
	}
	return nil
}

// ListTools returns the upstream's current tool list.
func (c *HTTPCaller) ListTools(ctx context.Context) ([]outbound.UpstreamTool, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("tools/list: decode result: %w", err)
	}
	tools := make([]outbound.UpstreamTool, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, outbound.UpstreamTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return tools, nil
}

// CallTool invokes a tool by its upstream-local name.
func (c *HTTPCaller) CallTool(ctx context.Context, name string, arguments map[string]any) (outbound.UpstreamCallResult, error) {
	params := map[string]any{
		"name":      name,
		"arguments": arguments,
	}
	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return outbound.UpstreamCallResult{}, fmt.Errorf("tools/call: %w", err)
	}
	var result callToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return outbound.UpstreamCallResult{}, fmt.Errorf("tools/call: decode result: %w", err)
	}
	return outbound.UpstreamCallResult{Content: result.Content, IsError: result.IsError}, nil
}

// call sends a JSON-RPC request and returns its raw result, or an error
// wrapping the upstream's JSON-RPC error when one is returned.
func (c *HTTPCaller) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)

	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		rawParams = encoded
	}

	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	respBody, err := c.post(ctx, reqBody)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// notify sends a JSON-RPC notification (no id, no response expected).
func (c *HTTPCaller) notify(ctx context.Context, method string, params any) error {
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		rawParams = encoded
	}
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: rawParams})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	_, err = c.post(ctx, reqBody)
	return err
}

// post sends body to the upstream endpoint and returns the response body,
// tracking the Mcp-Session-Id the server assigns across calls.
func (c *HTTPCaller) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}
	if len(respBody) == 0 {
		// Notifications get a 202/204 with no body.
		return []byte(`{"jsonrpc":"2.0","id":0,"result":{}}`), nil
	}
	return respBody, nil
}

var _ outbound.UpstreamCaller = (*HTTPCaller)(nil)
