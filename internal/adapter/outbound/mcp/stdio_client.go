package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolgate/gateway/internal/port/outbound"
)

const (
	// stdioScannerInitialBufSize is the initial buffer size for the
	// line scanner reading the subprocess's stdout.
	stdioScannerInitialBufSize = 256 * 1024
	// stdioScannerMaxBufSize is the maximum single-message size accepted
	// from a stdio upstream.
	stdioScannerMaxBufSize = 4 * 1024 * 1024
)

// StdioCaller speaks MCP JSON-RPC to an upstream server spawned as a
// subprocess, matching responses to requests by JSON-RPC id over a
// single newline-delimited stdin/stdout pipe pair.
type StdioCaller struct {
	path string
	args []string
	env  map[string]string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   *json.Encoder
	nextID  int64
	pending map[int64]chan rpcResponse
	started bool
	closed  bool
}

// NewStdioCaller builds a StdioCaller that will spawn path with args and
// the given extra environment variables on first use.
func NewStdioCaller(path string, args []string, env map[string]string) *StdioCaller {
	return &StdioCaller{
		path:    path,
		args:    args,
		env:     env,
		pending: make(map[int64]chan rpcResponse),
	}
}

// Initialize spawns the subprocess (if not already running) and performs
// the MCP handshake.
func (c *StdioCaller) Initialize(ctx context.Context) error {
	if err := c.ensureStarted(); err != nil {
		return fmt.Errorf("start subprocess: %w", err)
	}

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
func (c *StdioCaller) ListTools(ctx context.Context) ([]outbound.UpstreamTool, error) {
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
func (c *StdioCaller) CallTool(ctx context.Context, name string, arguments map[string]any) (outbound.UpstreamCallResult, error) {
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

// ensureStarted spawns the subprocess and its stdout-reading goroutine
// exactly once. Safe to call repeatedly.
func (c *StdioCaller) ensureStarted() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}
	if c.closed {
		return errors.New("caller is closed")
	}

	cmd := exec.Command(c.path, c.args...)
	if len(c.env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return fmt.Errorf("start: %w", err)
	}

	c.cmd = cmd
	c.stdin = json.NewEncoder(stdin)
	c.started = true

	go c.readLoop(stdout)

	return nil
}

// readLoop demultiplexes newline-delimited JSON-RPC responses from the
// subprocess's stdout, dispatching each to its waiting caller by id.
// Unsolicited messages (notifications, or responses with no matching
// pending request) are discarded.
func (c *StdioCaller) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, stdioScannerInitialBufSize)
	scanner.Buffer(buf, stdioScannerMaxBufSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if ok {
			ch <- resp
			close(ch)
		}
	}

	// Subprocess stdout closed: fail every still-pending call.
	c.mu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- rpcResponse{Error: &rpcError{Code: -32000, Message: "upstream closed connection"}}
		close(ch)
	}
	c.mu.Unlock()
}

// call sends a JSON-RPC request and blocks for its matching response or
// context cancellation.
func (c *StdioCaller) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)

	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		rawParams = encoded
	}

	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("caller is closed")
	}
	c.pending[id] = ch
	enc := c.stdin
	c.mu.Unlock()

	if err := enc.Encode(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: rawParams}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// notify sends a JSON-RPC notification (no id, no response expected).
func (c *StdioCaller) notify(ctx context.Context, method string, params any) error {
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		rawParams = encoded
	}

	c.mu.Lock()
	enc := c.stdin
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("caller is closed")
	}

	return enc.Encode(rpcRequest{JSONRPC: "2.0", Method: method, Params: rawParams})
}

// Close terminates the subprocess and fails any pending calls.
func (c *StdioCaller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}

	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process: %w", err)
	}

	done := make(chan struct{})
	go func() {
		_ = c.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return errors.New("timeout waiting for subprocess exit")
	}
	return nil
}

var _ outbound.UpstreamCaller = (*StdioCaller)(nil)
