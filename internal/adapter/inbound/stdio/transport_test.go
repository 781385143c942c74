package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/toolgate/gateway/internal/port/inbound"
	"github.com/toolgate/gateway/internal/service"
)

var _ inbound.ProxyService = (*StdioTransport)(nil)

func newTestTransport(in io.Reader, out io.Writer) *StdioTransport {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := service.NewDispatcher(nil, nil, nil, nil, nil, nil, nil, logger, service.DispatcherConfig{
		ServerName:    "toolgate",
		ServerVersion: "test",
	})
	transport := NewStdioTransport(dispatcher, logger)
	transport.in = in
	transport.out = out
	return transport
}

func TestNewStdioTransport(t *testing.T) {
	transport := newTestTransport(strings.NewReader(""), &bytes.Buffer{})
	if transport == nil {
		t.Fatal("expected non-nil transport")
	}
}

func TestStdioTransport_Close(t *testing.T) {
	transport := newTestTransport(strings.NewReader(""), &bytes.Buffer{})
	if err := transport.Close(); err != nil {
		t.Errorf("expected Close() to return nil, got: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Errorf("expected second Close() to return nil, got: %v", err)
	}
}

func TestStdioTransport_Start_ContextCancellation(t *testing.T) {
	in, inWriter := io.Pipe()
	defer inWriter.Close()
	out := &bytes.Buffer{}
	transport := newTestTransport(in, out)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- transport.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for transport to stop after context cancellation")
	}
}

func TestStdioTransport_Start_Close(t *testing.T) {
	in, inWriter := io.Pipe()
	defer inWriter.Close()
	out := &bytes.Buffer{}
	transport := newTestTransport(in, out)

	errCh := make(chan error, 1)
	go func() { errCh <- transport.Start(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	if err := transport.Close(); err != nil {
		t.Fatalf("Close() returned error: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for transport to stop after Close")
	}
}

func TestStdioTransport_Start_UnknownMethod(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"bogus","id":1}` + "\n")
	out := &bytes.Buffer{}
	transport := newTestTransport(in, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- transport.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil && err != io.EOF {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for transport to drain stdin")
	}

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected a response line on stdout, got none")
	}

	var resp struct {
		JSONRPC string `json:"jsonrpc"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("failed to parse response: %v, got: %s", err, line)
	}
	if resp.Error == nil {
		t.Fatalf("expected an error response, got: %s", line)
	}
	if resp.Error.Code != -32601 {
		t.Errorf("error code = %d, want -32601", resp.Error.Code)
	}
}

func TestStdioTransport_Start_NotificationNoResponse(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")
	out := &bytes.Buffer{}
	transport := newTestTransport(in, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- transport.Start(ctx) }()

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for transport to drain stdin")
	}

	if strings.TrimSpace(out.String()) != "" {
		t.Errorf("expected no output for a notification, got: %s", out.String())
	}
}

func TestStdioTransport_Start_MultipleMessages(t *testing.T) {
	in := strings.NewReader(
		`{"jsonrpc":"2.0","method":"bogus","id":1}` + "\n" +
			`{"jsonrpc":"2.0","method":"bogus","id":2}` + "\n",
	)
	out := &bytes.Buffer{}
	transport := newTestTransport(in, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- transport.Start(ctx) }()

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for transport to drain stdin")
	}

	scanner := bufio.NewScanner(strings.NewReader(out.String()))
	var ids []float64
	for scanner.Scan() {
		var resp struct {
			ID float64 `json:"id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response line %q: %v", scanner.Text(), err)
		}
		ids = append(ids, resp.ID)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 response lines, got %d: %v", len(ids), ids)
	}
}

func TestStdioTransport_Start_InitializeRoundTrip(t *testing.T) {
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"initialize","id":"init-1"}` + "\n")
	out := &bytes.Buffer{}
	transport := newTestTransport(in, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- transport.Start(ctx) }()

	select {
	case <-errCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for transport to drain stdin")
	}

	line := strings.TrimSpace(out.String())
	var resp struct {
		ID     json.RawMessage `json:"id"`
		Result *struct {
			ProtocolVersion string `json:"protocolVersion"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("failed to parse response: %v, got: %s", err, line)
	}
	if resp.Result == nil || resp.Result.ProtocolVersion == "" {
		t.Fatalf("expected initialize result with protocolVersion, got: %s", line)
	}
}
