// Package stdio provides the stdio transport adapter for the proxy.
package stdio

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/toolgate/gateway/internal/ctxkey"
	"github.com/toolgate/gateway/internal/port/inbound"
	"github.com/toolgate/gateway/internal/service"
)

// maxLineSize bounds a single JSON-RPC message read from stdin.
const maxLineSize = 4 * 1024 * 1024

// StdioTransport is the inbound adapter that connects the dispatcher to
// stdin/stdout, one newline-delimited JSON-RPC message per line. It
// implements the inbound.ProxyService interface.
type StdioTransport struct {
	dispatcher *service.Dispatcher
	logger     *slog.Logger
	in         io.Reader
	out        io.Writer

	mu   sync.Mutex
	done chan struct{}
}

// NewStdioTransport creates a stdio transport adapter wrapping the given dispatcher.
func NewStdioTransport(dispatcher *service.Dispatcher, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		dispatcher: dispatcher,
		logger:     logger,
		in:         os.Stdin,
		out:        os.Stdout,
		done:       make(chan struct{}),
	}
}

// Start begins reading newline-delimited JSON-RPC messages from stdin and
// writing responses to stdout. It blocks until the context is cancelled,
// stdin reaches EOF, or Close is called.
func (t *StdioTransport) Start(ctx context.Context) error {
	// Stdio has no real remote address or per-connection identity, so
	// fixed values are set for both.
	ctx = context.WithValue(ctx, ctxkey.IPAddressKey{}, "local")
	ctx = context.WithValue(ctx, ctxkey.ConnectionIDKey{}, "stdio")

	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, maxLineSize)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			cp := make([]byte, len(line))
			copy(cp, line)
			select {
			case lines <- cp:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	var writeMu sync.Mutex
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			wg.Add(1)
			go func(line []byte) {
				defer wg.Done()
				resp := t.dispatcher.HandleMessage(ctx, line)
				if resp == nil {
					return
				}
				writeMu.Lock()
				defer writeMu.Unlock()
				if _, err := t.out.Write(append(resp, '\n')); err != nil {
					t.logger.Error("stdio: write response failed", "error", err)
				}
			}(line)
		}
	}
}

// Close gracefully shuts down the transport.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	return nil
}

// Compile-time check that StdioTransport implements ProxyService interface.
var _ inbound.ProxyService = (*StdioTransport)(nil)
