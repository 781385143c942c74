package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/toolgate/gateway/internal/domain/upstream"
	"github.com/toolgate/gateway/internal/port/outbound"
)

// TransportConfig is the per-upstream transport detail a
// outbound.UpstreamCallerFactory needs beyond the (name, endpointURL,
// timeout) signature the gateway aggregator calls it with: a stdio
// upstream's command, arguments, and environment.
type TransportConfig struct {
	Type    upstream.UpstreamType
	URL     string
	Timeout time.Duration
	Command string
	Args    []string
	Env     map[string]string
}

// CallerFactory builds HTTPCaller or StdioCaller instances depending on
// how each named upstream was configured. One CallerFactory is shared by
// the gateway aggregator's per-rebuild probing and by CallerPool's
// longer-lived callers.
type CallerFactory struct {
	configs map[string]TransportConfig
}

// NewCallerFactory builds a CallerFactory from the given per-upstream
// transport configs, keyed by upstream name.
func NewCallerFactory(configs map[string]TransportConfig) *CallerFactory {
	return &CallerFactory{configs: configs}
}

// NewCaller implements outbound.UpstreamCallerFactory.
func (f *CallerFactory) NewCaller(upstreamName, endpointURL string, timeout time.Duration) (outbound.UpstreamCaller, error) {
	cfg, ok := f.configs[upstreamName]
	if !ok {
		return nil, fmt.Errorf("mcp: no transport configured for upstream %q", upstreamName)
	}

	if cfg.Type == upstream.UpstreamTypeStdio {
		return NewStdioCaller(cfg.Command, cfg.Args, cfg.Env), nil
	}

	url := endpointURL
	if url == "" {
		url = cfg.URL
	}
	return NewHTTPCaller(url, timeout), nil
}

// CallerPool implements gatewaycat.CallerResolver, handing the dispatcher
// a long-lived, already-initialized caller per upstream so a stdio
// upstream's subprocess survives across calls instead of being respawned
// per tools/call the way the aggregator's probing does.
type CallerPool struct {
	factory *CallerFactory
	configs map[string]TransportConfig

	mu      sync.Mutex
	callers map[string]outbound.UpstreamCaller
}

// NewCallerPool builds a CallerPool sharing factory's transport configs.
func NewCallerPool(factory *CallerFactory, configs map[string]TransportConfig) *CallerPool {
	return &CallerPool{
		factory: factory,
		configs: configs,
		callers: make(map[string]outbound.UpstreamCaller),
	}
}

// Resolve returns the cached caller for upstreamName, creating and
// initializing one on first use.
func (p *CallerPool) Resolve(upstreamName string) (outbound.UpstreamCaller, error) {
	p.mu.Lock()
	if caller, ok := p.callers[upstreamName]; ok {
		p.mu.Unlock()
		return caller, nil
	}
	p.mu.Unlock()

	cfg, ok := p.configs[upstreamName]
	if !ok {
		return nil, fmt.Errorf("mcp: no transport configured for upstream %q", upstreamName)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	caller, err := p.factory.NewCaller(upstreamName, cfg.URL, timeout)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := caller.Initialize(ctx); err != nil {
		if closer, ok := caller.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("mcp: initialize %q: %w", upstreamName, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.callers[upstreamName]; ok {
		// Lost the race to another goroutine's first Resolve; keep
		// theirs, discard ours.
		if closer, ok := caller.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return existing, nil
	}
	p.callers[upstreamName] = caller
	return caller, nil
}

// Close shuts down every cached caller that supports it (stdio
// subprocesses; HTTP callers hold no resources beyond the pooled
// transport and need no explicit close).
func (p *CallerPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, caller := range p.callers {
		if closer, ok := caller.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("mcp: close %q: %w", name, err)
			}
		}
		delete(p.callers, name)
	}
	return firstErr
}
