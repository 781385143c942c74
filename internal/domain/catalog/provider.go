package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolgate/gateway/internal/domain/policy"
	"github.com/toolgate/gateway/internal/domain/tool"
)

// PolicyConfigSource supplies the current policy configuration and
// descriptor list for a reload. Acquisition (file watch, config service,
// host introspection) is an external collaborator; the provider only
// consumes this narrow port.
type PolicyConfigSource interface {
	LoadPolicy(ctx context.Context) (policy.PolicyConfig, error)
	DescribeEndpoints(ctx context.Context) ([]tool.EndpointDescriptor, error)
	LoadOpenAPI(ctx context.Context) (*OpenAPIDoc, error)
}

// Provider serves a wait-free current snapshot, refreshed on demand
// through ensure-fresh/reload (§4.6). The initial snapshot is a valid
// empty one so reads never observe nil before the first reload.
type Provider struct {
	builder *Builder
	source  PolicyConfigSource

	current    atomic.Pointer[Snapshot]
	lastReload atomic.Int64 // unix nano

	minReloadInterval time.Duration
	reloadMu          sync.Mutex
}

// NewProvider constructs a Provider with a valid empty initial snapshot.
func NewProvider(builder *Builder, source PolicyConfigSource, minReloadInterval time.Duration) *Provider {
	p := &Provider{builder: builder, source: source, minReloadInterval: minReloadInterval}
	p.current.Store(EmptySnapshot())
	return p
}

// Get returns the current snapshot. Wait-free.
func (p *Provider) Get() *Snapshot {
	return p.current.Load()
}

// EnsureFresh returns the current snapshot if the debounce window hasn't
// elapsed or the source's fingerprint is unchanged; otherwise it reloads.
func (p *Provider) EnsureFresh(ctx context.Context) (*Snapshot, error) {
	last := time.Unix(0, p.lastReload.Load())
	if p.minReloadInterval > 0 && time.Since(last) < p.minReloadInterval {
		return p.current.Load(), nil
	}

	cfg, err := p.source.LoadPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: ensure-fresh load policy: %w", err)
	}
	if cfg.SourceVersion != "" && cfg.SourceVersion == p.current.Load().SourceVersion {
		p.lastReload.Store(time.Now().UnixNano())
		return p.current.Load(), nil
	}

	return p.Reload(ctx)
}

// Reload fetches policy and descriptors, rebuilds the snapshot, and
// atomically swaps it in. Serialized by a single-writer mutex so readers
// of Get never block. On failure the current snapshot is untouched.
func (p *Provider) Reload(ctx context.Context) (*Snapshot, error) {
	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	cfg, err := p.source.LoadPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: reload load policy: %w", err)
	}

	result := policy.Validate(cfg)
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("catalog: reload: invalid policy configuration: %v", result.Errors)
	}

	descs, err := p.source.DescribeEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: reload describe endpoints: %w", err)
	}

	doc, err := p.source.LoadOpenAPI(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: reload load openapi: %w", err)
	}

	snapshot, err := p.builder.Build(ctx, cfg, descs, doc)
	if err != nil {
		return nil, fmt.Errorf("catalog: reload build: %w", err)
	}

	p.current.Store(snapshot)
	p.lastReload.Store(time.Now().UnixNano())
	return snapshot, nil
}
