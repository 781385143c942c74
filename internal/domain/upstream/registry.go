package upstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// GatewayUpstream extends Upstream with the namespace prefix applied to
// every tool name the gateway aggregator imports from it, so identically
// named tools on two upstreams never collide.
type GatewayUpstream struct {
	Upstream
	// NamespacePrefix is prepended to imported tool names, e.g. "github".
	NamespacePrefix string
}

// ChangeToken signals that a Registry's upstream set may have changed;
// receipt does not guarantee a change, only that a refresh is warranted.
type ChangeToken <-chan struct{}

// Registry returns the current set of enabled, deduplicated upstreams
// and optionally a change-notification channel.
type Registry interface {
	// GetUpstreams returns enabled upstreams, unique by name and unique
	// by namespace-prefix (first occurrence wins; later ones are
	// dropped).
	GetUpstreams(ctx context.Context) ([]GatewayUpstream, error)
	// Watch returns a ChangeToken that closes or sends when the upstream
	// set may have changed, or nil if this Registry never changes.
	Watch() ChangeToken
}

// dedup filters upstreams to enabled-only, unique-by-name then
// unique-by-namespace-prefix (first wins), returning dropped names for
// diagnostics.
func dedup(upstreams []GatewayUpstream) (kept []GatewayUpstream, dropped []string) {
	seenNames := map[string]struct{}{}
	seenPrefixes := map[string]struct{}{}
	for _, u := range upstreams {
		if !u.Enabled {
			continue
		}
		if _, ok := seenNames[u.Name]; ok {
			dropped = append(dropped, u.Name)
			continue
		}
		if u.NamespacePrefix != "" {
			if _, ok := seenPrefixes[u.NamespacePrefix]; ok {
				dropped = append(dropped, u.Name)
				continue
			}
			seenPrefixes[u.NamespacePrefix] = struct{}{}
		}
		seenNames[u.Name] = struct{}{}
		kept = append(kept, u)
	}
	return kept, dropped
}

// StaticRegistry wraps a fixed UpstreamStore, filtering to a
// deduplicated, enabled-only view on every call.
type StaticRegistry struct {
	store         UpstreamStore
	namespaceByID map[string]string
}

// NewStaticRegistry builds a StaticRegistry. namespaceByID maps upstream
// ID to its namespace prefix; upstreams absent from the map get an empty
// prefix.
func NewStaticRegistry(store UpstreamStore, namespaceByID map[string]string) *StaticRegistry {
	return &StaticRegistry{store: store, namespaceByID: namespaceByID}
}

// GetUpstreams returns the store's enabled, deduplicated upstreams.
func (r *StaticRegistry) GetUpstreams(ctx context.Context) ([]GatewayUpstream, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("upstream: static registry list: %w", err)
	}
	gateway := make([]GatewayUpstream, len(all))
	for i, u := range all {
		gateway[i] = GatewayUpstream{Upstream: u, NamespacePrefix: r.namespaceByID[u.ID]}
	}
	kept, _ := dedup(gateway)
	return kept, nil
}

// Watch returns nil: a StaticRegistry never changes after construction.
func (r *StaticRegistry) Watch() ChangeToken { return nil }

// DiscoveryProvider is the external collaborator a DynamicRegistry polls
// or is signaled by (e.g. a service-discovery client). Concrete clients
// (Consul, etc.) are out of scope; this is the narrow port they satisfy.
type DiscoveryProvider interface {
	Discover(ctx context.Context) ([]GatewayUpstream, error)
	// Signal returns a channel that receives when the provider believes
	// its upstream set changed, or nil if it never signals.
	Signal() <-chan struct{}
}

// DynamicRegistry wraps a DiscoveryProvider, holding the last-known
// upstream set behind an atomic pointer and serializing refreshes with a
// single-flight mutex, directly generalizing the gateway's atomic
// rule-array swap idiom.
type DynamicRegistry struct {
	provider DiscoveryProvider

	current atomic.Pointer[[]GatewayUpstream]

	refreshMu sync.Mutex

	watchCh chan struct{}
}

// NewDynamicRegistry constructs a DynamicRegistry with an empty initial
// upstream set; callers should call Refresh once before first use.
func NewDynamicRegistry(provider DiscoveryProvider) *DynamicRegistry {
	r := &DynamicRegistry{provider: provider, watchCh: make(chan struct{}, 1)}
	empty := []GatewayUpstream{}
	r.current.Store(&empty)
	return r
}

// GetUpstreams returns the last-refreshed, deduplicated upstream set.
// Wait-free.
func (r *DynamicRegistry) GetUpstreams(ctx context.Context) ([]GatewayUpstream, error) {
	return *r.current.Load(), nil
}

// Watch returns a channel that receives whenever Refresh swaps in a new
// upstream set.
func (r *DynamicRegistry) Watch() ChangeToken { return r.watchCh }

// Refresh discovers the current upstream set, deduplicates it, and
// atomically swaps it in. Serialized so at most one discovery call is in
// flight; concurrent callers during a refresh observe the prior set until
// it completes.
func (r *DynamicRegistry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	discovered, err := r.provider.Discover(ctx)
	if err != nil {
		return fmt.Errorf("upstream: dynamic registry discover: %w", err)
	}

	kept, _ := dedup(discovered)
	r.current.Store(&kept)

	select {
	case r.watchCh <- struct{}{}:
	default:
	}
	return nil
}

// RunDiscoveryLoop blocks, calling Refresh whenever the provider signals
// a change, until ctx is cancelled. The caller runs this in its own
// goroutine.
func (r *DynamicRegistry) RunDiscoveryLoop(ctx context.Context) {
	sig := r.provider.Signal()
	if sig == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			_ = r.Refresh(ctx)
		}
	}
}

var (
	_ Registry = (*StaticRegistry)(nil)
	_ Registry = (*DynamicRegistry)(nil)
)
