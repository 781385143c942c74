// Package gatewaycat builds and serves the aggregated gateway catalog: a
// namespaced view over every upstream MCP server's tool list, with
// partial-availability snapshots and resilient dispatch (§4.10, §4.11).
package gatewaycat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolgate/gateway/internal/domain/upstream"
	"github.com/toolgate/gateway/internal/port/outbound"
)

// GatewayToolRoute is one externally-named tool routed to a single
// upstream.
type GatewayToolRoute struct {
	ExternalToolName    string
	UpstreamName        string
	UpstreamToolName    string
	UpstreamInputSchema []byte
	Description         string
}

// UpstreamStatus reports one upstream's health as of the last rebuild.
// Healthy and unhealthy fields are mutually exclusive.
type UpstreamStatus struct {
	UpstreamName string
	Healthy      bool
	LastCheckUTC time.Time
	LatencyMS    *int64
	ToolCount    *int
	LastError    *string
}

// Snapshot is an immutable, point-in-time aggregated gateway catalog.
type Snapshot struct {
	CreatedUTC          time.Time
	ToolsByExternalName map[string]GatewayToolRoute
	UpstreamStatuses    []UpstreamStatus
}

// EmptySnapshot returns a valid, zero-route snapshot.
func EmptySnapshot() *Snapshot {
	return &Snapshot{ToolsByExternalName: map[string]GatewayToolRoute{}}
}

// TryGetTool looks up a route by external tool name.
func (s *Snapshot) TryGetTool(externalName string) (GatewayToolRoute, bool) {
	r, ok := s.ToolsByExternalName[externalName]
	return r, ok
}

// StatusFor returns the UpstreamStatus for name, if present.
func (s *Snapshot) StatusFor(name string) (UpstreamStatus, bool) {
	for _, st := range s.UpstreamStatuses {
		if st.UpstreamName == name {
			return st, true
		}
	}
	return UpstreamStatus{}, false
}

// Aggregator probes every enabled upstream in parallel, builds a
// namespaced gateway snapshot, and atomically publishes it. No single
// upstream can block the build: each gets its own timeout and a failure
// there only marks that upstream unhealthy.
type Aggregator struct {
	registry upstream.Registry
	factory  outbound.UpstreamCallerFactory

	current        atomic.Pointer[Snapshot]
	lastBuild      atomic.Int64 // unix nano
	rebuildMu      sync.Mutex
	minRebuildGap  time.Duration
	perUpstreamTTL time.Duration

	separator string
}

// NewAggregator constructs an Aggregator with a valid empty initial
// snapshot.
func NewAggregator(registry upstream.Registry, factory outbound.UpstreamCallerFactory, minRebuildGap, perUpstreamTimeout time.Duration, separator string) *Aggregator {
	if separator == "" {
		separator = "_"
	}
	a := &Aggregator{
		registry:       registry,
		factory:        factory,
		minRebuildGap:  minRebuildGap,
		perUpstreamTTL: perUpstreamTimeout,
		separator:      separator,
	}
	a.current.Store(EmptySnapshot())
	return a
}

// Get returns the current snapshot. Wait-free.
func (a *Aggregator) Get() *Snapshot {
	return a.current.Load()
}

// EnsureFresh triggers a Rebuild unless the debounce window hasn't
// elapsed.
func (a *Aggregator) EnsureFresh(ctx context.Context) (*Snapshot, error) {
	last := time.Unix(0, a.lastBuild.Load())
	if a.minRebuildGap > 0 && time.Since(last) < a.minRebuildGap {
		return a.current.Load(), nil
	}
	return a.Rebuild(ctx)
}

type probeResult struct {
	upstream upstream.GatewayUpstream
	tools    []outbound.UpstreamTool
	latency  time.Duration
	err      error
}

// Rebuild fans out a per-upstream probe (initialize + tools/list) with an
// individual timeout, then assembles and atomically publishes a new
// snapshot. Serialized by a single-writer mutex; readers never block.
func (a *Aggregator) Rebuild(ctx context.Context) (*Snapshot, error) {
	a.rebuildMu.Lock()
	defer a.rebuildMu.Unlock()

	ups, err := a.registry.GetUpstreams(ctx)
	if err != nil {
		return nil, fmt.Errorf("gatewaycat: rebuild list upstreams: %w", err)
	}

	results := make([]probeResult, len(ups))
	var wg sync.WaitGroup
	for i, u := range ups {
		wg.Add(1)
		go func(i int, u upstream.GatewayUpstream) {
			defer wg.Done()
			results[i] = a.probe(ctx, u)
		}(i, u)
	}
	wg.Wait()

	snapshot := a.assemble(results)

	a.current.Store(snapshot)
	a.lastBuild.Store(time.Now().UnixNano())
	return snapshot, nil
}

func (a *Aggregator) probe(ctx context.Context, u upstream.GatewayUpstream) probeResult {
	timeout := a.perUpstreamTTL
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	caller, err := a.factory.NewCaller(u.Name, u.URL, timeout)
	if err != nil {
		return probeResult{upstream: u, err: err}
	}

	if err := caller.Initialize(cctx); err != nil {
		return probeResult{upstream: u, err: err}
	}

	tools, err := caller.ListTools(cctx)
	if err != nil {
		return probeResult{upstream: u, err: err}
	}

	return probeResult{upstream: u, tools: tools, latency: time.Since(start)}
}

// assemble builds routes and statuses from probe results, resolving
// external-name collisions in favor of the lexicographically smaller
// upstream name.
func (a *Aggregator) assemble(results []probeResult) *Snapshot {
	routes := map[string]GatewayToolRoute{}
	statuses := make([]UpstreamStatus, 0, len(results))

	now := time.Now().UTC()

	sorted := append([]probeResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].upstream.Name < sorted[j].upstream.Name })

	for _, r := range sorted {
		if r.err != nil {
			msg := r.err.Error()
			statuses = append(statuses, UpstreamStatus{
				UpstreamName: r.upstream.Name,
				Healthy:      false,
				LastCheckUTC: now,
				LastError:    &msg,
			})
			continue
		}

		toolCount := len(r.tools)
		latencyMS := r.latency.Milliseconds()
		statuses = append(statuses, UpstreamStatus{
			UpstreamName: r.upstream.Name,
			Healthy:      true,
			LastCheckUTC: now,
			LatencyMS:    &latencyMS,
			ToolCount:    &toolCount,
		})

		prefix := r.upstream.NamespacePrefix
		if prefix == "" {
			prefix = r.upstream.Name
		}

		for _, t := range r.tools {
			external := prefix + a.separator + t.Name
			if _, ok := routes[external]; ok {
				// Upstreams are processed in ascending name order, so the
				// route already present always belongs to the
				// lexicographically smaller (winning) upstream.
				continue
			}
			routes[external] = GatewayToolRoute{
				ExternalToolName:    external,
				UpstreamName:        r.upstream.Name,
				UpstreamToolName:    t.Name,
				UpstreamInputSchema: t.InputSchema,
				Description:         t.Description,
			}
		}
	}

	return &Snapshot{
		CreatedUTC:          now,
		ToolsByExternalName: routes,
		UpstreamStatuses:    statuses,
	}
}
