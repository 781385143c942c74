package gatewaycat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/toolgate/gateway/internal/domain/upstream"
	"github.com/toolgate/gateway/internal/port/outbound"
)

type fakeRegistry struct{ ups []upstream.GatewayUpstream }

func (f *fakeRegistry) GetUpstreams(ctx context.Context) ([]upstream.GatewayUpstream, error) {
	return f.ups, nil
}
func (f *fakeRegistry) Watch() upstream.ChangeToken { return nil }

type fakeCaller struct {
	tools []outbound.UpstreamTool
	err   error
}

func (c *fakeCaller) Initialize(ctx context.Context) error { return c.err }
func (c *fakeCaller) ListTools(ctx context.Context) ([]outbound.UpstreamTool, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.tools, nil
}
func (c *fakeCaller) CallTool(ctx context.Context, name string, args map[string]any) (outbound.UpstreamCallResult, error) {
	return outbound.UpstreamCallResult{}, nil
}

type fakeFactory struct{ byUpstream map[string]*fakeCaller }

func (f *fakeFactory) NewCaller(upstreamName, endpointURL string, timeout time.Duration) (outbound.UpstreamCaller, error) {
	c, ok := f.byUpstream[upstreamName]
	if !ok {
		return nil, errors.New("no caller configured")
	}
	return c, nil
}

func TestAggregatorRebuildPartialAvailability(t *testing.T) {
	reg := &fakeRegistry{ups: []upstream.GatewayUpstream{
		{Upstream: upstream.Upstream{Name: "good", Enabled: true}, NamespacePrefix: "good"},
		{Upstream: upstream.Upstream{Name: "bad", Enabled: true}, NamespacePrefix: "bad"},
	}}
	factory := &fakeFactory{byUpstream: map[string]*fakeCaller{
		"good": {tools: []outbound.UpstreamTool{{Name: "read_file"}}},
		"bad":  {err: errors.New("connection refused")},
	}}

	agg := NewAggregator(reg, factory, 0, time.Second, "_")
	snap, err := agg.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if len(snap.ToolsByExternalName) != 1 {
		t.Fatalf("expected 1 route from the healthy upstream, got %+v", snap.ToolsByExternalName)
	}
	if _, ok := snap.TryGetTool("good_read_file"); !ok {
		t.Fatal("expected good_read_file route")
	}

	goodStatus, _ := snap.StatusFor("good")
	if !goodStatus.Healthy || goodStatus.ToolCount == nil || *goodStatus.ToolCount != 1 {
		t.Fatalf("expected healthy status with tool count 1, got %+v", goodStatus)
	}

	badStatus, _ := snap.StatusFor("bad")
	if badStatus.Healthy || badStatus.LastError == nil {
		t.Fatalf("expected unhealthy status with error, got %+v", badStatus)
	}
}

func TestAggregatorCollisionKeepsLexicographicallySmallerUpstream(t *testing.T) {
	reg := &fakeRegistry{ups: []upstream.GatewayUpstream{
		{Upstream: upstream.Upstream{Name: "zeta", Enabled: true}},
		{Upstream: upstream.Upstream{Name: "alpha", Enabled: true}},
	}}
	factory := &fakeFactory{byUpstream: map[string]*fakeCaller{
		"zeta":  {tools: []outbound.UpstreamTool{{Name: "run"}}},
		"alpha": {tools: []outbound.UpstreamTool{{Name: "run"}}},
	}}
	// Force both upstreams to route to the same external name by giving
	// them no namespace prefix override beyond their own name... use a
	// shared prefix explicitly via NamespacePrefix.
	reg.ups[0].NamespacePrefix = "shared"
	reg.ups[1].NamespacePrefix = "shared"

	agg := NewAggregator(reg, factory, 0, time.Second, "_")
	snap, err := agg.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	route, ok := snap.TryGetTool("shared_run")
	if !ok {
		t.Fatal("expected shared_run route")
	}
	if route.UpstreamName != "alpha" {
		t.Fatalf("expected alpha (lexicographically smaller) to win, got %q", route.UpstreamName)
	}
}

func TestAggregatorEnsureFreshDebounces(t *testing.T) {
	reg := &fakeRegistry{ups: []upstream.GatewayUpstream{
		{Upstream: upstream.Upstream{Name: "svc", Enabled: true}},
	}}
	factory := &fakeFactory{byUpstream: map[string]*fakeCaller{
		"svc": {tools: []outbound.UpstreamTool{{Name: "a"}}},
	}}
	agg := NewAggregator(reg, factory, time.Hour, time.Second, "_")

	snap1, err := agg.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	factory.byUpstream["svc"].tools = append(factory.byUpstream["svc"].tools, outbound.UpstreamTool{Name: "b"})

	snap2, err := agg.EnsureFresh(context.Background())
	if err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if snap2 != snap1 {
		t.Fatal("expected EnsureFresh to return the debounced snapshot within the window")
	}
}
