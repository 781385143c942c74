package upstream

import (
	"context"
	"testing"
)

func TestDedupDropsDisabledAndDuplicates(t *testing.T) {
	ups := []GatewayUpstream{
		{Upstream: Upstream{Name: "a", Enabled: true}, NamespacePrefix: "a"},
		{Upstream: Upstream{Name: "a", Enabled: true}, NamespacePrefix: "a2"},
		{Upstream: Upstream{Name: "b", Enabled: false}, NamespacePrefix: "b"},
		{Upstream: Upstream{Name: "c", Enabled: true}, NamespacePrefix: "a"},
	}
	kept, dropped := dedup(ups)

	if len(kept) != 1 || kept[0].Name != "a" {
		t.Fatalf("expected only the first \"a\" to survive, got %+v", kept)
	}
	if len(dropped) != 2 {
		t.Fatalf("expected 2 dropped entries (dup name, dup prefix), got %v", dropped)
	}
}

type fakeStore struct{ upstreams []Upstream }

func (f *fakeStore) List(ctx context.Context) ([]Upstream, error) { return f.upstreams, nil }
func (f *fakeStore) Get(ctx context.Context, id string) (*Upstream, error) {
	return nil, ErrUpstreamNotFound
}
func (f *fakeStore) Add(ctx context.Context, u *Upstream) error    { return nil }
func (f *fakeStore) Update(ctx context.Context, u *Upstream) error { return nil }
func (f *fakeStore) Delete(ctx context.Context, id string) error   { return nil }

func TestStaticRegistryAppliesNamespaces(t *testing.T) {
	store := &fakeStore{upstreams: []Upstream{
		{ID: "1", Name: "github", Enabled: true},
		{ID: "2", Name: "disabled", Enabled: false},
	}}
	reg := NewStaticRegistry(store, map[string]string{"1": "gh"})

	ups, err := reg.GetUpstreams(context.Background())
	if err != nil {
		t.Fatalf("GetUpstreams: %v", err)
	}
	if len(ups) != 1 || ups[0].NamespacePrefix != "gh" {
		t.Fatalf("expected one namespaced upstream, got %+v", ups)
	}
	if reg.Watch() != nil {
		t.Fatal("expected StaticRegistry.Watch to return nil")
	}
}

type fakeProvider struct {
	upstreams []GatewayUpstream
	sig       chan struct{}
}

func (f *fakeProvider) Discover(ctx context.Context) ([]GatewayUpstream, error) {
	return f.upstreams, nil
}
func (f *fakeProvider) Signal() <-chan struct{} { return f.sig }

func TestDynamicRegistryRefreshSwapsAndNotifies(t *testing.T) {
	provider := &fakeProvider{upstreams: []GatewayUpstream{
		{Upstream: Upstream{Name: "svc", Enabled: true}, NamespacePrefix: "svc"},
	}}
	reg := NewDynamicRegistry(provider)

	initial, _ := reg.GetUpstreams(context.Background())
	if len(initial) != 0 {
		t.Fatalf("expected empty initial set, got %+v", initial)
	}

	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	after, _ := reg.GetUpstreams(context.Background())
	if len(after) != 1 || after[0].Name != "svc" {
		t.Fatalf("expected refreshed set with svc, got %+v", after)
	}

	select {
	case <-reg.Watch():
	default:
		t.Fatal("expected a change notification after Refresh")
	}
}
