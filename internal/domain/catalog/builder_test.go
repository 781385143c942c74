package catalog

import (
	"context"
	"testing"

	"github.com/toolgate/gateway/internal/domain/policy"
	"github.com/toolgate/gateway/internal/domain/tool"
)

func TestBuilderSynthesizesAndDropsUnmatched(t *testing.T) {
	descs := []tool.EndpointDescriptor{
		{HTTPMethod: "GET", RouteTemplate: "/users/{id}", OperationID: "getUser"},
		{HTTPMethod: "POST", RouteTemplate: "/users", DisplayName: "Create User"},
		{HTTPMethod: "DELETE", RouteTemplate: "/users/{id}", OperationID: "deleteUser"},
	}
	cfg := policy.PolicyConfig{
		SchemaVersion: 1,
		DenyByDefault: true,
		Whitelist: []policy.EndpointPolicy{
			{Key: policy.PolicyKey{OperationID: "getUser"}, Enabled: true},
			{Key: policy.PolicyKey{DisplayName: "Create User"}, Enabled: true},
		},
	}

	b := NewBuilder(nil, tool.NewSchemaBuilder())
	snap, err := b.Build(context.Background(), cfg, descs, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(snap.Tools) != 2 {
		t.Fatalf("expected 2 tools (deny-by-default drops unmatched deleteUser), got %d: %+v", len(snap.Tools), snap.Tools)
	}
	if _, ok := snap.Tools["getUser"]; !ok {
		t.Fatal("expected getUser tool")
	}
	if _, ok := snap.Tools["post_users"]; !ok {
		t.Fatalf("expected synthesized post_users tool, got keys %v", snap.SortedToolNames())
	}
}

func TestBuilderBlacklistDominatesWhitelist(t *testing.T) {
	descs := []tool.EndpointDescriptor{
		{HTTPMethod: "DELETE", RouteTemplate: "/admin/reset", OperationID: "resetAdmin"},
	}
	cfg := policy.PolicyConfig{
		SchemaVersion: 1,
		DenyByDefault: false,
		Whitelist: []policy.EndpointPolicy{
			{Key: policy.PolicyKey{OperationID: "resetAdmin"}, Enabled: true},
		},
		Blacklist: []policy.EndpointPolicy{
			{Key: policy.PolicyKey{OperationID: "resetAdmin"}, Enabled: true},
		},
	}

	b := NewBuilder(nil, tool.NewSchemaBuilder())
	snap, err := b.Build(context.Background(), cfg, descs, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.Tools) != 0 {
		t.Fatalf("expected blacklist to drop the tool, got %+v", snap.Tools)
	}
}

func TestBuilderAllowsWhenDenyByDefaultFalse(t *testing.T) {
	descs := []tool.EndpointDescriptor{
		{HTTPMethod: "GET", RouteTemplate: "/status", OperationID: "getStatus"},
	}
	cfg := policy.PolicyConfig{SchemaVersion: 1, DenyByDefault: false}

	b := NewBuilder(nil, tool.NewSchemaBuilder())
	snap, err := b.Build(context.Background(), cfg, descs, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := snap.Tools["getStatus"]; !ok {
		t.Fatalf("expected getStatus exposed when deny-by-default is false, got %+v", snap.Tools)
	}
}

func TestBuilderEnrichesFromOpenAPI(t *testing.T) {
	descs := []tool.EndpointDescriptor{
		{HTTPMethod: "GET", RouteTemplate: "/users/{id}", OperationID: "getUser"},
	}
	cfg := policy.PolicyConfig{
		SchemaVersion: 1,
		DenyByDefault: true,
		Whitelist: []policy.EndpointPolicy{
			{Key: policy.PolicyKey{OperationID: "getUser"}, Enabled: true},
		},
	}
	doc := &OpenAPIDoc{Operations: []OpenAPIOperation{
		{OperationID: "getUser", Summary: "Fetch a user by id", RouteSchema: []byte(`{"type":"object","properties":{"id":{"type":"string"}}}`)},
	}}

	b := NewBuilder(nil, tool.NewSchemaBuilder())
	snap, err := b.Build(context.Background(), cfg, descs, doc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	td, ok := snap.Tools["getUser"]
	if !ok {
		t.Fatal("expected getUser tool")
	}
	if td.Description != "Fetch a user by id" {
		t.Fatalf("expected enriched description, got %q", td.Description)
	}
	if len(td.InputSchema) == 0 {
		t.Fatal("expected merged input schema")
	}
}

func TestBuilderDeterministicOutput(t *testing.T) {
	descs := []tool.EndpointDescriptor{
		{HTTPMethod: "GET", RouteTemplate: "/a", OperationID: "opA"},
		{HTTPMethod: "GET", RouteTemplate: "/b", OperationID: "opB"},
	}
	cfg := policy.PolicyConfig{SchemaVersion: 1, DenyByDefault: false}

	b := NewBuilder(nil, tool.NewSchemaBuilder())
	snap1, err := b.Build(context.Background(), cfg, descs, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	snap2, err := b.Build(context.Background(), cfg, descs, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap1.Tools) != len(snap2.Tools) {
		t.Fatal("expected identical tool counts across builds")
	}
	for name, td1 := range snap1.Tools {
		td2, ok := snap2.Tools[name]
		if !ok {
			t.Fatalf("tool %q missing from second build", name)
		}
		if string(td1.InputSchema) != string(td2.InputSchema) {
			t.Fatalf("expected byte-identical schema for %q across builds", name)
		}
	}
}
