package service

import (
	"context"
)

// ManifestResult describes the server and its currently reachable tool
// catalog, for the ambient discovery endpoint consumed by tooling that
// wants a snapshot without speaking JSON-RPC.
type ManifestResult struct {
	ServerName    string      `json:"serverName"`
	ServerVersion string      `json:"serverVersion"`
	Tools         []toolEntry `json:"tools"`
}

// Manifest builds the current tool manifest the same way tools/list does,
// for consumption outside the JSON-RPC envelope (e.g. a discovery endpoint).
func (d *Dispatcher) Manifest(ctx context.Context) ManifestResult {
	catSnap, err := d.catalogProvider.EnsureFresh(ctx)
	if err != nil {
		d.logger.Error("manifest: catalog refresh failed", "error", err)
		catSnap = d.catalogProvider.Get()
	}
	gwSnap, err := d.gateway.EnsureFresh(ctx)
	if err != nil {
		d.logger.Error("manifest: gateway refresh failed", "error", err)
		gwSnap = d.gateway.Get()
	}

	tools := make([]toolEntry, 0, len(catSnap.Tools))
	for _, name := range catSnap.SortedToolNames() {
		desc := catSnap.Tools[name]
		route, ok := gwSnap.TryGetTool(name)
		if !ok {
			continue
		}
		schema := route.UpstreamInputSchema
		if len(schema) == 0 {
			schema = desc.InputSchema
		}
		description := desc.Description
		if description == "" {
			description = route.Description
		}
		tools = append(tools, toolEntry{Name: name, Description: description, InputSchema: schema})
	}

	return ManifestResult{
		ServerName:    d.cfg.ServerName,
		ServerVersion: d.cfg.ServerVersion,
		Tools:         tools,
	}
}

// DiagnosticsResult summarizes runtime state useful for an operator poking
// at the gateway out-of-band: upstream reachability and audit throughput.
type DiagnosticsResult struct {
	ToolCount      int      `json:"toolCount"`
	UpstreamErrors []string `json:"upstreamErrors,omitempty"`
	AuditChannel   int      `json:"auditChannelDepth"`
	AuditCapacity  int      `json:"auditChannelCapacity"`
	AuditDropped   int64    `json:"auditDropped"`
	Calls          Stats    `json:"calls"`
}

// Diagnostics reports the live gateway snapshot's health and audit
// pipeline backpressure, without forcing a catalog/gateway rebuild.
func (d *Dispatcher) Diagnostics(ctx context.Context) DiagnosticsResult {
	gwSnap := d.gateway.Get()

	var upstreamErrors []string
	for _, st := range gwSnap.UpstreamStatuses {
		if !st.Healthy && st.LastError != nil {
			upstreamErrors = append(upstreamErrors, st.UpstreamName+": "+*st.LastError)
		}
	}

	result := DiagnosticsResult{
		ToolCount:      len(gwSnap.ToolsByExternalName),
		UpstreamErrors: upstreamErrors,
		Calls:          d.stats.GetStats(),
	}

	if d.audit != nil {
		result.AuditChannel = d.audit.ChannelDepth()
		result.AuditCapacity = d.audit.ChannelCapacity()
		result.AuditDropped = d.audit.DroppedRecords()
	}

	return result
}
