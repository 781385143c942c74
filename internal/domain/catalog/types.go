// Package catalog builds and serves immutable tool-catalog snapshots from
// a validated policy configuration and a set of discovered endpoints.
package catalog

import (
	"encoding/json"
	"time"

	"github.com/toolgate/gateway/internal/domain/policy"
	"github.com/toolgate/gateway/internal/domain/tool"
)

// ToolDescriptor is one tool exposed by a snapshot, with the behavioral
// configuration resolved at build time.
type ToolDescriptor struct {
	// ToolName is the name presented in tools/list and matched in
	// tools/call.
	ToolName string
	// Description is the tool's human-readable description, enriched from
	// an OpenAPI summary/description when available.
	Description string
	// InputSchema is the JSON-Schema document for the tool's arguments.
	InputSchema json.RawMessage
	// Endpoint is the source descriptor this tool was built from.
	Endpoint tool.EndpointDescriptor
	// Effective is the resolved behavioral configuration (timeout, rate
	// limit, cache, auth) applied to calls against this tool.
	Effective policy.EffectivePolicy
}

// Snapshot is an immutable, point-in-time view of the exposed tool
// catalog.
type Snapshot struct {
	// Tools maps tool name to descriptor.
	Tools map[string]ToolDescriptor
	// CreatedAt is when this snapshot was built (UTC).
	CreatedAt time.Time
	// SourceVersion is the policy fingerprint this snapshot was built
	// from, used by the provider to detect staleness without rebuilding.
	SourceVersion string
}

// EmptySnapshot returns a valid, zero-tool snapshot, used as the initial
// state before the first successful reload.
func EmptySnapshot() *Snapshot {
	return &Snapshot{Tools: map[string]ToolDescriptor{}}
}

// SortedToolNames returns the snapshot's tool names in ascending order,
// for deterministic tools/list responses.
func (s *Snapshot) SortedToolNames() []string {
	names := make([]string, 0, len(s.Tools))
	for name := range s.Tools {
		names = append(names, name)
	}
	sortStrings(names)
	return names
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
