package tool

import (
	"context"
	"sort"
)

// EndpointDescriptor describes a single host endpoint obtained once per
// catalog reload. If the host splits a multi-method endpoint, the source
// must yield one descriptor per method.
type EndpointDescriptor struct {
	// RouteTemplate is the endpoint's route template, e.g. "/users/{id}".
	RouteTemplate string
	// HTTPMethod is the endpoint's HTTP method.
	HTTPMethod string
	// OperationID is the endpoint's stable operation identifier, if any.
	OperationID string
	// DisplayName is a human-readable name for the endpoint.
	DisplayName string
	// Produces lists response content types.
	Produces []string
	// Consumes lists accepted request content types.
	Consumes []string
	// RequiresAuth indicates the endpoint requires authentication.
	RequiresAuth bool
	// AcceptableAuthSchemes lists auth schemes the endpoint accepts.
	AcceptableAuthSchemes []string
}

// EndpointDescriptorSource produces the descriptors a catalog build
// consumes. The concrete host introspector (e.g. an HTTP router walker)
// is an external collaborator; this package only defines the contract
// plus a deterministic in-memory implementation for tests and
// diagnostics.
type EndpointDescriptorSource interface {
	// Describe returns endpoint descriptors sorted by
	// (HTTPMethod, RouteTemplate, DisplayName). Must be idempotent: repeat
	// calls against unchanged host state return an identical slice.
	Describe(ctx context.Context) ([]EndpointDescriptor, error)
}

// StaticDescriptorSource is a fixed, in-memory EndpointDescriptorSource.
// Used by tests and by the diagnostics endpoint to report a frozen view.
type StaticDescriptorSource struct {
	descriptors []EndpointDescriptor
}

// NewStaticDescriptorSource builds a StaticDescriptorSource from descs,
// sorting defensively so callers need not pre-sort.
func NewStaticDescriptorSource(descs []EndpointDescriptor) *StaticDescriptorSource {
	sorted := append([]EndpointDescriptor(nil), descs...)
	SortDescriptors(sorted)
	return &StaticDescriptorSource{descriptors: sorted}
}

// Describe returns the fixed descriptor list.
func (s *StaticDescriptorSource) Describe(ctx context.Context) ([]EndpointDescriptor, error) {
	out := append([]EndpointDescriptor(nil), s.descriptors...)
	return out, nil
}

// SortDescriptors orders descs in place by (HTTPMethod, RouteTemplate,
// DisplayName), the total order §4.3 requires.
func SortDescriptors(descs []EndpointDescriptor) {
	sort.Slice(descs, func(i, j int) bool {
		a, b := descs[i], descs[j]
		if a.HTTPMethod != b.HTTPMethod {
			return a.HTTPMethod < b.HTTPMethod
		}
		if a.RouteTemplate != b.RouteTemplate {
			return a.RouteTemplate < b.RouteTemplate
		}
		return a.DisplayName < b.DisplayName
	})
}

var _ EndpointDescriptorSource = (*StaticDescriptorSource)(nil)
