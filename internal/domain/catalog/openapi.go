package catalog

import "encoding/json"

// OpenAPIOperation is the subset of an OpenAPI operation object the
// builder enriches tool descriptors from. Acquisition and parsing of the
// full document is an external collaborator; the builder only consumes
// this already-extracted shape.
type OpenAPIOperation struct {
	// OperationID matches EndpointDescriptor.OperationID.
	OperationID string
	// RouteTemplate and HTTPMethod match the endpoint when OperationID is
	// absent from the document.
	RouteTemplate string
	HTTPMethod    string
	// Summary and Description feed the enriched tool description
	// (summary, falling back to description, when both are present).
	Summary     string
	Description string
	// RouteSchema, QuerySchema, BodySchema are merged into the tool's
	// input schema. ResponseSchema is retained for diagnostics only.
	RouteSchema    json.RawMessage
	QuerySchema    json.RawMessage
	BodySchema     json.RawMessage
	ResponseSchema json.RawMessage
}

// OpenAPIDoc is the parsed-document shape the builder enriches against.
type OpenAPIDoc struct {
	Operations []OpenAPIOperation
}

// find returns the operation matching descriptor e, by operation-id first
// and by route-template+method otherwise.
func (d *OpenAPIDoc) find(operationID, routeTemplate, httpMethod string) *OpenAPIOperation {
	if d == nil {
		return nil
	}
	if operationID != "" {
		for i := range d.Operations {
			if d.Operations[i].OperationID == operationID {
				return &d.Operations[i]
			}
		}
	}
	for i := range d.Operations {
		op := &d.Operations[i]
		if op.RouteTemplate == routeTemplate && op.HTTPMethod == httpMethod {
			return op
		}
	}
	return nil
}

// mergedInputSchema merges route, query, and body parameter schemas into
// a single JSON-Schema object document. Later non-empty schemas override
// earlier ones on key collision, route first, then query, then body.
func mergedInputSchema(op *OpenAPIOperation) json.RawMessage {
	if op == nil {
		return nil
	}
	merged := map[string]any{}
	for _, raw := range []json.RawMessage{op.RouteSchema, op.QuerySchema, op.BodySchema} {
		if len(raw) == 0 {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		mergeInto(merged, doc)
	}
	if len(merged) == 0 {
		return nil
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil
	}
	return out
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if k == "properties" {
			dstProps, _ := dst["properties"].(map[string]any)
			if dstProps == nil {
				dstProps = map[string]any{}
			}
			if srcProps, ok := v.(map[string]any); ok {
				for pk, pv := range srcProps {
					dstProps[pk] = pv
				}
			}
			dst["properties"] = dstProps
			continue
		}
		if k == "required" {
			dstReq, _ := dst["required"].([]any)
			if srcReq, ok := v.([]any); ok {
				dst["required"] = append(dstReq, srcReq...)
			}
			continue
		}
		dst[k] = v
	}
}
