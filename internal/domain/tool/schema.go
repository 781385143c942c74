package tool

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// FieldKind enumerates the primitive shapes a TypeDescriptor field can take.
// No reflection is used to build schemas: the caller supplies the shape
// explicitly via FieldKind.
type FieldKind int

const (
	// KindString covers strings, chars, UUIDs, URIs, and dates.
	KindString FieldKind = iota
	// KindBoolean covers booleans.
	KindBoolean
	// KindInteger covers integer types.
	KindInteger
	// KindNumber covers floating-point and fixed-point types.
	KindNumber
	// KindEnum covers enumerations, rendered as a string with an enum list.
	KindEnum
	// KindArray covers ordered sequences, rendered with recursive Items.
	KindArray
	// KindMap covers string-keyed mappings, rendered as an object with
	// additionalProperties.
	KindMap
	// KindObject covers compound records, rendered with sorted properties.
	KindObject
)

// Field describes one field of a TypeDescriptor.
type Field struct {
	// Name is the field's property name.
	Name string
	// Kind selects the JSON-Schema shape for this field.
	Kind FieldKind
	// Optional marks the field as not required.
	Optional bool
	// EnumValues holds the allowed values when Kind is KindEnum. Sorted
	// lexicographically before emission for determinism.
	EnumValues []string
	// Items describes the element type when Kind is KindArray.
	Items *Field
	// MapValue describes the value type when Kind is KindMap.
	MapValue *Field
	// Properties lists the fields of a KindObject, in any order; they are
	// sorted by Name before emission.
	Properties []Field
}

// TypeDescriptor is an explicit, non-reflective description of a Go type
// used to build a JSON-Schema document for it.
type TypeDescriptor struct {
	// Identity uniquely names the source type for cache lookup.
	Identity string
	// Root is the top-level field describing the type's shape.
	Root Field
}

// SchemaBuilder produces JSON-Schema Draft 2020-12 documents from
// TypeDescriptors, caching by type identity. Cache is concurrent-safe.
type SchemaBuilder struct {
	cache sync.Map // string -> json.RawMessage
}

// NewSchemaBuilder constructs an empty, ready-to-use SchemaBuilder.
func NewSchemaBuilder() *SchemaBuilder {
	return &SchemaBuilder{}
}

// Build returns the JSON-Schema document for td, marshaled deterministically.
// Two invocations for the same Identity yield byte-identical JSON.
func (b *SchemaBuilder) Build(td TypeDescriptor) (json.RawMessage, error) {
	if cached, ok := b.cache.Load(td.Identity); ok {
		return cached.(json.RawMessage), nil
	}

	schema := fieldToSchema(td.Root)
	doc, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool: build schema for %q: %w", td.Identity, err)
	}

	var generic map[string]any
	if err := json.Unmarshal(doc, &generic); err != nil {
		return nil, fmt.Errorf("tool: build schema for %q: %w", td.Identity, err)
	}
	applyNullable(generic, td.Root)

	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("tool: build schema for %q: %w", td.Identity, err)
	}

	actual, _ := b.cache.LoadOrStore(td.Identity, json.RawMessage(raw))
	return actual.(json.RawMessage), nil
}

// applyNullable walks the generic schema document in lockstep with the
// originating Field tree and marks optional object properties with
// "nullable": true — a gateway-level convention, not a Draft 2020-12
// keyword, so it is layered on top of the library-built document rather
// than modeled in jsonschema.Schema itself.
func applyNullable(doc map[string]any, f Field) {
	switch f.Kind {
	case KindObject:
		props, _ := doc["properties"].(map[string]any)
		for _, p := range f.Properties {
			child, ok := props[p.Name].(map[string]any)
			if !ok {
				continue
			}
			if p.Optional {
				child["nullable"] = true
			}
			applyNullable(child, p)
		}
	case KindArray:
		if f.Items != nil {
			if items, ok := doc["items"].(map[string]any); ok {
				applyNullable(items, *f.Items)
			}
		}
	case KindMap:
		if f.MapValue != nil {
			if ap, ok := doc["additionalProperties"].(map[string]any); ok {
				applyNullable(ap, *f.MapValue)
			}
		}
	}
}

func fieldToSchema(f Field) *jsonschema.Schema {
	s := &jsonschema.Schema{}
	switch f.Kind {
	case KindString:
		s.Type = "string"
	case KindBoolean:
		s.Type = "boolean"
	case KindInteger:
		s.Type = "integer"
	case KindNumber:
		s.Type = "number"
	case KindEnum:
		s.Type = "string"
		values := append([]string(nil), f.EnumValues...)
		sort.Strings(values)
		s.Enum = make([]any, len(values))
		for i, v := range values {
			s.Enum[i] = v
		}
	case KindArray:
		s.Type = "array"
		if f.Items != nil {
			s.Items = fieldToSchema(*f.Items)
		}
	case KindMap:
		s.Type = "object"
		if f.MapValue != nil {
			sub := fieldToSchema(*f.MapValue)
			s.AdditionalProperties = sub
		}
	case KindObject:
		s.Type = "object"
		props := append([]Field(nil), f.Properties...)
		sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })

		s.Properties = make(map[string]*jsonschema.Schema, len(props))
		var required []string
		for _, p := range props {
			s.Properties[p.Name] = fieldToSchema(p)
			if !p.Optional {
				required = append(required, p.Name)
			}
		}
		sort.Strings(required)
		s.Required = required
	}
	return s
}
