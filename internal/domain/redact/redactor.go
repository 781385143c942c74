// Package redact implements output redaction (§4.13): recursive field
// and pattern stripping of a JSON-RPC response's result content, leaving
// the envelope untouched and failing safe to the original body.
package redact

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Redactor scans a JSON-RPC response's result.content for keys and
// string patterns to redact.
type Redactor struct {
	// FieldsToRedact are object property keys, matched case-insensitively,
	// whose values are replaced wholesale.
	FieldsToRedact map[string]struct{}
	// Patterns are applied to every string leaf; matches are replaced
	// with Placeholder.
	Patterns []*regexp.Regexp

	// Placeholder replaces a redacted field's value or pattern match.
	Placeholder string
}

// NewRedactor builds a Redactor from a field-name list and regex pattern
// strings, lower-casing field names for case-insensitive matching.
func NewRedactor(fields []string, patterns []string) (*Redactor, error) {
	fieldSet := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		fieldSet[strings.ToLower(f)] = struct{}{}
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}

	return &Redactor{FieldsToRedact: fieldSet, Patterns: compiled, Placeholder: "[REDACTED]"}, nil
}

// Redact scans responseBody (a JSON-RPC response document) and returns a
// redacted copy. On any parse or processing failure it returns the
// original body unmodified, never a partially-redacted document.
func (r *Redactor) Redact(responseBody []byte) []byte {
	if r == nil || (len(r.FieldsToRedact) == 0 && len(r.Patterns) == 0) {
		return responseBody
	}

	var doc map[string]any
	if err := json.Unmarshal(responseBody, &doc); err != nil {
		return responseBody
	}

	result, ok := doc["result"].(map[string]any)
	if !ok {
		return responseBody
	}

	content, ok := result["content"]
	if !ok {
		return responseBody
	}

	redacted := r.walk(content)
	result["content"] = redacted
	doc["result"] = result

	out, err := json.Marshal(doc)
	if err != nil {
		return responseBody
	}
	return out
}

// walk recursively redacts v, preserving its shape.
func (r *Redactor) walk(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, redact := r.FieldsToRedact[strings.ToLower(k)]; redact {
				out[k] = r.Placeholder
				continue
			}
			out[k] = r.walk(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = r.walk(val)
		}
		return out
	case string:
		return r.redactString(t)
	default:
		return v
	}
}

func (r *Redactor) redactString(s string) string {
	for _, re := range r.Patterns {
		s = re.ReplaceAllString(s, r.Placeholder)
	}
	return s
}
