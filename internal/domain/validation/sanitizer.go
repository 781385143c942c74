// Package validation provides MCP message validation logic.
package validation

import (
	"regexp"
	"strings"
)

// Size limits for sanitization.
const (
	// MaxStringLength is the maximum length of any string value (1MB).
	// Strings longer than this are truncated to prevent memory exhaustion.
	MaxStringLength = 1048576

	// DefaultToolNamePattern is the compiled-character whitelist a tool
	// name must match. Tool names may combine namespace segments with "/"
	// (e.g. a gateway-routed "weather/get_forecast"), so the pattern
	// allows the separator itself; ValidateToolName separately rejects
	// leading, trailing, and consecutive slashes.
	DefaultToolNamePattern = `^[A-Za-z0-9_/-]+$`

	// DefaultMaxToolNameLength is the maximum length of a tool name.
	DefaultMaxToolNameLength = 256

	// DefaultMaxArgumentsDepth is the maximum nesting depth of a
	// tools/call arguments object, counting the top-level object as
	// depth 1.
	DefaultMaxArgumentsDepth = 32

	// DefaultMaxArgumentsPropertyCount is the maximum number of
	// properties (object keys or array elements) allowed at any single
	// level of tools/call arguments.
	DefaultMaxArgumentsPropertyCount = 256
)

var defaultToolNamePattern = regexp.MustCompile(DefaultToolNamePattern)

// SanitizerConfig configures the limits a Sanitizer enforces. A zero value
// for any field falls back to its Default* constant.
type SanitizerConfig struct {
	ToolNamePattern           string
	MaxToolNameLength         int
	MaxArgumentsDepth         int
	MaxArgumentsPropertyCount int
}

// Sanitizer provides input sanitization for tool call arguments.
// It validates tool names and recursively sanitizes string values
// to prevent injection attacks and policy bypass attempts.
type Sanitizer struct {
	toolNamePattern           *regexp.Regexp
	maxToolNameLength         int
	maxArgumentsDepth         int
	maxArgumentsPropertyCount int
}

// NewSanitizer creates a Sanitizer using the default limits.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		toolNamePattern:           defaultToolNamePattern,
		maxToolNameLength:         DefaultMaxToolNameLength,
		maxArgumentsDepth:         DefaultMaxArgumentsDepth,
		maxArgumentsPropertyCount: DefaultMaxArgumentsPropertyCount,
	}
}

// NewSanitizerWithConfig creates a Sanitizer from cfg, applying defaults
// for any zero-valued field. Returns an error if ToolNamePattern does not
// compile as a regular expression.
func NewSanitizerWithConfig(cfg SanitizerConfig) (*Sanitizer, error) {
	s := &Sanitizer{
		toolNamePattern:           defaultToolNamePattern,
		maxToolNameLength:         DefaultMaxToolNameLength,
		maxArgumentsDepth:         DefaultMaxArgumentsDepth,
		maxArgumentsPropertyCount: DefaultMaxArgumentsPropertyCount,
	}

	if cfg.ToolNamePattern != "" {
		pattern, err := regexp.Compile(cfg.ToolNamePattern)
		if err != nil {
			return nil, err
		}
		s.toolNamePattern = pattern
	}
	if cfg.MaxToolNameLength > 0 {
		s.maxToolNameLength = cfg.MaxToolNameLength
	}
	if cfg.MaxArgumentsDepth > 0 {
		s.maxArgumentsDepth = cfg.MaxArgumentsDepth
	}
	if cfg.MaxArgumentsPropertyCount > 0 {
		s.maxArgumentsPropertyCount = cfg.MaxArgumentsPropertyCount
	}

	return s, nil
}

// ValidateToolName validates a tool name against the configured pattern
// and slash rules. It returns a ValidationError if the name is invalid.
//
// Valid tool names:
//   - Match the configured character whitelist (default: alphanumeric,
//     underscore, hyphen, and "/" as a namespace separator)
//   - Are at most maxToolNameLength characters
//   - Have no leading, trailing, or consecutive "/" (so "a/b" passes but
//     "/ab", "ab/", and "a//b" do not)
func (s *Sanitizer) ValidateToolName(name string) error {
	if name == "" {
		return NewValidationError(ErrCodeInvalidParams, "tool name is required")
	}

	if len(name) > s.maxToolNameLength {
		return NewValidationError(ErrCodeInvalidParams, "tool name too long")
	}

	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.Contains(name, "//") {
		return NewValidationError(ErrCodeInvalidParams, "invalid characters in tool name")
	}

	if !s.toolNamePattern.MatchString(name) {
		return NewValidationError(ErrCodeInvalidParams, "invalid tool name format")
	}

	return nil
}

// SanitizeValue recursively sanitizes a value and enforces the configured
// nesting-depth and per-level property-count limits. For strings, it
// removes null bytes and truncates at MaxStringLength. For maps and
// slices, it recurses into each element. For other types (numbers,
// booleans, nil), it returns them unchanged.
func (s *Sanitizer) SanitizeValue(v interface{}) (interface{}, error) {
	return s.sanitizeValue(v, 1)
}

func (s *Sanitizer) sanitizeValue(v interface{}, depth int) (interface{}, error) {
	if depth > s.maxArgumentsDepth {
		return nil, NewValidationError(ErrCodeInvalidParams, "arguments exceed maximum nesting depth")
	}

	switch val := v.(type) {
	case string:
		return s.sanitizeString(val), nil

	case map[string]interface{}:
		if len(val) > s.maxArgumentsPropertyCount {
			return nil, NewValidationError(ErrCodeInvalidParams, "arguments exceed maximum property count")
		}
		result := make(map[string]interface{}, len(val))
		for k, v := range val {
			sanitized, err := s.sanitizeValue(v, depth+1)
			if err != nil {
				return nil, err
			}
			result[k] = sanitized
		}
		return result, nil

	case []interface{}:
		if len(val) > s.maxArgumentsPropertyCount {
			return nil, NewValidationError(ErrCodeInvalidParams, "arguments exceed maximum property count")
		}
		result := make([]interface{}, len(val))
		for i, v := range val {
			sanitized, err := s.sanitizeValue(v, depth+1)
			if err != nil {
				return nil, err
			}
			result[i] = sanitized
		}
		return result, nil

	default:
		// Numbers, booleans, nil pass through unchanged
		return v, nil
	}
}

// sanitizeString removes null bytes and truncates oversized strings.
func (s *Sanitizer) sanitizeString(str string) string {
	// Remove null bytes
	str = strings.ReplaceAll(str, "\x00", "")

	// Truncate if too long
	if len(str) > MaxStringLength {
		str = str[:MaxStringLength]
	}

	return str
}

// SanitizeToolCall sanitizes tool call parameters.
// It validates the tool name and sanitizes all argument values.
//
// Expected params structure:
//
//	{
//	  "name": "tool_name",
//	  "arguments": { ... }
//	}
//
// Returns sanitized params with validated name and sanitized arguments.
func (s *Sanitizer) SanitizeToolCall(params map[string]interface{}) (map[string]interface{}, error) {
	// Extract and validate tool name
	name, ok := params["name"].(string)
	if !ok {
		return nil, NewValidationError(ErrCodeInvalidParams, "tool name is required")
	}

	if err := s.ValidateToolName(name); err != nil {
		return nil, err
	}

	// Create result with validated name
	result := make(map[string]interface{}, len(params))
	result["name"] = name

	// Copy and sanitize other fields
	for k, v := range params {
		if k == "name" {
			continue // Already handled
		}

		if k == "arguments" {
			// Sanitize arguments recursively
			sanitized, err := s.SanitizeValue(v)
			if err != nil {
				return nil, err
			}
			result[k] = sanitized
		} else {
			// Pass through other fields (like _meta)
			result[k] = v
		}
	}

	return result, nil
}
