// Package validation checks and sanitizes client-supplied GELF fields and data.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	DefaultMaxInputLength = 4096
	DefaultMaxDepth       = 10
	DefaultMaxKeyLength   = 64
)

// GELF additional field names: a leading underscore followed by word
// characters, dots or dashes.
var fieldNameRegex = regexp.MustCompile(`^_[\w.\-]+$`)

// ErrInputTooLong indicates the input string exceeds the maximum allowed length.
var ErrInputTooLong = errors.New("input exceeds maximum length")

// ErrInvalidFieldName indicates a field name GELF does not accept.
var ErrInvalidFieldName = errors.New("invalid GELF field name")

// ErrMaxDepthExceeded indicates the nested structure exceeds the maximum allowed depth.
var ErrMaxDepthExceeded = errors.New("maximum nesting depth exceeded")

// Limits bounds the size of sanitized input.
type Limits struct {
	MaxDepth        int
	MaxKeyLength    int
	MaxStringLength int
}

// DefaultLimits returns the limits applied to HTTP ingest.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:        DefaultMaxDepth,
		MaxKeyLength:    DefaultMaxKeyLength,
		MaxStringLength: DefaultMaxInputLength,
	}
}

// IsValidFieldName checks name against the GELF additional field rules.
func IsValidFieldName(name string, maxLength int) error {
	if len(name) > maxLength {
		return fmt.Errorf("%w: got %d, max %d", ErrInputTooLong, len(name), maxLength)
	}
	if !fieldNameRegex.MatchString(name) {
		return fmt.Errorf("%w: '%s'", ErrInvalidFieldName, name)
	}
	return nil
}

// SanitizeString removes non-printable characters (excluding space) and trims whitespace.
// It also truncates the string to maxLength.
func SanitizeString(s string, maxLength int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLength {
		s = s[:maxLength]
	}
	return strings.Map(func(r rune) rune {
		if r == ' ' || (unicode.IsPrint(r) && r != '\uFFFD') {
			return r
		}
		return -1
	}, s)
}

// SanitizeFields validates the names of top-level GELF fields and sanitizes
// their values. Nested values keep their keys but are sanitized too.
func SanitizeFields(fields map[string]interface{}, limits Limits) (map[string]interface{}, error) {
	if fields == nil {
		return nil, nil
	}
	out := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		if err := IsValidFieldName(name, limits.MaxKeyLength); err != nil {
			return nil, err
		}
		v, err := sanitizeValue(value, limits, 1)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// SanitizeValues sanitizes each element of data.
func SanitizeValues(data []interface{}, limits Limits) ([]interface{}, error) {
	v, err := sanitizeValue(data, limits, 0)
	if err != nil || v == nil {
		return nil, err
	}
	return v.([]interface{}), nil
}

func sanitizeValue(value interface{}, limits Limits, depth int) (interface{}, error) {
	if depth > limits.MaxDepth {
		return nil, ErrMaxDepthExceeded
	}

	switch v := value.(type) {
	case string:
		return SanitizeString(v, limits.MaxStringLength), nil
	case map[string]interface{}:
		if v == nil {
			return v, nil
		}
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			key = SanitizeString(key, limits.MaxKeyLength)
			if key == "" {
				continue
			}
			s, err := sanitizeValue(item, limits, depth+1)
			if err != nil {
				return nil, fmt.Errorf("key '%s': %w", key, err)
			}
			out[key] = s
		}
		return out, nil
	case []interface{}:
		if v == nil {
			return nil, nil
		}
		out := make([]interface{}, len(v))
		for i, item := range v {
			s, err := sanitizeValue(item, limits, depth+1)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = s
		}
		return out, nil
	default:
		// Numbers, booleans and nulls pass through
		return v, nil
	}
}
