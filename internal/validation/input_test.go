package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidFieldName(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		wantErr error
	}{
		{"Simple", "_user", nil},
		{"Dots and dashes", "_http.status-code", nil},
		{"Digits", "_attempt2", nil},
		{"No underscore", "user", ErrInvalidFieldName},
		{"Only underscore", "_", ErrInvalidFieldName},
		{"Space", "_user name", ErrInvalidFieldName},
		{"Too long", "_" + strings.Repeat("a", 70), ErrInputTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := IsValidFieldName(tt.field, DefaultMaxKeyLength)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello world", SanitizeString("  hello\x00 world\n ", 100))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
	assert.Equal(t, "", SanitizeString("\t\x01", 10))
}

func TestSanitizeFields(t *testing.T) {
	limits := Limits{MaxDepth: 2, MaxKeyLength: 16, MaxStringLength: 5}

	out, err := SanitizeFields(map[string]interface{}{
		"_msg":   " truncated value ",
		"_count": float64(3),
		"_ok":    true,
		"_nested": map[string]interface{}{
			"inner\x00": "abcdefgh",
		},
	}, limits)
	require.NoError(t, err)

	assert.Equal(t, "trunc", out["_msg"])
	assert.Equal(t, float64(3), out["_count"])
	assert.Equal(t, true, out["_ok"])
	assert.Equal(t, map[string]interface{}{"inner": "abcde"}, out["_nested"])

	_, err = SanitizeFields(map[string]interface{}{"bad": 1}, limits)
	assert.ErrorIs(t, err, ErrInvalidFieldName)

	_, err = SanitizeFields(map[string]interface{}{
		"_deep": map[string]interface{}{"a": map[string]interface{}{"b": 1}},
	}, limits)
	assert.ErrorIs(t, err, ErrMaxDepthExceeded)

	out, err = SanitizeFields(nil, limits)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestSanitizeValues(t *testing.T) {
	out, err := SanitizeValues([]interface{}{"  a\x07 ", float64(1), []interface{}{"b"}}, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", float64(1), []interface{}{"b"}}, out)

	out, err = SanitizeValues(nil, DefaultLimits())
	assert.NoError(t, err)
	assert.Nil(t, out)

	_, err = SanitizeValues([]interface{}{[]interface{}{[]interface{}{"x"}}}, Limits{MaxDepth: 1, MaxKeyLength: 8, MaxStringLength: 8})
	assert.ErrorIs(t, err, ErrMaxDepthExceeded)
}
