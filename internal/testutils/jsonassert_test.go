//go:build test

package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).Options()

	assert.False(t, opts.IgnoreExtraKeys, "IgnoreExtraKeys should default to false")
	assert.True(t, opts.AllowPresencePlaceholder, "AllowPresencePlaceholder should default to true")
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_FunctionalOptions(t *testing.T) {
	ja := NewJSONAsserter(t).WithOptions(
		WithIgnoreExtraKeys(true),
		WithAllowPresencePlaceholder(false),
		WithIgnoredFields("ts"),
	)
	opts := ja.Options()

	assert.True(t, opts.IgnoreExtraKeys)
	assert.False(t, opts.AllowPresencePlaceholder)
	assert.Equal(t, []string{"ts"}, opts.IgnoredFields)
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name      string
		options   []Option
		actual    string
		expected  string
		wantMatch bool
	}{
		{
			name:      "key order is irrelevant",
			actual:    `{"cmd": "read", "_id": 3}`,
			expected:  `{"_id": 3, "cmd": "read"}`,
			wantMatch: true,
		},
		{
			name:      "value mismatch",
			actual:    `{"cmd": "read", "_id": 3}`,
			expected:  `{"cmd": "read", "_id": 4}`,
			wantMatch: false,
		},
		{
			name:      "extra keys are reported by default",
			actual:    `{"cmd": "read", "_id": 3, "device": "g"}`,
			expected:  `{"cmd": "read", "_id": 3}`,
			wantMatch: false,
		},
		{
			name:      "extra keys ignored when enabled",
			options:   []Option{WithIgnoreExtraKeys(true)},
			actual:    `{"cmd": "read", "_id": 3, "device": "g"}`,
			expected:  `{"cmd": "read", "_id": 3}`,
			wantMatch: true,
		},
		{
			name:      "presence placeholder matches any value",
			actual:    `{"cmd": "read", "_id": 17}`,
			expected:  `{"cmd": "read", "_id": "<<PRESENCE>>"}`,
			wantMatch: true,
		},
		{
			name:      "presence placeholder still requires the key",
			actual:    `{"cmd": "read"}`,
			expected:  `{"cmd": "read", "_id": "<<PRESENCE>>"}`,
			wantMatch: false,
		},
		{
			name:      "presence placeholder disabled",
			options:   []Option{WithAllowPresencePlaceholder(false)},
			actual:    `{"cmd": "read", "_id": 17}`,
			expected:  `{"cmd": "read", "_id": "<<PRESENCE>>"}`,
			wantMatch: false,
		},
		{
			name:      "ignored fields at any depth",
			options:   []Option{WithIgnoredFields("rssi")},
			actual:    `{"devices": [{"name": "a", "rssi": -40}], "rssi": 1}`,
			expected:  `{"devices": [{"name": "a", "rssi": -90}]}`,
			wantMatch: true,
		},
		{
			name:      "scalar documents",
			actual:    `"gatt-1"`,
			expected:  `"gatt-1"`,
			wantMatch: true,
		},
		{
			name:      "scalar mismatch",
			actual:    `[1, 2]`,
			expected:  `[1, 3]`,
			wantMatch: false,
		},
		{
			name:      "object against scalar",
			actual:    `5`,
			expected:  `{"value": 5, "x": 1}`,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.options...).Diff(tt.actual, tt.expected)
			if tt.wantMatch {
				assert.Empty(t, diff)
			} else {
				assert.NotEmpty(t, diff)
			}
		})
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	ja := NewJSONAsserter(t)

	assert.Contains(t, ja.Diff(`{}`, `{bad`), "invalid expected JSON")
	assert.Contains(t, ja.Diff(`{bad`, `{}`), "invalid actual JSON")
}

func TestJSONAsserter_AssertReportsFailure(t *testing.T) {
	mock := &recordingT{TB: t}

	ok := NewJSONAsserter(mock).AssertValue(map[string]int{"a": 1}, `{"a": 2}`)

	assert.False(t, ok)
	assert.Len(t, mock.errors, 1)
	assert.Contains(t, mock.errors[0], "JSON assertion failed")
}
