package device

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		// Aliases
		{
			name:     "characteristic alias",
			input:    "battery_level",
			expected: "00002a19-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "service alias",
			input:    "heart_rate",
			expected: "0000180d-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "descriptor alias",
			input:    "gatt.client_characteristic_configuration",
			expected: "00002902-0000-1000-8000-00805f9b34fb",
		},

		// Short codes
		{
			name:     "16-bit with 0x prefix",
			input:    "0x2a19",
			expected: "00002a19-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "16-bit without prefix",
			input:    "180d",
			expected: "0000180d-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "16-bit uppercase",
			input:    "0X2A19",
			expected: "00002a19-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "single digit",
			input:    "1",
			expected: "00000001-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "32-bit short code",
			input:    "12345678",
			expected: "12345678-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "integer",
			input:    0x180f,
			expected: "0000180f-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "integral float64 (decoded JSON number)",
			input:    float64(0x2a37),
			expected: "00002a37-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "json.Number",
			input:    json.Number("6157"),
			expected: "0000180d-0000-1000-8000-00805f9b34fb",
		},

		// Full GUIDs
		{
			name:     "braced uppercase GUID",
			input:    "{0000180D-0000-1000-8000-00805F9B34FB}",
			expected: "0000180d-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "custom 128-bit GUID",
			input:    "6E400001-B5A3-F393-E0A9-E50E24DCCA9E",
			expected: "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		},
		{
			name:     "already canonical",
			input:    "00002a19-0000-1000-8000-00805f9b34fb",
			expected: "00002a19-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "identifier wrapper",
			input:    ID("heart_rate"),
			expected: "0000180d-0000-1000-8000-00805f9b34fb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NormalizeUUID(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestNormalizeUUID_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{name: "not a uuid", input: "not-a-uuid"},
		{name: "empty string", input: ""},
		{name: "zero short code", input: "0x0"},
		{name: "too many hex digits", input: "123456789"},
		{name: "GUID without dashes", input: "0000180d00001000800000805f9b34fb"},
		{name: "GUID with bad group", input: "0000180d-0000-1000-8000-00805f9b34fz"},
		{name: "zero", input: 0},
		{name: "negative", input: -5},
		{name: "fraction", input: 1.5},
		{name: "beyond 32 bits", input: float64(1 << 33)},
		{name: "nil", input: nil},
		{name: "boolean", input: true},
		{name: "unknown alias", input: "flux_capacitor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeUUID(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidIdentifierFormat)
		})
	}
}

func TestNormalizeUUID_ErrorNamesInput(t *testing.T) {
	_, err := NormalizeUUID("not-a-uuid")
	require.Error(t, err)
	assert.Equal(t, "invalid UUID format: not-a-uuid", err.Error())
}

// Normalizing a canonical identifier must return it unchanged
func TestNormalizeUUID_Idempotent(t *testing.T) {
	inputs := []any{
		"battery_level",
		"heart_rate",
		"0x2a19",
		"2A37",
		"{0000180D-0000-1000-8000-00805F9B34FB}",
		"6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		0x1818,
		json.Number("42"),
	}

	for _, in := range inputs {
		once, err := NormalizeUUID(in)
		require.NoError(t, err)
		twice, err := NormalizeUUID(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "normalization of %v must be idempotent", in)
	}
}

// All spellings of one entity must share a canonical form
func TestNormalizeUUID_Consistency(t *testing.T) {
	variants := []any{
		"heart_rate",
		"180d",
		"0x180d",
		"0x180D",
		0x180d,
		"0000180d-0000-1000-8000-00805f9b34fb",
		"{0000180d-0000-1000-8000-00805f9b34fb}",
	}

	expected := "0000180d-0000-1000-8000-00805f9b34fb"
	for _, v := range variants {
		result, err := NormalizeUUID(v)
		require.NoError(t, err)
		assert.Equal(t, expected, result, "%v should normalize to %s", v, expected)
	}
}

func TestWireUUID(t *testing.T) {
	wire, err := WireUUID("battery_level")
	require.NoError(t, err)
	assert.Equal(t, "{00002a19-0000-1000-8000-00805f9b34fb}", wire)

	_, err = WireUUID("nope")
	assert.ErrorIs(t, err, ErrInvalidIdentifierFormat)

	// BraceUUID is a pure format adapter
	assert.Equal(t, "{anything}", BraceUUID("anything"))
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "2a19", ShortenUUID("00002a19-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "12345678-0000-1000-8000-00805f9b34fb", ShortenUUID("12345678-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", ShortenUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
}

func TestKnownName(t *testing.T) {
	assert.Equal(t, "battery_level", KnownName("00002a19-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "heart_rate", KnownName("0000180d-0000-1000-8000-00805f9b34fb"))
	assert.Equal(t, "", KnownName("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
}

func TestIdentifier_UnmarshalJSON(t *testing.T) {
	var ids []Identifier
	require.NoError(t, json.Unmarshal([]byte(`["heart_rate", 6157, null]`), &ids))
	require.Len(t, ids, 3)

	first, err := ids[0].Normalize()
	require.NoError(t, err)
	second, err := ids[1].Normalize()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, ids[2].IsZero())

	var bad Identifier
	err = json.Unmarshal([]byte(`{"uuid": "180d"}`), &bad)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
