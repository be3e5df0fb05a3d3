package device

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	svcA = "0000180d-0000-1000-8000-00805f9b34fb"
	svcB = "{0000180F-0000-1000-8000-00805F9B34FB}"
	svcC = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
)

func scanResult(name string, services ...string) ScanResult {
	return ScanResult{
		BluetoothAddress: json.RawMessage(`"AA:BB:CC:DD:EE:FF"`),
		RSSI:             -60,
		LocalName:        name,
		ServiceUUIDs:     services,
	}
}

func TestDeviceFilter_Match(t *testing.T) {
	dev := scanResult("FooBar", svcA, svcB)

	tests := []struct {
		name     string
		filter   DeviceFilter
		device   ScanResult
		expected bool
	}{
		{
			name:     "subset of advertised services matches",
			filter:   DeviceFilter{Services: []Identifier{ID(svcA)}},
			device:   dev,
			expected: true,
		},
		{
			name:     "alias and short code forms match advertised GUIDs",
			filter:   DeviceFilter{Services: []Identifier{ID("heart_rate"), ID("0x180f")}},
			device:   dev,
			expected: true,
		},
		{
			name:     "missing one service fails",
			filter:   DeviceFilter{Services: []Identifier{ID(svcA), ID(svcC)}},
			device:   dev,
			expected: false,
		},
		{
			name:     "exact name",
			filter:   DeviceFilter{Name: "FooBar"},
			device:   dev,
			expected: true,
		},
		{
			name:     "name is not a prefix match",
			filter:   DeviceFilter{Name: "Foo"},
			device:   dev,
			expected: false,
		},
		{
			name:     "name prefix",
			filter:   DeviceFilter{NamePrefix: "Foo"},
			device:   dev,
			expected: true,
		},
		{
			name:     "name prefix does not match infix",
			filter:   DeviceFilter{NamePrefix: "Foo"},
			device:   scanResult("BarFoo", svcA),
			expected: false,
		},
		{
			name:     "all criteria must hold",
			filter:   DeviceFilter{Services: []Identifier{ID(svcA)}, NamePrefix: "Baz"},
			device:   dev,
			expected: false,
		},
		{
			name:     "empty filter matches anything",
			filter:   DeviceFilter{},
			device:   scanResult(""),
			expected: true,
		},
		{
			name:     "unparseable advertised identifiers are ignored",
			filter:   DeviceFilter{Services: []Identifier{ID(svcA)}},
			device:   scanResult("x", "garbage", svcA),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := tt.filter.Match(tt.device)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestDeviceFilter_Match_InvalidService(t *testing.T) {
	_, err := DeviceFilter{Services: []Identifier{ID("not-a-uuid")}}.Match(scanResult("x"))
	assert.ErrorIs(t, err, ErrInvalidIdentifierFormat)
}

func TestNewFilterSet(t *testing.T) {
	t.Run("filters required unless accepting all", func(t *testing.T) {
		_, err := NewFilterSet(RequestDeviceOptions{})
		assert.ErrorIs(t, err, ErrMissingFilters)
	})

	t.Run("accept all without filters", func(t *testing.T) {
		fs, err := NewFilterSet(RequestDeviceOptions{AcceptAllDevices: true})
		require.NoError(t, err)
		assert.True(t, fs.Match(scanResult("anything")))
	})

	t.Run("empty filter list is present but matches nothing", func(t *testing.T) {
		fs, err := NewFilterSet(RequestDeviceOptions{Filters: []DeviceFilter{}})
		require.NoError(t, err)
		assert.False(t, fs.Match(scanResult("anything", svcA)))
	})

	t.Run("any filter in the list is enough", func(t *testing.T) {
		fs, err := NewFilterSet(RequestDeviceOptions{Filters: []DeviceFilter{
			{Name: "Other"},
			{Services: []Identifier{ID("battery_service")}},
		}})
		require.NoError(t, err)
		assert.True(t, fs.Match(scanResult("FooBar", svcB)))
		assert.False(t, fs.Match(scanResult("FooBar", svcA)))
	})

	t.Run("invalid filter service fails up front", func(t *testing.T) {
		_, err := NewFilterSet(RequestDeviceOptions{Filters: []DeviceFilter{
			{Services: []Identifier{ID("bogus")}},
		}})
		assert.ErrorIs(t, err, ErrInvalidIdentifierFormat)
	})
}

func TestRequestDeviceOptions_JSON(t *testing.T) {
	tests := []struct {
		name       string
		json       string
		filtersNil bool
	}{
		{name: "absent filters", json: `{"acceptAllDevices": true}`, filtersNil: true},
		{name: "null filters", json: `{"filters": null}`, filtersNil: true},
		{name: "empty filters", json: `{"filters": []}`, filtersNil: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts RequestDeviceOptions
			require.NoError(t, json.Unmarshal([]byte(tt.json), &opts))
			assert.Equal(t, tt.filtersNil, opts.Filters == nil)
		})
	}
}

func TestScanResult_Summary(t *testing.T) {
	s := scanResult("FooBar", svcA).Summary()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"address": "AA:BB:CC:DD:EE:FF", "__rssi": -60, "name": "FooBar"}`, string(data))
}

func TestCharacteristic_PassThrough(t *testing.T) {
	raw := `{"uuid": "{00002A19-0000-1000-8000-00805F9B34FB}", "properties": {"read": true}}`
	var c Characteristic
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	assert.True(t, c.Matches(MustNormalizeUUID("battery_level")))
	assert.False(t, c.Matches(MustNormalizeUUID("heart_rate")))

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestGattAddress(t *testing.T) {
	assert.Equal(t, "AABBCCDDEEFF", GattAddress("AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "AABBCC", GattAddress("AABBCC"))
}

func TestNativeError(t *testing.T) {
	assert.Equal(t, "Device unreachable", (&NativeError{Payload: json.RawMessage(`"Device unreachable"`)}).Error())
	assert.Equal(t, `{"code":5}`, (&NativeError{Payload: json.RawMessage(`{"code":5}`)}).Error())
	assert.True(t, IsNativeError(&NativeError{}))
}

func TestNotFoundError_Is(t *testing.T) {
	err := &NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}}
	assert.ErrorIs(t, err, ErrCharacteristicNotFound)
	assert.NotErrorIs(t, err, ErrServiceNotFound)
	assert.Equal(t, "characteristic 2a37 not found in service 180d", err.Error())
}
