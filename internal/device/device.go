package device

import (
	"encoding/json"
	"strings"
)

// ScanResult is the payload of a scan-result push from the native host.
type ScanResult struct {
	BluetoothAddress json.RawMessage `json:"bluetoothAddress"`
	RSSI             int             `json:"rssi"`
	LocalName        string          `json:"localName"`
	ServiceUUIDs     []string        `json:"serviceUuids"`
}

// Services returns the set of canonical advertised service identifiers.
// Identifiers that fail to normalize are skipped.
func (r ScanResult) Services() map[string]struct{} {
	set := make(map[string]struct{}, len(r.ServiceUUIDs))
	for _, raw := range r.ServiceUUIDs {
		if canonical, err := NormalizeUUID(raw); err == nil {
			set[canonical] = struct{}{}
		}
	}
	return set
}

// Summary converts a scan result into the value resolved to the caller.
func (r ScanResult) Summary() DeviceSummary {
	return DeviceSummary{
		Address: r.BluetoothAddress,
		RSSI:    r.RSSI,
		Name:    r.LocalName,
	}
}

// DeviceSummary is the result of a successful discovery.
type DeviceSummary struct {
	Address json.RawMessage `json:"address"`
	RSSI    int             `json:"__rssi"`
	Name    string          `json:"name"`
}

// Characteristic is a characteristic descriptor as enumerated by the native
// host. Only the uuid is interpreted; the full object is passed through to
// callers unchanged.
type Characteristic struct {
	UUID string
	raw  json.RawMessage
}

// NewCharacteristic builds a descriptor that carries only a uuid.
func NewCharacteristic(uuid string) Characteristic {
	raw, _ := json.Marshal(map[string]string{"uuid": uuid})
	return Characteristic{UUID: uuid, raw: raw}
}

func (c *Characteristic) UnmarshalJSON(data []byte) error {
	var head struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	c.UUID = head.UUID
	c.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (c Characteristic) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return json.Marshal(map[string]string{"uuid": c.UUID})
	}
	return c.raw, nil
}

// Matches reports whether the characteristic's uuid normalizes to canonical.
func (c Characteristic) Matches(canonical string) bool {
	own, err := NormalizeUUID(c.UUID)
	return err == nil && own == canonical
}

// GattAddress strips the colon separators from a Bluetooth address, the form
// the native host expects in connect commands.
func GattAddress(address string) string {
	return strings.ReplaceAll(address, ":", "")
}
