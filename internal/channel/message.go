package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound message types.
const (
	TypeResponse     = "response"
	TypeValueChanged = "valueChangedNotification"
	TypeScanResult   = "scanResult"
)

const (
	reservedCommandField = "cmd"
	reservedIDField      = "_id"
)

// Message is an inbound message from the native host. Only the correlation
// and routing fields are decoded; Raw keeps the full object for sinks that
// need the rest of the payload.
type Message struct {
	Type           string          `json:"_type"`
	ID             *uint64         `json:"_id,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          json.RawMessage `json:"error,omitempty"`
	SubscriptionID json.RawMessage `json:"subscriptionId,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseMessage decodes a single inbound JSON object.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to parse native message: %w", err)
	}
	msg.Raw = append(json.RawMessage(nil), data...)
	return msg, nil
}

// HasError reports whether a response carries a non-null error field.
func (m Message) HasError() bool {
	return len(m.Error) > 0 && !bytes.Equal(bytes.TrimSpace(m.Error), []byte("null"))
}

// SubscriptionToken returns the routing key of a notification.
func (m Message) SubscriptionToken() string {
	return Token(m.SubscriptionID)
}

// Token turns an opaque JSON value (a subscription id or a gatt handle) into
// a comparable key. Equal JSON values produce equal tokens regardless of
// insignificant whitespace.
func Token(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(bytes.TrimSpace(raw))
	}
	return buf.String()
}

// IsReserved reports whether key collides with a correlation field of
// outgoing commands.
func IsReserved(key string) bool {
	return key == reservedCommandField || key == reservedIDField
}
