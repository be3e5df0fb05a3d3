package device

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Identifier is a loosely typed service/characteristic identifier as callers
// supply it: an alias, a hex short code, a full GUID string or a number. It
// keeps the caller's value so that it can be normalized lazily and echoed
// back in error messages.
type Identifier struct {
	raw any
}

// ID wraps a value as an Identifier.
func ID(v any) Identifier {
	return Identifier{raw: v}
}

// IsZero reports whether the identifier was absent (missing or JSON null).
func (id Identifier) IsZero() bool {
	return id.raw == nil
}

// Normalize returns the canonical form.
func (id Identifier) Normalize() (string, error) {
	return NormalizeUUID(id.raw)
}

// Wire returns the brace-wrapped canonical form sent to the native host.
func (id Identifier) Wire() (string, error) {
	return WireUUID(id.raw)
}

func (id Identifier) String() string {
	if id.raw == nil {
		return ""
	}
	return fmt.Sprint(id.raw)
}

// UnmarshalJSON accepts JSON strings and numbers; null leaves the identifier zero.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		id.raw = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	switch v.(type) {
	case string, json.Number:
		id.raw = v
		return nil
	default:
		return fmt.Errorf("%w: identifier must be a string or a number, got %s", ErrInvalidArgument, string(data))
	}
}

func (id Identifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.raw)
}
