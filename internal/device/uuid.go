package device

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/webble/internal/bledb"
)

// BaseUUIDSuffix completes a 16/32-bit short code into the Bluetooth base UUID.
const BaseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

var (
	shortUUIDPattern = regexp.MustCompile(`^(0x)?[0-9a-f]{1,8}$`)
	fullUUIDPattern  = regexp.MustCompile(`^\{?[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\}?$`)
)

// NormalizeUUID converts an identifier to its canonical form, the lowercase
// 8-4-4-4-12 GUID string. Accepted inputs, tried in order:
//
//   - a well-known alias such as "battery_level" or "heart_rate"
//   - a hex short code of 1-8 digits, optionally 0x-prefixed ("2a19", "0x2a19")
//   - a positive integer (Go integer types, or an integral float64/json.Number)
//   - a full GUID, optionally wrapped in braces, in any letter case
//
// Short codes expand to xxxxxxxx-0000-1000-8000-00805f9b34fb. Normalization
// is idempotent. Any other input fails with ErrInvalidIdentifierFormat.
func NormalizeUUID(v any) (string, error) {
	switch id := v.(type) {
	case string:
		return normalizeString(id)
	case Identifier:
		return NormalizeUUID(id.raw)
	case *Identifier:
		if id == nil {
			return "", invalidUUID(v)
		}
		return NormalizeUUID(id.raw)
	}

	code, ok := shortCode(v)
	if !ok {
		return "", invalidUUID(v)
	}
	return expandShort(code), nil
}

// MustNormalizeUUID is like NormalizeUUID but panics on invalid input.
// Intended for package-level constants and tests.
func MustNormalizeUUID(v any) string {
	s, err := NormalizeUUID(v)
	if err != nil {
		panic(err)
	}
	return s
}

// BraceUUID wraps a canonical identifier in the brace-delimited form the
// native host expects. It does not validate its input.
func BraceUUID(canonical string) string {
	return "{" + canonical + "}"
}

// WireUUID normalizes an identifier and returns its native wire form.
func WireUUID(v any) (string, error) {
	canonical, err := NormalizeUUID(v)
	if err != nil {
		return "", err
	}
	return BraceUUID(canonical), nil
}

// ShortenUUID returns the 16-bit short form for identifiers built on the
// Bluetooth base UUID, and the canonical form otherwise. Used for display.
func ShortenUUID(canonical string) string {
	if strings.HasSuffix(canonical, BaseUUIDSuffix) && strings.HasPrefix(canonical, "0000") {
		return canonical[4:8]
	}
	return canonical
}

// KnownName returns the well-known alias of a canonical identifier, or "".
func KnownName(canonical string) string {
	short := ShortenUUID(canonical)
	if len(short) != 4 {
		return ""
	}
	code, err := strconv.ParseUint(short, 16, 16)
	if err != nil {
		return ""
	}
	return bledb.LookupCode(uint16(code))
}

func normalizeString(s string) (string, error) {
	if code, ok := bledb.LookupAlias(s); ok {
		return expandShort(uint64(code)), nil
	}

	lower := strings.ToLower(s)
	if shortUUIDPattern.MatchString(lower) {
		code, err := strconv.ParseUint(strings.TrimPrefix(lower, "0x"), 16, 32)
		if err == nil && code > 0 {
			return expandShort(code), nil
		}
		// "0" and "0x0" are not valid codes; they cannot be full GUIDs either
		return "", invalidUUID(s)
	}

	if fullUUIDPattern.MatchString(lower) {
		stripped := strings.NewReplacer("{", "", "}", "").Replace(lower)
		u, err := ble.Parse(stripped)
		if err != nil || len(u) != 16 {
			return "", invalidUUID(s)
		}
		hex := strings.ReplaceAll(u.String(), "-", "")
		if len(hex) != 32 {
			return "", invalidUUID(s)
		}
		return hex[0:8] + "-" + hex[8:12] + "-" + hex[12:16] + "-" + hex[16:20] + "-" + hex[20:32], nil
	}

	return "", invalidUUID(s)
}

func expandShort(code uint64) string {
	return fmt.Sprintf("%08x%s", code, BaseUUIDSuffix)
}

// shortCode extracts a positive 32-bit code from numeric inputs.
func shortCode(v any) (uint64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if f <= 0 || f > math.MaxUint32 || f != math.Trunc(f) {
		return 0, false
	}
	return uint64(f), true
}

func invalidUUID(v any) error {
	return fmt.Errorf("%w: %v", ErrInvalidIdentifierFormat, describe(v))
}

func describe(v any) any {
	switch id := v.(type) {
	case Identifier:
		return id.String()
	case *Identifier:
		if id == nil {
			return "<nil>"
		}
		return id.String()
	}
	return v
}
