// Package device provides the BLE domain model shared by the bridge:
//   - identifier normalization (aliases, short codes, full GUIDs) and the
//     brace-wrapped wire form used by the native host
//   - discovery filters and their matching rules
//   - scan results, device summaries and characteristic descriptors
//   - the caller-facing error taxonomy
package device
