package climatixd

import "github.com/climatix-tools/climatixd/internal/device"

// FirstValue returns the logical value behind a raw snapshot entry.
//
// Controllers return point values either as a scalar or wrapped in a short
// list whose first element is the value; [Bridge.Snapshot] and
// [Bridge.Value] hand the payload through unaltered. FirstValue unwraps the
// convention: it returns the scalar itself, or the first element of a list.
// A nil value, an empty list, or a list whose first element is nil all mean
// "no value" and report false.
func FirstValue(raw any) (any, bool) {
	return device.FirstValue(raw)
}

// NumericValue returns the logical value behind a raw snapshot entry
// coerced to a float64, when possible.
//
// Payload scalars that coerce are JSON numbers, integer types, booleans
// (1/0) and numeric strings. Anything else reports false.
func NumericValue(raw any) (float64, bool) {
	return device.FirstNumericValue(raw)
}
