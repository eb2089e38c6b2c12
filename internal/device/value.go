package device

import (
	"strconv"
	"strings"
)

// FirstValue returns the logical value behind a raw stored value.
//
// Controllers return point values either as a scalar or wrapped in a short
// list whose first element is the value. A nil value, an empty list, or a
// list whose first element is nil all mean "no value".
func FirstValue(raw any) (any, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case []any:
		if len(v) == 0 || v[0] == nil {
			return nil, false
		}
		return v[0], true
	default:
		return raw, true
	}
}

// FirstNumericValue returns the logical value behind raw coerced to a
// float64, when possible.
func FirstNumericValue(raw any) (float64, bool) {
	first, ok := FirstValue(raw)
	if !ok {
		return 0, false
	}
	return Numeric(first)
}

// Numeric coerces the scalar types a controller payload may carry into a
// float64: JSON numbers, integer types, booleans, and numeric strings.
func Numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
