package mrf

import (
	"fmt"
	"strconv"
)

// toFloat coerces a decoded JSON value to a float64. Handles numbers and
// numeric strings; anything else fails.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// asString renders a decoded JSON scalar as a string. Integral floats print
// without a fraction so numeric billing codes round-trip cleanly.
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// toStringList promotes a scalar to a singleton list and renders each
// element as a string. Order is preserved.
func toStringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, asString(e))
		}
		return out
	default:
		return []string{asString(t)}
	}
}
