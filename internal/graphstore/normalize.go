package graphstore

import (
	"encoding/json"
	"strconv"
)

// NormalizeNumeric collapses the several shapes a graph-DB driver can
// return for a numeric property (pgx gives int64/int32/float64 depending
// on column type; JSONB round-trips can surface json.Number or string)
// into a single float64, so every caller decodes numeric node properties
// through one function rather than re-deriving driver-specific type
// switches (spec.md §4.1, §9: "dynamic property bags... become typed
// decoders... numeric fields pass through a single normalizer").
func NormalizeNumeric(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// NormalizeInt is NormalizeNumeric truncated to int, for fields that are
// always whole numbers (counts, indices).
func NormalizeInt(v any) (int, bool) {
	f, ok := NormalizeNumeric(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}
