// Package fingerprint derives a canonical digest for a point's
// dimensions map. Two maps with the same entries always produce the
// same digest regardless of iteration order.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// NoDimensions is the stored digest for a point ingested with no
// dimensions map at all. It is distinct from the digest of an empty
// map, so "no dimensions" and "empty dimensions" never collide.
const NoDimensions = "null"

// Dimensions returns the canonical digest of dims. The digest is the
// hex sha256 of the sorted "key:value" rendering, which is exactly 64
// characters. Any input is accepted; values that cannot be rendered
// canonically hash as empty strings rather than panicking.
func Dimensions(dims map[string]any) string {
	if dims == nil {
		return NoDimensions
	}

	keys := make([]string, 0, len(dims))
	for k := range dims {
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+ValueString(dims[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ValueString renders a dimension value in its literal string form:
// scalars via strconv, json.Number verbatim, nil as "null", anything
// else as canonical JSON.
func ValueString(v any) string {
	switch value := v.(type) {
	case nil:
		return "null"
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32)
	case int:
		return strconv.Itoa(value)
	case int32:
		return strconv.FormatInt(int64(value), 10)
	case int64:
		return strconv.FormatInt(value, 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	case json.Number:
		return value.String()
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
