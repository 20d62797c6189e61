package scratchpad

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CallKey computes the canonical identity of a tool invocation from its name
// and arguments. Two calls with the same name and argument set produce the
// same key regardless of map iteration order. Unserializable values degrade
// to a best-effort string representation rather than failing.
func CallKey(name string, args map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteString("(")
	sb.WriteString(canonicalMap(args))
	sb.WriteString(")")
	return sb.String()
}

func canonicalMap(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+canonicalValue(m[k]))
	}
	return strings.Join(parts, ",")
}

// canonicalValue renders a single argument value deterministically. Nested
// maps are sorted by key; everything else round-trips through JSON, falling
// back to fmt formatting for values JSON cannot express.
func canonicalValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case map[string]interface{}:
		return "{" + canonicalMap(val) + "}"
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, canonicalValue(item))
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
