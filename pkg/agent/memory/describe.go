package memory

import (
	"fmt"
	"sort"
	"strings"
)

// DescribeCall renders a short human-readable label for a tool call, e.g.
// "AAPL income statements (quarterly), 4 periods". When none of the
// recognized fields are present it degrades to key=value pairs.
func DescribeCall(toolName string, args map[string]interface{}) string {
	var parts []string

	if ticker := stringField(args, "ticker", "symbol"); ticker != "" {
		parts = append(parts, strings.ToUpper(ticker))
	}

	parts = append(parts, humanizeToolName(toolName))

	if period := stringField(args, "period"); period != "" {
		parts = append(parts, fmt.Sprintf("(%s)", period))
	}
	if query := stringField(args, "query", "q"); query != "" {
		parts = append(parts, fmt.Sprintf("%q", query))
	}
	if limit, ok := numberField(args, "limit"); ok {
		parts = append(parts, fmt.Sprintf("%d periods", limit))
	}
	if from := stringField(args, "start_date", "from"); from != "" {
		to := stringField(args, "end_date", "to")
		if to != "" {
			parts = append(parts, fmt.Sprintf("%s to %s", from, to))
		} else {
			parts = append(parts, fmt.Sprintf("from %s", from))
		}
	}

	// Only the tool name made it in: nothing recognizable, fall back to
	// key=value pairs in stable order.
	if len(parts) == 1 && len(args) > 0 {
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
		}
	}

	return strings.Join(parts, " ")
}

func humanizeToolName(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

func stringField(args map[string]interface{}, names ...string) string {
	for _, name := range names {
		if v, ok := args[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func numberField(args map[string]interface{}, name string) (int, bool) {
	switch v := args[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
