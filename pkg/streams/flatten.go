package streams

import (
	"strings"
	"unicode"
)

// Flatten turns a nested search row into dotted snake_case keys:
// {"adGroup": {"costMicros": "5"}} becomes {"ad_group.cost_micros": "5"}.
// Lists are kept as values.
func Flatten(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	flattenInto(out, "", row)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, node map[string]interface{}) {
	for key, value := range node {
		name := SnakeCase(key)
		if prefix != "" {
			name = prefix + "." + name
		}
		if child, ok := value.(map[string]interface{}); ok {
			flattenInto(out, name, child)
			continue
		}
		out[name] = value
	}
}

// SnakeCase converts a lowerCamelCase REST field name to its GAQL spelling
func SnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
