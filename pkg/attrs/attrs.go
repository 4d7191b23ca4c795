// Package attrs works with slog-style key/value attribute slices
// ([key1, value1, key2, value2, ...]) shared by audit logging and tracing.
package attrs

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// ExtractString extracts a string value from a key-value attribute slice.
// Returns empty string if the key is not found or the value is not a string.
func ExtractString(attrs []any, key string) string {
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		if k == key {
			if v, ok := attrs[i+1].(string); ok {
				return v
			}
		}
	}
	return ""
}

// ToOTel converts a key-value attribute slice into span attributes.
// Non-string keys are skipped; unknown value types are formatted with %v.
func ToOTel(attrs []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)/2)
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok {
			continue
		}
		switch v := attrs[i+1].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case int64:
			out = append(out, attribute.Int64(k, v))
		case fmt.Stringer:
			out = append(out, attribute.String(k, v.String()))
		default:
			out = append(out, attribute.String(k, fmt.Sprintf("%v", v)))
		}
	}
	return out
}
