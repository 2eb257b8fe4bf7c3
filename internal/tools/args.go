// Package tools implements the six domain tool servers: finance, academic,
// attendance, student services, operations, and student self-service. Every
// handler persists through the store gateway and reports business failures
// in-band as {"success": false, "error": ...} maps.
package tools

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

func argString(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func requireString(args map[string]any, key string) (string, error) {
	s, ok := argString(args, key)
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return s, nil
}

func argFloat(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func requireFloat(args map[string]any, key string) (float64, error) {
	f, ok := argFloat(args, key)
	if !ok {
		return 0, fmt.Errorf("missing required argument %q", key)
	}
	return f, nil
}

// argInt accepts JSON numbers, which decode as float64.
func argInt(args map[string]any, key string) (int, bool) {
	f, ok := argFloat(args, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func requireInt(args map[string]any, key string) (int, error) {
	n, ok := argInt(args, key)
	if !ok {
		return 0, fmt.Errorf("missing required argument %q", key)
	}
	return n, nil
}

func argBool(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func argStringSlice(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func requireDate(args map[string]any, key string) (time.Time, error) {
	s, err := requireString(args, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("argument %q must be a YYYY-MM-DD date", key)
	}
	return t, nil
}

// failure wraps a business-rule rejection as an in-band result.
func failure(format string, a ...any) map[string]any {
	return map[string]any{"success": false, "error": fmt.Sprintf(format, a...)}
}

func schema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ string, extra ...map[string]any) map[string]any {
	p := map[string]any{"type": typ}
	for _, e := range extra {
		for k, v := range e {
			p[k] = v
		}
	}
	return p
}
