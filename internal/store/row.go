package store

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Row value accessors. Driver values come back loosely typed (numerics and
// jsonb as strings), so readers coerce.

// StringVal returns the row value as a string, or "" when absent or NULL.
func StringVal(row Row, column string) string {
	switch typed := row[column].(type) {
	case string:
		return typed
	case nil:
		return ""
	case time.Time:
		return typed.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(typed, 10)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return ""
	}
}

// FloatVal returns the row value as a float64, or 0 when not numeric.
func FloatVal(row Row, column string) float64 {
	switch typed := row[column].(type) {
	case float64:
		return typed
	case float32:
		return float64(typed)
	case int64:
		return float64(typed)
	case int:
		return float64(typed)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// IntVal returns the row value as an int, or 0 when not numeric.
func IntVal(row Row, column string) int {
	switch typed := row[column].(type) {
	case int64:
		return int(typed)
	case int:
		return typed
	case float64:
		return int(typed)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

// BoolVal returns the row value as a bool, or false when not boolean.
func BoolVal(row Row, column string) bool {
	switch typed := row[column].(type) {
	case bool:
		return typed
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(typed))
		return err == nil && parsed
	default:
		return false
	}
}

// TimeVal returns the row value as a time, or the zero time when absent.
func TimeVal(row Row, column string) time.Time {
	switch typed := row[column].(type) {
	case time.Time:
		return typed
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999-07", "2006-01-02"} {
			if parsed, err := time.Parse(layout, strings.TrimSpace(typed)); err == nil {
				return parsed
			}
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}

// JSONVal decodes a jsonb column into a generic value, or nil.
func JSONVal(row Row, column string) any {
	raw, ok := row[column].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil
	}
	return decoded
}

// IsNullVal reports whether the column is absent or NULL.
func IsNullVal(row Row, column string) bool {
	value, ok := row[column]
	return !ok || value == nil
}
