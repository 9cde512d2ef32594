package store

import (
	"encoding/json"
	"fmt"
	"time"

	"dyntables/internal/fieldtype"
)

// DecodeJSON decodes a JSON column value into dst. Drivers return JSON as
// string, []byte or an already-decoded value depending on the column type.
func DecodeJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("re-encode json: %w", err)
		}
		return json.Unmarshal(b, dst)
	}
}

// AsString returns v as a string, or "" for nil.
func AsString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

// AsBool reads booleans stored natively or as integers.
func AsBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case float64:
		return b != 0
	}
	return false
}

// AsInt64 reads integer values.
func AsInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// AsTime reads timestamps stored natively or as text.
func AsTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{SQLiteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// BindValue encodes v for a column with the given descriptor as a driver parameter.
func BindValue(d Dialect, desc fieldtype.Descriptor, v any) (any, error) {
	enc, err := desc.Encode(v)
	if err != nil {
		return nil, err
	}
	if t, ok := enc.(time.Time); ok {
		return d.BindTime(t), nil
	}
	return enc, nil
}
