package fieldtype

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Option is one entry of a select/multi_select options list.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Color string `json:"color,omitempty"`
}

// ParseOptions reads config.options, accepting plain strings or {id,label,color} objects.
func ParseOptions(cfg map[string]any) []Option {
	raw, ok := cfg["options"].([]any)
	if !ok {
		return nil
	}
	out := make([]Option, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, Option{ID: v, Label: v})
		case map[string]any:
			opt := Option{}
			opt.ID, _ = v["id"].(string)
			opt.Label, _ = v["label"].(string)
			opt.Color, _ = v["color"].(string)
			if opt.ID == "" {
				opt.ID = opt.Label
			}
			if opt.Label == "" {
				opt.Label = opt.ID
			}
			if opt.ID != "" {
				out = append(out, opt)
			}
		}
	}
	return out
}

// OptionLabel returns the label of the option matching value by id or label.
func OptionLabel(cfg map[string]any, value string) string {
	for _, o := range ParseOptions(cfg) {
		if o.ID == value || o.Label == value {
			return o.Label
		}
	}
	return value
}

func hasOption(opts []Option, s string) bool {
	for _, o := range opts {
		if o.ID == s || o.Label == s {
			return true
		}
	}
	return false
}

// Bool reads a loosely typed flag.
func Bool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	case float64:
		return b != 0
	case int:
		return b != 0
	case int64:
		return b != 0
	}
	return false
}

// ToDecimal converts JSON and driver numeric representations to a decimal.
func ToDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	case []byte:
		d, err := decimal.NewFromString(strings.TrimSpace(string(n)))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

// ToFloat is ToDecimal narrowed to float64.
func ToFloat(v any) (float64, bool) {
	d, ok := ToDecimal(v)
	if !ok {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// Encode converts a validated value into the driver parameter for its storage kind.
// Timestamps are returned as time.Time; dialects that store text convert them.
func (d Descriptor) Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch d.Storage {
	case StorageDocument:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s value: %w", d.Type, err)
		}
		return string(b), nil
	case StorageInteger:
		n, ok := ToDecimal(v)
		if !ok {
			return nil, fmt.Errorf("encode %s value: not a number", d.Type)
		}
		return n.IntPart(), nil
	case StorageNumeric:
		n, ok := ToDecimal(v)
		if !ok {
			return nil, fmt.Errorf("encode %s value: not a number", d.Type)
		}
		// text parameters cast into NUMERIC on both drivers
		return n.String(), nil
	case StorageDate:
		t, ok := ParseDate(v)
		if !ok {
			return nil, fmt.Errorf("encode %s value: not a date", d.Type)
		}
		return t.Format(DateLayout), nil
	case StorageTimestamp:
		t, ok := ParseDateTime(v)
		if !ok {
			return nil, fmt.Errorf("encode %s value: not a timestamp", d.Type)
		}
		return t.UTC(), nil
	}
	return v, nil
}
