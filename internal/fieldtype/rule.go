package fieldtype

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ruleSample is a zero value of the Go type a rule sees as `value`.
// Nil means the type is open.
func (d Descriptor) ruleSample() any {
	switch d.Storage {
	case StorageNumeric, StorageInteger:
		return float64(0)
	case StorageBoolean:
		return false
	case StorageText, StorageDate, StorageTimestamp:
		return ""
	case StorageDocument:
		switch d.Type {
		case Select:
			return ""
		case Geolocation:
			return map[string]any{}
		}
		return []any{}
	}
	return nil
}

// CompileRule compiles a column rule. Rules see the written value as `value`,
// typed by the column's storage, and the whole row as `row`. They must
// evaluate to a boolean.
func (d Descriptor) CompileRule(src string) (*vm.Program, error) {
	env := map[string]any{"row": map[string]any{}}
	sample := d.ruleSample()
	if sample != nil {
		env["value"] = sample
	}
	// Env has to come first: it switches strict mode back on.
	opts := []expr.Option{expr.Env(env), expr.AsBool()}
	if sample == nil {
		opts = append(opts, expr.AllowUndefinedVariables())
	}
	prog, err := expr.Compile(src, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile rule: %w", err)
	}
	return prog, nil
}

// RuleValue converts a validated value to the type its rule was compiled for.
func (d Descriptor) RuleValue(v any) any {
	switch d.Storage {
	case StorageNumeric, StorageInteger:
		if f, ok := ToFloat(v); ok {
			return f
		}
	case StorageBoolean:
		return Bool(v)
	case StorageDate:
		if t, ok := v.(time.Time); ok {
			return t.Format(DateLayout)
		}
	case StorageTimestamp:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return v
}
