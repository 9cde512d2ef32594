package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"dyntables/internal/apperr"
	"dyntables/internal/fieldtype"
	"dyntables/internal/ident"
	"dyntables/internal/instrument"
	"dyntables/internal/metadata"
)

// ruleCache keeps compiled column rules keyed by column type and source.
type ruleCache struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func newRuleCache() *ruleCache {
	return &ruleCache{programs: make(map[string]*vm.Program)}
}

func (rc *ruleCache) program(d fieldtype.Descriptor, src string) (*vm.Program, error) {
	key := string(d.Storage) + "/" + d.Type + "\x00" + src
	rc.mu.RLock()
	prog, ok := rc.programs[key]
	rc.mu.RUnlock()
	if ok {
		return prog, nil
	}
	prog, err := d.CompileRule(src)
	if err != nil {
		return nil, err
	}
	rc.mu.Lock()
	rc.programs[key] = prog
	rc.mu.Unlock()
	return prog, nil
}

// EvaluateRule runs a column rule. A false result is a violation.
func EvaluateRule(prog *vm.Program, value any, row map[string]any) (bool, error) {
	out, err := expr.Run(prog, map[string]any{"value": value, "row": row})
	if err != nil {
		return false, fmt.Errorf("evaluate rule: %w", err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// checkRule evaluates the column's config.rule, if any.
func (rc *ruleCache) checkRule(col *metadata.Column, value any, row map[string]any) *apperr.ErrorDetail {
	src, _ := col.Config["rule"].(string)
	if strings.TrimSpace(src) == "" {
		return nil
	}
	desc := col.Descriptor()
	prog, err := rc.program(desc, src)
	if err != nil {
		return &apperr.ErrorDetail{Field: col.Name, Rule: "rule", Message: err.Error()}
	}
	ok, err := EvaluateRule(prog, desc.RuleValue(value), row)
	if err != nil {
		return &apperr.ErrorDetail{Field: col.Name, Rule: "rule", Message: err.Error()}
	}
	if ok {
		return nil
	}
	msg, _ := col.Config["ruleMessage"].(string)
	if msg == "" {
		msg = fmt.Sprintf("%s failed its validation rule", col.Label)
	}
	return &apperr.ErrorDetail{Field: col.Name, Rule: "rule", Message: msg}
}

// write is a validated set of column values ready to bind.
type write struct {
	values map[string]any
	cols   map[string]*metadata.Column
}

// validateWrite checks a row write. On create every required column must be
// present; on update only the given columns are checked. current is the
// stored row for updates, nil on create.
func (e *Engine) validateWrite(ctx context.Context, cols []*metadata.Column, input, current map[string]any, isCreate bool) (*write, error) {
	_, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "rules", "validate_write")
	defer span.End()

	byName := make(map[string]*metadata.Column, len(cols))
	for _, c := range cols {
		byName[c.Name] = c
	}

	var details []apperr.ErrorDetail
	w := &write{values: make(map[string]any, len(input)), cols: make(map[string]*metadata.Column, len(input))}

	// 1. Keys
	for name, v := range input {
		c, ok := byName[name]
		switch {
		case ident.IsSystemColumn(name):
			details = append(details, apperr.ErrorDetail{Field: name, Rule: "readonly", Message: fmt.Sprintf("%s is set by the system", name)})
		case !ok:
			details = append(details, apperr.ErrorDetail{Field: name, Rule: "exists", Message: fmt.Sprintf("unknown column %s", name)})
		case c.IsVirtual():
			details = append(details, apperr.ErrorDetail{Field: name, Rule: "readonly", Message: fmt.Sprintf("%s is computed", name)})
		default:
			w.values[name] = normalizeInput(c, v)
			w.cols[name] = c
		}
	}

	// 2. Required and type checks
	for _, c := range cols {
		if c.IsVirtual() {
			continue
		}
		v, present := w.values[c.Name]
		if c.Required && (isCreate || present) && isBlank(v) {
			details = append(details, apperr.ErrorDetail{Field: c.Name, Rule: "required", Message: fmt.Sprintf("%s is required", c.Label)})
			continue
		}
		if !present || v == nil {
			continue
		}
		if err := c.Descriptor().Validate(v); err != nil {
			details = append(details, apperr.ErrorDetail{Field: c.Name, Rule: "type", Message: fmt.Sprintf("%s %v", c.Label, err)})
		}
	}
	if len(details) > 0 {
		span.SetStatus("error")
		return nil, apperr.Validation(details)
	}

	// 3. Column rules, against the row as it will be stored
	row := make(map[string]any, len(current)+len(w.values))
	for k, v := range current {
		row[k] = v
	}
	for k, v := range w.values {
		row[k] = v
	}
	for _, c := range cols {
		v, present := w.values[c.Name]
		if !present || v == nil {
			continue
		}
		if d := e.rules.checkRule(c, v, row); d != nil {
			details = append(details, *d)
		}
	}
	if len(details) > 0 {
		span.SetStatus("error")
		return nil, apperr.Validation(details)
	}
	span.SetStatus("ok")
	return w, nil
}

// normalizeInput accepts relation values in their rendered form.
func normalizeInput(c *metadata.Column, v any) any {
	if c.Type != fieldtype.Relation {
		return v
	}
	switch t := v.(type) {
	case map[string]any:
		if id, ok := t["relatedId"]; ok {
			return id
		}
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalizeInput(c, item)
		}
		return out
	case string:
		if t == "" {
			return nil
		}
	}
	return v
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	}
	return false
}
