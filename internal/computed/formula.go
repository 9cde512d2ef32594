package computed

import (
	"context"
	"fmt"
	"strings"

	"dyntables/internal/formula"
	"dyntables/internal/instrument"
	"dyntables/internal/metadata"
)

type compiledFormula struct {
	col        *metadata.Column
	program    *formula.Program
	resultType string
}

// resolveFormulas evaluates formula columns in column order. Each result is
// visible to the formulas after it.
func (p *Pipeline) resolveFormulas(ctx context.Context, r *run, cols []*metadata.Column) {
	var compiled []compiledFormula
	for _, col := range cols {
		cfg, err := col.FormulaConfig()
		if err == nil && strings.TrimSpace(cfg.Formula) == "" {
			err = fmt.Errorf("empty formula")
		}
		var prog *formula.Program
		if err == nil {
			prog, err = formula.Compile(cfg.Formula)
		}
		if err != nil {
			p.fail(ctx, KindFormula, col, err)
			r.setAll(col, nil)
			continue
		}
		compiled = append(compiled, compiledFormula{col: col, program: prog, resultType: cfg.ResultType})
	}
	if len(compiled) == 0 {
		return
	}

	now := p.now()
	for _, row := range r.rows {
		env := formula.Env{Fields: p.formulaEnv(r.columns, row), Now: now}
		for _, f := range compiled {
			v, err := f.program.Eval(env)
			if err != nil {
				p.logger.DebugContext(ctx, "formula evaluation failed", "column", f.col.Name, "error", err)
				instrument.GetInstrumenter(ctx).ComputedFailure(KindFormula)
				row[f.col.Name] = nil
				env.Fields[f.col.Name] = nil
				continue
			}
			v = formula.Coerce(v, f.resultType)
			row[f.col.Name] = v
			env.Fields[f.col.Name] = v
			if aliasable(r.columns, row, f.col) {
				env.Fields[f.col.Label] = v
			}
		}
	}
}

// formulaEnv exposes the row to formulas. Relation objects read as their
// display values; columns are also reachable by label.
func (p *Pipeline) formulaEnv(cols []*metadata.Column, row map[string]any) map[string]any {
	env := make(map[string]any, len(row)*2)
	for k, v := range row {
		env[k] = flatten(displayValue(v))
	}
	for _, c := range cols {
		if aliasable(cols, row, c) {
			env[c.Label] = env[c.Name]
		}
	}
	return env
}

// aliasable reports whether c's label can stand in for its name without
// shadowing another field.
func aliasable(cols []*metadata.Column, row map[string]any, c *metadata.Column) bool {
	if c.Label == "" || c.Label == c.Name {
		return false
	}
	if _, ok := row[c.Label]; ok {
		return false
	}
	return metadata.ColumnByName(cols, c.Label) == nil
}

// flatten joins list values for display.
func flatten(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	parts := make([]string, 0, len(list))
	for _, item := range list {
		if item == nil {
			continue
		}
		parts = append(parts, fmt.Sprint(item))
	}
	return strings.Join(parts, ", ")
}
