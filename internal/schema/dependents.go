package schema

import (
	"context"
	"fmt"
	"regexp"

	"github.com/samber/lo"

	"dyntables/internal/apperr"
	"dyntables/internal/fieldtype"
	"dyntables/internal/formula"
	"dyntables/internal/metadata"
)

var templateRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+)\s*\}\}`)

// dependent is a computed column that reads another column.
type dependent struct {
	table  *metadata.Table
	column *metadata.Column
	via    string
}

func (d dependent) String() string {
	return fmt.Sprintf("%s.%s (%s %s)", d.table.Name, d.column.Name, d.column.Type, d.via)
}

// reference decides whether a config value points at the column under change.
type reference func(ref string) bool

// dependents lists every column of the tenant whose config reads c through
// ref. Formulas are only consulted when withFormulas is set.
func (m *Manager) dependents(ctx context.Context, tenantID string, t *metadata.Table, c *metadata.Column, ref reference, withFormulas bool) ([]dependent, error) {
	tables, err := m.repo.ListTables(ctx, tenantID)
	if err != nil {
		return nil, apperr.Storage("list tables", err)
	}
	var out []dependent
	for _, o := range tables {
		cols, err := m.repo.ListColumns(ctx, o.ID)
		if err != nil {
			return nil, apperr.Storage("list columns", err)
		}
		local := o.ID == t.ID
		for _, other := range cols {
			if other.ID == c.ID {
				continue
			}
			if via := readsColumn(t, other, cols, local, ref, withFormulas); via != "" {
				out = append(out, dependent{table: o, column: other, via: via})
			}
		}
	}
	return out, nil
}

// readsColumn reports which config key of other references the column, or "".
// siblings are the columns of other's own table; local is set when that table
// is the one holding the column.
func readsColumn(t *metadata.Table, other *metadata.Column, siblings []*metadata.Column, local bool, ref reference, withFormulas bool) string {
	switch other.Type {
	case fieldtype.Relation:
		cfg, err := other.RelationConfig()
		if err == nil && cfg.TargetTable == t.ID && ref(cfg.DisplayField) {
			return "displayField"
		}
	case fieldtype.Lookup:
		cfg, err := other.LookupConfig()
		if err != nil {
			return ""
		}
		if local && ref(cfg.RelationField) {
			return "relationField"
		}
		rel := findColumn(siblings, cfg.RelationField)
		if rel == nil {
			return ""
		}
		if relCfg, err := rel.RelationConfig(); err == nil && relCfg.TargetTable == t.ID && ref(cfg.TargetField) {
			return "targetField"
		}
	case fieldtype.Rollup:
		cfg, err := other.RollupConfig()
		if err != nil {
			return ""
		}
		if cfg.SourceTable == t.ID {
			switch {
			case ref(cfg.FilterBy.Field):
				return "filterBy.field"
			case ref(cfg.AggregationField):
				return "aggregationField"
			case cfg.FilterBy.And != nil && ref(cfg.FilterBy.And.Field):
				return "filterBy.and.field"
			}
		}
		if local {
			if s, ok := cfg.FilterBy.MatchesValue.(string); ok {
				for _, m := range templateRe.FindAllStringSubmatch(s, -1) {
					if ref(m[1]) {
						return "filterBy.matchesValue"
					}
				}
			}
		}
	case fieldtype.Formula:
		if !local || !withFormulas {
			return ""
		}
		cfg, err := other.FormulaConfig()
		if err != nil {
			return ""
		}
		refs, err := formula.References(cfg.Formula)
		if err == nil && lo.ContainsBy(refs, func(name string) bool { return ref(name) }) {
			return "formula"
		}
	}
	return ""
}

// checkDependents refuses to drop a column that lookups, rollups or relation
// display fields still read. Formulas read a dropped field as null.
func (m *Manager) checkDependents(ctx context.Context, tenantID string, t *metadata.Table, c *metadata.Column) error {
	deps, err := m.dependents(ctx, tenantID, t, c, func(ref string) bool {
		return ref != "" && (ref == c.Name || ref == c.ID)
	}, false)
	if err != nil {
		return err
	}
	return dependentsConflict(fmt.Sprintf("cannot delete column %q", c.Name), deps)
}

// checkRename refuses a rename while any computed column, formulas included,
// refers to the column by its old name.
func (m *Manager) checkRename(ctx context.Context, tenantID string, t *metadata.Table, c *metadata.Column) error {
	deps, err := m.dependents(ctx, tenantID, t, c, func(ref string) bool {
		return ref != "" && ref == c.Name
	}, true)
	if err != nil {
		return err
	}
	return dependentsConflict(fmt.Sprintf("cannot rename column %q", c.Name), deps)
}

func dependentsConflict(msg string, deps []dependent) error {
	if len(deps) == 0 {
		return nil
	}
	details := lo.Map(deps, func(d dependent, _ int) apperr.ErrorDetail {
		return apperr.ErrorDetail{Field: d.column.Name, Rule: "dependency", Message: d.String() + " depends on it"}
	})
	return apperr.Conflict(fmt.Sprintf("%s: %s depends on it", msg, deps[0]), details...)
}
