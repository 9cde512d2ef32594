package schema

import (
	"context"
	"fmt"
	"strings"

	"dyntables/internal/apperr"
	"dyntables/internal/fieldtype"
	"dyntables/internal/formula"
	"dyntables/internal/ident"
	"dyntables/internal/metadata"
)

// ColumnInput defines a new column. An empty Name is derived from Label.
type ColumnInput struct {
	Name     string         `json:"name"`
	Label    string         `json:"label"`
	Type     string         `json:"type"`
	Required bool           `json:"required"`
	Position *int           `json:"position,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

func (in *ColumnInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Label = strings.TrimSpace(in.Label)
	if in.Name == "" {
		in.Name = ident.Slugify(in.Label)
	}
	if in.Label == "" {
		in.Label = in.Name
	}
	if in.Config == nil {
		in.Config = map[string]any{}
	}
}

// validateName checks a column storage name.
func validateName(name string) *apperr.ErrorDetail {
	switch {
	case name == "":
		return &apperr.ErrorDetail{Field: "name", Rule: "required", Message: "column name is required"}
	case ident.IsSystemColumn(name):
		return &apperr.ErrorDetail{Field: "name", Rule: "system", Message: fmt.Sprintf("%q is a system column", name)}
	case !ident.IsValidColumnName(name):
		return &apperr.ErrorDetail{Field: "name", Rule: "pattern",
			Message: fmt.Sprintf("%q must match ^[a-z][a-z0-9_]*$ and not be a reserved word", name)}
	}
	return nil
}

// validateColumn checks a column definition against the table it joins.
// siblings excludes the column itself.
func (m *Manager) validateColumn(ctx context.Context, tenantID string, c *metadata.Column, siblings []*metadata.Column) error {
	var details []apperr.ErrorDetail
	if d := validateName(c.Name); d != nil {
		details = append(details, *d)
	} else if metadata.ColumnByName(siblings, c.Name) != nil {
		return apperr.Conflict(fmt.Sprintf("column %q already exists", c.Name))
	}
	if !fieldtype.IsKnown(c.Type) {
		details = append(details, apperr.ErrorDetail{Field: "type", Rule: "enum", Message: fmt.Sprintf("unknown column type %q", c.Type)})
	}
	if len(details) > 0 {
		return apperr.Validation(details)
	}
	if c.Required && fieldtype.Resolve(c.Type, c.Config).Virtual {
		return apperr.Invalid("required", "virtual", "computed columns cannot be required")
	}
	if err := m.validateConfig(ctx, tenantID, c, siblings); err != nil {
		return err
	}
	if rule, ok := c.Config["rule"].(string); ok && rule != "" {
		if _, err := fieldtype.Resolve(c.Type, c.Config).CompileRule(rule); err != nil {
			return apperr.Invalid("config.rule", "expression", fmt.Sprintf("invalid rule: %v", err))
		}
	}
	return nil
}

// validateConfig checks computed column configs. Referenced tables must belong
// to the same tenant.
func (m *Manager) validateConfig(ctx context.Context, tenantID string, c *metadata.Column, siblings []*metadata.Column) error {
	switch c.Type {
	case fieldtype.Relation:
		cfg, err := c.RelationConfig()
		if err != nil {
			return apperr.Invalid("config", "format", err.Error())
		}
		if cfg.TargetTable == "" {
			return apperr.Invalid("config.targetTable", "required", "relation needs a target table")
		}
		target, err := m.loadTable(ctx, tenantID, cfg.TargetTable)
		if err != nil {
			return apperr.Invalid("config.targetTable", "exists", fmt.Sprintf("target table %s not found", cfg.TargetTable))
		}
		if cfg.DisplayField != "" && !ident.IsSystemColumn(cfg.DisplayField) {
			cols, err := m.repo.ListColumns(ctx, target.ID)
			if err != nil {
				return apperr.Storage("list columns", err)
			}
			if findColumn(cols, cfg.DisplayField) == nil {
				return apperr.Invalid("config.displayField", "exists", fmt.Sprintf("display field %q not found", cfg.DisplayField))
			}
		}

	case fieldtype.Lookup:
		cfg, err := c.LookupConfig()
		if err != nil {
			return apperr.Invalid("config", "format", err.Error())
		}
		rel := findColumn(siblings, cfg.RelationField)
		if rel == nil || rel.Type != fieldtype.Relation {
			return apperr.Invalid("config.relationField", "exists", fmt.Sprintf("relation field %q not found", cfg.RelationField))
		}
		if cfg.TargetField == "" {
			return apperr.Invalid("config.targetField", "required", "lookup needs a target field")
		}

	case fieldtype.Rollup:
		cfg, err := c.RollupConfig()
		if err != nil {
			return apperr.Invalid("config", "format", err.Error())
		}
		if _, err := m.loadTable(ctx, tenantID, cfg.SourceTable); err != nil {
			return apperr.Invalid("config.sourceTable", "exists", fmt.Sprintf("source table %s not found", cfg.SourceTable))
		}
		if cfg.FilterBy.Field == "" {
			return apperr.Invalid("config.filterBy.field", "required", "rollup needs a filter field")
		}
		agg := cfg.NormalizedAggregation()
		if !metadata.IsValidAggregation(agg) {
			return apperr.Invalid("config.aggregation", "enum", fmt.Sprintf("unsupported aggregation %q", cfg.Aggregation))
		}
		if agg != metadata.AggCount && cfg.AggregationField == "" {
			return apperr.Invalid("config.aggregationField", "required", agg+" needs an aggregation field")
		}

	case fieldtype.Formula:
		cfg, err := c.FormulaConfig()
		if err != nil {
			return apperr.Invalid("config", "format", err.Error())
		}
		if _, err := formula.Parse(cfg.Formula); err != nil {
			return apperr.Invalid("config.formula", "syntax", err.Error())
		}
		switch cfg.ResultType {
		case "", fieldtype.Number, fieldtype.Currency, fieldtype.Text, fieldtype.LongText, fieldtype.Date, fieldtype.Boolean:
		default:
			return apperr.Invalid("config.resultType", "enum", fmt.Sprintf("unsupported result type %q", cfg.ResultType))
		}

	case fieldtype.Select, fieldtype.MultiSelect:
		if raw, ok := c.Config["options"]; ok && raw != nil {
			list, isList := raw.([]any)
			if !isList || len(fieldtype.ParseOptions(c.Config)) != len(list) {
				return apperr.Invalid("config.options", "format", "options must be a list of strings or {id,label} objects")
			}
		}
	}
	return nil
}

func findColumn(cols []*metadata.Column, nameOrID string) *metadata.Column {
	if c := metadata.ColumnByName(cols, nameOrID); c != nil {
		return c
	}
	return metadata.ColumnsByID(cols)[nameOrID]
}
