package computed

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"dyntables/internal/ident"
	"dyntables/internal/metadata"
)

// Relation values are rendered as these objects.
const (
	RelatedIDKey    = "relatedId"
	DisplayValueKey = "displayFieldValue"
	DisplayFieldKey = "displayField"
)

func enrich(id string, value any, displayField string) map[string]any {
	return map[string]any{RelatedIDKey: id, DisplayValueKey: value, DisplayFieldKey: displayField}
}

// target is a resolved pointer to a field of another table.
type target struct {
	table *metadata.Table
	field Field
}

// resolveTarget loads the target table of a relation and the field to read.
// An empty field name picks the first readable column.
func (p *Pipeline) resolveTarget(ctx context.Context, tableID, field string) (target, error) {
	t, err := p.catalog.Table(ctx, tableID)
	if err != nil {
		return target{}, fmt.Errorf("target table %s: %w", tableID, err)
	}
	cols, err := p.catalog.Columns(ctx, t.ID)
	if err != nil {
		return target{}, fmt.Errorf("target columns %s: %w", tableID, err)
	}
	if field == "" {
		for _, c := range cols {
			if !c.IsVirtual() {
				return target{table: t, field: Field{Name: c.Name, Column: c}}, nil
			}
		}
		return target{table: t, field: Field{Name: ident.ColID}}, nil
	}
	f, ok := resolveField(cols, field)
	if !ok {
		return target{}, fmt.Errorf("field %q not found on table %s", field, tableID)
	}
	return target{table: t, field: f}, nil
}

// load returns a per-id value reader for tgt. In batched mode every id used
// by the rows is fetched up front with one query.
func (p *Pipeline) load(ctx context.Context, tgt target, ids []string) (func(string) (any, error), error) {
	if p.mode == Batched {
		values, err := p.fetcher.FetchFieldBatch(ctx, tgt.table.PhysicalName, tgt.field, lo.Uniq(ids))
		if err != nil {
			return nil, err
		}
		return func(id string) (any, error) { return values[id], nil }, nil
	}
	return func(id string) (any, error) {
		v, _, err := p.fetcher.FetchField(ctx, tgt.table.PhysicalName, tgt.field, id)
		return v, err
	}, nil
}

// idsOf collects the relation ids referenced by col across all rows.
func (r *run) idsOf(col *metadata.Column) []string {
	var ids []string
	for _, row := range r.rows {
		got, _ := relationIDs(row[col.Name])
		ids = append(ids, got...)
	}
	return ids
}

// resolveRelations replaces stored ids with {relatedId, displayFieldValue,
// displayField}. The id survives when the target row or table is missing.
func (p *Pipeline) resolveRelations(ctx context.Context, r *run, cols []*metadata.Column) {
	for _, col := range cols {
		cfg, err := col.RelationConfig()
		var tgt target
		if err == nil {
			tgt, err = p.resolveTarget(ctx, cfg.TargetTable, cfg.DisplayField)
		}

		displayField := cfg.DisplayField
		read := func(string) (any, error) { return nil, nil }
		if err != nil {
			p.fail(ctx, KindRelation, col, err)
		} else {
			displayField = tgt.field.Name
			if read, err = p.load(ctx, tgt, r.idsOf(col)); err != nil {
				p.fail(ctx, KindRelation, col, err)
				read = func(string) (any, error) { return nil, nil }
			}
		}

		for _, row := range r.rows {
			ids, multi := relationIDs(row[col.Name])
			multi = multi || cfg.AllowMultiple
			if len(ids) == 0 {
				if multi && row[col.Name] != nil {
					row[col.Name] = []any{}
				} else {
					row[col.Name] = nil
				}
				continue
			}

			out := make([]any, 0, len(ids))
			for _, id := range ids {
				v, err := read(id)
				if err != nil {
					p.fail(ctx, KindRelation, col, err)
					v = nil
				}
				out = append(out, enrich(id, v, displayField))
			}
			if multi {
				row[col.Name] = out
			} else {
				row[col.Name] = out[0]
			}
		}
	}
}

// DisplayValues reads the display field of a relation column's target rows,
// keyed by id. It is used to label grouped relation values.
func (p *Pipeline) DisplayValues(ctx context.Context, col *metadata.Column, ids []string) (map[string]any, error) {
	cfg, err := col.RelationConfig()
	if err != nil {
		return nil, err
	}
	tgt, err := p.resolveTarget(ctx, cfg.TargetTable, cfg.DisplayField)
	if err != nil {
		return nil, err
	}
	return p.fetcher.FetchFieldBatch(ctx, tgt.table.PhysicalName, tgt.field, lo.Uniq(ids))
}
