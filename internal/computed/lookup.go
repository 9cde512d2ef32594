package computed

import (
	"context"
	"fmt"

	"dyntables/internal/fieldtype"
	"dyntables/internal/metadata"
)

// resolveLookups mirrors a field of the row a sibling relation points at.
// Rows without a relation value get null and issue no query.
func (p *Pipeline) resolveLookups(ctx context.Context, r *run, cols []*metadata.Column) {
	for _, col := range cols {
		relCol, tgt, err := p.lookupTarget(ctx, r, col)
		if err != nil {
			p.fail(ctx, KindLookup, col, err)
			r.setAll(col, nil)
			continue
		}

		read, err := p.load(ctx, tgt, r.idsOf(relCol))
		if err != nil {
			p.fail(ctx, KindLookup, col, err)
			r.setAll(col, nil)
			continue
		}

		for _, row := range r.rows {
			ids, multi := relationIDs(row[relCol.Name])
			if len(ids) == 0 {
				row[col.Name] = nil
				continue
			}
			values := make([]any, 0, len(ids))
			for _, id := range ids {
				v, err := read(id)
				if err != nil {
					p.fail(ctx, KindLookup, col, err)
					v = nil
				}
				values = append(values, v)
			}
			if multi {
				row[col.Name] = values
			} else {
				row[col.Name] = values[0]
			}
		}
	}
}

func (p *Pipeline) lookupTarget(ctx context.Context, r *run, col *metadata.Column) (*metadata.Column, target, error) {
	cfg, err := col.LookupConfig()
	if err != nil {
		return nil, target{}, err
	}
	relCol := findColumn(r.columns, cfg.RelationField)
	if relCol == nil || relCol.Type != fieldtype.Relation {
		return nil, target{}, fmt.Errorf("relation field %q not found", cfg.RelationField)
	}
	relCfg, err := relCol.RelationConfig()
	if err != nil {
		return nil, target{}, err
	}
	if cfg.TargetField == "" {
		return nil, target{}, fmt.Errorf("lookup has no target field")
	}
	tgt, err := p.resolveTarget(ctx, relCfg.TargetTable, cfg.TargetField)
	if err != nil {
		return nil, target{}, err
	}
	return relCol, tgt, nil
}
