package computed

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"dyntables/internal/fieldtype"
	"dyntables/internal/metadata"
)

var templateRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+)\s*\}\}`)

// substitute expands {{field}} templates against row. A value that is a
// single template keeps the type of the row value; relation objects are
// unwrapped to their ids.
func substitute(v any, row map[string]any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if m := templateRe.FindStringSubmatch(s); m != nil && m[0] == strings.TrimSpace(s) {
		return plainValue(row[m[1]])
	}
	return templateRe.ReplaceAllStringFunc(s, func(tpl string) string {
		name := templateRe.FindStringSubmatch(tpl)[1]
		val := plainValue(row[name])
		if val == nil {
			return ""
		}
		if list, ok := val.([]any); ok {
			parts := make([]string, len(list))
			for i, item := range list {
				parts[i] = fmt.Sprint(item)
			}
			return strings.Join(parts, ",")
		}
		return fmt.Sprint(val)
	})
}

// rollupPlan is the row-independent part of a rollup column.
type rollupPlan struct {
	source   *metadata.Table
	agg      string
	aggField *Field
	filter   Field
	andField *Field
	cfg      metadata.RollupConfig
}

func (p *Pipeline) planRollup(ctx context.Context, col *metadata.Column) (*rollupPlan, error) {
	cfg, err := col.RollupConfig()
	if err != nil {
		return nil, err
	}
	agg := cfg.NormalizedAggregation()
	if !metadata.IsValidAggregation(agg) {
		return nil, fmt.Errorf("unsupported aggregation %q", cfg.Aggregation)
	}
	src, err := p.catalog.Table(ctx, cfg.SourceTable)
	if err != nil {
		return nil, fmt.Errorf("source table %s: %w", cfg.SourceTable, err)
	}
	cols, err := p.catalog.Columns(ctx, src.ID)
	if err != nil {
		return nil, fmt.Errorf("source columns %s: %w", cfg.SourceTable, err)
	}

	plan := &rollupPlan{source: src, agg: agg, cfg: cfg}
	if cfg.AggregationField != "" {
		f, ok := resolveField(cols, cfg.AggregationField)
		if !ok {
			return nil, fmt.Errorf("aggregation field %q not found", cfg.AggregationField)
		}
		plan.aggField = &f
	} else if agg != metadata.AggCount {
		return nil, fmt.Errorf("%s needs an aggregation field", agg)
	}

	f, ok := resolveField(cols, cfg.FilterBy.Field)
	if !ok {
		return nil, fmt.Errorf("filter field %q not found", cfg.FilterBy.Field)
	}
	plan.filter = f
	if and := cfg.FilterBy.And; and != nil {
		af, ok := resolveField(cols, and.Field)
		if !ok {
			return nil, fmt.Errorf("filter field %q not found", and.Field)
		}
		plan.andField = &af
	}
	return plan, nil
}

// resolveRollups aggregates matching rows of the source table per row.
func (p *Pipeline) resolveRollups(ctx context.Context, r *run, cols []*metadata.Column) {
	for _, col := range cols {
		plan, err := p.planRollup(ctx, col)
		if err != nil {
			p.fail(ctx, KindRollup, col, err)
			r.setAll(col, nil)
			continue
		}
		for _, row := range r.rows {
			q := AggregateQuery{
				Func:    plan.agg,
				Field:   plan.aggField,
				Matches: []Match{{Field: plan.filter, Value: substitute(plan.cfg.FilterBy.MatchesValue, row)}},
			}
			if plan.andField != nil {
				q.Matches = append(q.Matches, Match{Field: *plan.andField, Value: substitute(plan.cfg.FilterBy.And.Equals, row)})
			}
			v, err := p.fetcher.Aggregate(ctx, plan.source.PhysicalName, q)
			if err != nil {
				p.fail(ctx, KindRollup, col, err)
				row[col.Name] = nil
				continue
			}
			row[col.Name] = normalizeAggregate(plan.agg, v)
		}
	}
}

// normalizeAggregate maps an empty result to 0 for COUNT and null otherwise.
func normalizeAggregate(agg string, v any) any {
	if v == nil {
		if agg == metadata.AggCount {
			return float64(0)
		}
		return nil
	}
	if f, ok := fieldtype.ToFloat(v); ok {
		return f
	}
	return v
}
