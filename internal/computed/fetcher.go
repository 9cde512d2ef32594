package computed

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"dyntables/internal/fieldtype"
	"dyntables/internal/ident"
	"dyntables/internal/metadata"
	"dyntables/internal/store"
)

// Field names a column of a physical table. Column is nil for system columns.
type Field struct {
	Name   string
	Column *metadata.Column
}

// Match restricts an aggregate to rows whose Field equals Value. A nil Value
// matches nothing; a slice matches any of its elements.
type Match struct {
	Field Field
	Value any
}

// AggregateQuery describes one rollup query.
type AggregateQuery struct {
	Func    string
	Field   *Field // nil for COUNT(*)
	Matches []Match
}

// Fetcher reads values from physical tables on behalf of the resolvers.
type Fetcher interface {
	// FetchField reads one field of the row with the given id.
	FetchField(ctx context.Context, table string, field Field, id string) (value any, found bool, err error)
	// FetchFieldBatch reads one field of many rows, keyed by id.
	FetchFieldBatch(ctx context.Context, table string, field Field, ids []string) (map[string]any, error)
	// Aggregate runs a filtered aggregate and returns its scalar result.
	Aggregate(ctx context.Context, table string, q AggregateQuery) (any, error)
}

// SQLFetcher implements Fetcher with squirrel over a store connection.
type SQLFetcher struct {
	q       store.Querier
	dialect store.Dialect
}

func NewSQLFetcher(q store.Querier, d store.Dialect) *SQLFetcher {
	return &SQLFetcher{q: q, dialect: d}
}

func (f *SQLFetcher) b() sq.StatementBuilderType {
	return store.Builder(f.dialect)
}

func (f *SQLFetcher) FetchField(ctx context.Context, table string, field Field, id string) (any, bool, error) {
	t, col, err := quoteTarget(table, field.Name)
	if err != nil {
		return nil, false, err
	}
	rows, err := store.QuerySq(ctx, f.q, f.b().Select(col+" AS value").From(t).
		Where(sq.Eq{ident.Quote(ident.ColID): id}).Limit(1))
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	v, err := decodeField(field, rows[0]["value"])
	return v, true, err
}

func (f *SQLFetcher) FetchFieldBatch(ctx context.Context, table string, field Field, ids []string) (map[string]any, error) {
	out := make(map[string]any, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	t, col, err := quoteTarget(table, field.Name)
	if err != nil {
		return nil, err
	}
	idCol := ident.Quote(ident.ColID)
	rows, err := store.QuerySq(ctx, f.q, f.b().Select(idCol+" AS id", col+" AS value").From(t).
		Where(sq.Eq{idCol: lo.Uniq(ids)}))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		v, err := decodeField(field, row["value"])
		if err != nil {
			return nil, err
		}
		out[store.AsString(row["id"])] = v
	}
	return out, nil
}

func (f *SQLFetcher) Aggregate(ctx context.Context, table string, q AggregateQuery) (any, error) {
	t, err := ident.QuoteTable(table)
	if err != nil {
		return nil, err
	}
	if !metadata.IsValidAggregation(q.Func) {
		return nil, fmt.Errorf("unsupported aggregation %q", q.Func)
	}

	target := "*"
	if q.Func != metadata.AggCount || q.Field != nil {
		if q.Field == nil {
			return nil, fmt.Errorf("%s needs an aggregation field", q.Func)
		}
		if target, err = ident.QuoteColumn(q.Field.Name); err != nil {
			return nil, err
		}
	}

	sb := f.b().Select(fmt.Sprintf("%s(%s) AS value", q.Func, target)).From(t)
	for _, m := range q.Matches {
		cond, err := f.match(m)
		if err != nil {
			return nil, err
		}
		sb = sb.Where(cond)
	}

	rows, err := store.QuerySq(ctx, f.q, sb)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0]["value"], nil
}

// match builds the condition for one rollup filter. Multi-valued document
// columns match when the array contains the value.
func (f *SQLFetcher) match(m Match) (sq.Sqlizer, error) {
	if m.Value == nil {
		return sq.Expr("1=0"), nil
	}
	col, err := ident.QuoteColumn(m.Field.Name)
	if err != nil {
		return nil, err
	}
	values, isList := m.Value.([]any)
	if !isList {
		values = []any{m.Value}
	}
	if len(values) == 0 {
		return sq.Expr("1=0"), nil
	}

	if c := m.Field.Column; c != nil {
		desc := c.Descriptor()
		if desc.IsDocumentBacked {
			if isMultiValued(c) {
				var anyOf sq.Or
				for _, v := range values {
					cond, err := f.dialect.JSONArrayContains(col, v)
					if err != nil {
						return nil, err
					}
					anyOf = append(anyOf, cond)
				}
				return anyOf, nil
			}
			return eqOrIn(f.dialect.TextExpr(col), lo.Map(values, func(v any, _ int) any { return fmt.Sprint(v) }), isList), nil
		}
		bound := make([]any, 0, len(values))
		for _, v := range values {
			b, err := store.BindValue(f.dialect, desc, v)
			if err != nil {
				return nil, fmt.Errorf("rollup filter on %s: %w", c.Name, err)
			}
			bound = append(bound, b)
		}
		return eqOrIn(col, bound, isList), nil
	}
	return eqOrIn(col, values, isList), nil
}

func eqOrIn(expr string, values []any, isList bool) sq.Sqlizer {
	if isList {
		return sq.Eq{expr: values}
	}
	return sq.Eq{expr: values[0]}
}

func quoteTarget(table, column string) (string, string, error) {
	t, err := ident.QuoteTable(table)
	if err != nil {
		return "", "", err
	}
	c, err := ident.QuoteColumn(column)
	if err != nil {
		return "", "", err
	}
	return t, c, nil
}

// decodeField turns a raw document value into its JSON form.
func decodeField(field Field, v any) (any, error) {
	if field.Column == nil || v == nil || !field.Column.IsDocumentBacked() {
		return v, nil
	}
	var out any
	if err := store.DecodeJSON(v, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", field.Name, err)
	}
	return out, nil
}

func isMultiValued(c *metadata.Column) bool {
	switch c.Type {
	case fieldtype.MultiSelect:
		return true
	case fieldtype.Relation:
		cfg, err := c.RelationConfig()
		return err == nil && cfg.AllowMultiple
	}
	return false
}
