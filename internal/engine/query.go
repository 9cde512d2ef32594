package engine

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"dyntables/internal/apperr"
	"dyntables/internal/fieldtype"
	"dyntables/internal/filter"
	"dyntables/internal/ident"
	"dyntables/internal/instrument"
	"dyntables/internal/metadata"
	"dyntables/internal/store"
)

// QueryOptions overrides parts of a view for one query. Filters and Sorts
// replace the view's own; AdditionalFilters are ANDed on top of whichever
// filters apply.
type QueryOptions struct {
	Limit             int                    `json:"limit"`
	Offset            int                    `json:"offset"`
	Filters           *metadata.FilterGroup  `json:"filters"`
	AdditionalFilters *metadata.FilterGroup  `json:"additionalFilters"`
	Sorts             *[]metadata.SortConfig `json:"sorts"`
}

type ViewInfo struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Type    string             `json:"type"`
	Columns []*metadata.Column `json:"columns"`
}

type QueryResult struct {
	Rows    []map[string]any `json:"rows"`
	Total   int64            `json:"total"`
	HasMore bool             `json:"hasMore"`
	View    ViewInfo         `json:"view"`
}

// QueryViewRows runs a view: its filters and sorts, or the overrides in opts,
// over the view's table, with computed columns resolved on the page.
func (e *Engine) QueryViewRows(ctx context.Context, viewID string, opts QueryOptions) (_ *QueryResult, err error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "query", "query_view_rows")
	defer func() {
		span.SetStatus(statusOf(err))
		span.End()
	}()

	sc, err := e.scope(ctx)
	if err != nil {
		return nil, err
	}
	view, table, cols, err := e.view(ctx, sc, viewID)
	if err != nil {
		return nil, err
	}
	span.SetEntity(table.ID, "")

	filters := opts.Filters
	if filters == nil {
		filters = view.Filters
	}
	sorts := view.Sorts
	if opts.Sorts != nil {
		sorts = *opts.Sorts
	}
	compiled, err := e.compiler.Compile(filter.Input{
		Filters:    filters,
		Additional: opts.AdditionalFilters,
		Sorts:      sorts,
		Columns:    metadata.ColumnsByID(cols),
	})
	if err != nil {
		return nil, err
	}

	limit, offset := e.page(opts.Limit, opts.Offset)
	rows, total, err := e.fetchPage(ctx, table, compiled, limit, offset)
	if err != nil {
		return nil, err
	}
	decodeRows(cols, rows)
	rows = sc.pipeline.Resolve(ctx, table, cols, rows)
	span.SetMetadata("rows", len(rows))

	return &QueryResult{
		Rows:    rows,
		Total:   total,
		HasMore: int64(offset+limit) < total,
		View: ViewInfo{
			ID:      view.ID,
			Name:    view.Name,
			Type:    view.Type,
			Columns: visibleColumns(view, cols),
		},
	}, nil
}

// page clamps the requested window.
func (e *Engine) page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = e.defaultLimit
	}
	if limit > e.maxLimit {
		limit = e.maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// fetchPage reads one page of rows and the total count concurrently.
func (e *Engine) fetchPage(ctx context.Context, table *metadata.Table, compiled filter.Result, limit, offset int) ([]map[string]any, int64, error) {
	t, err := ident.QuoteTable(table.PhysicalName)
	if err != nil {
		return nil, 0, apperr.Storage("query rows", err)
	}
	b := e.store.Builder()
	sel := b.Select("*").From(t).OrderBy(compiled.OrderBy...).
		Limit(uint64(limit)).Offset(uint64(offset))
	count := b.Select("COUNT(*) AS total").From(t)
	if compiled.Where != nil {
		sel = sel.Where(compiled.Where)
		count = count.Where(compiled.Where)
	}

	var (
		rows  []map[string]any
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = store.QuerySq(gctx, e.store.DB, sel)
		if err != nil {
			return fmt.Errorf("select rows: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		res, err := store.QuerySq(gctx, e.store.DB, count)
		if err != nil {
			return fmt.Errorf("count rows: %w", err)
		}
		if len(res) > 0 {
			total = store.AsInt64(res[0]["total"])
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, apperr.Storage("query rows", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, total, nil
}

// visibleColumns maps the view's visible ids to columns in the stored order,
// skipping ids of deleted columns. An empty list shows every column.
func visibleColumns(view *metadata.View, cols []*metadata.Column) []*metadata.Column {
	if len(view.VisibleColumns) == 0 {
		return cols
	}
	byID := metadata.ColumnsByID(cols)
	out := make([]*metadata.Column, 0, len(view.VisibleColumns))
	for _, id := range view.VisibleColumns {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// decodeRows turns raw driver values into their JSON shapes: documents are
// parsed, booleans and dates normalized.
func decodeRows(cols []*metadata.Column, rows []map[string]any) {
	for _, c := range cols {
		desc := c.Descriptor()
		if desc.Virtual {
			continue
		}
		for _, row := range rows {
			v, ok := row[c.Name]
			if !ok || v == nil {
				continue
			}
			row[c.Name] = decodeValue(desc, v)
		}
	}
}

func decodeValue(desc fieldtype.Descriptor, v any) any {
	switch {
	case desc.IsDocumentBacked:
		var out any
		if err := store.DecodeJSON(v, &out); err != nil {
			return v
		}
		return out
	case desc.Storage == fieldtype.StorageBoolean:
		return fieldtype.Bool(v)
	case desc.Storage == fieldtype.StorageDate:
		if t, ok := fieldtype.ParseDate(v); ok {
			return t.Format(fieldtype.DateLayout)
		}
	case desc.Storage == fieldtype.StorageInteger:
		if n, ok := fieldtype.ToDecimal(v); ok {
			return n.IntPart()
		}
	}
	return v
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// rowByID selects one row of a physical table.
func (e *Engine) rowByID(ctx context.Context, q store.Querier, table *metadata.Table, id string) (map[string]any, error) {
	t, err := ident.QuoteTable(table.PhysicalName)
	if err != nil {
		return nil, apperr.Storage("get row", err)
	}
	rows, err := store.QuerySq(ctx, q, e.store.Builder().Select("*").From(t).
		Where(sq.Eq{ident.Quote(ident.ColID): id}).Limit(1))
	if err != nil {
		return nil, apperr.Storage("get row", err)
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("Row", id)
	}
	return rows[0], nil
}
