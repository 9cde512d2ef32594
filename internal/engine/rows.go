package engine

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"dyntables/internal/apperr"
	"dyntables/internal/ident"
	"dyntables/internal/instrument"
	"dyntables/internal/metadata"
	"dyntables/internal/store"
)

// GetRow reads one row with its computed columns resolved.
func (e *Engine) GetRow(ctx context.Context, tableID, rowID string) (map[string]any, error) {
	sc, err := e.scope(ctx)
	if err != nil {
		return nil, err
	}
	table, cols, err := sc.table(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return e.readRow(ctx, sc, table, cols, rowID)
}

func (e *Engine) readRow(ctx context.Context, sc *scope, table *metadata.Table, cols []*metadata.Column, rowID string) (map[string]any, error) {
	if err := checkID("Row", rowID); err != nil {
		return nil, err
	}
	row, err := e.rowByID(ctx, e.store.DB, table, rowID)
	if err != nil {
		return nil, err
	}
	rows := []map[string]any{row}
	decodeRows(cols, rows)
	return sc.pipeline.Resolve(ctx, table, cols, rows)[0], nil
}

// InsertRow validates and stores a new row and returns it as read back.
func (e *Engine) InsertRow(ctx context.Context, tableID string, values map[string]any) (_ map[string]any, err error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "rows", "insert")
	defer func() {
		span.SetStatus(statusOf(err))
		span.End()
	}()

	sc, err := e.scope(ctx)
	if err != nil {
		return nil, err
	}
	table, cols, err := sc.table(ctx, tableID)
	if err != nil {
		return nil, err
	}
	w, err := e.validateWrite(ctx, cols, values, nil, true)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	span.SetEntity(table.ID, id)
	set, err := e.bind(w)
	if err != nil {
		return nil, err
	}
	set[ident.Quote(ident.ColID)] = id
	if u := metadata.UserFrom(ctx); u != nil && u.ID != "" {
		set[ident.Quote(ident.ColCreatedBy)] = u.ID
	}

	t, err := ident.QuoteTable(table.PhysicalName)
	if err != nil {
		return nil, apperr.Storage("insert row", err)
	}
	if _, err := store.ExecSq(ctx, e.store.DB, e.store.Builder().Insert(t).SetMap(set)); err != nil {
		return nil, e.writeErr("insert row", err)
	}
	e.logger.DebugContext(ctx, "row inserted", "table_id", table.ID, "row_id", id)
	return e.readRow(ctx, sc, table, cols, id)
}

// UpdateRow applies a partial update. Only the given columns are validated
// and written; updated_at is refreshed.
func (e *Engine) UpdateRow(ctx context.Context, tableID, rowID string, values map[string]any) (_ map[string]any, err error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "rows", "update")
	defer func() {
		span.SetStatus(statusOf(err))
		span.End()
	}()

	sc, err := e.scope(ctx)
	if err != nil {
		return nil, err
	}
	table, cols, err := sc.table(ctx, tableID)
	if err != nil {
		return nil, err
	}
	span.SetEntity(table.ID, rowID)
	if err := checkID("Row", rowID); err != nil {
		return nil, err
	}
	current, err := e.rowByID(ctx, e.store.DB, table, rowID)
	if err != nil {
		return nil, err
	}
	decodeRows(cols, []map[string]any{current})

	w, err := e.validateWrite(ctx, cols, values, current, false)
	if err != nil {
		return nil, err
	}
	set, err := e.bind(w)
	if err != nil {
		return nil, err
	}
	set[ident.Quote(ident.ColUpdatedAt)] = e.store.Dialect.BindTime(e.now())

	t, err := ident.QuoteTable(table.PhysicalName)
	if err != nil {
		return nil, apperr.Storage("update row", err)
	}
	n, err := store.ExecSq(ctx, e.store.DB, e.store.Builder().Update(t).SetMap(set).
		Where(sq.Eq{ident.Quote(ident.ColID): rowID}))
	if err != nil {
		return nil, e.writeErr("update row", err)
	}
	if n == 0 {
		return nil, apperr.NotFound("Row", rowID)
	}
	return e.readRow(ctx, sc, table, cols, rowID)
}

// DeleteRow removes one row. Rows of other tables that point at it keep the
// dangling id; relations render it with a null display value.
func (e *Engine) DeleteRow(ctx context.Context, tableID, rowID string) (err error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "rows", "delete")
	defer func() {
		span.SetStatus(statusOf(err))
		span.End()
	}()

	sc, err := e.scope(ctx)
	if err != nil {
		return err
	}
	table, _, err := sc.table(ctx, tableID)
	if err != nil {
		return err
	}
	span.SetEntity(table.ID, rowID)
	if err := checkID("Row", rowID); err != nil {
		return err
	}
	t, err := ident.QuoteTable(table.PhysicalName)
	if err != nil {
		return apperr.Storage("delete row", err)
	}
	n, err := store.ExecSq(ctx, e.store.DB, e.store.Builder().Delete(t).
		Where(sq.Eq{ident.Quote(ident.ColID): rowID}))
	if err != nil {
		return e.writeErr("delete row", err)
	}
	if n == 0 {
		return apperr.NotFound("Row", rowID)
	}
	return nil
}

// bind encodes validated values as driver parameters keyed by quoted column.
func (e *Engine) bind(w *write) (map[string]any, error) {
	set := make(map[string]any, len(w.values)+2)
	for name, v := range w.values {
		c := w.cols[name]
		b, err := store.BindValue(e.store.Dialect, c.Descriptor(), v)
		if err != nil {
			return nil, apperr.Invalid(name, "type", fmt.Sprintf("%s: %v", c.Label, err))
		}
		set[ident.Quote(name)] = b
	}
	return set, nil
}

func (e *Engine) writeErr(op string, err error) error {
	if errors.Is(e.store.Dialect.MapError(err), store.ErrUniqueViolation) {
		return apperr.Conflict("a row with this value already exists")
	}
	return apperr.Storage(op, err)
}
