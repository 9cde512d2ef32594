// Package computed resolves relation, lookup, rollup and formula columns on
// rows read from a dynamic table. Stages run in that fixed order, each one
// seeing the output of the previous. Failures never abort a row set: the
// affected value becomes null and the failure is logged and counted.
package computed

import (
	"context"
	"log/slog"
	"time"

	"dyntables/internal/fieldtype"
	"dyntables/internal/ident"
	"dyntables/internal/instrument"
	"dyntables/internal/logger"
	"dyntables/internal/metadata"
)

const (
	KindRelation = "relation"
	KindLookup   = "lookup"
	KindRollup   = "rollup"
	KindFormula  = "formula"
)

// Catalog resolves table and column metadata, scoped to the caller's tenant.
type Catalog interface {
	Table(ctx context.Context, id string) (*metadata.Table, error)
	Columns(ctx context.Context, tableID string) ([]*metadata.Column, error)
}

// Mode selects how relation and lookup values are loaded.
type Mode int

const (
	// Sequential issues one query per computed field per row.
	Sequential Mode = iota
	// Batched loads each column's targets with one IN query and joins in memory.
	Batched
)

type Pipeline struct {
	catalog Catalog
	fetcher Fetcher
	mode    Mode
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Pipeline)

func WithMode(m Mode) Option {
	return func(p *Pipeline) { p.mode = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(catalog Catalog, fetcher Fetcher, opts ...Option) *Pipeline {
	p := &Pipeline{
		catalog: catalog,
		fetcher: fetcher,
		mode:    Sequential,
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = logger.Get()
	}
	return p
}

// run carries one table's rows through the stages.
type run struct {
	table   *metadata.Table
	columns []*metadata.Column
	rows    []map[string]any
}

// Resolve enriches rows in place and returns them.
func (p *Pipeline) Resolve(ctx context.Context, table *metadata.Table, columns []*metadata.Column, rows []map[string]any) []map[string]any {
	if len(rows) == 0 {
		return rows
	}
	r := &run{table: table, columns: columns, rows: rows}

	stages := []struct {
		kind  string
		typ   string
		apply func(context.Context, *run, []*metadata.Column)
	}{
		{KindRelation, fieldtype.Relation, p.resolveRelations},
		{KindLookup, fieldtype.Lookup, p.resolveLookups},
		{KindRollup, fieldtype.Rollup, p.resolveRollups},
		{KindFormula, fieldtype.Formula, p.resolveFormulas},
	}
	for _, s := range stages {
		cols := metadata.ColumnsOfType(columns, s.typ)
		if len(cols) == 0 {
			continue
		}
		sctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "engine", "computed", s.kind)
		span.SetEntity(table.ID, "")
		span.SetMetadata("columns", len(cols))
		s.apply(sctx, r, cols)
		span.End()
	}
	return rows
}

// fail records a degraded computed value.
func (p *Pipeline) fail(ctx context.Context, kind string, col *metadata.Column, err error) {
	p.logger.WarnContext(ctx, "computed field degraded to null",
		"kind", kind, "column", col.Name, "column_id", col.ID, "table_id", col.TableID, "error", err)
	instrument.GetInstrumenter(ctx).ComputedFailure(kind)
}

// setAll writes v into col for every row.
func (r *run) setAll(col *metadata.Column, v any) {
	for _, row := range r.rows {
		row[col.Name] = v
	}
}

// resolveField finds a readable field of a table by column name, column id,
// or system column name. Virtual columns cannot be read.
func resolveField(cols []*metadata.Column, nameOrID string) (Field, bool) {
	if ident.IsSystemColumn(nameOrID) {
		return Field{Name: nameOrID}, true
	}
	c := metadata.ColumnByName(cols, nameOrID)
	if c == nil {
		c = metadata.ColumnsByID(cols)[nameOrID]
	}
	if c == nil || c.IsVirtual() {
		return Field{}, false
	}
	return Field{Name: c.Name, Column: c}, true
}

// findColumn finds a sibling column by name or id.
func findColumn(cols []*metadata.Column, nameOrID string) *metadata.Column {
	if c := metadata.ColumnByName(cols, nameOrID); c != nil {
		return c
	}
	for _, c := range cols {
		if c.ID == nameOrID {
			return c
		}
	}
	return nil
}

// relationIDs extracts target ids from a raw or enriched relation value.
func relationIDs(v any) (ids []string, multi bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		if t == "" {
			return nil, false
		}
		return []string{t}, false
	case map[string]any:
		if id, ok := t["relatedId"].(string); ok && id != "" {
			return []string{id}, false
		}
		return nil, false
	case []any:
		for _, item := range t {
			if sub, _ := relationIDs(item); len(sub) > 0 {
				ids = append(ids, sub...)
			}
		}
		return ids, true
	case []string:
		return t, true
	}
	return nil, false
}

// plainValue unwraps enriched relation values to their ids.
func plainValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if id, ok := t["relatedId"]; ok {
			return id
		}
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plainValue(item)
		}
		return out
	}
	return v
}

// displayValue replaces enriched relation values with what they display.
func displayValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if _, ok := t["relatedId"]; ok {
			return t["displayFieldValue"]
		}
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = displayValue(item)
		}
		return out
	}
	return v
}
