package schema

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"dyntables/internal/apperr"
	"dyntables/internal/fieldtype"
	"dyntables/internal/ident"
	"dyntables/internal/metadata"
	"dyntables/internal/store"
)

// ColumnPatch changes a column. Nil fields are left as they are.
type ColumnPatch struct {
	Name     *string        `json:"name"`
	Label    *string        `json:"label"`
	Type     *string        `json:"type"`
	Required *bool          `json:"required"`
	Position *int           `json:"position"`
	Config   map[string]any `json:"config"`
}

// Conversion classifies a column type change.
type Conversion int

const (
	ConversionRejected Conversion = iota
	// ConversionSafe needs no data check.
	ConversionSafe
	// ConversionChecked needs every existing value to parse as a number.
	ConversionChecked
)

var safeConversions = map[string][]string{
	fieldtype.Text:     {fieldtype.LongText},
	fieldtype.LongText: {fieldtype.Text},
	fieldtype.Number:   {fieldtype.Currency},
	fieldtype.Currency: {fieldtype.Number},
	fieldtype.Date:     {fieldtype.DateTime},
	fieldtype.Boolean:  {fieldtype.Switch},
	fieldtype.Switch:   {fieldtype.Boolean},
	fieldtype.Email:    {fieldtype.Text, fieldtype.LongText},
	fieldtype.Phone:    {fieldtype.Text, fieldtype.LongText},
	fieldtype.URL:      {fieldtype.Text, fieldtype.LongText},
	fieldtype.Color:    {fieldtype.Text, fieldtype.LongText},
}

var checkedConversions = map[string][]string{
	fieldtype.Text:     {fieldtype.Number, fieldtype.Currency},
	fieldtype.LongText: {fieldtype.Number, fieldtype.Currency},
}

// ClassifyConversion reports whether a column may change from one logical
// type to another. Computed types without storage may change among themselves.
func ClassifyConversion(from, to string) Conversion {
	switch {
	case from == to:
		return ConversionSafe
	case lo.Contains(safeConversions[from], to):
		return ConversionSafe
	case lo.Contains(checkedConversions[from], to):
		return ConversionChecked
	}
	fromDesc, toDesc := fieldtype.Resolve(from, nil), fieldtype.Resolve(to, nil)
	if fromDesc.Known && toDesc.Known && fromDesc.Virtual && toDesc.Virtual {
		return ConversionSafe
	}
	return ConversionRejected
}

// AddColumn adds the physical column, then its metadata. A metadata failure
// after the DDL leaves an orphaned physical column, which is logged.
func (m *Manager) AddColumn(ctx context.Context, tenantID, tableID string, in ColumnInput) (_ *metadata.Column, err error) {
	ctx, span := m.span(ctx, "add_column")
	defer func() { finish(span, err) }()

	t, err := m.loadTable(ctx, tenantID, tableID)
	if err != nil {
		return nil, err
	}
	cols, err := m.repo.ListColumns(ctx, t.ID)
	if err != nil {
		return nil, apperr.Storage("list columns", err)
	}

	in.normalize()
	c := &metadata.Column{
		ID:       m.newID(),
		TableID:  t.ID,
		Name:     in.Name,
		Label:    in.Label,
		Type:     in.Type,
		Required: in.Required,
		Config:   in.Config,
	}
	if in.Position != nil {
		c.Position = *in.Position
	} else {
		c.Position = lo.Reduce(cols, func(acc int, col *metadata.Column, _ int) int {
			return max(acc, col.Position+1)
		}, 0)
	}
	if err := m.validateColumn(ctx, tenantID, c, cols); err != nil {
		return nil, err
	}

	if kind := storageOf(c); kind != fieldtype.StorageNone {
		if c.Required {
			n, err := m.countRows(ctx, t.PhysicalName, "")
			if err != nil {
				return nil, apperr.Storage("count rows", err)
			}
			if n > 0 {
				return nil, apperr.Conflict(fmt.Sprintf("cannot add required column %q to a table with %d rows", c.Name, n),
					apperr.ErrorDetail{Field: "required", Rule: "not_null", Message: "table already has rows"})
			}
		}
		if err := m.migrator.AddColumn(ctx, t.PhysicalName, store.ColumnDef{Name: c.Name, Storage: kind, NotNull: c.Required}); err != nil {
			return nil, apperr.Storage("add column", err)
		}
	}

	if err := m.repo.InsertColumn(ctx, c); err != nil {
		if storageOf(c) != fieldtype.StorageNone {
			m.orphan(ctx, "add_column", t.PhysicalName, c.Name, err)
		}
		return nil, writeErr("insert column", err, fmt.Sprintf("column %q already exists", c.Name))
	}
	if err := m.attachColumn(ctx, t.ID, c.ID); err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "column added", "table_id", t.ID, "column", c.Name, "type", c.Type)
	return c, nil
}

// UpdateColumn applies a patch. Every check runs before any DDL: type
// changes outside the whitelist, unparseable values for checked conversions
// and NULLs under a new required flag are all rejected up front.
func (m *Manager) UpdateColumn(ctx context.Context, tenantID, tableID, columnID string, p ColumnPatch) (_ *metadata.Column, err error) {
	ctx, span := m.span(ctx, "update_column")
	defer func() { finish(span, err) }()

	t, err := m.loadTable(ctx, tenantID, tableID)
	if err != nil {
		return nil, err
	}
	old, err := m.loadColumn(ctx, t.ID, columnID)
	if err != nil {
		return nil, err
	}
	cols, err := m.repo.ListColumns(ctx, t.ID)
	if err != nil {
		return nil, apperr.Storage("list columns", err)
	}
	siblings := lo.Reject(cols, func(c *metadata.Column, _ int) bool { return c.ID == old.ID })

	next := *old
	if p.Name != nil {
		next.Name = strings.TrimSpace(*p.Name)
	}
	if p.Label != nil {
		next.Label = strings.TrimSpace(*p.Label)
	}
	if p.Type != nil {
		next.Type = *p.Type
	}
	if p.Required != nil {
		next.Required = *p.Required
	}
	if p.Position != nil {
		next.Position = *p.Position
	}
	if p.Config != nil {
		next.Config = p.Config
	}
	if err := m.validateColumn(ctx, tenantID, &next, siblings); err != nil {
		return nil, err
	}
	if next.Name != old.Name {
		if err := m.checkRename(ctx, tenantID, t, old); err != nil {
			return nil, err
		}
	}

	fromKind, toKind := storageOf(old), storageOf(&next)
	if next.Type != old.Type {
		switch ClassifyConversion(old.Type, next.Type) {
		case ConversionRejected:
			return nil, apperr.Invalid("type", "conversion",
				fmt.Sprintf("converting %s to %s may lose data", old.Type, next.Type))
		case ConversionChecked:
			if err := m.checkNumeric(ctx, t.PhysicalName, old.Name); err != nil {
				return nil, err
			}
		}
	} else if fromKind != toKind {
		return nil, apperr.Invalid("config", "conversion",
			fmt.Sprintf("changing the storage of %s from %s to %s may lose data", old.Name, fromKind, toKind))
	}

	if next.Required && !old.Required && toKind != fieldtype.StorageNone {
		if err := m.checkNoNulls(ctx, t.PhysicalName, old); err != nil {
			return nil, err
		}
	}

	if toKind != fieldtype.StorageNone {
		if next.Name != old.Name {
			if err := m.migrator.RenameColumn(ctx, t.PhysicalName, old.Name, next.Name); err != nil {
				return nil, apperr.Storage("rename column", err)
			}
		}
		if fromKind != toKind {
			if err := m.migrator.AlterColumnType(ctx, t.PhysicalName, next.Name, fromKind, toKind); err != nil {
				return nil, apperr.Storage("alter column type", err)
			}
		}
		if next.Required != old.Required {
			if err := m.migrator.SetNotNull(ctx, t.PhysicalName, next.Name, next.Required); err != nil {
				return nil, apperr.Storage("set not null", err)
			}
		}
	}

	if err := m.repo.UpdateColumn(ctx, &next); err != nil {
		if toKind != fieldtype.StorageNone && (next.Name != old.Name || fromKind != toKind) {
			m.orphan(ctx, "update_column", t.PhysicalName, next.Name, err)
		}
		return nil, writeErr("update column", err, fmt.Sprintf("column %q already exists", next.Name))
	}
	m.logger.InfoContext(ctx, "column updated", "table_id", t.ID, "column", next.Name, "type", next.Type)
	return &next, nil
}

// checkNumeric rejects a text-to-number conversion when any distinct non-empty
// value does not parse as a number.
func (m *Manager) checkNumeric(ctx context.Context, physical, column string) error {
	t, c, err := quotePair(physical, column)
	if err != nil {
		return err
	}
	rows, err := store.QuerySq(ctx, m.store.DB, m.store.Builder().
		Select(c+" AS value").Distinct().From(t).
		Where(sq.And{sq.NotEq{c: nil}, sq.NotEq{c: ""}}))
	if err != nil {
		return apperr.Storage("scan values", err)
	}
	var bad []apperr.ErrorDetail
	for _, row := range rows {
		s := strings.TrimSpace(store.AsString(row["value"]))
		if s == "" {
			continue
		}
		if _, ok := fieldtype.ToDecimal(s); !ok {
			bad = append(bad, apperr.ErrorDetail{Field: column, Rule: "numeric", Message: fmt.Sprintf("%q is not a number", s)})
			if len(bad) == 5 {
				break
			}
		}
	}
	if len(bad) > 0 {
		err := apperr.Validation(bad)
		err.Message = fmt.Sprintf("column %s holds values that are not numbers", column)
		return err
	}
	return nil
}

// checkNoNulls rejects making a column required while it holds NULLs, or
// empty strings for text storage.
func (m *Manager) checkNoNulls(ctx context.Context, physical string, c *metadata.Column) error {
	col, err := ident.QuoteColumn(c.Name)
	if err != nil {
		return err
	}
	cond := col + " IS NULL"
	if c.Descriptor().IsTextual() {
		cond = "(" + col + " IS NULL OR " + col + " = '')"
	}
	n, err := m.countRows(ctx, physical, cond)
	if err != nil {
		return apperr.Storage("count nulls", err)
	}
	if n > 0 {
		return apperr.Conflict(fmt.Sprintf("column %s has %d empty values", c.Name, n),
			apperr.ErrorDetail{Field: c.Name, Rule: "not_null", Message: fmt.Sprintf("%d rows have no value", n)})
	}
	return nil
}

// DeleteColumn drops the physical column and its metadata, then removes the
// column from every view's visible columns and sorts.
func (m *Manager) DeleteColumn(ctx context.Context, tenantID, tableID, columnID string) (err error) {
	ctx, span := m.span(ctx, "delete_column")
	defer func() { finish(span, err) }()

	if ident.IsSystemColumn(columnID) {
		return apperr.Invalid("column", "system", fmt.Sprintf("%q is a system column", columnID))
	}
	t, err := m.loadTable(ctx, tenantID, tableID)
	if err != nil {
		return err
	}
	c, err := m.loadColumn(ctx, t.ID, columnID)
	if err != nil {
		return err
	}
	if ident.IsSystemColumn(c.Name) {
		return apperr.Invalid("column", "system", fmt.Sprintf("%q is a system column", c.Name))
	}
	if err := m.checkDependents(ctx, tenantID, t, c); err != nil {
		return err
	}

	if storageOf(c) != fieldtype.StorageNone {
		if err := m.migrator.DropColumn(ctx, t.PhysicalName, c.Name); err != nil {
			return apperr.Storage("drop column", err)
		}
	}
	if err := m.repo.DeleteColumn(ctx, c.ID); err != nil {
		m.logger.ErrorContext(ctx, "metadata left for dropped column",
			"table_id", t.ID, "column", c.Name, "error", err)
		m.orphan(ctx, "delete_column", t.PhysicalName, c.Name, err)
		return apperr.Storage("delete column", err)
	}
	if err := m.detachColumn(ctx, t.ID, c.ID); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "column deleted", "table_id", t.ID, "column", c.Name)
	return nil
}

// attachColumn appends a new column to every view that lists its visible
// columns. Views with an empty list already show everything.
func (m *Manager) attachColumn(ctx context.Context, tableID, columnID string) error {
	views, err := m.repo.ListViews(ctx, tableID)
	if err != nil {
		return apperr.Storage("list views", err)
	}
	for _, v := range views {
		if len(v.VisibleColumns) == 0 || lo.Contains(v.VisibleColumns, columnID) {
			continue
		}
		v.VisibleColumns = append(v.VisibleColumns, columnID)
		if err := m.repo.UpdateView(ctx, v); err != nil {
			return apperr.Storage("update view", err)
		}
	}
	return nil
}

// detachColumn removes a column id from every view of the table. Running it
// twice changes nothing.
func (m *Manager) detachColumn(ctx context.Context, tableID, columnID string) error {
	views, err := m.repo.ListViews(ctx, tableID)
	if err != nil {
		return apperr.Storage("list views", err)
	}
	for _, v := range views {
		visible := lo.Without(v.VisibleColumns, columnID)
		sorts := lo.Reject(v.Sorts, func(s metadata.SortConfig, _ int) bool { return s.ColumnID == columnID })
		if len(visible) == len(v.VisibleColumns) && len(sorts) == len(v.Sorts) {
			continue
		}
		v.VisibleColumns, v.Sorts = visible, sorts
		if err := m.repo.UpdateView(ctx, v); err != nil {
			return apperr.Storage("update view", err)
		}
	}
	return nil
}

func quotePair(table, column string) (string, string, error) {
	t, err := ident.QuoteTable(table)
	if err != nil {
		return "", "", apperr.Invalid("table", "pattern", err.Error())
	}
	c, err := ident.QuoteColumn(column)
	if err != nil {
		return "", "", apperr.Invalid("column", "pattern", err.Error())
	}
	return t, c, nil
}
