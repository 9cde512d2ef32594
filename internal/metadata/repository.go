package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"dyntables/internal/store"
)

var tableColumns = []string{"id", "tenant_id", "name", "slug", "physical_name", "description", "created_at", "updated_at"}
var columnColumns = []string{"id", "table_id", "name", "label", "type", "required", "position", "config", "created_at", "updated_at"}
var viewColumns = []string{"id", "table_id", "name", "slug", "type", "filters", "sorts", "visible_columns", "display_config",
	"is_default", "is_public", "is_shared", "page_size", "created_by", "created_at", "updated_at"}

// Repository is the CRUD store for table, column and view metadata.
type Repository struct {
	q       store.Querier
	dialect store.Dialect
	now     func() time.Time
}

func NewRepository(q store.Querier, d store.Dialect) *Repository {
	return &Repository{q: q, dialect: d, now: time.Now}
}

// WithQuerier returns a repository bound to q, typically a *sql.Tx.
func (r *Repository) WithQuerier(q store.Querier) *Repository {
	return &Repository{q: q, dialect: r.dialect, now: r.now}
}

func (r *Repository) b() sq.StatementBuilderType {
	return store.Builder(r.dialect)
}

func (r *Repository) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	n, err := store.ExecSq(ctx, r.q, b)
	if err != nil {
		return 0, r.dialect.MapError(err)
	}
	return n, nil
}

func (r *Repository) queryOne(ctx context.Context, b sq.SelectBuilder) (map[string]any, error) {
	rows, err := store.QuerySq(ctx, r.q, b.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.ErrNotFound
	}
	return rows[0], nil
}

// --- Tables ---

func (r *Repository) InsertTable(ctx context.Context, t *Table) error {
	now := r.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := r.exec(ctx, r.b().Insert("_tables").Columns(tableColumns...).Values(
		t.ID, t.TenantID, t.Name, t.Slug, t.PhysicalName, t.Description,
		r.dialect.BindTime(now), r.dialect.BindTime(now)))
	if err != nil {
		return fmt.Errorf("insert table: %w", err)
	}
	return nil
}

func (r *Repository) UpdateTable(ctx context.Context, t *Table) error {
	t.UpdatedAt = r.now().UTC()
	n, err := r.exec(ctx, r.b().Update("_tables").
		Set("name", t.Name).
		Set("slug", t.Slug).
		Set("description", t.Description).
		Set("updated_at", r.dialect.BindTime(t.UpdatedAt)).
		Where(sq.Eq{"id": t.ID}))
	if err != nil {
		return fmt.Errorf("update table: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) GetTable(ctx context.Context, id string) (*Table, error) {
	row, err := r.queryOne(ctx, r.b().Select(tableColumns...).From("_tables").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return tableFromRow(row), nil
}

func (r *Repository) ListTables(ctx context.Context, tenantID string) ([]*Table, error) {
	rows, err := store.QuerySq(ctx, r.q, r.b().Select(tableColumns...).From("_tables").
		Where(sq.Eq{"tenant_id": tenantID}).OrderBy("name"))
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	out := make([]*Table, 0, len(rows))
	for _, row := range rows {
		out = append(out, tableFromRow(row))
	}
	return out, nil
}

// DeleteTable removes the table and its columns and views. Children are
// deleted explicitly so SQLite connections without foreign_keys still cascade.
func (r *Repository) DeleteTable(ctx context.Context, id string) error {
	if _, err := r.exec(ctx, r.b().Delete("_views").Where(sq.Eq{"table_id": id})); err != nil {
		return fmt.Errorf("delete views: %w", err)
	}
	if _, err := r.exec(ctx, r.b().Delete("_columns").Where(sq.Eq{"table_id": id})); err != nil {
		return fmt.Errorf("delete columns: %w", err)
	}
	n, err := r.exec(ctx, r.b().Delete("_tables").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete table: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func tableFromRow(row map[string]any) *Table {
	return &Table{
		ID:           store.AsString(row["id"]),
		TenantID:     store.AsString(row["tenant_id"]),
		Name:         store.AsString(row["name"]),
		Slug:         store.AsString(row["slug"]),
		PhysicalName: store.AsString(row["physical_name"]),
		Description:  store.AsString(row["description"]),
		CreatedAt:    store.AsTime(row["created_at"]),
		UpdatedAt:    store.AsTime(row["updated_at"]),
	}
}

// --- Columns ---

func (r *Repository) InsertColumn(ctx context.Context, c *Column) error {
	cfg, err := encodeJSON(c.Config, "{}")
	if err != nil {
		return err
	}
	now := r.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	_, err = r.exec(ctx, r.b().Insert("_columns").Columns(columnColumns...).Values(
		c.ID, c.TableID, c.Name, c.Label, c.Type, c.Required, c.Position, cfg,
		r.dialect.BindTime(now), r.dialect.BindTime(now)))
	if err != nil {
		return fmt.Errorf("insert column: %w", err)
	}
	return nil
}

func (r *Repository) UpdateColumn(ctx context.Context, c *Column) error {
	cfg, err := encodeJSON(c.Config, "{}")
	if err != nil {
		return err
	}
	c.UpdatedAt = r.now().UTC()
	n, err := r.exec(ctx, r.b().Update("_columns").
		Set("name", c.Name).
		Set("label", c.Label).
		Set("type", c.Type).
		Set("required", c.Required).
		Set("position", c.Position).
		Set("config", cfg).
		Set("updated_at", r.dialect.BindTime(c.UpdatedAt)).
		Where(sq.Eq{"id": c.ID}))
	if err != nil {
		return fmt.Errorf("update column: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteColumn(ctx context.Context, id string) error {
	n, err := r.exec(ctx, r.b().Delete("_columns").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete column: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) GetColumn(ctx context.Context, id string) (*Column, error) {
	row, err := r.queryOne(ctx, r.b().Select(columnColumns...).From("_columns").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return columnFromRow(row)
}

// ListColumns returns a table's columns in display order.
func (r *Repository) ListColumns(ctx context.Context, tableID string) ([]*Column, error) {
	rows, err := store.QuerySq(ctx, r.q, r.b().Select(columnColumns...).From("_columns").
		Where(sq.Eq{"table_id": tableID}).OrderBy("position", "created_at"))
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	out := make([]*Column, 0, len(rows))
	for _, row := range rows {
		c, err := columnFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func columnFromRow(row map[string]any) (*Column, error) {
	c := &Column{
		ID:        store.AsString(row["id"]),
		TableID:   store.AsString(row["table_id"]),
		Name:      store.AsString(row["name"]),
		Label:     store.AsString(row["label"]),
		Type:      store.AsString(row["type"]),
		Required:  store.AsBool(row["required"]),
		Position:  int(store.AsInt64(row["position"])),
		CreatedAt: store.AsTime(row["created_at"]),
		UpdatedAt: store.AsTime(row["updated_at"]),
	}
	if err := store.DecodeJSON(row["config"], &c.Config); err != nil {
		return nil, fmt.Errorf("column %s config: %w", c.ID, err)
	}
	if c.Config == nil {
		c.Config = map[string]any{}
	}
	return c, nil
}

// --- Views ---

func (r *Repository) InsertView(ctx context.Context, v *View) error {
	vals, err := viewValues(v)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	v.CreatedAt, v.UpdatedAt = now, now
	_, err = r.exec(ctx, r.b().Insert("_views").Columns(viewColumns...).Values(
		append([]any{v.ID, v.TableID}, append(vals, r.dialect.BindTime(now), r.dialect.BindTime(now))...)...))
	if err != nil {
		return fmt.Errorf("insert view: %w", err)
	}
	return nil
}

func (r *Repository) UpdateView(ctx context.Context, v *View) error {
	vals, err := viewValues(v)
	if err != nil {
		return err
	}
	v.UpdatedAt = r.now().UTC()
	ub := r.b().Update("_views")
	// viewColumns[2:14] line up with viewValues
	for i, col := range viewColumns[2:14] {
		ub = ub.Set(col, vals[i])
	}
	n, err := r.exec(ctx, ub.Set("updated_at", r.dialect.BindTime(v.UpdatedAt)).Where(sq.Eq{"id": v.ID}))
	if err != nil {
		return fmt.Errorf("update view: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteView(ctx context.Context, id string) error {
	n, err := r.exec(ctx, r.b().Delete("_views").Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("delete view: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *Repository) GetView(ctx context.Context, id string) (*View, error) {
	row, err := r.queryOne(ctx, r.b().Select(viewColumns...).From("_views").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return viewFromRow(row)
}

func (r *Repository) ListViews(ctx context.Context, tableID string) ([]*View, error) {
	rows, err := store.QuerySq(ctx, r.q, r.b().Select(viewColumns...).From("_views").
		Where(sq.Eq{"table_id": tableID}).OrderBy("created_at", "name"))
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	out := make([]*View, 0, len(rows))
	for _, row := range rows {
		v, err := viewFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ClearDefaultViews unsets is_default on every view of the table except keepID.
func (r *Repository) ClearDefaultViews(ctx context.Context, tableID, keepID string) error {
	_, err := r.exec(ctx, r.b().Update("_views").
		Set("is_default", false).
		Where(sq.And{sq.Eq{"table_id": tableID}, sq.NotEq{"id": keepID}, sq.Eq{"is_default": true}}))
	if err != nil {
		return fmt.Errorf("clear default views: %w", err)
	}
	return nil
}

// viewValues returns the values for viewColumns[2:14].
func viewValues(v *View) ([]any, error) {
	var filters any
	if v.Filters != nil {
		b, err := json.Marshal(v.Filters)
		if err != nil {
			return nil, fmt.Errorf("encode filters: %w", err)
		}
		filters = string(b)
	}
	sorts, err := encodeJSON(v.Sorts, "[]")
	if err != nil {
		return nil, err
	}
	visible, err := encodeJSON(v.VisibleColumns, "[]")
	if err != nil {
		return nil, err
	}
	display, err := encodeJSON(v.DisplayConfig, "{}")
	if err != nil {
		return nil, err
	}
	var createdBy any
	if v.CreatedBy != "" {
		createdBy = v.CreatedBy
	}
	return []any{v.Name, v.Slug, v.Type, filters, sorts, visible, display,
		v.IsDefault, v.IsPublic, v.IsShared, v.PageSize, createdBy}, nil
}

func viewFromRow(row map[string]any) (*View, error) {
	v := &View{
		ID:        store.AsString(row["id"]),
		TableID:   store.AsString(row["table_id"]),
		Name:      store.AsString(row["name"]),
		Slug:      store.AsString(row["slug"]),
		Type:      store.AsString(row["type"]),
		IsDefault: store.AsBool(row["is_default"]),
		IsPublic:  store.AsBool(row["is_public"]),
		IsShared:  store.AsBool(row["is_shared"]),
		PageSize:  int(store.AsInt64(row["page_size"])),
		CreatedBy: store.AsString(row["created_by"]),
		CreatedAt: store.AsTime(row["created_at"]),
		UpdatedAt: store.AsTime(row["updated_at"]),
	}
	if err := store.DecodeJSON(row["filters"], &v.Filters); err != nil {
		return nil, fmt.Errorf("view %s filters: %w", v.ID, err)
	}
	if err := store.DecodeJSON(row["sorts"], &v.Sorts); err != nil {
		return nil, fmt.Errorf("view %s sorts: %w", v.ID, err)
	}
	if err := store.DecodeJSON(row["visible_columns"], &v.VisibleColumns); err != nil {
		return nil, fmt.Errorf("view %s visible columns: %w", v.ID, err)
	}
	if err := store.DecodeJSON(row["display_config"], &v.DisplayConfig); err != nil {
		return nil, fmt.Errorf("view %s display config: %w", v.ID, err)
	}
	if v.VisibleColumns == nil {
		v.VisibleColumns = []string{}
	}
	if v.Sorts == nil {
		v.Sorts = []SortConfig{}
	}
	return v, nil
}

func encodeJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

// IsNotFound reports whether err is a missing-row error from the repository.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
