package schema

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"dyntables/internal/apperr"
	"dyntables/internal/fieldtype"
	"dyntables/internal/ident"
	"dyntables/internal/instrument"
	"dyntables/internal/metadata"
	"dyntables/internal/store"
)

var (
	slugRe    = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	slugSepRe = regexp.MustCompile(`[^a-z0-9]+`)
)

type CreateTableInput struct {
	Name        string        `json:"name"`
	Slug        string        `json:"slug"`
	Description string        `json:"description"`
	Columns     []ColumnInput `json:"columns"`
}

type UpdateTableInput struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
}

// TableDetail is a table with its columns and views.
type TableDetail struct {
	*metadata.Table
	Columns []*metadata.Column `json:"columns"`
	Views   []*metadata.View   `json:"views"`
}

// slugify turns a display name into a URL slug, e.g. "Sales Leads" -> "sales-leads".
func slugify(name string) string {
	return strings.Trim(slugSepRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

func validateSlug(slug string) error {
	if !slugRe.MatchString(slug) {
		return apperr.Invalid("slug", "pattern", fmt.Sprintf("slug %q must be lowercase words joined by hyphens", slug))
	}
	return nil
}

// CreateTable creates the physical table, then its metadata, then a default
// grid view showing every column.
func (m *Manager) CreateTable(ctx context.Context, tenantID string, in CreateTableInput) (_ *TableDetail, err error) {
	ctx, span := m.span(ctx, "create_table")
	defer func() { finish(span, err) }()

	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, apperr.Invalid("name", "required", "table name is required")
	}
	if in.Slug == "" {
		in.Slug = slugify(in.Name)
	}
	if err := validateSlug(in.Slug); err != nil {
		return nil, err
	}

	t := &metadata.Table{
		ID:          m.newID(),
		TenantID:    tenantID,
		Name:        in.Name,
		Slug:        in.Slug,
		Description: in.Description,
	}
	t.PhysicalName = PhysicalTableName(tenantID, t.ID)
	if !ident.IsValidTableName(t.PhysicalName) {
		return nil, apperr.Invalid("id", "pattern", "could not derive a valid physical table name")
	}

	cols := make([]*metadata.Column, 0, len(in.Columns))
	var defs []store.ColumnDef
	for i, ci := range in.Columns {
		ci.normalize()
		c := &metadata.Column{
			ID:       m.newID(),
			TableID:  t.ID,
			Name:     ci.Name,
			Label:    ci.Label,
			Type:     ci.Type,
			Required: ci.Required,
			Position: i,
			Config:   ci.Config,
		}
		if ci.Position != nil {
			c.Position = *ci.Position
		}
		if err := m.validateColumn(ctx, tenantID, c, cols); err != nil {
			return nil, err
		}
		cols = append(cols, c)
		if desc := c.Descriptor(); !desc.Virtual {
			defs = append(defs, store.ColumnDef{Name: c.Name, Storage: desc.Storage, NotNull: c.Required})
		}
	}

	if err := m.migrator.CreateTable(ctx, t.PhysicalName, defs); err != nil {
		return nil, apperr.Storage("create table", err)
	}

	if err := m.repo.InsertTable(ctx, t); err != nil {
		if dropErr := m.migrator.DropTable(ctx, t.PhysicalName); dropErr != nil {
			m.orphan(ctx, "create_table", t.PhysicalName, "", dropErr)
		}
		return nil, writeErr("insert table", err, fmt.Sprintf("a table with slug %q already exists", t.Slug))
	}
	for _, c := range cols {
		if err := m.repo.InsertColumn(ctx, c); err != nil {
			m.orphan(ctx, "create_table", t.PhysicalName, c.Name, err)
			return nil, apperr.Storage("insert column", err)
		}
	}

	view := &metadata.View{
		ID:             m.newID(),
		TableID:        t.ID,
		Name:           "Default",
		Slug:           "default",
		Type:           metadata.DefaultViewType,
		Sorts:          []metadata.SortConfig{},
		VisibleColumns: columnIDs(cols),
		DisplayConfig:  map[string]any{},
		IsDefault:      true,
		PageSize:       50,
		CreatedBy:      creatorFrom(ctx),
	}
	if err := m.repo.InsertView(ctx, view); err != nil {
		m.logger.ErrorContext(ctx, "default view not created", "table_id", t.ID, "error", err)
		return nil, apperr.Storage("insert default view", err)
	}

	m.logger.InfoContext(ctx, "table created", "table_id", t.ID, "physical_table", t.PhysicalName, "columns", len(cols))
	return &TableDetail{Table: t, Columns: cols, Views: []*metadata.View{view}}, nil
}

// GetTable returns a table with its columns and views.
func (m *Manager) GetTable(ctx context.Context, tenantID, tableID string) (*TableDetail, error) {
	t, err := m.loadTable(ctx, tenantID, tableID)
	if err != nil {
		return nil, err
	}
	cols, err := m.repo.ListColumns(ctx, t.ID)
	if err != nil {
		return nil, apperr.Storage("list columns", err)
	}
	views, err := m.repo.ListViews(ctx, t.ID)
	if err != nil {
		return nil, apperr.Storage("list views", err)
	}
	return &TableDetail{Table: t, Columns: cols, Views: views}, nil
}

func (m *Manager) ListTables(ctx context.Context, tenantID string) ([]*metadata.Table, error) {
	tables, err := m.repo.ListTables(ctx, tenantID)
	if err != nil {
		return nil, apperr.Storage("list tables", err)
	}
	return tables, nil
}

// UpdateTable changes name, slug or description. The physical name never changes.
func (m *Manager) UpdateTable(ctx context.Context, tenantID, tableID string, in UpdateTableInput) (*metadata.Table, error) {
	t, err := m.loadTable(ctx, tenantID, tableID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Invalid("name", "required", "table name is required")
		}
		t.Name = name
	}
	if in.Slug != nil {
		if err := validateSlug(*in.Slug); err != nil {
			return nil, err
		}
		t.Slug = *in.Slug
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if err := m.repo.UpdateTable(ctx, t); err != nil {
		return nil, writeErr("update table", err, fmt.Sprintf("a table with slug %q already exists", t.Slug))
	}
	return t, nil
}

// DeleteTable drops the physical table, then removes the metadata with its
// columns and views.
func (m *Manager) DeleteTable(ctx context.Context, tenantID, tableID string) (err error) {
	ctx, span := m.span(ctx, "delete_table")
	defer func() { finish(span, err) }()

	t, err := m.loadTable(ctx, tenantID, tableID)
	if err != nil {
		return err
	}
	if err := m.migrator.DropTable(ctx, t.PhysicalName); err != nil {
		return apperr.Storage("drop table", err)
	}
	if err := m.repo.DeleteTable(ctx, t.ID); err != nil {
		m.logger.ErrorContext(ctx, "metadata left for dropped table",
			"table_id", t.ID, "physical_table", t.PhysicalName, "error", err)
		instrument.GetInstrumenter(ctx).SchemaOrphan("delete_table")
		return apperr.Storage("delete table", err)
	}
	m.logger.InfoContext(ctx, "table deleted", "table_id", t.ID, "physical_table", t.PhysicalName)
	return nil
}

func columnIDs(cols []*metadata.Column) []string {
	return lo.Map(cols, func(c *metadata.Column, _ int) string { return c.ID })
}

func creatorFrom(ctx context.Context) string {
	if u := metadata.UserFrom(ctx); u != nil {
		return u.ID
	}
	return ""
}

// storageOf is the physical storage of a column, StorageNone when virtual.
func storageOf(c *metadata.Column) fieldtype.StorageKind {
	d := c.Descriptor()
	if d.Virtual {
		return fieldtype.StorageNone
	}
	return d.Storage
}
