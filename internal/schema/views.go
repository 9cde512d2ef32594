package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"dyntables/internal/apperr"
	"dyntables/internal/filter"
	"dyntables/internal/ident"
	"dyntables/internal/metadata"
)

const maxPageSize = 500

type ViewInput struct {
	Name           string                `json:"name"`
	Slug           string                `json:"slug"`
	Type           string                `json:"type"`
	Filters        *metadata.FilterGroup `json:"filters"`
	Sorts          []metadata.SortConfig `json:"sorts"`
	VisibleColumns []string              `json:"visibleColumns"`
	DisplayConfig  map[string]any        `json:"displayConfig"`
	IsDefault      bool                  `json:"isDefault"`
	IsPublic       bool                  `json:"isPublic"`
	IsShared       bool                  `json:"isShared"`
	PageSize       int                   `json:"pageSize"`
}

// ViewPatch changes a view. Nil fields are left as they are; an explicit
// JSON null for filters is not distinguishable, so ClearFilters removes them.
type ViewPatch struct {
	Name           *string                `json:"name"`
	Slug           *string                `json:"slug"`
	Type           *string                `json:"type"`
	Filters        *metadata.FilterGroup  `json:"filters"`
	ClearFilters   bool                   `json:"clearFilters"`
	Sorts          *[]metadata.SortConfig `json:"sorts"`
	VisibleColumns *[]string              `json:"visibleColumns"`
	DisplayConfig  map[string]any         `json:"displayConfig"`
	IsPublic       *bool                  `json:"isPublic"`
	IsShared       *bool                  `json:"isShared"`
	PageSize       *int                   `json:"pageSize"`
}

func (m *Manager) ListViews(ctx context.Context, tenantID, tableID string) ([]*metadata.View, error) {
	t, err := m.loadTable(ctx, tenantID, tableID)
	if err != nil {
		return nil, err
	}
	views, err := m.repo.ListViews(ctx, t.ID)
	if err != nil {
		return nil, apperr.Storage("list views", err)
	}
	return views, nil
}

func (m *Manager) GetView(ctx context.Context, tenantID, viewID string) (*metadata.View, error) {
	v, _, err := m.loadView(ctx, tenantID, viewID)
	return v, err
}

// CreateView adds a view. A new default view replaces the previous default.
func (m *Manager) CreateView(ctx context.Context, tenantID, tableID string, in ViewInput) (*metadata.View, error) {
	t, err := m.loadTable(ctx, tenantID, tableID)
	if err != nil {
		return nil, err
	}
	cols, err := m.repo.ListColumns(ctx, t.ID)
	if err != nil {
		return nil, apperr.Storage("list columns", err)
	}

	v := &metadata.View{
		ID:             m.newID(),
		TableID:        t.ID,
		Name:           strings.TrimSpace(in.Name),
		Slug:           in.Slug,
		Type:           in.Type,
		Filters:        in.Filters,
		Sorts:          lo.Ternary(in.Sorts == nil, []metadata.SortConfig{}, in.Sorts),
		VisibleColumns: lo.Ternary(in.VisibleColumns == nil, []string{}, in.VisibleColumns),
		DisplayConfig:  lo.Ternary(in.DisplayConfig == nil, map[string]any{}, in.DisplayConfig),
		IsDefault:      in.IsDefault,
		IsPublic:       in.IsPublic,
		IsShared:       in.IsShared,
		PageSize:       in.PageSize,
		CreatedBy:      creatorFrom(ctx),
	}
	if v.Type == "" {
		v.Type = metadata.DefaultViewType
	}
	if v.Slug == "" {
		v.Slug = slugify(v.Name)
	}
	if v.PageSize == 0 {
		v.PageSize = 50
	}
	if err := validateView(v, cols); err != nil {
		return nil, err
	}

	existing, err := m.repo.ListViews(ctx, t.ID)
	if err != nil {
		return nil, apperr.Storage("list views", err)
	}
	if len(existing) == 0 {
		v.IsDefault = true
	}

	err = m.store.WithTx(ctx, func(tx *sql.Tx) error {
		repo := m.repo.WithQuerier(tx)
		if v.IsDefault {
			if err := repo.ClearDefaultViews(ctx, t.ID, v.ID); err != nil {
				return err
			}
		}
		return repo.InsertView(ctx, v)
	})
	if err != nil {
		return nil, writeErr("insert view", err, fmt.Sprintf("a view with slug %q already exists", v.Slug))
	}
	return v, nil
}

// UpdateView applies a patch. The default flag changes only through SetDefaultView.
func (m *Manager) UpdateView(ctx context.Context, tenantID, viewID string, p ViewPatch) (*metadata.View, error) {
	v, t, err := m.loadView(ctx, tenantID, viewID)
	if err != nil {
		return nil, err
	}
	cols, err := m.repo.ListColumns(ctx, t.ID)
	if err != nil {
		return nil, apperr.Storage("list columns", err)
	}

	if p.Name != nil {
		v.Name = strings.TrimSpace(*p.Name)
	}
	if p.Slug != nil {
		v.Slug = *p.Slug
	}
	if p.Type != nil {
		v.Type = *p.Type
	}
	if p.Filters != nil {
		v.Filters = p.Filters
	}
	if p.ClearFilters {
		v.Filters = nil
	}
	if p.Sorts != nil {
		v.Sorts = *p.Sorts
	}
	if p.VisibleColumns != nil {
		v.VisibleColumns = *p.VisibleColumns
	}
	if p.DisplayConfig != nil {
		v.DisplayConfig = p.DisplayConfig
	}
	if p.IsPublic != nil {
		v.IsPublic = *p.IsPublic
	}
	if p.IsShared != nil {
		v.IsShared = *p.IsShared
	}
	if p.PageSize != nil {
		v.PageSize = *p.PageSize
	}
	if err := validateView(v, cols); err != nil {
		return nil, err
	}
	if err := m.repo.UpdateView(ctx, v); err != nil {
		return nil, writeErr("update view", err, fmt.Sprintf("a view with slug %q already exists", v.Slug))
	}
	return v, nil
}

// DeleteView removes a view. The last view of a table cannot be deleted; when
// the default goes, the oldest remaining view becomes the default.
func (m *Manager) DeleteView(ctx context.Context, tenantID, viewID string) error {
	v, t, err := m.loadView(ctx, tenantID, viewID)
	if err != nil {
		return err
	}
	views, err := m.repo.ListViews(ctx, t.ID)
	if err != nil {
		return apperr.Storage("list views", err)
	}
	rest := lo.Reject(views, func(o *metadata.View, _ int) bool { return o.ID == v.ID })
	if v.IsDefault && len(rest) == 0 {
		return apperr.Conflict("the only view of a table cannot be deleted")
	}

	err = m.store.WithTx(ctx, func(tx *sql.Tx) error {
		repo := m.repo.WithQuerier(tx)
		if err := repo.DeleteView(ctx, v.ID); err != nil {
			return err
		}
		if !v.IsDefault {
			return nil
		}
		next := rest[0]
		next.IsDefault = true
		return repo.UpdateView(ctx, next)
	})
	if err != nil {
		return writeErr("delete view", err, "")
	}
	return nil
}

// SetDefaultView makes viewID the table's only default view: other defaults
// are unset and this one set inside one transaction.
func (m *Manager) SetDefaultView(ctx context.Context, tenantID, viewID string) (*metadata.View, error) {
	v, t, err := m.loadView(ctx, tenantID, viewID)
	if err != nil {
		return nil, err
	}
	v.IsDefault = true
	err = m.store.WithTx(ctx, func(tx *sql.Tx) error {
		repo := m.repo.WithQuerier(tx)
		if err := repo.ClearDefaultViews(ctx, t.ID, v.ID); err != nil {
			return err
		}
		return repo.UpdateView(ctx, v)
	})
	if err != nil {
		return nil, writeErr("set default view", err, "")
	}
	return v, nil
}

// ReorderColumns stores columnIDs as the view's visible column order.
func (m *Manager) ReorderColumns(ctx context.Context, tenantID, viewID string, columnIDs []string) (*metadata.View, error) {
	v, t, err := m.loadView(ctx, tenantID, viewID)
	if err != nil {
		return nil, err
	}
	cols, err := m.repo.ListColumns(ctx, t.ID)
	if err != nil {
		return nil, apperr.Storage("list columns", err)
	}
	if err := checkColumnIDs("columnIds", columnIDs, cols); err != nil {
		return nil, err
	}
	v.VisibleColumns = columnIDs
	if err := m.repo.UpdateView(ctx, v); err != nil {
		return nil, writeErr("reorder columns", err, "")
	}
	return v, nil
}

func validateView(v *metadata.View, cols []*metadata.Column) error {
	var details []apperr.ErrorDetail
	if v.Name == "" {
		details = append(details, apperr.ErrorDetail{Field: "name", Rule: "required", Message: "view name is required"})
	}
	if err := validateSlug(v.Slug); err != nil {
		details = append(details, apperr.ErrorDetail{Field: "slug", Rule: "pattern", Message: err.Error()})
	}
	if v.PageSize < 1 || v.PageSize > maxPageSize {
		details = append(details, apperr.ErrorDetail{Field: "pageSize", Rule: "range",
			Message: fmt.Sprintf("page size must be between 1 and %d", maxPageSize)})
	}
	for i, s := range v.Sorts {
		if !strings.EqualFold(s.Direction, "asc") && !strings.EqualFold(s.Direction, "desc") {
			details = append(details, apperr.ErrorDetail{Field: fmt.Sprintf("sorts[%d].direction", i), Rule: "enum",
				Message: "direction must be asc or desc"})
		}
	}
	details = append(details, validateGroup(v.Filters, "filters")...)
	if len(details) > 0 {
		return apperr.Validation(details)
	}
	return checkColumnIDs("visibleColumns", v.VisibleColumns, cols)
}

// validateGroup checks group operators and condition operators. Column ids
// are not checked: conditions on deleted columns are dropped when compiled.
func validateGroup(g *metadata.FilterGroup, path string) []apperr.ErrorDetail {
	if g == nil {
		return nil
	}
	var details []apperr.ErrorDetail
	if !strings.EqualFold(g.Operator, metadata.GroupAnd) && !strings.EqualFold(g.Operator, metadata.GroupOr) {
		details = append(details, apperr.ErrorDetail{Field: path + ".operator", Rule: "enum", Message: "operator must be AND or OR"})
	}
	for i, item := range g.Conditions {
		p := fmt.Sprintf("%s.conditions[%d]", path, i)
		switch {
		case item.Group != nil:
			details = append(details, validateGroup(item.Group, p)...)
		case item.Condition != nil && !filter.IsOperator(item.Condition.Operator):
			details = append(details, apperr.ErrorDetail{Field: p + ".operator", Rule: "enum",
				Message: fmt.Sprintf("unknown operator %q", item.Condition.Operator)})
		}
	}
	return details
}

// checkColumnIDs requires every id to name a column of the table or a
// system column, without duplicates.
func checkColumnIDs(field string, ids []string, cols []*metadata.Column) error {
	byID := metadata.ColumnsByID(cols)
	var details []apperr.ErrorDetail
	for _, id := range ids {
		if _, ok := byID[id]; !ok && !ident.IsSystemColumn(id) {
			details = append(details, apperr.ErrorDetail{Field: field, Rule: "exists", Message: fmt.Sprintf("column %s not found", id)})
		}
	}
	if dup := lo.FindDuplicates(ids); len(dup) > 0 {
		details = append(details, apperr.ErrorDetail{Field: field, Rule: "unique", Message: fmt.Sprintf("duplicate columns %v", dup)})
	}
	if len(details) > 0 {
		return apperr.Validation(details)
	}
	return nil
}
