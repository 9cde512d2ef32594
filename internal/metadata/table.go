package metadata

import (
	"time"

	"dyntables/internal/fieldtype"
)

// Table is a tenant-defined dynamic table.
type Table struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	PhysicalName string    `json:"physicalName"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Column is a user column of a dynamic table. Computed column configs live in Config.
type Column struct {
	ID        string         `json:"id"`
	TableID   string         `json:"tableId"`
	Name      string         `json:"name"`
	Label     string         `json:"label"`
	Type      string         `json:"type"`
	Required  bool           `json:"required"`
	Position  int            `json:"position"`
	Config    map[string]any `json:"config"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Descriptor resolves the column's storage and validation contract.
func (c *Column) Descriptor() fieldtype.Descriptor {
	return fieldtype.Resolve(c.Type, c.Config)
}

// IsDocumentBacked reports whether the column stores a JSON document.
func (c *Column) IsDocumentBacked() bool {
	return c.Descriptor().IsDocumentBacked
}

// IsVirtual reports whether the column has no physical storage.
func (c *Column) IsVirtual() bool {
	return c.Descriptor().Virtual
}

// View is a saved query definition over a table.
type View struct {
	ID             string         `json:"id"`
	TableID        string         `json:"tableId"`
	Name           string         `json:"name"`
	Slug           string         `json:"slug"`
	Type           string         `json:"type"`
	Filters        *FilterGroup   `json:"filters"`
	Sorts          []SortConfig   `json:"sorts"`
	VisibleColumns []string       `json:"visibleColumns"`
	DisplayConfig  map[string]any `json:"displayConfig"`
	IsDefault      bool           `json:"isDefault"`
	IsPublic       bool           `json:"isPublic"`
	IsShared       bool           `json:"isShared"`
	PageSize       int            `json:"pageSize"`
	CreatedBy      string         `json:"createdBy,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

const DefaultViewType = "grid"

// ColumnsByID indexes columns by id.
func ColumnsByID(cols []*Column) map[string]*Column {
	m := make(map[string]*Column, len(cols))
	for _, c := range cols {
		m[c.ID] = c
	}
	return m
}

// ColumnByName finds a column by storage name.
func ColumnByName(cols []*Column, name string) *Column {
	for _, c := range cols {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ColumnsOfType returns the columns with the given logical type, in order.
func ColumnsOfType(cols []*Column, logicalType string) []*Column {
	var out []*Column
	for _, c := range cols {
		if c.Type == logicalType {
			out = append(out, c)
		}
	}
	return out
}
