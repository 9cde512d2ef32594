package metadata

import (
	"context"
	"sync"

	"dyntables/internal/store"
)

// Catalog memoizes table and column metadata for one request. Tables owned by
// another tenant are reported as store.ErrNotFound.
type Catalog struct {
	repo     *Repository
	tenantID string

	mu      sync.RWMutex
	tables  map[string]*Table
	columns map[string][]*Column
}

func NewCatalog(repo *Repository, tenantID string) *Catalog {
	return &Catalog{
		repo:     repo,
		tenantID: tenantID,
		tables:   make(map[string]*Table),
		columns:  make(map[string][]*Column),
	}
}

// Table returns the table with the given id.
func (c *Catalog) Table(ctx context.Context, id string) (*Table, error) {
	c.mu.RLock()
	t, ok := c.tables[id]
	c.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := c.repo.GetTable(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.TenantID != c.tenantID {
		return nil, store.ErrNotFound
	}

	c.mu.Lock()
	c.tables[id] = t
	c.mu.Unlock()
	return t, nil
}

// Columns returns the columns of a table in display order.
func (c *Catalog) Columns(ctx context.Context, tableID string) ([]*Column, error) {
	c.mu.RLock()
	cols, ok := c.columns[tableID]
	c.mu.RUnlock()
	if ok {
		return cols, nil
	}

	if _, err := c.Table(ctx, tableID); err != nil {
		return nil, err
	}
	cols, err := c.repo.ListColumns(ctx, tableID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.columns[tableID] = cols
	c.mu.Unlock()
	return cols, nil
}
