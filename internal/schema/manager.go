// Package schema materializes dynamic tables: it runs the DDL for tables and
// columns and keeps the metadata store in step with it.
//
// DDL and metadata writes are separate steps. When DDL succeeds and the
// metadata write fails, the physical schema is left ahead of the metadata;
// that state is logged, counted as an orphan and reported by Reconcile.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"dyntables/internal/apperr"
	"dyntables/internal/ident"
	"dyntables/internal/instrument"
	"dyntables/internal/logger"
	"dyntables/internal/metadata"
	"dyntables/internal/store"
)

type Manager struct {
	store    *store.Store
	repo     *metadata.Repository
	migrator *store.Migrator
	logger   *slog.Logger
	newID    func() string
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithIDGenerator replaces uuid.NewString for new table, column and view ids.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

func NewManager(s *store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:    s,
		repo:     metadata.NewRepository(s.DB, s.Dialect),
		migrator: store.NewMigrator(s),
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = logger.Get()
	}
	return m
}

// Repository exposes the metadata repository the manager writes through.
func (m *Manager) Repository() *metadata.Repository {
	return m.repo
}

// PhysicalTableName derives dt_<12 hex of tenant>_<16 hex of table>. Ids that
// are not UUIDs are first mapped to a name-based UUID so the result is stable.
func PhysicalTableName(tenantID, tableID string) string {
	return "dt_" + hexPrefix(tenantID, 12) + "_" + hexPrefix(tableID, 16)
}

func hexPrefix(id string, n int) string {
	u, err := uuid.Parse(id)
	if err != nil {
		u = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
	}
	return strings.ReplaceAll(u.String(), "-", "")[:n]
}

// loadTable fetches a table owned by tenantID.
func (m *Manager) loadTable(ctx context.Context, tenantID, tableID string) (*metadata.Table, error) {
	if _, err := uuid.Parse(tableID); err != nil {
		return nil, apperr.NotFound("Table", tableID)
	}
	t, err := m.repo.GetTable(ctx, tableID)
	if err != nil {
		if metadata.IsNotFound(err) {
			return nil, apperr.NotFound("Table", tableID)
		}
		return nil, apperr.Storage("load table", err)
	}
	if t.TenantID != tenantID {
		return nil, apperr.NotFound("Table", tableID)
	}
	return t, nil
}

// loadColumn fetches a column of tableID.
func (m *Manager) loadColumn(ctx context.Context, tableID, columnID string) (*metadata.Column, error) {
	if _, err := uuid.Parse(columnID); err != nil {
		return nil, apperr.NotFound("Column", columnID)
	}
	c, err := m.repo.GetColumn(ctx, columnID)
	if err != nil {
		if metadata.IsNotFound(err) {
			return nil, apperr.NotFound("Column", columnID)
		}
		return nil, apperr.Storage("load column", err)
	}
	if c.TableID != tableID {
		return nil, apperr.NotFound("Column", columnID)
	}
	return c, nil
}

// loadView fetches a view whose table belongs to tenantID.
func (m *Manager) loadView(ctx context.Context, tenantID, viewID string) (*metadata.View, *metadata.Table, error) {
	if _, err := uuid.Parse(viewID); err != nil {
		return nil, nil, apperr.NotFound("View", viewID)
	}
	v, err := m.repo.GetView(ctx, viewID)
	if err != nil {
		if metadata.IsNotFound(err) {
			return nil, nil, apperr.NotFound("View", viewID)
		}
		return nil, nil, apperr.Storage("load view", err)
	}
	t, err := m.loadTable(ctx, tenantID, v.TableID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return nil, nil, apperr.NotFound("View", viewID)
		}
		return nil, nil, err
	}
	return v, t, nil
}

// writeErr maps a failed metadata write: unique violations become conflicts.
func writeErr(op string, err error, conflictMsg string) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, store.ErrUniqueViolation) {
		return apperr.Conflict(conflictMsg)
	}
	if metadata.IsNotFound(err) {
		return apperr.New(apperr.CodeNotFound, http.StatusNotFound, op+": target no longer exists")
	}
	return apperr.Storage(op, err)
}

// orphan logs and counts DDL that has no matching metadata.
func (m *Manager) orphan(ctx context.Context, op, physical, column string, err error) {
	m.logger.ErrorContext(ctx, "schema change left without metadata",
		"operation", op, "physical_table", physical, "column", column, "error", err)
	instrument.GetInstrumenter(ctx).SchemaOrphan(op)
}

func (m *Manager) span(ctx context.Context, action string) (context.Context, instrument.Span) {
	return instrument.GetInstrumenter(ctx).StartSpan(ctx, "schema", "manager", action)
}

// finish ends a span with a status derived from err.
func finish(span instrument.Span, err error) {
	if err != nil {
		span.SetStatus("error")
	}
	span.End()
}

// countRows counts rows in a physical table matching cond ("" for all).
func (m *Manager) countRows(ctx context.Context, physical, cond string) (int64, error) {
	quoted, err := ident.QuoteTable(physical)
	if err != nil {
		return 0, err
	}
	sb := m.store.Builder().Select("COUNT(*) AS n").From(quoted)
	if cond != "" {
		sb = sb.Where(cond)
	}
	rows, err := store.QuerySq(ctx, m.store.DB, sb)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return store.AsInt64(rows[0]["n"]), nil
}
