package schema

import (
	"context"
	"sort"

	"github.com/samber/lo"

	"dyntables/internal/apperr"
	"dyntables/internal/fieldtype"
	"dyntables/internal/ident"
)

// ReconcileReport lists the differences between a table's metadata and its
// physical schema.
type ReconcileReport struct {
	TableID      string `json:"tableId"`
	PhysicalName string `json:"physicalName"`
	MissingTable bool   `json:"missingTable"`
	// OrphanedPhysical are physical columns with no column metadata.
	OrphanedPhysical []string `json:"orphanedPhysical"`
	// MissingPhysical are stored columns whose physical column is absent.
	MissingPhysical []string `json:"missingPhysical"`
}

// Consistent reports whether metadata and physical schema agree.
func (r *ReconcileReport) Consistent() bool {
	return !r.MissingTable && len(r.OrphanedPhysical) == 0 && len(r.MissingPhysical) == 0
}

// Reconcile compares a table's column metadata with its physical columns.
// It reports and logs drift; it never repairs it.
func (m *Manager) Reconcile(ctx context.Context, tenantID, tableID string) (_ *ReconcileReport, err error) {
	ctx, span := m.span(ctx, "reconcile")
	defer func() { finish(span, err) }()

	t, err := m.loadTable(ctx, tenantID, tableID)
	if err != nil {
		return nil, err
	}
	report := &ReconcileReport{
		TableID:          t.ID,
		PhysicalName:     t.PhysicalName,
		OrphanedPhysical: []string{},
		MissingPhysical:  []string{},
	}

	exists, err := m.migrator.TableExists(ctx, t.PhysicalName)
	if err != nil {
		return nil, apperr.Storage("check table", err)
	}
	if !exists {
		report.MissingTable = true
		m.logger.WarnContext(ctx, "physical table missing", "table_id", t.ID, "physical_table", t.PhysicalName)
		return report, nil
	}

	physical, err := m.migrator.Columns(ctx, t.PhysicalName)
	if err != nil {
		return nil, apperr.Storage("list physical columns", err)
	}
	cols, err := m.repo.ListColumns(ctx, t.ID)
	if err != nil {
		return nil, apperr.Storage("list columns", err)
	}

	stored := map[string]bool{}
	for _, c := range cols {
		if storageOf(c) == fieldtype.StorageNone {
			continue
		}
		stored[c.Name] = true
		if _, ok := physical[c.Name]; !ok {
			report.MissingPhysical = append(report.MissingPhysical, c.Name)
		}
	}
	for name := range physical {
		if !stored[name] && !ident.IsSystemColumn(name) {
			report.OrphanedPhysical = append(report.OrphanedPhysical, name)
		}
	}
	sort.Strings(report.OrphanedPhysical)
	sort.Strings(report.MissingPhysical)

	if !report.Consistent() {
		m.logger.WarnContext(ctx, "schema drift detected",
			"table_id", t.ID, "physical_table", t.PhysicalName,
			"orphaned_physical", report.OrphanedPhysical, "missing_physical", report.MissingPhysical)
	}
	return report, nil
}

// ReconcileAll reconciles every table of a tenant and returns the inconsistent ones.
func (m *Manager) ReconcileAll(ctx context.Context, tenantID string) ([]*ReconcileReport, error) {
	tables, err := m.ListTables(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var drift []*ReconcileReport
	for _, t := range tables {
		r, err := m.Reconcile(ctx, tenantID, t.ID)
		if err != nil {
			return nil, err
		}
		drift = append(drift, r)
	}
	return lo.Filter(drift, func(r *ReconcileReport, _ int) bool { return !r.Consistent() }), nil
}
