package schema

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dyntables/internal/apperr"
	"dyntables/internal/fieldtype"
	"dyntables/internal/ident"
	"dyntables/internal/instrument"
	"dyntables/internal/logger"
	"dyntables/internal/metadata"
	"dyntables/internal/store"
)

const tenant = "6f1c2d3e-4a5b-4c6d-8e7f-001122334455"

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "schema.db"), 0)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate())
	return NewManager(s, WithLogger(logger.Discard())), s
}

func insertRaw(t *testing.T, s *store.Store, table string, values map[string]any) {
	t.Helper()
	quoted, err := ident.QuoteTable(table)
	require.NoError(t, err)
	set := map[string]any{ident.Quote(ident.ColID): uuid.NewString()}
	for k, v := range values {
		set[ident.Quote(k)] = v
	}
	_, err = store.ExecSq(context.Background(), s.DB, s.Builder().Insert(quoted).SetMap(set))
	require.NoError(t, err)
}

func physicalType(t *testing.T, m *Manager, table, column string) string {
	t.Helper()
	cols, err := m.migrator.Columns(context.Background(), table)
	require.NoError(t, err)
	return strings.ToUpper(cols[column])
}

func createContacts(t *testing.T, m *Manager) *TableDetail {
	t.Helper()
	td, err := m.CreateTable(context.Background(), tenant, CreateTableInput{
		Name: "Contacts",
		Columns: []ColumnInput{
			{Label: "Full Name", Type: fieldtype.Text},
			{Name: "age", Type: fieldtype.Number},
			{Name: "notes", Type: fieldtype.Text},
			{Name: "score", Type: fieldtype.Formula, Config: map[string]any{"formula": "age * 2", "resultType": "number"}},
		},
	})
	require.NoError(t, err)
	return td
}

func TestPhysicalTableName(t *testing.T) {
	name := PhysicalTableName("6F1C2D3E-4A5B-4C6D-8E7F-001122334455", "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9")
	assert.Equal(t, "dt_6f1c2d3e4a5b_0a1b2c3d4e5f6071", name)
	assert.True(t, ident.IsValidTableName(name))

	opaque := PhysicalTableName("acme", "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9")
	assert.True(t, ident.IsValidTableName(opaque))
	assert.Equal(t, opaque, PhysicalTableName("acme", "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"))
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Sales Leads": "sales-leads",
		"Default":     "default",
		"Order":       "order",
		"2024 Plan":   "2024-plan",
		"  Q1 / Q2 ":  "q1-q2",
		"Tom's list":  "tom-s-list",
		"!!!":         "",
	}
	for in, want := range tests {
		assert.Equal(t, want, slugify(in), in)
	}
}

func TestCreateTable_SlugKeepsReservedWords(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	td, err := m.CreateTable(ctx, tenant, CreateTableInput{
		Name:    "Order",
		Columns: []ColumnInput{{Name: "total", Type: fieldtype.Number}},
	})
	require.NoError(t, err)
	assert.Equal(t, "order", td.Slug)
}

func TestClassifyConversion(t *testing.T) {
	tests := []struct {
		from, to string
		want     Conversion
	}{
		{fieldtype.Text, fieldtype.LongText, ConversionSafe},
		{fieldtype.LongText, fieldtype.Text, ConversionSafe},
		{fieldtype.Number, fieldtype.Currency, ConversionSafe},
		{fieldtype.Date, fieldtype.DateTime, ConversionSafe},
		{fieldtype.Boolean, fieldtype.Switch, ConversionSafe},
		{fieldtype.Email, fieldtype.Text, ConversionSafe},
		{fieldtype.Formula, fieldtype.Rollup, ConversionSafe},
		{fieldtype.Text, fieldtype.Number, ConversionChecked},
		{fieldtype.LongText, fieldtype.Currency, ConversionChecked},
		{fieldtype.DateTime, fieldtype.Date, ConversionRejected},
		{fieldtype.Number, fieldtype.Text, ConversionRejected},
		{fieldtype.Text, fieldtype.Select, ConversionRejected},
		{fieldtype.Text, fieldtype.Formula, ConversionRejected},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyConversion(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCreateTable_MaterializesColumnsAndDefaultView(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	td := createContacts(t, m)

	assert.Equal(t, "contacts", td.Slug)
	assert.Equal(t, PhysicalTableName(tenant, td.ID), td.PhysicalName)
	require.Len(t, td.Columns, 4)
	assert.Equal(t, "full_name", td.Columns[0].Name)

	physical, err := m.migrator.Columns(ctx, td.PhysicalName)
	require.NoError(t, err)
	for _, name := range []string{"id", "created_at", "updated_at", "created_by", "full_name", "age", "notes"} {
		assert.Contains(t, physical, name)
	}
	assert.NotContains(t, physical, "score")

	views, err := m.ListViews(ctx, tenant, td.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].IsDefault)
	assert.Equal(t, columnIDs(td.Columns), views[0].VisibleColumns)
}

func TestCreateTable_RejectsInvalidIdentifiersBeforeDDL(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)

	for _, name := range []string{"Bad-Name", "drop table x;", "select", "id", "1abc", "naïve"} {
		_, err := m.CreateTable(ctx, tenant, CreateTableInput{
			Name:    "Broken",
			Columns: []ColumnInput{{Name: name, Type: fieldtype.Text}},
		})
		assert.True(t, apperr.Is(err, apperr.CodeValidation), "%q: %v", name, err)
	}
	_, err := m.CreateTable(ctx, tenant, CreateTableInput{Name: "Typed", Columns: []ColumnInput{{Name: "x", Type: "hologram"}}})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	rows, err := store.QueryRows(ctx, s.DB, "SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'dt\\_%' ESCAPE '\\'")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateTable_DuplicateSlugConflicts(t *testing.T) {
	m, _ := newTestManager(t)
	createContacts(t, m)
	_, err := m.CreateTable(context.Background(), tenant, CreateTableInput{Name: "Contacts"})
	assert.True(t, apperr.Is(err, apperr.CodeConflict), "%v", err)
}

func TestAddColumn_RequiredOnPopulatedTableConflicts(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	td := createContacts(t, m)
	insertRaw(t, s, td.PhysicalName, map[string]any{"full_name": "Ada"})

	_, err := m.AddColumn(ctx, tenant, td.ID, ColumnInput{Name: "email", Type: fieldtype.Email, Required: true})
	assert.True(t, apperr.Is(err, apperr.CodeConflict), "%v", err)

	c, err := m.AddColumn(ctx, tenant, td.ID, ColumnInput{Name: "email", Type: fieldtype.Email})
	require.NoError(t, err)
	assert.Equal(t, 4, c.Position)
	assert.Equal(t, "TEXT", physicalType(t, m, td.PhysicalName, "email"))

	_, err = m.AddColumn(ctx, tenant, td.ID, ColumnInput{Name: "email", Type: fieldtype.Text})
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
}

func TestAddColumn_AppearsInExistingViews(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	td := createContacts(t, m)

	narrow, err := m.CreateView(ctx, tenant, td.ID, ViewInput{Name: "Names", VisibleColumns: []string{td.Columns[0].ID}})
	require.NoError(t, err)

	budget, err := m.AddColumn(ctx, tenant, td.ID, ColumnInput{Name: "budget", Type: fieldtype.Currency})
	require.NoError(t, err)

	views, err := m.ListViews(ctx, tenant, td.ID)
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.Equal(t, budget.ID, v.VisibleColumns[len(v.VisibleColumns)-1], v.Name)
	}
	def, ok := lo.Find(views, func(v *metadata.View) bool { return v.IsDefault })
	require.True(t, ok)
	assert.Equal(t, append(columnIDs(td.Columns), budget.ID), def.VisibleColumns)
	assert.NotEqual(t, narrow.ID, def.ID)
}

func TestAddColumn_RuleMustBeBoolean(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	td := createContacts(t, m)

	_, err := m.AddColumn(ctx, tenant, td.ID, ColumnInput{Name: "budget", Type: fieldtype.Number, Config: map[string]any{"rule": `value + "x"`}})
	assert.True(t, apperr.Is(err, apperr.CodeValidation), "%v", err)

	_, err = m.AddColumn(ctx, tenant, td.ID, ColumnInput{Name: "budget", Type: fieldtype.Number, Config: map[string]any{"rule": "value >= 0"}})
	assert.NoError(t, err)
}

func TestUpdateColumn_TextToNumberChecksValuesFirst(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	td := createContacts(t, m)
	notes := td.Columns[2]
	insertRaw(t, s, td.PhysicalName, map[string]any{"notes": "12"})
	insertRaw(t, s, td.PhysicalName, map[string]any{"notes": "abc"})

	number := fieldtype.Number
	_, err := m.UpdateColumn(ctx, tenant, td.ID, notes.ID, ColumnPatch{Type: &number})
	require.True(t, apperr.Is(err, apperr.CodeValidation), "%v", err)
	assert.Equal(t, "TEXT", physicalType(t, m, td.PhysicalName, "notes"))

	longText := fieldtype.LongText
	updated, err := m.UpdateColumn(ctx, tenant, td.ID, notes.ID, ColumnPatch{Type: &longText})
	require.NoError(t, err)
	assert.Equal(t, fieldtype.LongText, updated.Type)
}

func TestUpdateColumn_TextToNumberConvertsNumericValues(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	td := createContacts(t, m)
	notes := td.Columns[2]
	insertRaw(t, s, td.PhysicalName, map[string]any{"notes": " 12.5 "})
	insertRaw(t, s, td.PhysicalName, map[string]any{"notes": ""})

	currency := fieldtype.Currency
	_, err := m.UpdateColumn(ctx, tenant, td.ID, notes.ID, ColumnPatch{Type: &currency})
	require.NoError(t, err)
	assert.Equal(t, "NUMERIC", physicalType(t, m, td.PhysicalName, "notes"))

	rows, err := store.QueryRows(ctx, s.DB, "SELECT notes FROM "+ident.Quote(td.PhysicalName)+" WHERE notes IS NOT NULL")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 12.5, rows[0]["notes"])
}

func TestUpdateColumn_RejectsLossyConversion(t *testing.T) {
	m, _ := newTestManager(t)
	td := createContacts(t, m)
	date := fieldtype.Date
	_, err := m.UpdateColumn(context.Background(), tenant, td.ID, td.Columns[1].ID, ColumnPatch{Type: &date})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestUpdateColumn_RequiredWithNullsConflicts(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	td := createContacts(t, m)
	insertRaw(t, s, td.PhysicalName, map[string]any{"full_name": "Ada", "notes": ""})

	yes := true
	_, err := m.UpdateColumn(ctx, tenant, td.ID, td.Columns[2].ID, ColumnPatch{Required: &yes})
	assert.True(t, apperr.Is(err, apperr.CodeConflict), "%v", err)

	c, err := m.UpdateColumn(ctx, tenant, td.ID, td.Columns[0].ID, ColumnPatch{Required: &yes})
	require.NoError(t, err)
	assert.True(t, c.Required)
}

func TestUpdateColumn_Rename(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	td := createContacts(t, m)

	bad := "created_at"
	_, err := m.UpdateColumn(ctx, tenant, td.ID, td.Columns[2].ID, ColumnPatch{Name: &bad})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	name := "remarks"
	c, err := m.UpdateColumn(ctx, tenant, td.ID, td.Columns[2].ID, ColumnPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "remarks", c.Name)
	assert.Equal(t, "TEXT", physicalType(t, m, td.PhysicalName, "remarks"))
}

// createDeals links Deals to Companies with a lookup, a formula and a rollup
// on Companies that sums deal amounts.
func createDeals(t *testing.T, m *Manager) (companies, deals *TableDetail) {
	t.Helper()
	ctx := context.Background()
	companies, err := m.CreateTable(ctx, tenant, CreateTableInput{
		Name:    "Companies",
		Columns: []ColumnInput{{Name: "name", Type: fieldtype.Text}},
	})
	require.NoError(t, err)
	deals, err = m.CreateTable(ctx, tenant, CreateTableInput{
		Name: "Deals",
		Columns: []ColumnInput{
			{Name: "title", Type: fieldtype.Text},
			{Name: "amount", Type: fieldtype.Currency},
			{Name: "stage", Type: fieldtype.Text},
			{Name: "company", Type: fieldtype.Relation, Config: map[string]any{"targetTable": companies.ID, "displayField": "name"}},
			{Name: "company_name", Type: fieldtype.Lookup, Config: map[string]any{"relationField": "company", "targetField": "name"}},
			{Name: "headline", Type: fieldtype.Formula, Config: map[string]any{"formula": `title & "!"`, "resultType": "text"}},
		},
	})
	require.NoError(t, err)
	_, err = m.AddColumn(ctx, tenant, companies.ID, ColumnInput{Name: "pipeline", Type: fieldtype.Rollup, Config: map[string]any{
		"sourceTable": deals.ID, "filterBy": map[string]any{"field": "company", "matchesValue": "{{id}}"},
		"aggregation": "SUM", "aggregationField": "amount",
	}})
	require.NoError(t, err)
	return companies, deals
}

func TestUpdateColumn_RenameRejectedWhileReferenced(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	companies, deals := createDeals(t, m)

	tests := []struct {
		table     *TableDetail
		column    string
		dependent string
	}{
		{companies, "name", "company"},
		{deals, "amount", "pipeline"},
		{deals, "company", "company_name"},
		{deals, "title", "headline"},
	}
	for _, tt := range tests {
		renamed := tt.column + "_x"
		_, err := m.UpdateColumn(ctx, tenant, tt.table.ID, metadata.ColumnByName(tt.table.Columns, tt.column).ID, ColumnPatch{Name: &renamed})
		require.True(t, apperr.Is(err, apperr.CodeConflict), "%s: %v", tt.column, err)
		appErr, _ := apperr.As(err)
		fields := lo.Map(appErr.Details, func(d apperr.ErrorDetail, _ int) string { return d.Field })
		assert.Contains(t, fields, tt.dependent, tt.column)
	}

	renamed := "phase"
	c, err := m.UpdateColumn(ctx, tenant, deals.ID, metadata.ColumnByName(deals.Columns, "stage").ID, ColumnPatch{Name: &renamed})
	require.NoError(t, err)
	assert.Equal(t, "phase", c.Name)

	label := "Deal amount"
	_, err = m.UpdateColumn(ctx, tenant, deals.ID, metadata.ColumnByName(deals.Columns, "amount").ID, ColumnPatch{Label: &label})
	assert.NoError(t, err)
}

func TestDeleteColumn_RejectedWhileReferenced(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	companies, deals := createDeals(t, m)

	for _, col := range []*metadata.Column{
		metadata.ColumnByName(companies.Columns, "name"),
		metadata.ColumnByName(deals.Columns, "amount"),
		metadata.ColumnByName(deals.Columns, "company"),
	} {
		err := m.DeleteColumn(ctx, tenant, col.TableID, col.ID)
		assert.True(t, apperr.Is(err, apperr.CodeConflict), "%s: %v", col.Name, err)
	}

	// formulas read a dropped field as null
	title := metadata.ColumnByName(deals.Columns, "title")
	assert.NoError(t, m.DeleteColumn(ctx, tenant, deals.ID, title.ID))
}

func TestDeleteColumn_RemovesColumnFromEveryView(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	td := createContacts(t, m)
	age := td.Columns[1]

	second, err := m.CreateView(ctx, tenant, td.ID, ViewInput{
		Name:           "By age",
		VisibleColumns: []string{age.ID, td.Columns[0].ID},
		Sorts:          []metadata.SortConfig{{ColumnID: age.ID, Direction: "desc"}},
	})
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	require.NoError(t, m.DeleteColumn(ctx, tenant, td.ID, age.ID))

	views, err := m.ListViews(ctx, tenant, td.ID)
	require.NoError(t, err)
	for _, v := range views {
		assert.NotContains(t, v.VisibleColumns, age.ID)
		for _, s := range v.Sorts {
			assert.NotEqual(t, age.ID, s.ColumnID)
		}
	}
	assert.NotContains(t, physicalColumns(t, m, td.PhysicalName), "age")

	err = m.DeleteColumn(ctx, tenant, td.ID, age.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func physicalColumns(t *testing.T, m *Manager, table string) map[string]string {
	t.Helper()
	cols, err := m.migrator.Columns(context.Background(), table)
	require.NoError(t, err)
	return cols
}

func TestDeleteColumn_RejectsSystemColumns(t *testing.T) {
	m, _ := newTestManager(t)
	td := createContacts(t, m)
	err := m.DeleteColumn(context.Background(), tenant, td.ID, "created_at")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestViews_DefaultStaysUnique(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	td := createContacts(t, m)

	v, err := m.CreateView(ctx, tenant, td.ID, ViewInput{Name: "Board", Type: "kanban", IsDefault: true})
	require.NoError(t, err)
	assert.True(t, v.IsDefault)

	views, err := m.ListViews(ctx, tenant, td.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countDefaults(views))

	_, err = m.SetDefaultView(ctx, tenant, td.Views[0].ID)
	require.NoError(t, err)
	views, err = m.ListViews(ctx, tenant, td.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countDefaults(views))

	require.NoError(t, m.DeleteView(ctx, tenant, td.Views[0].ID))
	views, err = m.ListViews(ctx, tenant, td.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].IsDefault)

	err = m.DeleteView(ctx, tenant, views[0].ID)
	assert.True(t, apperr.Is(err, apperr.CodeConflict))
}

func countDefaults(views []*metadata.View) int {
	n := 0
	for _, v := range views {
		if v.IsDefault {
			n++
		}
	}
	return n
}

func TestViews_Validation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	td := createContacts(t, m)

	_, err := m.CreateView(ctx, tenant, td.ID, ViewInput{Name: "Ghost", VisibleColumns: []string{"nope"}})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = m.CreateView(ctx, tenant, td.ID, ViewInput{
		Name:    "Odd",
		Filters: metadata.NewGroup("XOR", metadata.Cond(td.Columns[1].ID, "sortOf", 1)),
	})
	require.True(t, apperr.Is(err, apperr.CodeValidation))
	appErr, _ := apperr.As(err)
	assert.Len(t, appErr.Details, 2)

	_, err = m.CreateView(ctx, tenant, td.ID, ViewInput{Name: "Default"})
	assert.True(t, apperr.Is(err, apperr.CodeConflict), "%v", err)
}

func TestReorderColumns(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	td := createContacts(t, m)
	ids := columnIDs(td.Columns)
	reversed := []string{ids[3], ids[2], ids[1], ids[0]}

	v, err := m.ReorderColumns(ctx, tenant, td.Views[0].ID, reversed)
	require.NoError(t, err)
	assert.Equal(t, reversed, v.VisibleColumns)

	_, err = m.ReorderColumns(ctx, tenant, td.Views[0].ID, []string{ids[0], ids[0]})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestReconcile_ReportsDrift(t *testing.T) {
	ctx := context.Background()
	m, s := newTestManager(t)
	td := createContacts(t, m)

	report, err := m.Reconcile(ctx, tenant, td.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent())

	_, err = s.DB.ExecContext(ctx, "ALTER TABLE "+ident.Quote(td.PhysicalName)+" ADD COLUMN stray TEXT")
	require.NoError(t, err)
	_, err = s.DB.ExecContext(ctx, "ALTER TABLE "+ident.Quote(td.PhysicalName)+" DROP COLUMN notes")
	require.NoError(t, err)

	report, err = m.Reconcile(ctx, tenant, td.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"stray"}, report.OrphanedPhysical)
	assert.Equal(t, []string{"notes"}, report.MissingPhysical)

	drift, err := m.ReconcileAll(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, drift, 1)
}

func TestDeleteTable_DropsPhysicalAndMetadata(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	td := createContacts(t, m)

	metrics := instrument.NewMetrics()
	ctx = instrument.WithInstrumenter(ctx, instrument.NewInstrumenter(metrics))
	require.NoError(t, m.DeleteTable(ctx, tenant, td.ID))

	exists, err := m.migrator.TableExists(ctx, td.PhysicalName)
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = m.GetTable(ctx, tenant, td.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.SchemaOrphans.WithLabelValues("delete_table")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.SpanDuration))
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	td := createContacts(t, m)

	_, err := m.GetTable(ctx, "other-tenant", td.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	_, err = m.GetView(ctx, "other-tenant", td.Views[0].ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	err = m.DeleteTable(ctx, "other-tenant", td.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	tables, err := m.ListTables(ctx, "other-tenant")
	require.NoError(t, err)
	assert.Empty(t, tables)
}
