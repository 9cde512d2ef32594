package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dyntables/internal/apperr"
	"dyntables/internal/fieldtype"
	"dyntables/internal/logger"
	"dyntables/internal/metadata"
	"dyntables/internal/schema"
	"dyntables/internal/store"
)

const (
	tenant      = "6f1c2d3e-4a5b-4c6d-8e7f-001122334455"
	otherTenant = "0d9e8f7a-6b5c-4d3e-8f2a-998877665544"
	userID      = "a1b2c3d4-e5f6-4a5b-8c7d-0e1f2a3b4c5d"
)

type fixture struct {
	store    *store.Store
	schema   *schema.Manager
	engine   *Engine
	ctx      context.Context
	projects *schema.TableDetail
	tasks    *schema.TableDetail
	apollo   string
	borealis string
}

func tenantCtx(tenantID string) context.Context {
	return metadata.WithUser(context.Background(), &metadata.UserContext{ID: userID, TenantID: tenantID})
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "engine.db"), 0)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return fixtureOn(t, s, opts...)
}

// fixtureOn migrates s and creates a Projects table and a Tasks table that
// relates to it, with lookup, formula and rollup columns.
func fixtureOn(t *testing.T, s *store.Store, opts ...Option) *fixture {
	t.Helper()
	ctx := tenantCtx(tenant)
	require.NoError(t, s.Migrate())

	var err error
	fx := &fixture{
		store:  s,
		schema: schema.NewManager(s, schema.WithLogger(logger.Discard())),
		ctx:    ctx,
	}
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	fx.engine = New(s, opts...)

	fx.projects, err = fx.schema.CreateTable(ctx, tenant, schema.CreateTableInput{
		Name: "Projects",
		Columns: []schema.ColumnInput{
			{Name: "name", Type: fieldtype.Text, Required: true},
			{Name: "status", Type: fieldtype.Select, Config: map[string]any{
				"options": []any{map[string]any{"id": "active", "label": "Active"}, map[string]any{"id": "paused", "label": "Paused"}},
			}},
		},
	})
	require.NoError(t, err)

	fx.tasks, err = fx.schema.CreateTable(ctx, tenant, schema.CreateTableInput{
		Name: "Tasks",
		Columns: []schema.ColumnInput{
			{Name: "title", Type: fieldtype.Text, Required: true},
			{Name: "hours", Type: fieldtype.Number, Config: map[string]any{"rule": "value >= 0", "ruleMessage": "hours cannot be negative"}},
			{Name: "done", Type: fieldtype.Boolean},
			{Name: "tags", Type: fieldtype.MultiSelect, Config: map[string]any{"options": []any{"red", "green", "blue"}}},
			{Name: "due", Type: fieldtype.Date},
			{Name: "project", Type: fieldtype.Relation, Config: map[string]any{"targetTable": fx.projects.ID, "displayField": "name"}},
			{Name: "project_name", Type: fieldtype.Lookup, Config: map[string]any{"relationField": "project", "targetField": "name"}},
			{Name: "double_hours", Type: fieldtype.Formula, Config: map[string]any{"formula": "hours * 2", "resultType": "number"}},
		},
	})
	require.NoError(t, err)

	for _, in := range []schema.ColumnInput{
		{Name: "task_count", Type: fieldtype.Rollup, Config: map[string]any{
			"sourceTable": fx.tasks.ID, "filterBy": map[string]any{"field": "project", "matchesValue": "{{id}}"}, "aggregation": "COUNT",
		}},
		{Name: "total_hours", Type: fieldtype.Rollup, Config: map[string]any{
			"sourceTable": fx.tasks.ID, "filterBy": map[string]any{"field": "project", "matchesValue": "{{id}}"},
			"aggregation": "SUM", "aggregationField": "hours",
		}},
	} {
		_, err := fx.schema.AddColumn(ctx, tenant, fx.projects.ID, in)
		require.NoError(t, err)
	}
	return fx
}

// seed inserts two projects and five tasks; Borealis has no tasks.
func (fx *fixture) seed(t *testing.T) {
	t.Helper()
	fx.apollo = fx.insert(t, fx.projects.ID, map[string]any{"name": "Apollo", "status": "active"})
	fx.borealis = fx.insert(t, fx.projects.ID, map[string]any{"name": "Borealis", "status": "paused"})

	fx.insert(t, fx.tasks.ID, map[string]any{"title": "Design", "hours": float64(3), "done": true, "tags": []any{"red", "green"}, "due": "2024-03-01", "project": fx.apollo})
	fx.insert(t, fx.tasks.ID, map[string]any{"title": "Build", "hours": float64(5), "done": false, "tags": []any{"green"}, "due": "2024-03-02", "project": fx.apollo})
	fx.insert(t, fx.tasks.ID, map[string]any{"title": "Ship", "hours": float64(1), "tags": []any{}, "due": "2024-03-02"})
	fx.insert(t, fx.tasks.ID, map[string]any{"title": "Review", "hours": float64(2), "done": true})
	fx.insert(t, fx.tasks.ID, map[string]any{"title": "Loose"})
}

func (fx *fixture) insert(t *testing.T, tableID string, values map[string]any) string {
	t.Helper()
	row, err := fx.engine.InsertRow(fx.ctx, tableID, values)
	require.NoError(t, err)
	return row["id"].(string)
}

func (fx *fixture) view(td *schema.TableDetail) string {
	return td.Views[0].ID
}

func (fx *fixture) sortBy(td *schema.TableDetail, name, dir string) *[]metadata.SortConfig {
	col := metadata.ColumnByName(td.Columns, name)
	return &[]metadata.SortConfig{{ColumnID: col.ID, Direction: dir}}
}

func (fx *fixture) col(td *schema.TableDetail, name string) string {
	return metadata.ColumnByName(td.Columns, name).ID
}

func titles(rows []map[string]any) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["title"].(string)
	}
	return out
}

func rowWith(rows []map[string]any, key, value string) map[string]any {
	for _, r := range rows {
		if r[key] == value {
			return r
		}
	}
	return nil
}

func TestQueryViewRows_ResolvesComputedColumns(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)

	res, err := fx.engine.QueryViewRows(fx.ctx, fx.view(fx.tasks), QueryOptions{Sorts: fx.sortBy(fx.tasks, "title", "asc")})
	require.NoError(t, err)
	assert.Equal(t, []string{"Build", "Design", "Loose", "Review", "Ship"}, titles(res.Rows))
	assert.EqualValues(t, 5, res.Total)
	assert.False(t, res.HasMore)
	assert.Equal(t, fx.tasks.Views[0].ID, res.View.ID)
	assert.Len(t, res.View.Columns, len(fx.tasks.Columns))

	design := rowWith(res.Rows, "title", "Design")
	assert.Equal(t, map[string]any{"relatedId": fx.apollo, "displayFieldValue": "Apollo", "displayField": "name"}, design["project"])
	assert.Equal(t, "Apollo", design["project_name"])
	assert.Equal(t, float64(6), design["double_hours"])
	assert.Equal(t, true, design["done"])
	assert.Equal(t, []any{"red", "green"}, design["tags"])
	assert.Equal(t, "2024-03-01", design["due"])

	projects, err := fx.engine.QueryViewRows(fx.ctx, fx.view(fx.projects), QueryOptions{Sorts: fx.sortBy(fx.projects, "name", "asc")})
	require.NoError(t, err)
	require.Len(t, projects.Rows, 2)
	assert.Equal(t, float64(2), projects.Rows[0]["task_count"])
	assert.Equal(t, float64(8), projects.Rows[0]["total_hours"])
	assert.Equal(t, "active", projects.Rows[0]["status"])
}

func TestQueryViewRows_NullSafety(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)

	res, err := fx.engine.QueryViewRows(fx.ctx, fx.view(fx.tasks), QueryOptions{})
	require.NoError(t, err)

	loose := rowWith(res.Rows, "title", "Loose")
	require.NotNil(t, loose)
	assert.Nil(t, loose["project"])
	assert.Nil(t, loose["project_name"])
	assert.Nil(t, loose["hours"])
	assert.Equal(t, float64(0), loose["double_hours"])

	projects, err := fx.engine.QueryViewRows(fx.ctx, fx.view(fx.projects), QueryOptions{})
	require.NoError(t, err)
	borealis := rowWith(projects.Rows, "name", "Borealis")
	require.NotNil(t, borealis)
	assert.Equal(t, float64(0), borealis["task_count"])
	assert.Nil(t, borealis["total_hours"])
}

func TestQueryViewRows_RollupOverNullRelation(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)
	siblings := map[string]any{"field": "project", "matchesValue": "{{project}}"}
	for _, in := range []schema.ColumnInput{
		{Name: "sibling_count", Type: fieldtype.Rollup, Config: map[string]any{
			"sourceTable": fx.tasks.ID, "filterBy": siblings, "aggregation": "COUNT",
		}},
		{Name: "sibling_hours", Type: fieldtype.Rollup, Config: map[string]any{
			"sourceTable": fx.tasks.ID, "filterBy": siblings, "aggregation": "SUM", "aggregationField": "hours",
		}},
		{Name: "sibling_max", Type: fieldtype.Rollup, Config: map[string]any{
			"sourceTable": fx.tasks.ID, "filterBy": siblings, "aggregation": "MAX", "aggregationField": "hours",
		}},
	} {
		_, err := fx.schema.AddColumn(fx.ctx, tenant, fx.tasks.ID, in)
		require.NoError(t, err)
	}

	for _, e := range []*Engine{fx.engine, New(fx.store, WithLogger(logger.Discard()), WithBatchLoading(true))} {
		res, err := e.QueryViewRows(fx.ctx, fx.view(fx.tasks), QueryOptions{})
		require.NoError(t, err)

		loose := rowWith(res.Rows, "title", "Loose")
		require.NotNil(t, loose)
		assert.Equal(t, float64(0), loose["sibling_count"])
		assert.Nil(t, loose["sibling_hours"])
		assert.Nil(t, loose["sibling_max"])

		design := rowWith(res.Rows, "title", "Design")
		require.NotNil(t, design)
		assert.Equal(t, float64(2), design["sibling_count"])
		assert.Equal(t, float64(8), design["sibling_hours"])
		assert.Equal(t, float64(5), design["sibling_max"])
	}
}

func TestQueryViewRows_Filters(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)
	hours, title, project := fx.col(fx.tasks, "hours"), fx.col(fx.tasks, "title"), fx.col(fx.tasks, "project")
	sorts := fx.sortBy(fx.tasks, "title", "asc")

	tests := []struct {
		name    string
		filters *metadata.FilterGroup
		extra   *metadata.FilterGroup
		want    []string
	}{
		{"comparison", metadata.NewGroup(metadata.GroupAnd, metadata.Cond(hours, "gte", float64(3))), nil, []string{"Build", "Design"}},
		{"or group", metadata.NewGroup(metadata.GroupOr,
			metadata.Cond(title, "equals", "Ship"),
			metadata.Cond(hours, "gt", float64(4)),
		), nil, []string{"Build", "Ship"}},
		{"nested", metadata.NewGroup(metadata.GroupAnd,
			metadata.Cond(project, "isNotEmpty", nil),
			metadata.Sub(metadata.NewGroup(metadata.GroupOr,
				metadata.Cond(title, "startsWith", "De"),
				metadata.Cond(title, "endsWith", "ld"),
			)),
		), nil, []string{"Build", "Design"}},
		{"empty relation", metadata.NewGroup(metadata.GroupAnd, metadata.Cond(project, "isEmpty", nil)), nil, []string{"Loose", "Review", "Ship"}},
		{"relation by id", metadata.NewGroup(metadata.GroupAnd, metadata.Cond(project, "equals", fx.apollo)), nil, []string{"Build", "Design"}},
		{"contains is case insensitive", metadata.NewGroup(metadata.GroupAnd, metadata.Cond(title, "contains", "IG")), nil, []string{"Design"}},
		{"unknown column is ignored", metadata.NewGroup(metadata.GroupAnd, metadata.Cond("9b2f4c1e-0000-4000-8000-000000000000", "equals", "x")), nil, []string{"Build", "Design", "Loose", "Review", "Ship"}},
		{"additional filters narrow", metadata.NewGroup(metadata.GroupAnd, metadata.Cond(hours, "isNotEmpty", nil)),
			metadata.NewGroup(metadata.GroupAnd, metadata.Cond(hours, "lt", float64(3))), []string{"Review", "Ship"}},
		{"between", metadata.NewGroup(metadata.GroupAnd, metadata.Cond(hours, "between", []any{float64(2), float64(3)})), nil, []string{"Design", "Review"}},
		{"in", metadata.NewGroup(metadata.GroupAnd, metadata.Cond(title, "in", []any{"Ship", "Loose"})), nil, []string{"Loose", "Ship"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := fx.engine.QueryViewRows(fx.ctx, fx.view(fx.tasks), QueryOptions{Filters: tt.filters, AdditionalFilters: tt.extra, Sorts: sorts})
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(res.Rows))
			assert.EqualValues(t, len(tt.want), res.Total)
		})
	}
}

func TestQueryViewRows_UsesSavedViewFilters(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)
	done := fx.col(fx.tasks, "done")

	v, err := fx.schema.CreateView(fx.ctx, tenant, fx.tasks.ID, schema.ViewInput{
		Name:           "Done",
		Filters:        metadata.NewGroup(metadata.GroupAnd, metadata.Cond(done, "equals", true)),
		Sorts:          []metadata.SortConfig{{ColumnID: fx.col(fx.tasks, "hours"), Direction: "desc"}},
		VisibleColumns: []string{fx.col(fx.tasks, "title"), fx.col(fx.tasks, "hours")},
	})
	require.NoError(t, err)

	res, err := fx.engine.QueryViewRows(fx.ctx, v.ID, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Design", "Review"}, titles(res.Rows))
	require.Len(t, res.View.Columns, 2)
	assert.Equal(t, "title", res.View.Columns[0].Name)

	// an explicit filter replaces the saved one
	res, err = fx.engine.QueryViewRows(fx.ctx, v.ID, QueryOptions{Filters: metadata.NewGroup(metadata.GroupAnd)})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Total)
}

func TestQueryViewRows_Pagination(t *testing.T) {
	fx := newFixture(t, WithLimits(2, 3))
	fx.seed(t)
	sorts := fx.sortBy(fx.tasks, "title", "asc")

	res, err := fx.engine.QueryViewRows(fx.ctx, fx.view(fx.tasks), QueryOptions{Sorts: sorts})
	require.NoError(t, err)
	assert.Equal(t, []string{"Build", "Design"}, titles(res.Rows))
	assert.EqualValues(t, 5, res.Total)
	assert.True(t, res.HasMore)

	res, err = fx.engine.QueryViewRows(fx.ctx, fx.view(fx.tasks), QueryOptions{Sorts: sorts, Limit: 100, Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"Review", "Ship"}, titles(res.Rows))
	assert.False(t, res.HasMore)

	res, err = fx.engine.QueryViewRows(fx.ctx, fx.view(fx.tasks), QueryOptions{Sorts: sorts, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.NotNil(t, res.Rows)
	assert.False(t, res.HasMore)
}

func TestQueryViewRows_SortsWithTieBreak(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)

	res, err := fx.engine.QueryViewRows(fx.ctx, fx.view(fx.tasks), QueryOptions{Sorts: fx.sortBy(fx.tasks, "hours", "desc")})
	require.NoError(t, err)
	assert.Equal(t, "Build", titles(res.Rows)[0])
	assert.Equal(t, "Design", titles(res.Rows)[1])
}

func TestQueryViewRows_BatchedMatchesSequential(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)
	batched := New(fx.store, WithLogger(logger.Discard()), WithBatchLoading(true))

	for td, sortCol := range map[*schema.TableDetail]string{fx.tasks: "title", fx.projects: "name"} {
		opts := QueryOptions{Sorts: fx.sortBy(td, sortCol, "asc")}
		want, err := fx.engine.QueryViewRows(fx.ctx, fx.view(td), opts)
		require.NoError(t, err)
		got, err := batched.QueryViewRows(fx.ctx, fx.view(td), opts)
		require.NoError(t, err)
		assert.Equal(t, want.Rows, got.Rows)
	}
}

func TestQueryViewRows_TenantIsolation(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)

	_, err := fx.engine.QueryViewRows(tenantCtx(otherTenant), fx.view(fx.tasks), QueryOptions{})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "got %v", err)

	_, err = fx.engine.QueryViewRows(context.Background(), fx.view(fx.tasks), QueryOptions{})
	assert.True(t, apperr.Is(err, apperr.CodeUnauthorized), "got %v", err)

	_, err = fx.engine.QueryViewRows(fx.ctx, "not-a-uuid", QueryOptions{})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "got %v", err)

	_, err = fx.engine.GetRow(tenantCtx(otherTenant), fx.projects.ID, fx.apollo)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "got %v", err)
}

func TestQueryViewRows_MistypedFilterValue(t *testing.T) {
	fx := newFixture(t)
	hours := fx.col(fx.tasks, "hours")

	_, err := fx.engine.QueryViewRows(fx.ctx, fx.view(fx.tasks), QueryOptions{
		Filters: metadata.NewGroup(metadata.GroupAnd, metadata.Cond(hours, "gt", "lots")),
	})
	assert.True(t, apperr.Is(err, apperr.CodeValidation), "got %v", err)
}

func TestInsertRow(t *testing.T) {
	fx := newFixture(t, WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }))
	fx.seed(t)

	row, err := fx.engine.InsertRow(fx.ctx, fx.tasks.ID, map[string]any{
		"title":   "Plan",
		"hours":   float64(4),
		"project": map[string]any{"relatedId": fx.borealis},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, row["id"])
	assert.Equal(t, userID, row["created_by"])
	assert.Equal(t, "Borealis", row["project_name"])
	assert.Equal(t, float64(8), row["double_hours"])
}

func TestInsertRow_Validation(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)

	tests := []struct {
		name   string
		values map[string]any
		field  string
		rule   string
	}{
		{"missing required", map[string]any{"hours": float64(1)}, "title", "required"},
		{"blank required", map[string]any{"title": "  "}, "title", "required"},
		{"unknown column", map[string]any{"title": "x", "nope": 1}, "nope", "exists"},
		{"system column", map[string]any{"title": "x", "id": "a"}, "id", "readonly"},
		{"computed column", map[string]any{"title": "x", "double_hours": float64(2)}, "double_hours", "readonly"},
		{"wrong type", map[string]any{"title": "x", "hours": "many"}, "hours", "type"},
		{"option not allowed", map[string]any{"title": "x", "tags": []any{"purple"}}, "tags", "type"},
		{"rule", map[string]any{"title": "x", "hours": float64(-1)}, "hours", "rule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.engine.InsertRow(fx.ctx, fx.tasks.ID, tt.values)
			appErr, ok := apperr.As(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, apperr.CodeValidation, appErr.Code)
			require.NotEmpty(t, appErr.Details)
			assert.Equal(t, tt.field, appErr.Details[0].Field)
			assert.Equal(t, tt.rule, appErr.Details[0].Rule)
		})
	}

	_, err := fx.engine.InsertRow(fx.ctx, fx.tasks.ID, map[string]any{"title": "x", "hours": float64(-1)})
	appErr, _ := apperr.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "hours cannot be negative", appErr.Details[0].Message)
}

func TestUpdateRow(t *testing.T) {
	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	fx := newFixture(t, WithClock(func() time.Time { return later }))
	fx.seed(t)
	id := fx.insert(t, fx.tasks.ID, map[string]any{"title": "Draft", "hours": float64(1), "project": fx.apollo})

	row, err := fx.engine.UpdateRow(fx.ctx, fx.tasks.ID, id, map[string]any{"hours": float64(7)})
	require.NoError(t, err)
	assert.Equal(t, "Draft", row["title"])
	assert.Equal(t, float64(14), row["double_hours"])
	assert.Contains(t, row["updated_at"], "2030-01-01")

	// partial updates only check the given columns
	_, err = fx.engine.UpdateRow(fx.ctx, fx.tasks.ID, id, map[string]any{"project": nil})
	require.NoError(t, err)

	_, err = fx.engine.UpdateRow(fx.ctx, fx.tasks.ID, id, map[string]any{"title": nil})
	assert.True(t, apperr.Is(err, apperr.CodeValidation), "got %v", err)

	_, err = fx.engine.UpdateRow(fx.ctx, fx.tasks.ID, "3c4d5e6f-0000-4000-8000-000000000000", map[string]any{"hours": float64(1)})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "got %v", err)
}

func TestDeleteRow(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t)

	require.NoError(t, fx.engine.DeleteRow(fx.ctx, fx.projects.ID, fx.apollo))

	_, err := fx.engine.GetRow(fx.ctx, fx.projects.ID, fx.apollo)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "got %v", err)
	err = fx.engine.DeleteRow(fx.ctx, fx.projects.ID, fx.apollo)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "got %v", err)

	// tasks keep the dangling id with no display value
	res, err := fx.engine.QueryViewRows(fx.ctx, fx.view(fx.tasks), QueryOptions{})
	require.NoError(t, err)
	design := rowWith(res.Rows, "title", "Design")
	assert.Equal(t, map[string]any{"relatedId": fx.apollo, "displayFieldValue": nil, "displayField": "name"}, design["project"])
	assert.Nil(t, design["project_name"])
}
