package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dyntables/internal/fieldtype"
)

func TestQueryRows_NormalizesByColumnType(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("amount").OfType("NUMERIC", ""),
		sqlmock.NewColumn("active").OfType("BOOLEAN", int64(0)),
		sqlmock.NewColumn("name").OfType("TEXT", ""),
		sqlmock.NewColumn("count").OfType("INT8", int64(0)),
	).AddRow("12.50", int64(1), []byte("Acme"), int64(3))
	mock.ExpectQuery("SELECT * FROM t").WillReturnRows(rows)

	got, err := QueryRows(context.Background(), db, "SELECT * FROM t")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 12.5, got[0]["amount"])
	assert.Equal(t, true, got[0]["active"])
	assert.Equal(t, "Acme", got[0]["name"])
	assert.Equal(t, int64(3), got[0]["count"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRow_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM t WHERE id = $1").
		WithArgs("x").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = QueryRow(context.Background(), db, "SELECT id FROM t WHERE id = $1", "x")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteDialect_MapError(t *testing.T) {
	d := &SQLiteDialect{}
	err := d.MapError(errors.New("constraint failed: UNIQUE constraint failed: _tables.slug (2067)"))
	assert.True(t, errors.Is(err, ErrUniqueViolation))
	assert.False(t, errors.Is(d.MapError(errors.New("disk I/O error")), ErrUniqueViolation))
}

func TestAlterColumnTypeSQL(t *testing.T) {
	pg := &PostgresDialect{}
	assert.Empty(t, pg.AlterColumnTypeSQL("dt_0123456789ab_0123456789abcdef", "price", fieldtype.StorageNumeric, fieldtype.StorageNumeric))
	stmts := pg.AlterColumnTypeSQL("dt_0123456789ab_0123456789abcdef", "age", fieldtype.StorageText, fieldtype.StorageNumeric)
	require.Len(t, stmts, 1)
	assert.Equal(t,
		`ALTER TABLE "dt_0123456789ab_0123456789abcdef" ALTER COLUMN "age" TYPE NUMERIC USING NULLIF(TRIM("age"::text), '')::NUMERIC`,
		stmts[0])

	lite := &SQLiteDialect{}
	assert.Empty(t, lite.AlterColumnTypeSQL("dt_0123456789ab_0123456789abcdef", "d", fieldtype.StorageDate, fieldtype.StorageTimestamp))
	assert.Len(t, lite.AlterColumnTypeSQL("dt_0123456789ab_0123456789abcdef", "age", fieldtype.StorageText, fieldtype.StorageNumeric), 4)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "test.db"), 0)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate())
	return s
}

func TestMigrate_CreatesMetadataTables(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"_tables", "_columns", "_views"} {
		ok, err := s.Dialect.TableExists(ctx, s.DB, table)
		require.NoError(t, err)
		assert.True(t, ok, table)
	}

	// second run is a no-op
	require.NoError(t, s.Migrate())
}

func TestMigrator_TableLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	m := NewMigrator(s)
	table := "dt_0123456789ab_0123456789abcdef"

	require.NoError(t, m.CreateTable(ctx, table, []ColumnDef{
		{Name: "name", Storage: fieldtype.StorageText},
		{Name: "age", Storage: fieldtype.StorageText},
	}))

	_, err := Exec(ctx, s.DB, `INSERT INTO "`+table+`" (id, name, age) VALUES (?, ?, ?)`, "r1", "A", "42")
	require.NoError(t, err)

	require.NoError(t, m.AlterColumnType(ctx, table, "age", fieldtype.StorageText, fieldtype.StorageNumeric))
	require.NoError(t, m.AddColumn(ctx, table, ColumnDef{Name: "active", Storage: fieldtype.StorageBoolean}))
	require.NoError(t, m.RenameColumn(ctx, table, "name", "full_name"))

	cols, err := m.Columns(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, "NUMERIC", cols["age"])
	assert.Equal(t, "BOOLEAN", cols["active"])
	assert.Contains(t, cols, "full_name")
	assert.Contains(t, cols, "created_by")

	row, err := QueryRow(ctx, s.DB, `SELECT * FROM "`+table+`"`)
	require.NoError(t, err)
	assert.Equal(t, float64(42), row["age"])
	assert.Equal(t, "A", row["full_name"])

	require.NoError(t, m.DropColumn(ctx, table, "active"))
	assert.Error(t, m.DropColumn(ctx, table, "id"))

	require.NoError(t, m.DropTable(ctx, table))
	ok, err := m.TableExists(ctx, table)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrator_RejectsInvalidIdentifiers(t *testing.T) {
	s := openTestStore(t)
	m := NewMigrator(s)
	ctx := context.Background()

	err := m.CreateTable(ctx, "users; DROP TABLE _tables", nil)
	assert.Error(t, err)
	err = m.CreateTable(ctx, "dt_0123456789ab_0123456789abcdef", []ColumnDef{{Name: "select", Storage: fieldtype.StorageText}})
	assert.Error(t, err)
	err = m.CreateTable(ctx, "dt_0123456789ab_0123456789abcdef", []ColumnDef{{Name: "total", Storage: fieldtype.StorageNone}})
	assert.Error(t, err)
}
