package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"dyntables/internal/fieldtype"
	"dyntables/internal/ident"
)

// SQLiteTimeLayout is the text layout timestamps are stored with. It sorts lexically.
const SQLiteTimeLayout = "2006-01-02T15:04:05.000Z"

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string                     { return "sqlite" }
func (d *SQLiteDialect) DriverName() string               { return "sqlite" }
func (d *SQLiteDialect) Placeholder() sq.PlaceholderFormat { return sq.Question }
func (d *SQLiteDialect) IDColumnDDL() string              { return "TEXT PRIMARY KEY" }
func (d *SQLiteDialect) NowExpr() string                  { return "strftime('%Y-%m-%dT%H:%M:%fZ', 'now')" }

func (d *SQLiteDialect) TimestampColumnDDL() string {
	return "TEXT NOT NULL DEFAULT (" + d.NowExpr() + ")"
}

func (d *SQLiteDialect) BindTime(t time.Time) any {
	return t.UTC().Format(SQLiteTimeLayout)
}

func (d *SQLiteDialect) ColumnType(kind fieldtype.StorageKind) string {
	switch kind {
	case fieldtype.StorageNumeric:
		return "NUMERIC"
	case fieldtype.StorageInteger:
		return "INTEGER"
	case fieldtype.StorageBoolean:
		return "BOOLEAN"
	default:
		// dates, timestamps and JSON documents are stored as text
		return "TEXT"
	}
}

func (d *SQLiteDialect) TextExpr(expr string) string {
	return "json_extract(" + expr + ", '$')"
}

func (d *SQLiteDialect) ILike(expr string, pattern string) sq.Sqlizer {
	return sq.Expr("LOWER("+expr+`) LIKE LOWER(?) ESCAPE '\'`, pattern)
}

func (d *SQLiteDialect) DayBucket(expr string) string {
	return "substr(" + expr + ", 1, 10)"
}

func (d *SQLiteDialect) JSONArrayContains(expr string, v any) (sq.Sqlizer, error) {
	return sq.Expr("EXISTS (SELECT 1 FROM json_each("+expr+") WHERE json_each.value = ?)", v), nil
}

// AlterColumnTypeSQL rebuilds the column since SQLite has no ALTER COLUMN TYPE:
// add a scratch column, copy converted values, drop the old column, rename.
func (d *SQLiteDialect) AlterColumnTypeSQL(table, column string, from, to fieldtype.StorageKind) []string {
	target := d.ColumnType(to)
	if d.ColumnType(from) == target {
		return nil
	}
	t := ident.Quote(table)
	col := ident.Quote(column)
	tmp := ident.Quote(column + "__conv")

	conv := fmt.Sprintf("CAST(%s AS %s)", col, target)
	if to == fieldtype.StorageNumeric || to == fieldtype.StorageInteger {
		conv = fmt.Sprintf("CAST(NULLIF(TRIM(%s), '') AS %s)", col, target)
	}
	return []string{
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", t, tmp, target),
		fmt.Sprintf("UPDATE %s SET %s = %s", t, tmp, conv),
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", t, col),
		fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", t, tmp, col),
	}
}

func (d *SQLiteDialect) SetNotNullSQL(table, column string, notNull bool) string {
	return ""
}

func (d *SQLiteDialect) TableExists(ctx context.Context, q Querier, tableName string) (bool, error) {
	var name string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) GetColumns(ctx context.Context, q Querier, tableName string) (map[string]string, error) {
	quoted, err := ident.QuoteTable(tableName)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dfltValue any
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = colType
	}
	return cols, rows.Err()
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}
