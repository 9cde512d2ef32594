package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"

	"dyntables/internal/fieldtype"
	"dyntables/internal/ident"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string                     { return "postgres" }
func (d *PostgresDialect) DriverName() string               { return "pgx" }
func (d *PostgresDialect) Placeholder() sq.PlaceholderFormat { return sq.Dollar }
func (d *PostgresDialect) IDColumnDDL() string              { return "UUID PRIMARY KEY" }
func (d *PostgresDialect) TimestampColumnDDL() string       { return "TIMESTAMPTZ NOT NULL DEFAULT NOW()" }
func (d *PostgresDialect) NowExpr() string                  { return "NOW()" }
func (d *PostgresDialect) BindTime(t time.Time) any         { return t.UTC() }

func (d *PostgresDialect) ColumnType(kind fieldtype.StorageKind) string {
	switch kind {
	case fieldtype.StorageNumeric:
		return "NUMERIC"
	case fieldtype.StorageInteger:
		return "BIGINT"
	case fieldtype.StorageDate:
		return "DATE"
	case fieldtype.StorageTimestamp:
		return "TIMESTAMPTZ"
	case fieldtype.StorageBoolean:
		return "BOOLEAN"
	case fieldtype.StorageDocument:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (d *PostgresDialect) TextExpr(expr string) string {
	return "(" + expr + " #>> '{}')"
}

func (d *PostgresDialect) ILike(expr string, pattern string) sq.Sqlizer {
	return sq.Expr(expr+` ILIKE ? ESCAPE '\'`, pattern)
}

func (d *PostgresDialect) DayBucket(expr string) string {
	return "to_char(" + expr + ", 'YYYY-MM-DD')"
}

func (d *PostgresDialect) JSONArrayContains(expr string, v any) (sq.Sqlizer, error) {
	b, err := json.Marshal([]any{v})
	if err != nil {
		return nil, fmt.Errorf("encode containment value: %w", err)
	}
	return sq.Expr(expr+" @> ?::jsonb", string(b)), nil
}

func (d *PostgresDialect) AlterColumnTypeSQL(table, column string, from, to fieldtype.StorageKind) []string {
	target := d.ColumnType(to)
	if d.ColumnType(from) == target {
		return nil
	}
	col := ident.Quote(column)
	var using string
	switch to {
	case fieldtype.StorageNumeric:
		using = fmt.Sprintf("NULLIF(TRIM(%s::text), '')::NUMERIC", col)
	case fieldtype.StorageInteger:
		using = fmt.Sprintf("ROUND(NULLIF(TRIM(%s::text), '')::NUMERIC)::BIGINT", col)
	case fieldtype.StorageDocument:
		using = fmt.Sprintf("to_jsonb(%s)", col)
	default:
		using = fmt.Sprintf("%s::%s", col, target)
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s",
		ident.Quote(table), col, target, using)}
}

func (d *PostgresDialect) SetNotNullSQL(table, column string, notNull bool) string {
	action := "DROP NOT NULL"
	if notNull {
		action = "SET NOT NULL"
	}
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s", ident.Quote(table), ident.Quote(column), action)
}

func (d *PostgresDialect) TableExists(ctx context.Context, q Querier, tableName string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1 AND table_schema = current_schema())`,
		tableName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) GetColumns(ctx context.Context, q Querier, tableName string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 AND table_schema = current_schema()`,
		tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		cols[name] = dataType
	}
	return cols, rows.Err()
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}
