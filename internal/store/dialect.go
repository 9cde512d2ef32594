package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"dyntables/internal/fieldtype"
)

// Dialect abstracts database-specific SQL generation and behavior.
// Identifier arguments are raw names validated by the caller; dialects quote them.
// Expression arguments are already-quoted SQL fragments.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// Placeholder returns the squirrel placeholder format ($n or ?).
	Placeholder() sq.PlaceholderFormat

	// ColumnType maps a storage kind to the database DDL type.
	ColumnType(kind fieldtype.StorageKind) string

	// IDColumnDDL returns the DDL for the "id" primary key column.
	IDColumnDDL() string

	// TimestampColumnDDL returns the DDL for created_at/updated_at.
	TimestampColumnDDL() string

	// NowExpr returns the SQL expression for the current timestamp.
	NowExpr() string

	// BindTime converts a timestamp into the driver parameter stored by TimestampColumnDDL.
	BindTime(t time.Time) any

	// TextExpr extracts the scalar text of a document (JSON) column expression.
	TextExpr(expr string) string

	// ILike builds a case-insensitive pattern match. The pattern uses '\' as escape.
	ILike(expr string, pattern string) sq.Sqlizer

	// DayBucket truncates a date or timestamp expression to a YYYY-MM-DD string.
	DayBucket(expr string) string

	// JSONArrayContains matches rows whose JSON array column contains v.
	JSONArrayContains(expr string, v any) (sq.Sqlizer, error)

	// AlterColumnTypeSQL returns the statements converting a column to a new storage kind.
	// An empty result means the physical column needs no change.
	AlterColumnTypeSQL(table, column string, from, to fieldtype.StorageKind) []string

	// SetNotNullSQL returns the statement toggling NOT NULL, or "" when the
	// database cannot change it in place (enforced by the write path instead).
	SetNotNullSQL(table, column string, notNull bool) string

	// TableExists checks whether a table exists.
	TableExists(ctx context.Context, q Querier, tableName string) (bool, error)

	// GetColumns returns existing column names and types for a table.
	GetColumns(ctx context.Context, q Querier, tableName string) (map[string]string, error)

	// MapError inspects a driver error and returns a well-known sentinel error if applicable.
	MapError(err error) error
}

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}
