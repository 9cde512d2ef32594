package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dyntables/internal/fieldtype"
	"dyntables/internal/ident"
)

// ColumnDef describes one user column of a physical table.
type ColumnDef struct {
	Name    string
	Storage fieldtype.StorageKind
	NotNull bool
}

// Migrator executes DDL against the physical tables backing dynamic tables.
// Every identifier is validated before it is interpolated.
type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// CreateTableSQL builds the CREATE TABLE statement: system columns first, then user columns.
func (m *Migrator) CreateTableSQL(table string, cols []ColumnDef) (string, error) {
	quoted, err := ident.QuoteTable(table)
	if err != nil {
		return "", err
	}
	d := m.store.Dialect
	defs := []string{
		ident.Quote(ident.ColID) + " " + d.IDColumnDDL(),
		ident.Quote(ident.ColCreatedAt) + " " + d.TimestampColumnDDL(),
		ident.Quote(ident.ColUpdatedAt) + " " + d.TimestampColumnDDL(),
		ident.Quote(ident.ColCreatedBy) + " TEXT",
	}
	for _, c := range cols {
		def, err := m.columnDef(c)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quoted, strings.Join(defs, ",\n\t")), nil
}

func (m *Migrator) columnDef(c ColumnDef) (string, error) {
	if ident.IsSystemColumn(c.Name) || !ident.IsValidColumnName(c.Name) {
		return "", fmt.Errorf("invalid column name %q", c.Name)
	}
	if c.Storage == fieldtype.StorageNone {
		return "", fmt.Errorf("column %q has no physical storage", c.Name)
	}
	def := ident.Quote(c.Name) + " " + m.store.Dialect.ColumnType(c.Storage)
	if c.NotNull {
		def += " NOT NULL"
	}
	return def, nil
}

// CreateTable creates the physical table.
func (m *Migrator) CreateTable(ctx context.Context, table string, cols []ColumnDef) error {
	ddl, err := m.CreateTableSQL(table, cols)
	if err != nil {
		return err
	}
	return m.exec(ctx, m.store.DB, ddl)
}

// DropTable drops the physical table if it exists.
func (m *Migrator) DropTable(ctx context.Context, table string) error {
	quoted, err := ident.QuoteTable(table)
	if err != nil {
		return err
	}
	return m.exec(ctx, m.store.DB, "DROP TABLE IF EXISTS "+quoted)
}

// AddColumn adds a nullable column. NotNull is applied afterwards where the
// dialect supports it, so adding to a populated table never fails on the constraint.
func (m *Migrator) AddColumn(ctx context.Context, table string, col ColumnDef) error {
	quoted, err := ident.QuoteTable(table)
	if err != nil {
		return err
	}
	notNull := col.NotNull
	col.NotNull = false
	def, err := m.columnDef(col)
	if err != nil {
		return err
	}
	if err := m.exec(ctx, m.store.DB, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoted, def)); err != nil {
		return err
	}
	if notNull {
		return m.SetNotNull(ctx, table, col.Name, true)
	}
	return nil
}

// DropColumn drops a user column. System columns are refused.
func (m *Migrator) DropColumn(ctx context.Context, table, column string) error {
	quoted, err := ident.QuoteTable(table)
	if err != nil {
		return err
	}
	if ident.IsSystemColumn(column) || !ident.IsValidColumnName(column) {
		return fmt.Errorf("invalid column name %q", column)
	}
	return m.exec(ctx, m.store.DB, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoted, ident.Quote(column)))
}

// RenameColumn renames a user column.
func (m *Migrator) RenameColumn(ctx context.Context, table, from, to string) error {
	quoted, err := ident.QuoteTable(table)
	if err != nil {
		return err
	}
	for _, name := range []string{from, to} {
		if ident.IsSystemColumn(name) || !ident.IsValidColumnName(name) {
			return fmt.Errorf("invalid column name %q", name)
		}
	}
	return m.exec(ctx, m.store.DB, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		quoted, ident.Quote(from), ident.Quote(to)))
}

// AlterColumnType converts a column's storage in one transaction.
func (m *Migrator) AlterColumnType(ctx context.Context, table, column string, from, to fieldtype.StorageKind) error {
	if !ident.IsValidTableName(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if ident.IsSystemColumn(column) || !ident.IsValidColumnName(column) {
		return fmt.Errorf("invalid column name %q", column)
	}
	if to == fieldtype.StorageNone || from == fieldtype.StorageNone {
		return fmt.Errorf("column %q has no physical storage", column)
	}
	stmts := m.store.Dialect.AlterColumnTypeSQL(table, column, from, to)
	if len(stmts) == 0 {
		return nil
	}
	return m.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if err := m.exec(ctx, tx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetNotNull toggles NOT NULL where the dialect can.
func (m *Migrator) SetNotNull(ctx context.Context, table, column string, notNull bool) error {
	if !ident.IsValidTableName(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	if !ident.IsValidColumnName(column) {
		return fmt.Errorf("invalid column name %q", column)
	}
	stmt := m.store.Dialect.SetNotNullSQL(table, column, notNull)
	if stmt == "" {
		return nil
	}
	return m.exec(ctx, m.store.DB, stmt)
}

// TableExists reports whether the physical table exists.
func (m *Migrator) TableExists(ctx context.Context, table string) (bool, error) {
	return m.store.Dialect.TableExists(ctx, m.store.DB, table)
}

// Columns returns the physical columns of a table.
func (m *Migrator) Columns(ctx context.Context, table string) (map[string]string, error) {
	return m.store.Dialect.GetColumns(ctx, m.store.DB, table)
}

func (m *Migrator) exec(ctx context.Context, q Querier, stmt string) error {
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return m.store.Dialect.MapError(err)
	}
	return nil
}
