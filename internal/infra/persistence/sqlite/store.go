// Package sqlite is the embedded, file based record backend. It registers the
// "sqlite" provider on top of the pure Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"modernc.org/sqlite" // pure go sqlite driver
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/alphadevx/alpha-sub000/internal/infra/persistence/sqlbase"
	"github.com/alphadevx/alpha-sub000/pkg/record"
	"github.com/alphadevx/alpha-sub000/pkg/types"
)

var _ sqlbase.Dialect = Dialect{}

const (
	// ProviderName is the name the backend registers under.
	ProviderName = "sqlite"
	// DriverName is the database/sql driver registered by modernc.
	DriverName = "sqlite"
)

const (
	defaultPath  = "alpha.db"
	backupSuffix = "_backup"
)

func init() {
	record.RegisterProvider(ProviderName, func(s *record.Store, r *record.Record) record.Provider {
		return sqlbase.New(s, r, Dialect{})
	})
}

// NewConn prepares a lazily opened connection to the database file at path
// (falls back to defaultPath). ":memory:" opens a private in-memory database.
// Foreign key enforcement is switched on for the session.
func NewConn(path string) (*record.Conn, error) {
	if path == "" {
		path = defaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	return record.NewConn(DriverName, path, func(ctx context.Context, db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			return fmt.Errorf("enable foreign keys: %w", err)
		}
		return nil
	}), nil
}

// Open returns a store bound to the sqlite provider.
func Open(path string, opts ...record.Option) (*record.Store, error) {
	conn, err := NewConn(path)
	if err != nil {
		return nil, err
	}
	return record.NewStore(ProviderName, conn, opts...)
}

// Dialect renders SQLite statements and catalog queries.
type Dialect struct{}

func (Dialect) Name() string { return ProviderName }

func (Dialect) Placeholder(int) string { return "?" }

// ColumnType maps a column to its SQLite declared type. Declared sizes are
// informational only; the engine does not enforce them.
func (Dialect) ColumnType(c record.Column) string {
	switch c.Kind {
	case types.KindInteger, types.KindRelation, types.KindDEnum:
		return "INTEGER"
	case types.KindDouble:
		return "DOUBLE"
	case types.KindSmallText:
		size := c.Size
		if size <= 0 {
			size = types.SmallTextSize
		}
		return "VARCHAR(" + strconv.Itoa(size) + ")"
	case types.KindText, types.KindLargeText:
		return "TEXT"
	case types.KindBoolean:
		return "CHAR(1)"
	case types.KindDate:
		return "DATE"
	case types.KindTimestamp:
		return "DATETIME"
	case types.KindEnum:
		return "VARCHAR(255)"
	}
	return "TEXT"
}

func (Dialect) IdentityColumn() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (Dialect) NoLimit() string { return "-1" }

// BindTemporal keeps the textual form, which sorts and compares correctly.
func (Dialect) BindTemporal(kind types.Kind, value string) (any, error) {
	layout := types.TimestampLayout
	if kind == types.KindDate {
		layout = types.DateLayout
	}
	if _, err := time.Parse(layout, value); err != nil {
		return nil, fmt.Errorf("%w: %q", record.ErrInvalidValue, value)
	}
	return value, nil
}

func (Dialect) DayFilter(col string, day time.Time, bind func(any) string) string {
	return "date(" + col + ") = " + bind(day.Format(types.DateLayout))
}

func (Dialect) Insert(ctx context.Context, q record.Querier, stmt string, args []any) (int64, error) {
	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// QuoteIdent uses backticks. SQLite reads a double-quoted name that matches
// no column as a string literal, so a missing column would not fail.
func (Dialect) QuoteIdent(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (d Dialect) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.QuoteIdent(table)
}

func (Dialect) TableExists(ctx context.Context, p *sqlbase.Provider, table string) (bool, error) {
	n, err := p.Scalar(ctx, "check_table_exists",
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

func (Dialect) ColumnNames(ctx context.Context, p *sqlbase.Provider, table string) ([]string, error) {
	return p.Strings(ctx, "column_names", `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
}

// Indexes lists explicitly created indexes. SQLite foreign keys are unnamed,
// so each one is reported under its conventional name.
func (d Dialect) Indexes(ctx context.Context, p *sqlbase.Provider, table string) ([]string, error) {
	names, err := p.Strings(ctx, "get_indexes", `SELECT name FROM pragma_index_list(?) WHERE origin = 'c'`, table)
	if err != nil {
		return nil, fmt.Errorf("list indexes of %s: %w", table, err)
	}
	fks, err := d.foreignKeys(ctx, p, table)
	if err != nil {
		return nil, err
	}
	for _, fk := range fks {
		names = append(names, record.ForeignIndexName(table, fk.Column))
	}
	return names, nil
}

func (Dialect) foreignKeys(ctx context.Context, p *sqlbase.Provider, table string) ([]sqlbase.ForeignKey, error) {
	rows, err := p.Rows(ctx, "foreign_keys", `SELECT "from", "table", "to" FROM pragma_foreign_key_list(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("list foreign keys of %s: %w", table, err)
	}
	out := make([]sqlbase.ForeignKey, 0, len(rows))
	for _, row := range rows {
		out = append(out, sqlbase.ForeignKey{
			Column:    record.FormatScanned(row["from"], types.KindText),
			Table:     record.FormatScanned(row["table"], types.KindText),
			RefColumn: record.FormatScanned(row["to"], types.KindText),
		})
	}
	return out, nil
}

// InlineForeignKeys declares the foreign keys of columns whose target table
// already exists. The rest are added by AddForeignKey once it does.
func (d Dialect) InlineForeignKeys(ctx context.Context, p *sqlbase.Provider, cols []record.Column) ([]sqlbase.ForeignKey, error) {
	var out []sqlbase.ForeignKey
	for _, c := range cols {
		if c.References == "" {
			continue
		}
		ok, err := d.TableExists(ctx, p, c.References)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, sqlbase.ForeignKey{Column: c.Name, Table: c.References, RefColumn: record.ColID})
		}
	}
	return out, nil
}

// AddForeignKey rebuilds table with the extra constraint, since SQLite cannot
// add one to an existing table. Rows, existing constraints and indexes are
// carried over.
//
// The rebuild needs foreign key enforcement off, and SQLite ignores that
// pragma inside a transaction, so a rebuild under an open transaction fails
// instead of rewriting the references other tables hold to table.
func (d Dialect) AddForeignKey(ctx context.Context, p *sqlbase.Provider, table, attr, relatedTable, relatedAttr, name string) (err error) {
	fks, err := d.foreignKeys(ctx, p, table)
	if err != nil {
		return err
	}
	if slices.ContainsFunc(fks, func(fk sqlbase.ForeignKey) bool { return fk.Column == attr }) {
		return nil
	}
	if p.Store().Conn().InTx() {
		return fmt.Errorf("%w: %s: table rebuild is not possible inside a transaction", record.ErrFailedIndexCreate, name)
	}
	fks = append(fks, sqlbase.ForeignKey{Column: attr, Table: relatedTable, RefColumn: relatedAttr})

	have, err := d.ColumnNames(ctx, p, table)
	if err != nil {
		return err
	}
	indexes, err := p.Strings(ctx, "index_sql",
		`SELECT sql FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL`, table)
	if err != nil {
		return err
	}
	cols, err := p.Record().TableColumns()
	if err != nil {
		return err
	}
	keep := []string{record.ColID}
	for _, c := range record.AuditColumns() {
		keep = append(keep, c.Name)
	}
	for _, c := range cols {
		keep = append(keep, c.Name)
	}
	keep = slices.DeleteFunc(keep, func(c string) bool { return !slices.Contains(have, c) })
	list := quoteAll(keep)

	if _, err := p.Exec(ctx, "create_foreign_index", `PRAGMA foreign_keys = OFF`); err != nil {
		return err
	}
	if _, err := p.Exec(ctx, "create_foreign_index", `PRAGMA legacy_alter_table = ON`); err != nil {
		return err
	}
	defer func() {
		if _, rerr := p.Exec(ctx, "create_foreign_index", `PRAGMA legacy_alter_table = OFF`); rerr != nil && err == nil {
			err = rerr
		}
		if _, rerr := p.Exec(ctx, "create_foreign_index", `PRAGMA foreign_keys = ON`); rerr != nil && err == nil {
			err = rerr
		}
	}()

	backup := table + backupSuffix
	stmts := []string{
		"ALTER TABLE " + d.QuoteIdent(table) + " RENAME TO " + d.QuoteIdent(backup),
		p.CreateTableSQL(table, cols, false, fks),
		"INSERT INTO " + d.QuoteIdent(table) + " (" + list + ") SELECT " + list + " FROM " + d.QuoteIdent(backup),
		d.DropTable(backup),
	}
	stmts = append(stmts, indexes...)
	err = p.Store().Conn().WithTx(ctx, func(q record.Querier) error {
		for _, stmt := range stmts {
			if _, err := p.ExecOn(ctx, q, "create_foreign_index", stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", record.ErrFailedIndexCreate, name, err)
	}
	return nil
}

// UniqueViolation recognises unique and primary key constraint failures by
// their extended result code. SQLite does not name the violated index.
func (Dialect) UniqueViolation(err error) (string, bool) {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return "", false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return "", true
	}
	return "", false
}

// ReadOnly switches the connection to query_only for the duration of fn.
// The pragma applies inside a transaction as well.
func (Dialect) ReadOnly(ctx context.Context, p *sqlbase.Provider, fn func(q record.Querier) error) (err error) {
	q, err := p.Store().Conn().Querier(ctx)
	if err != nil {
		return err
	}
	if _, err := p.ExecOn(ctx, q, "query", `PRAGMA query_only = ON`); err != nil {
		return err
	}
	defer func() {
		if _, rerr := p.ExecOn(ctx, q, "query", `PRAGMA query_only = OFF`); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(q)
}

func quoteAll(idents []string) string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = Dialect{}.QuoteIdent(id)
	}
	return strings.Join(out, ", ")
}
