// Package postgres is the client/server record backend. It registers the
// "postgres" provider and speaks to the server through the pgx database/sql
// driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/alphadevx/alpha-sub000/internal/infra/persistence/sqlbase"
	"github.com/alphadevx/alpha-sub000/pkg/record"
	"github.com/alphadevx/alpha-sub000/pkg/types"
)

// Compile-time contract assertion ensuring the dialect is complete.
var _ sqlbase.Dialect = Dialect{}

const (
	// ProviderName is the name the backend registers under.
	ProviderName = "postgres"
	// DriverName is the database/sql driver registered by pgx.
	DriverName = "pgx"
	defaultDSN = "postgres://localhost/alpha?sslmode=disable"
	// uniqueViolation is the SQLSTATE of unique_violation.
	uniqueViolation = "23505"
)

func init() {
	record.RegisterProvider(ProviderName, func(s *record.Store, r *record.Record) record.Provider {
		return sqlbase.New(s, r, Dialect{})
	})
}

// NewConn prepares a lazily opened connection to dsn (falls back to
// defaultDSN). Sessions run in UTC so TIMESTAMP columns round trip unchanged.
func NewConn(dsn string) *record.Conn {
	if dsn == "" {
		dsn = defaultDSN
	}
	return record.NewConn(DriverName, dsn, func(ctx context.Context, db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `SET TIME ZONE 'UTC'`); err != nil {
			return fmt.Errorf("set session time zone: %w", err)
		}
		return nil
	})
}

// Open returns a store bound to the postgres provider.
func Open(dsn string, opts ...record.Option) (*record.Store, error) {
	return record.NewStore(ProviderName, NewConn(dsn), opts...)
}

// Dialect renders PostgreSQL statements and catalog queries.
type Dialect struct{}

func (Dialect) Name() string { return ProviderName }

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

// ColumnType maps a column to its PostgreSQL type. Integers and identities
// are 64-bit, matching the range the Integer field accepts.
func (Dialect) ColumnType(c record.Column) string {
	switch c.Kind {
	case types.KindInteger, types.KindRelation, types.KindDEnum:
		return "BIGINT"
	case types.KindDouble:
		return "DOUBLE PRECISION"
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
		return "TIMESTAMP"
	case types.KindEnum:
		return "VARCHAR(255)"
	}
	return "TEXT"
}

func (Dialect) IdentityColumn() string { return "BIGSERIAL PRIMARY KEY" }

func (Dialect) NoLimit() string { return "ALL" }

// BindTemporal parses dates and timestamps so they bind as native values.
func (Dialect) BindTemporal(kind types.Kind, value string) (any, error) {
	layout := types.TimestampLayout
	if kind == types.KindDate {
		layout = types.DateLayout
	}
	t, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", record.ErrInvalidValue, value)
	}
	return t, nil
}

// DayFilter matches the half-open range covering day.
func (Dialect) DayFilter(col string, day time.Time, bind func(any) string) string {
	return col + " >= " + bind(day) + " AND " + col + " < " + bind(day.Add(24*time.Hour))
}

// Insert appends a RETURNING clause to read the assigned identity.
func (Dialect) Insert(ctx context.Context, q record.Querier, stmt string, args []any) (int64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, stmt+` RETURNING "id"`, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// QuoteIdent uses standard double quotes; an unknown name is an error.
func (Dialect) QuoteIdent(ident string) string { return sqlbase.Quote(ident) }

func (Dialect) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + sqlbase.Quote(table) + " CASCADE"
}

func (Dialect) TableExists(ctx context.Context, p *sqlbase.Provider, table string) (bool, error) {
	n, err := p.Scalar(ctx, "check_table_exists",
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`, table)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

func (Dialect) ColumnNames(ctx context.Context, p *sqlbase.Provider, table string) ([]string, error) {
	return p.Strings(ctx, "column_names",
		`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`, table)
}

// Indexes lists index names together with foreign key constraint names.
func (Dialect) Indexes(ctx context.Context, p *sqlbase.Provider, table string) ([]string, error) {
	names, err := p.Strings(ctx, "get_indexes",
		`SELECT indexname FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1
UNION
SELECT constraint_name FROM information_schema.table_constraints
WHERE table_schema = current_schema() AND table_name = $1 AND constraint_type = 'FOREIGN KEY'`, table)
	if err != nil {
		return nil, fmt.Errorf("list indexes of %s: %w", table, err)
	}
	return names, nil
}

// InlineForeignKeys is empty: foreign keys are added with ALTER TABLE once
// both tables exist.
func (Dialect) InlineForeignKeys(context.Context, *sqlbase.Provider, []record.Column) ([]sqlbase.ForeignKey, error) {
	return nil, nil
}

func (Dialect) AddForeignKey(ctx context.Context, p *sqlbase.Provider, table, attr, relatedTable, relatedAttr, name string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE SET NULL",
		sqlbase.Quote(table), sqlbase.Quote(name), sqlbase.Quote(attr), sqlbase.Quote(relatedTable), sqlbase.Quote(relatedAttr))
	if _, err := p.Exec(ctx, "create_foreign_index", stmt); err != nil {
		return fmt.Errorf("%w: %s: %w", record.ErrFailedIndexCreate, name, err)
	}
	return nil
}

// UniqueViolation recognises SQLSTATE 23505 and reports the constraint name.
func (Dialect) UniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

const readOnlySavepoint = "alpha_read_only"

// ReadOnly runs fn in a READ ONLY transaction. Inside a caller's transaction
// the mode is set within a savepoint that is rolled back afterwards, which
// restores read-write mode and discards a failed statement.
func (Dialect) ReadOnly(ctx context.Context, p *sqlbase.Provider, fn func(q record.Querier) error) error {
	conn := p.Store().Conn()
	if !conn.InTx() {
		return conn.WithTx(ctx, func(q record.Querier) error {
			if _, err := p.ExecOn(ctx, q, "query", "SET TRANSACTION READ ONLY"); err != nil {
				return err
			}
			return fn(q)
		})
	}
	return conn.WithTx(ctx, func(q record.Querier) (err error) {
		if _, err := p.ExecOn(ctx, q, "query", "SAVEPOINT "+readOnlySavepoint); err != nil {
			return err
		}
		defer func() {
			for _, stmt := range []string{"ROLLBACK TO SAVEPOINT " + readOnlySavepoint, "RELEASE SAVEPOINT " + readOnlySavepoint} {
				if _, rerr := p.ExecOn(ctx, q, "query", stmt); rerr != nil && err == nil {
					err = rerr
				}
			}
		}()
		if _, err := p.ExecOn(ctx, q, "query", "SET TRANSACTION READ ONLY"); err != nil {
			return err
		}
		return fn(q)
	})
}
