package record

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Querier is the statement surface shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn owns the single database connection of a Store. The connection is
// opened on first use and limited to one physical connection; an explicit
// transaction, when begun, is used for every subsequent statement until it
// ends. Nested transactions are not supported.
type Conn struct {
	driver string
	dsn    string
	onOpen func(ctx context.Context, db *sql.DB) error

	mu sync.Mutex
	db *sql.DB
	tx *sql.Tx
}

// NewConn prepares a lazily opened connection. onOpen, when non-nil, runs once
// right after the connection is established (session pragmas and the like).
func NewConn(driver, dsn string, onOpen func(ctx context.Context, db *sql.DB) error) *Conn {
	return &Conn{driver: driver, dsn: dsn, onOpen: onOpen}
}

// Driver returns the database/sql driver name.
func (c *Conn) Driver() string { return c.driver }

// DB returns the underlying handle, opening it on first use.
func (c *Conn) DB(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx)
}

func (c *Conn) openLocked(ctx context.Context) (*sql.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	openMu.Lock()
	db, err := sqlOpen(c.driver, c.dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.driver, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", c.driver, err)
	}
	if c.onOpen != nil {
		if err := c.onOpen(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	c.db = db
	return db, nil
}

// Querier returns the active transaction, or the connection when none is active.
func (c *Conn) Querier(ctx context.Context) (Querier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return c.tx, nil
	}
	return c.openLocked(ctx)
}

// InTx reports whether an explicit transaction is active.
func (c *Conn) InTx() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

// Begin starts a transaction on the connection.
func (c *Conn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return ErrTxActive
	}
	db, err := c.openLocked(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	c.tx = tx
	return nil
}

// Commit commits the active transaction.
func (c *Conn) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return ErrNoTx
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback aborts the active transaction.
func (c *Conn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		return ErrNoTx
	}
	tx := c.tx
	c.tx = nil
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction. When the caller already holds one, fn
// joins it and the caller decides the outcome; otherwise a transaction is
// begun here and committed, or rolled back if fn fails.
func (c *Conn) WithTx(ctx context.Context, fn func(q Querier) error) error {
	c.mu.Lock()
	if c.tx != nil {
		tx := c.tx
		c.mu.Unlock()
		return fn(tx)
	}
	db, err := c.openLocked(ctx)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("begin tx: %w", err)
	}
	c.tx = tx
	c.mu.Unlock()

	committed := false
	defer func() {
		c.mu.Lock()
		c.tx = nil
		c.mu.Unlock()
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Close releases the connection. A pending transaction is rolled back.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// OverrideSQLOpen swaps the sql.Open function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
