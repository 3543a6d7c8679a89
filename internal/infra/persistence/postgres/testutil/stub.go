// Package testutil provides a scripted stub database for postgres provider tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Statement is one statement received by the stub.
type Statement struct {
	SQL  string
	Args []any
}

type response struct {
	match string
	cols  []string
	rows  [][]driver.Value
	err   error
}

// StubConn records every statement and answers queries from scripted responses.
// Queries without a matching response return an empty result.
type StubConn struct {
	mu         sync.Mutex
	Execs      []Statement
	Queries    []Statement
	responses  []response
	FailBegin  bool
	FailCommit bool
	Affected   int64
}

// NewStubDB registers a sql.DB backed by a stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Affected: 1}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Respond scripts the result of every statement containing match. A later
// call for the same match replaces the earlier one.
func (c *StubConn) Respond(match string, cols []string, rows ...[]driver.Value) {
	c.script(response{match: match, cols: cols, rows: rows})
}

// Fail scripts err for every statement containing match.
func (c *StubConn) Fail(match string, err error) {
	c.script(response{match: match, err: err})
}

func (c *StubConn) script(r response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.responses {
		if c.responses[i].match == r.match {
			c.responses[i] = r
			return
		}
	}
	c.responses = append(c.responses, r)
}

func (c *StubConn) find(query string) (response, bool) {
	for _, r := range c.responses {
		if strings.Contains(query, r.match) {
			return r, true
		}
	}
	return response{}, false
}

// ExecSQL returns the executed statements.
func (c *StubConn) ExecSQL() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Execs))
	for i, s := range c.Execs {
		out[i] = s.SQL
	}
	return out
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error { return nil }

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, Statement{SQL: query, Args: values(args)})
	if r, ok := c.find(query); ok && r.err != nil {
		return nil, r.err
	}
	return driver.RowsAffected(c.Affected), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, Statement{SQL: query, Args: values(args)})
	r, ok := c.find(query)
	if !ok {
		return &stubRows{}, nil
	}
	if r.err != nil {
		return nil, r.err
	}
	return &stubRows{cols: r.cols, rows: r.rows}, nil
}

func values(args []driver.NamedValue) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	return nil
}
func (t *stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
