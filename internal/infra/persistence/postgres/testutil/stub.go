// Package testutil provides a stub database/sql driver for postgres store
// tests. It understands only the statement shapes the store issues: bucket
// upserts, append-only audit and checkpoint inserts, and ordered selects.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

// StubConn holds the in-memory tables behind the stub driver and the failure
// switches tests flip to drive error paths.
type StubConn struct {
	Tables     map[string][]map[string]any
	FailBegin  bool
	FailExec   bool
	FailCommit bool
	FailTables map[string]bool
}

var stubSeq atomic.Uint64

// NewStubDB registers a fresh stub driver instance and opens a sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn. The store only issues context execs/queries.
func (c *StubConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported")
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger. FailExec doubles as the connect failure.
func (c *StubConn) Ping(context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext. INSERT statements land in the
// named table; an ON CONFLICT clause replaces the row sharing the first
// column's value, matching the store's bucket upsert. Anything else (schema
// DDL) is acknowledged without effect.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	table, cols, err := parseInsert(query)
	if err != nil {
		return driver.RowsAffected(0), nil
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("exec fail for %s", table)
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	if strings.Contains(strings.ToLower(query), " on conflict") && len(cols) > 0 {
		primary := cols[0]
		kept := c.Tables[table][:0:0]
		for _, existing := range c.Tables[table] {
			if existing[primary] != row[primary] {
				kept = append(kept, existing)
			}
		}
		c.Tables[table] = kept
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext. Ordering clauses are
// ignored; tables keep insert order, which is what the store's seq-ordered
// reads expect.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	table, cols, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	values := make([][]driver.Value, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	return nil
}

func (t stubTx) Rollback() error { return nil }

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

func parseInsert(query string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(lower, "insert ") {
		return "", nil, fmt.Errorf("not an insert: %s", query)
	}
	_, rest, ok := strings.Cut(lower, "into ")
	if !ok {
		return "", nil, fmt.Errorf("unparseable insert: %s", query)
	}
	table, cols, ok := strings.Cut(rest, "(")
	if !ok {
		return "", nil, fmt.Errorf("unparseable insert: %s", query)
	}
	colList, _, ok := strings.Cut(cols, ")")
	if !ok {
		return "", nil, fmt.Errorf("unparseable insert: %s", query)
	}
	return strings.TrimSpace(table), splitColumns(colList), nil
}

func parseSelect(query string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	colPart, rest, ok := strings.Cut(lower, " from ")
	if !ok || !strings.HasPrefix(colPart, "select ") {
		return "", nil, fmt.Errorf("unparseable select: %s", query)
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("unparseable select: %s", query)
	}
	return fields[0], splitColumns(strings.TrimPrefix(colPart, "select ")), nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}
