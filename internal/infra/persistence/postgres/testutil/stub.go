// Package testutil provides a table-backed stub database for postgres store
// tests. It understands the statement shapes the shared SQL flusher emits.
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

	"github.com/jackc/pgx/v5/pgconn"
)

// StubConn records statements and keeps rows per table.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	RowsErr    error
	FailTables map[string]bool
	Commits    int
	// Unique lists, per table, the columns checked after every statement
	// the way Postgres checks a non-deferrable UNIQUE constraint.
	Unique map[string][]string
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns a copy of the rows stored for table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyRows(table)
}

func (c *StubConn) copyRows(table string) []map[string]any {
	out := make([]map[string]any, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
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
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx. Rollback restores the tables as
// they were when the transaction began.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	saved := make(map[string][]map[string]any, len(c.Tables))
	for table := range c.Tables {
		saved[table] = c.copyRows(table)
	}
	return &stubTx{conn: c, saved: saved}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	if c.Tables == nil {
		c.Tables = make(map[string][]map[string]any)
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "INSERT INTO"):
		table, cols, err := parseInsert(query)
		if err != nil {
			return nil, err
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
		if strings.Contains(upper, "ON CONFLICT") {
			c.Tables[table] = without(c.Tables[table], map[string]any{cols[0]: row[cols[0]]})
		}
		if err := c.checkUnique(table, row, -1); err != nil {
			return nil, err
		}
		c.Tables[table] = append(c.Tables[table], row)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "UPDATE"):
		table, sets, where, err := parseUpdate(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(sets)+len(where) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		match := make(map[string]any, len(where))
		for i, col := range where {
			match[col] = args[len(sets)+i].Value
		}
		var n int64
		for idx, row := range c.Tables[table] {
			if !matches(row, match) {
				continue
			}
			updated := make(map[string]any, len(row))
			for k, v := range row {
				updated[k] = v
			}
			for i, col := range sets {
				updated[col] = args[i].Value
			}
			if err := c.checkUnique(table, updated, idx); err != nil {
				return nil, err
			}
			c.Tables[table][idx] = updated
			n++
		}
		return driver.RowsAffected(n), nil
	case strings.HasPrefix(upper, "DELETE FROM"):
		table, where, err := parseDelete(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(where) != len(args) {
			return nil, fmt.Errorf("missing args for delete %s", table)
		}
		match := make(map[string]any, len(where))
		for i, col := range where {
			match[col] = args[i].Value
		}
		before := len(c.Tables[table])
		c.Tables[table] = without(c.Tables[table], match)
		return driver.RowsAffected(int64(before - len(c.Tables[table]))), nil
	}
	return driver.RowsAffected(0), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, cols, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	tableRows := c.Tables[table]
	values := make([][]driver.Value, 0, len(tableRows))
	for _, row := range tableRows {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

// checkUnique reports a unique_violation when row repeats a unique column
// of any stored row other than the one at skip.
func (c *StubConn) checkUnique(table string, row map[string]any, skip int) error {
	for _, col := range c.Unique[table] {
		for i, other := range c.Tables[table] {
			if i == skip || other[col] != row[col] {
				continue
			}
			name := table + "_" + col + "_key"
			return &pgconn.PgError{
				Severity:       "ERROR",
				Code:           "23505",
				Message:        fmt.Sprintf("duplicate key value violates unique constraint %q", name),
				TableName:      table,
				ConstraintName: name,
			}
		}
	}
	return nil
}

func matches(row, match map[string]any) bool {
	for col, want := range match {
		if row[col] != want {
			return false
		}
	}
	return true
}

func without(rows []map[string]any, match map[string]any) []map[string]any {
	var kept []map[string]any
	for _, row := range rows {
		if matches(row, match) {
			continue
		}
		kept = append(kept, row)
	}
	return kept
}

type stubTx struct {
	conn  *StubConn
	saved map[string][]map[string]any
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		t.restore()
		return fmt.Errorf("commit fail")
	}
	t.conn.mu.Lock()
	t.conn.Commits++
	t.conn.mu.Unlock()
	return nil
}

func (t *stubTx) Rollback() error {
	t.restore()
	return nil
}

func (t *stubTx) restore() {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.Tables = t.saved
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	return table, splitColumns(rest[open+1 : closeIdx]), nil
}

// parseUpdate handles "UPDATE t SET a = $1, b = $2 WHERE c = $3".
func parseUpdate(query string) (string, []string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	setIdx := strings.Index(lower, " set ")
	whereIdx := strings.Index(lower, " where ")
	if setIdx == -1 || whereIdx == -1 || whereIdx < setIdx {
		return "", nil, nil, fmt.Errorf("cannot parse update: %s", query)
	}
	table := strings.TrimSpace(lower[len("update"):setIdx])
	var sets []string
	for _, part := range strings.Split(lower[setIdx+len(" set "):whereIdx], ",") {
		sets = append(sets, strings.TrimSpace(strings.SplitN(part, "=", 2)[0]))
	}
	where, err := parseWhere(lower[whereIdx+len(" where "):])
	if err != nil {
		return "", nil, nil, fmt.Errorf("cannot parse update predicate: %s", query)
	}
	return table, sets, where, nil
}

func parseDelete(query string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	prefix := "delete from "
	whereToken := " where "
	if !strings.HasPrefix(lower, prefix) {
		return "", nil, fmt.Errorf("cannot parse delete: %s", query)
	}
	rest := lower[len(prefix):]
	whereIdx := strings.Index(rest, whereToken)
	if whereIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse delete: %s", query)
	}
	where, err := parseWhere(rest[whereIdx+len(whereToken):])
	if err != nil {
		return "", nil, fmt.Errorf("cannot parse delete predicate: %s", query)
	}
	return strings.TrimSpace(rest[:whereIdx]), where, nil
}

// parseWhere returns the column of every "col = $n" term joined by AND.
func parseWhere(clause string) ([]string, error) {
	var cols []string
	for _, term := range strings.Split(clause, " and ") {
		parts := strings.SplitN(term, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad term %q", term)
		}
		cols = append(cols, strings.TrimSpace(parts[0]))
	}
	return cols, nil
}

func parseSelect(query string) (string, []string, error) {
	lower := strings.ToLower(query)
	selectPrefix := "select "
	fromToken := " from "
	if !strings.HasPrefix(lower, selectPrefix) {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, fromToken)
	if fromIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols := query[len(selectPrefix):fromIdx]
	table := strings.TrimSpace(query[fromIdx+len(fromToken):])
	if table == "" {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	table = strings.Fields(table)[0]
	return strings.ToLower(table), splitColumns(cols), nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
