package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func exec(t *testing.T, conn *StubConn, query string, args ...any) {
	t.Helper()
	named := make([]driver.NamedValue, len(args))
	for i, a := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: a}
	}
	if _, err := conn.ExecContext(context.Background(), query, named); err != nil {
		t.Fatalf("ExecContext %q: %v", query, err)
	}
}

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	exec(t, conn, "INSERT INTO hosts (id, name, endpoint) VALUES ($1, $2, $3)", int64(1), "web", "10.0.0.1")
	exec(t, conn, "INSERT INTO hosts (id, name, endpoint) VALUES ($1, $2, $3)", int64(2), "db", "10.0.0.2")
	exec(t, conn, "UPDATE hosts SET name = $1, endpoint = $2 WHERE id = $3", "web-01", "10.0.0.9", int64(1))
	exec(t, conn, "DELETE FROM hosts WHERE id = $1", int64(2))

	rows, err := conn.QueryContext(ctx, "SELECT id, name, endpoint FROM hosts", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	defer func() { _ = rows.Close() }()

	dest := make([]driver.Value, 3)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != int64(1) || dest[1] != "web-01" || dest[2] != "10.0.0.9" {
		t.Fatalf("unexpected row values: %v", dest)
	}
	if err := rows.Next(dest); err == nil {
		t.Fatalf("expected a single row")
	}
}

func TestStubDBDeletesByCompositeKey(t *testing.T) {
	_, conn := NewStubDB()
	exec(t, conn, "INSERT INTO hosts_hostgroups (hosts_id, hostgroups_id) VALUES ($1, $2)", int64(1), int64(1))
	exec(t, conn, "INSERT INTO hosts_hostgroups (hosts_id, hostgroups_id) VALUES ($1, $2)", int64(1), int64(2))
	exec(t, conn, "DELETE FROM hosts_hostgroups WHERE hosts_id = $1 AND hostgroups_id = $2", int64(1), int64(2))
	rows := conn.Rows("hosts_hostgroups")
	if len(rows) != 1 || rows[0]["hostgroups_id"] != int64(1) {
		t.Fatalf("expected only the first link to remain, got %v", rows)
	}
}

func TestStubDBUpsertReplacesByFirstColumn(t *testing.T) {
	_, conn := NewStubDB()
	upsert := "INSERT INTO synopsis_sequences (name, value) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET value = excluded.value"
	exec(t, conn, upsert, "hosts", int64(1))
	exec(t, conn, upsert, "hosts", int64(4))
	rows := conn.Rows("synopsis_sequences")
	if len(rows) != 1 || rows[0]["value"] != int64(4) {
		t.Fatalf("expected upserted sequence, got %v", rows)
	}
}

func TestStubDBRollbackRestoresTables(t *testing.T) {
	_, conn := NewStubDB()
	exec(t, conn, "INSERT INTO hostgroups (id, name) VALUES ($1, $2)", int64(1), "prod")
	tx, err := conn.BeginTx(context.Background(), driver.TxOptions{})
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	exec(t, conn, "UPDATE hostgroups SET name = $1 WHERE id = $2", "changed", int64(1))
	exec(t, conn, "INSERT INTO hostgroups (id, name) VALUES ($1, $2)", int64(2), "edge")
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	rows := conn.Rows("hostgroups")
	if len(rows) != 1 || rows[0]["name"] != "prod" {
		t.Fatalf("expected rollback to restore tables, got %v", rows)
	}
}
