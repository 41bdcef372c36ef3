package dbconnector

import (
	"context"
	"testing"
)

func openTestSQLite(t *testing.T) DbConnector {
	t.Helper()
	conn, err := NewConnector(ConnectionConfig{Dialect: "sqlite", Filename: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	sc := conn.(*SQLiteConnector)
	stmts := []string{
		"CREATE TABLE readings (id INTEGER PRIMARY KEY, temp REAL, label TEXT)",
		"INSERT INTO readings (temp, label) VALUES (21.5, 'a'), (22.0, 'b'), (23.1, NULL)",
	}
	for _, stmt := range stmts {
		if _, err := sc.db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("seed sqlite: %v", err)
		}
	}
	return conn
}

func TestSQLiteListTables(t *testing.T) {
	conn := openTestSQLite(t)
	tables, err := conn.ListTables(context.Background())
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "readings" {
		t.Fatalf("unexpected tables: %#v", tables)
	}
}

func TestSQLiteDescribeTable(t *testing.T) {
	conn := openTestSQLite(t)
	columns, err := conn.DescribeTable(context.Background(), "readings")
	if err != nil {
		t.Fatalf("describe table: %v", err)
	}
	if len(columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(columns))
	}
	if columns[0].Name != "id" || !columns[0].IsPK {
		t.Fatalf("unexpected first column: %#v", columns[0])
	}
}

func TestSQLitePreviewTable(t *testing.T) {
	conn := openTestSQLite(t)
	rows, err := conn.PreviewTable(context.Background(), "readings", 2)
	if err != nil {
		t.Fatalf("preview table: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if _, ok := rows[0]["temp"]; !ok {
		t.Fatalf("expected temp column in row: %#v", rows[0])
	}
}

func TestSQLitePreviewRejectsBadTable(t *testing.T) {
	conn := openTestSQLite(t)
	if _, err := conn.PreviewTable(context.Background(), "readings; DROP TABLE readings", 5); err == nil {
		t.Fatalf("expected error for invalid table name")
	}
}
