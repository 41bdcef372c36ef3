// file: sqlite_connector.go
package dbconnector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type SQLiteConnector struct {
	baseConnector
}

func newSQLiteConnector(cfg ConnectionConfig) (*SQLiteConnector, error) {
	filename := strings.TrimSpace(cfg.Filename)
	if filename == "" {
		return nil, errors.New("sqlite filename is required")
	}
	db, err := openDatabase("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return &SQLiteConnector{baseConnector{cfg: cfg, db: db}}, nil
}

func (c *SQLiteConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

func (c *SQLiteConnector) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list sqlite tables: %w", err)
	}
	defer rows.Close()
	results := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan sqlite table name: %w", err)
		}
		results = append(results, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sqlite tables: %w", err)
	}
	return results, nil
}

func (c *SQLiteConnector) DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error) {
	quotedTable, _, err := quoteQualified(table, 1, func(s string) string { return "\"" + s + "\"" })
	if err != nil {
		return nil, fmt.Errorf("invalid sqlite table: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quotedTable))
	if err != nil {
		return nil, fmt.Errorf("query sqlite columns: %w", err)
	}
	defer rows.Close()
	columns := []ColumnInfo{}
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan sqlite column: %w", err)
		}
		columns = append(columns, ColumnInfo{
			Name:     name,
			Type:     colType,
			Nullable: notNull == 0,
			IsPK:     pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sqlite columns: %w", err)
	}
	return columns, nil
}

func (c *SQLiteConnector) PreviewTable(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	quotedTable, _, err := quoteQualified(table, 1, func(s string) string { return "\"" + s + "\"" })
	if err != nil {
		return nil, fmt.Errorf("invalid sqlite table: %w", err)
	}
	query := fmt.Sprintf("SELECT * FROM %s LIMIT ?", quotedTable)
	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare sqlite preview query: %w", err)
	}
	defer stmt.Close()
	rows, err := stmt.QueryContext(ctx, normalizePreviewLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query sqlite preview rows: %w", err)
	}
	defer rows.Close()
	result, err := scanRowsToMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("scan sqlite preview rows: %w", err)
	}
	return result, nil
}
