// file: mysql_connector.go
package dbconnector

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

type MySQLConnector struct {
	baseConnector
}

func newMySQLConnector(cfg ConnectionConfig) (*MySQLConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "disable" {
		dsn += "&tls=false"
	} else if sslMode != "" {
		dsn += "&tls=true"
	}
	db, err := openDatabase("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	return &MySQLConnector{baseConnector{cfg: cfg, db: db}}, nil
}

func (c *MySQLConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}

func (c *MySQLConnector) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'")
	if err != nil {
		return nil, fmt.Errorf("list mysql tables: %w", err)
	}
	defer rows.Close()
	results := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan mysql table name: %w", err)
		}
		results = append(results, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mysql tables: %w", err)
	}
	return results, nil
}

func (c *MySQLConnector) DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error) {
	_, _, err := quoteQualified(table, 1, func(s string) string { return "`" + s + "`" })
	if err != nil {
		return nil, fmt.Errorf("invalid mysql table: %w", err)
	}
	stmt, err := c.db.PrepareContext(ctx, "SELECT column_name, data_type, is_nullable, column_key FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position")
	if err != nil {
		return nil, fmt.Errorf("prepare mysql columns query: %w", err)
	}
	defer stmt.Close()
	rows, err := stmt.QueryContext(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("query mysql columns: %w", err)
	}
	defer rows.Close()
	columns := []ColumnInfo{}
	for rows.Next() {
		var name, dataType, isNullable, key string
		if err := rows.Scan(&name, &dataType, &isNullable, &key); err != nil {
			return nil, fmt.Errorf("scan mysql column: %w", err)
		}
		columns = append(columns, ColumnInfo{
			Name:     name,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
			IsPK:     strings.EqualFold(key, "PRI"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mysql columns: %w", err)
	}
	return columns, nil
}

func (c *MySQLConnector) PreviewTable(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	quotedTable, _, err := quoteQualified(table, 1, func(s string) string { return "`" + s + "`" })
	if err != nil {
		return nil, fmt.Errorf("invalid mysql table: %w", err)
	}
	query := fmt.Sprintf("SELECT * FROM %s LIMIT ?", quotedTable)
	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare mysql preview query: %w", err)
	}
	defer stmt.Close()
	rows, err := stmt.QueryContext(ctx, normalizePreviewLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query mysql preview rows: %w", err)
	}
	defer rows.Close()
	result, err := scanRowsToMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("scan mysql preview rows: %w", err)
	}
	return result, nil
}
