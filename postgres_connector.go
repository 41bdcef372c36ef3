// file: postgres_connector.go
package dbconnector

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

type PostgresConnector struct {
	baseConnector
}

func newPostgresConnector(cfg ConnectionConfig) (*PostgresConnector, error) {
	dsn := strings.TrimSpace(cfg.ConnStr)
	if dsn == "" {
		if cfg.Port == 0 {
			cfg.Port = 5432
		}
		sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
	}
	db, err := openDatabase("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	return &PostgresConnector{baseConnector{cfg: cfg, db: db}}, nil
}

func (c *PostgresConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (c *PostgresConnector) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'")
	if err != nil {
		return nil, fmt.Errorf("list postgres tables: %w", err)
	}
	defer rows.Close()
	results := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan postgres table name: %w", err)
		}
		results = append(results, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate postgres tables: %w", err)
	}
	return results, nil
}

func (c *PostgresConnector) DescribeTable(ctx context.Context, table string) ([]ColumnInfo, error) {
	_, parts, err := quoteQualified(table, 2, func(s string) string { return "\"" + s + "\"" })
	if err != nil {
		return nil, fmt.Errorf("invalid postgres table: %w", err)
	}
	name := parts[len(parts)-1]
	stmt, err := c.db.PrepareContext(ctx, `SELECT c.column_name, c.data_type, c.is_nullable,
		EXISTS (
			SELECT 1 FROM information_schema.key_column_usage k
			JOIN information_schema.table_constraints tc
				ON tc.constraint_name = k.constraint_name AND tc.constraint_type = 'PRIMARY KEY'
			WHERE k.table_name = c.table_name AND k.column_name = c.column_name
		)
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema() AND c.table_name = $1
		ORDER BY c.ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("prepare postgres columns query: %w", err)
	}
	defer stmt.Close()
	rows, err := stmt.QueryContext(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("query postgres columns: %w", err)
	}
	defer rows.Close()
	columns := []ColumnInfo{}
	for rows.Next() {
		var colName, dataType, isNullable string
		var isPK bool
		if err := rows.Scan(&colName, &dataType, &isNullable, &isPK); err != nil {
			return nil, fmt.Errorf("scan postgres column: %w", err)
		}
		columns = append(columns, ColumnInfo{
			Name:     colName,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
			IsPK:     isPK,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate postgres columns: %w", err)
	}
	return columns, nil
}

func (c *PostgresConnector) PreviewTable(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	quotedTable, _, err := quoteQualified(table, 2, func(s string) string { return "\"" + s + "\"" })
	if err != nil {
		return nil, fmt.Errorf("invalid postgres table: %w", err)
	}
	query := fmt.Sprintf("SELECT * FROM %s LIMIT $1", quotedTable)
	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("prepare postgres preview query: %w", err)
	}
	defer stmt.Close()
	rows, err := stmt.QueryContext(ctx, normalizePreviewLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query postgres preview rows: %w", err)
	}
	defer rows.Close()
	result, err := scanRowsToMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("scan postgres preview rows: %w", err)
	}
	return result, nil
}
