// file: factory.go
package dbconnector

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

func NewConnector(cfg ConnectionConfig) (DbConnector, error) {
	if strings.TrimSpace(cfg.Dialect) == "" {
		return nil, errors.New("sql dialect is required")
	}
	switch strings.ToLower(cfg.Dialect) {
	case "mysql", "mariadb":
		return newMySQLConnector(cfg)
	case "postgres", "postgresql":
		return newPostgresConnector(cfg)
	case "sqlite", "sqlite3":
		return newSQLiteConnector(cfg)
	case "mssql", "sqlserver":
		return newMSSQLConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", cfg.Dialect)
	}
}

func openDatabase(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}
