package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	dbconnector "edahub-backend"
)

// ConnectorFactory builds a SQL connector from a dialect config. Swappable
// for tests; production wiring uses dbconnector.NewConnector.
type ConnectorFactory func(cfg dbconnector.ConnectionConfig) (dbconnector.DbConnector, error)

// sqlAdapter wraps the query-driven connector so the registry can treat it
// like any other adapter handle. It produces no raw data stream.
type sqlAdapter struct {
	conn dbconnector.DbConnector
}

func (a *sqlAdapter) Close() error {
	return a.conn.Close()
}

func openSQL(ctx context.Context, cfg Config, factory ConnectorFactory) (*sqlAdapter, string, error) {
	subType := strings.ToLower(strings.TrimSpace(cfg.Dialect))
	conn, err := factory(dbconnector.ConnectionConfig{
		Dialect:  subType,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
		SSLMode:  cfg.SSLMode,
		Filename: cfg.Filename,
		ConnStr:  cfg.ConnStr,
	})
	if err != nil {
		return nil, "", err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.TestConnection(pingCtx); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("test connection: %w", err)
	}
	return &sqlAdapter{conn: conn}, subType, nil
}
