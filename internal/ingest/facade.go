package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	dbconnector "edahub-backend"
	"edahub-backend/internal/normalize"
)

// TableGroup is one named slice of the unified data view.
type TableGroup struct {
	Table string          `json:"table"`
	Rows  []normalize.Row `json:"rows"`
}

const (
	unifiedRetryDelay   = 300 * time.Millisecond
	unifiedPreviewLimit = 50
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// sqlConn returns the connection and its connector handle; a sql connection
// whose adapter is still opening reads as not found.
func (m *Manager) sqlConn(id string) (*Connection, dbconnector.DbConnector, error) {
	conn, err := m.typed(id, TypeSQL)
	if err != nil {
		return nil, nil, err
	}
	m.mu.RLock()
	sql := conn.sql
	m.mu.RUnlock()
	if sql == nil {
		return nil, nil, ErrNotFound
	}
	return conn, sql, nil
}

// GetSqlTables lists the tables of a sql connection.
func (m *Manager) GetSqlTables(ctx context.Context, id string) ([]string, error) {
	_, sql, err := m.sqlConn(id)
	if err != nil {
		return nil, err
	}
	tables, err := sql.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return tables, nil
}

// DescribeSqlTable returns column metadata for one table.
func (m *Manager) DescribeSqlTable(ctx context.Context, id, table string) ([]dbconnector.ColumnInfo, error) {
	_, sql, err := m.sqlConn(id)
	if err != nil {
		return nil, err
	}
	columns, err := sql.DescribeTable(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return columns, nil
}

// PreviewSqlTable fetches up to limit rows on demand and refreshes the
// cached snapshot for that table.
func (m *Manager) PreviewSqlTable(ctx context.Context, id, table string, limit int) ([]normalize.Row, error) {
	conn, sql, err := m.sqlConn(id)
	if err != nil {
		return nil, err
	}
	raw, err := sql.PreviewTable(ctx, table, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	rows := toRows(raw)
	conn.cache.Replace(table, rows)
	return rows, nil
}

// SelectSqlTables narrows the tables surfaced by the unified view. An empty
// list restores "all tables".
func (m *Manager) SelectSqlTables(id string, tables []string) error {
	if _, err := m.typed(id, TypeSQL); err != nil {
		return err
	}
	for _, table := range tables {
		if !tableNamePattern.MatchString(table) {
			return fmt.Errorf("%w: invalid table name %q", ErrBadInput, table)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok {
		return ErrNotFound
	}
	conn.selectedTables = append([]string(nil), tables...)
	return nil
}

// PreviewMqtt returns the cached rows for a topic, subscribing lazily when
// the topic is not part of the subscription set yet.
func (m *Manager) PreviewMqtt(id, topic string, limit int) ([]normalize.Row, error) {
	conn, err := m.typed(id, TypeMQTT)
	if err != nil {
		return nil, err
	}
	if topic == "" {
		topic = conn.cfg.Topic
	}
	if adapter, ok := m.adapterOf(conn).(*mqttAdapter); ok {
		adapter.Subscribe(topic)
	}
	return conn.cache.Tail(topic, limit), nil
}

// PreviewHttp returns the cached rows for an endpoint, triggering a single
// fetch when nothing is cached yet. A fetch that has not produced data yet
// is not an error; the caller simply sees an empty slice.
func (m *Manager) PreviewHttp(ctx context.Context, id, endpoint string, limit int) ([]normalize.Row, error) {
	conn, err := m.typed(id, TypeHTTP)
	if err != nil {
		return nil, err
	}
	adapter, ok := m.adapterOf(conn).(*httpPollAdapter)
	if !ok {
		return []normalize.Row{}, nil
	}
	key := adapter.cacheKey
	if endpoint != "" {
		key = stripQuery(endpoint)
	}
	if conn.cache.Len(key) == 0 {
		if err := adapter.FetchFrom(ctx, endpoint); err != nil {
			m.logger.Warn("http preview fetch failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
	return conn.cache.Tail(key, limit), nil
}

// PreviewSerial returns the most recent cached serial rows.
func (m *Manager) PreviewSerial(id string, limit int) ([]normalize.Row, error) {
	conn, err := m.typed(id, TypeSerial)
	if err != nil {
		return nil, err
	}
	return conn.cache.Tail(serialChannel, limit), nil
}

// GetUnifiedData assembles the per-table view of one connection. For sql it
// serves cached snapshots and queries untouched tables live; for push and
// poll sources it reads the cache, waiting briefly once when the configured
// channel has produced nothing yet.
func (m *Manager) GetUnifiedData(ctx context.Context, id string) ([]TableGroup, error) {
	conn, err := m.get(id)
	if err != nil {
		return nil, err
	}
	switch conn.connType {
	case TypeSQL:
		return m.unifiedSQL(ctx, conn), nil
	case TypeMQTT:
		return m.unifiedCached(ctx, conn, conn.cfg.Topic), nil
	case TypeHTTP:
		key := ""
		if adapter, ok := m.adapterOf(conn).(*httpPollAdapter); ok {
			key = adapter.cacheKey
		}
		return m.unifiedCached(ctx, conn, key), nil
	case TypeSerial:
		return []TableGroup{{Table: serialChannel, Rows: conn.cache.Rows(serialChannel)}}, nil
	default:
		return cachedGroups(conn), nil
	}
}

// adapterOf reads the adapter handle under the manager lock; it may be nil
// while AddConnection is still opening the adapter.
func (m *Manager) adapterOf(conn *Connection) Adapter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return conn.adapter
}

func (m *Manager) unifiedSQL(ctx context.Context, conn *Connection) []TableGroup {
	m.mu.RLock()
	selected := append([]string(nil), conn.selectedTables...)
	sql := conn.sql
	m.mu.RUnlock()
	if sql == nil {
		return cachedGroups(conn)
	}

	tables := selected
	if len(tables) == 0 {
		listed, err := sql.ListTables(ctx)
		if err != nil {
			m.logger.Warn("list tables failed, serving cached snapshots", slog.String("id", conn.id), slog.String("error", err.Error()))
			return cachedGroups(conn)
		}
		tables = listed
	}
	groups := make([]TableGroup, 0, len(tables))
	for _, table := range tables {
		rows := conn.cache.Rows(table)
		if len(rows) == 0 {
			raw, err := sql.PreviewTable(ctx, table, unifiedPreviewLimit)
			if err != nil {
				m.logger.Warn("table fetch failed", slog.String("id", conn.id), slog.String("table", table), slog.String("error", err.Error()))
				groups = append(groups, TableGroup{Table: table, Rows: []normalize.Row{}})
				continue
			}
			rows = toRows(raw)
			conn.cache.Replace(table, rows)
		}
		groups = append(groups, TableGroup{Table: table, Rows: rows})
	}
	return groups
}

func (m *Manager) unifiedCached(ctx context.Context, conn *Connection, configuredChannel string) []TableGroup {
	groups := cachedGroups(conn)
	if len(groups) > 0 || configuredChannel == "" {
		return groups
	}
	// data may simply not have arrived yet; wait once and re-read
	select {
	case <-time.After(unifiedRetryDelay):
	case <-ctx.Done():
		return groups
	}
	return cachedGroups(conn)
}

func cachedGroups(conn *Connection) []TableGroup {
	channels := conn.cache.Channels()
	groups := make([]TableGroup, 0, len(channels))
	for _, channel := range channels {
		groups = append(groups, TableGroup{Table: channel, Rows: conn.cache.Rows(channel)})
	}
	return groups
}

func toRows(raw []map[string]any) []normalize.Row {
	rows := make([]normalize.Row, len(raw))
	for i, r := range raw {
		rows[i] = normalize.Row(r)
	}
	return rows
}
