package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	dbconnector "edahub-backend"
	"edahub-backend/internal/normalize"
)

// Publisher receives every newly cached row for realtime fan-out. Optional;
// a nil publisher disables broadcasting without touching ingestion.
type Publisher interface {
	Publish(connectionID, subChannel string, row normalize.Row)
}

// Connection is one live external data source: adapter handle, bounded
// cache, and creation parameters. Fields other than the cache are written
// only under the manager lock.
type Connection struct {
	id             string
	connType       string
	subType        string
	cfg            Config
	cache          *Cache
	adapter        Adapter
	sql            dbconnector.DbConnector
	selectedTables []string
	createdAt      time.Time
}

// Summary is the credential-free view of a connection.
type Summary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	SubType   string    `json:"subType,omitempty"`
	Channels  int       `json:"channels"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manager owns the registry of live connections. It is the only state shared
// across adapters; each connection's cache carries its own lock.
type Manager struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	limits Limits
	hub    Publisher
	logger *slog.Logger

	connectors ConnectorFactory
	newID      func() string
}

func NewManager(limits Limits, hub Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		conns:      map[string]*Connection{},
		limits:     limits,
		hub:        hub,
		logger:     logger,
		connectors: dbconnector.NewConnector,
		newID:      uuid.NewString,
	}
}

// AddConnection validates the config, registers the connection, then opens
// the protocol adapter. The registry entry exists before any asynchronous
// callback can fire, so a data unit arriving mid-creation always finds its
// connection. Open failures unregister the entry and leave nothing behind.
func (m *Manager) AddConnection(ctx context.Context, connType string, cfg Config) (Summary, error) {
	connType = strings.ToLower(strings.TrimSpace(connType))
	if err := validateConfig(connType, cfg); err != nil {
		return Summary{}, err
	}

	conn := &Connection{
		id:        m.newID(),
		connType:  connType,
		cfg:       cfg,
		cache:     NewCache(m.limits.rowsFor(connType)),
		createdAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.conns[conn.id] = conn
	m.mu.Unlock()

	var (
		adapter Adapter
		subType string
		err     error
	)
	switch connType {
	case TypeSQL:
		var sqlAd *sqlAdapter
		sqlAd, subType, err = openSQL(ctx, cfg, m.connectors)
		if err == nil {
			adapter = sqlAd
			m.mu.Lock()
			conn.sql = sqlAd.conn
			m.mu.Unlock()
		}
	case TypeMQTT:
		adapter, err = openMQTT(cfg, m.emitFor(conn.id, TypeMQTT), m.logger)
	case TypeHTTP:
		adapter = openHTTPPoll(cfg, m.limits, m.emitFor(conn.id, TypeHTTP), m.logger)
	case TypeSerial:
		adapter, err = openSerial(cfg, m.emitFor(conn.id, TypeSerial), m.logger)
	case TypeStatic:
		loadSnapshots(conn)
	}
	if err != nil {
		m.mu.Lock()
		delete(m.conns, conn.id)
		m.mu.Unlock()
		return Summary{}, fmt.Errorf("%w: %v", ErrAdapterOpen, err)
	}

	m.mu.Lock()
	if _, ok := m.conns[conn.id]; !ok {
		// removed while the adapter was opening; release it
		m.mu.Unlock()
		if adapter != nil {
			adapter.Close()
		}
		return Summary{}, ErrNotFound
	}
	conn.adapter = adapter
	conn.subType = subType
	summary := summarize(conn)
	m.mu.Unlock()

	m.logger.Info("connection added", slog.String("id", conn.id), slog.String("type", connType))
	return summary, nil
}

// RemoveConnection tears a connection down: delete the entry first so
// in-flight units are discarded, then release the adapter resource. Safe to
// call with unknown ids and safe to call twice.
func (m *Manager) RemoveConnection(id string) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if conn.adapter != nil {
		if err := conn.adapter.Close(); err != nil {
			m.logger.Warn("adapter close failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
	m.logger.Info("connection removed", slog.String("id", id))
}

// ListConnections returns credential-free summaries, oldest first.
func (m *Manager) ListConnections() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summaries := make([]Summary, 0, len(m.conns))
	for _, conn := range m.conns {
		summaries = append(summaries, summarize(conn))
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Close removes every connection. Used at process shutdown.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.RemoveConnection(id)
	}
}

func summarize(conn *Connection) Summary {
	return Summary{
		ID:        conn.id,
		Type:      conn.connType,
		SubType:   conn.subType,
		Channels:  len(conn.cache.Channels()),
		Rows:      conn.cache.TotalRows(),
		CreatedAt: conn.createdAt,
	}
}

// emitFor wires one connection's adapter into the pipeline. Units arriving
// after removal find no entry and are dropped.
func (m *Manager) emitFor(id, source string) emitFunc {
	return func(subChannel string, payload any) {
		row := normalize.From(source, payload)
		m.mu.RLock()
		conn, ok := m.conns[id]
		m.mu.RUnlock()
		if !ok {
			return
		}
		conn.cache.Append(subChannel, row)
		if m.hub != nil {
			m.hub.Publish(id, subChannel, row)
		}
	}
}

func (m *Manager) get(id string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conn, nil
}

func (m *Manager) typed(id, want string) (*Connection, error) {
	conn, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if conn.connType != want {
		return nil, fmt.Errorf("%w: connection %s is %s, not %s", ErrWrongType, id, conn.connType, want)
	}
	return conn, nil
}

// loadSnapshots copies inline snapshot rows into the cache as-is; static
// data bypasses normalization so the stored rows mirror the input exactly.
func loadSnapshots(conn *Connection) {
	for i, snap := range conn.cfg.SnapshotData {
		table := strings.TrimSpace(snap.Table)
		if table == "" {
			table = fmt.Sprintf("table_%d", i+1)
		}
		for _, raw := range snap.Rows {
			row := make(normalize.Row, len(raw))
			for k, v := range raw {
				row[k] = v
			}
			conn.cache.Append(table, row)
		}
	}
}
