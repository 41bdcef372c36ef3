package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	dbconnector "edahub-backend"
	"edahub-backend/internal/normalize"
)

type fakeConnector struct {
	tables   map[string][]map[string]any
	pingErr  error
	listErr  error
	closed   bool
	previews []string
}

func (f *fakeConnector) TestConnection(ctx context.Context) error { return f.pingErr }

func (f *fakeConnector) ListTables(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	names := make([]string, 0, len(f.tables))
	for name := range f.tables {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeConnector) DescribeTable(ctx context.Context, table string) ([]dbconnector.ColumnInfo, error) {
	if _, ok := f.tables[table]; !ok {
		return nil, errors.New("no such table")
	}
	return []dbconnector.ColumnInfo{{Name: "id", Type: "integer", IsPK: true}}, nil
}

func (f *fakeConnector) PreviewTable(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	rows, ok := f.tables[table]
	if !ok {
		return nil, errors.New("no such table")
	}
	f.previews = append(f.previews, table)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeConnector) Close() error {
	f.closed = true
	return nil
}

type recordingHub struct {
	mu   sync.Mutex
	rows []normalize.Row
}

func (r *recordingHub) Publish(connectionID, subChannel string, row normalize.Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(fake *fakeConnector, h Publisher) *Manager {
	m := NewManager(DefaultLimits(), h, testLogger())
	if fake != nil {
		m.connectors = func(cfg dbconnector.ConnectionConfig) (dbconnector.DbConnector, error) {
			return fake, nil
		}
	}
	return m
}

func TestAddConnectionUnknownType(t *testing.T) {
	m := newTestManager(nil, nil)
	_, err := m.AddConnection(context.Background(), "carrier-pigeon", Config{})
	if !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
	if got := len(m.ListConnections()); got != 0 {
		t.Fatalf("registry should be empty, has %d entries", got)
	}
}

func TestAddConnectionMissingCredentials(t *testing.T) {
	m := newTestManager(nil, nil)
	_, err := m.AddConnection(context.Background(), TypeSQL, Config{Dialect: "mysql", Host: "db.local"})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
	if got := len(m.ListConnections()); got != 0 {
		t.Fatalf("failed add must not register anything, registry has %d", got)
	}
}

func TestAddConnectionSQLPingFailure(t *testing.T) {
	fake := &fakeConnector{pingErr: errors.New("connection refused")}
	m := newTestManager(fake, nil)
	_, err := m.AddConnection(context.Background(), TypeSQL, Config{
		Dialect: "mysql", Host: "db.local", User: "u", Password: "p",
	})
	if !errors.Is(err, ErrAdapterOpen) {
		t.Fatalf("expected ErrAdapterOpen, got %v", err)
	}
	if !fake.closed {
		t.Fatal("connector must be closed after failed ping")
	}
	if got := len(m.ListConnections()); got != 0 {
		t.Fatalf("failed add must leave registry empty, has %d", got)
	}
}

func TestAddAndListSQLConnection(t *testing.T) {
	fake := &fakeConnector{tables: map[string][]map[string]any{
		"sensors": {{"id": 1, "value": 23.5}},
	}}
	m := newTestManager(fake, nil)
	summary, err := m.AddConnection(context.Background(), TypeSQL, Config{
		Dialect: "postgres", Host: "db.local", User: "u", Password: "p", Database: "eda",
	})
	if err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	if summary.Type != TypeSQL || summary.SubType != "postgres" {
		t.Fatalf("unexpected summary %+v", summary)
	}
	list := m.ListConnections()
	if len(list) != 1 || list[0].ID != summary.ID {
		t.Fatalf("unexpected list %+v", list)
	}

	tables, err := m.GetSqlTables(context.Background(), summary.ID)
	if err != nil {
		t.Fatalf("GetSqlTables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "sensors" {
		t.Fatalf("unexpected tables %v", tables)
	}
}

func TestPreviewSqlTableCachesSnapshot(t *testing.T) {
	fake := &fakeConnector{tables: map[string][]map[string]any{
		"sensors": {{"id": 1}, {"id": 2}},
	}}
	m := newTestManager(fake, nil)
	summary, err := m.AddConnection(context.Background(), TypeSQL, Config{
		Dialect: "postgres", Host: "db.local", User: "u", Password: "p",
	})
	if err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	rows, err := m.PreviewSqlTable(context.Background(), summary.ID, "sensors", 10)
	if err != nil {
		t.Fatalf("PreviewSqlTable: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	// the unified view must serve the snapshot without re-querying
	groups, err := m.GetUnifiedData(context.Background(), summary.ID)
	if err != nil {
		t.Fatalf("GetUnifiedData: %v", err)
	}
	if len(groups) != 1 || groups[0].Table != "sensors" || len(groups[0].Rows) != 2 {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if len(fake.previews) != 1 {
		t.Fatalf("expected a single live preview, connector saw %v", fake.previews)
	}
}

func TestSelectSqlTables(t *testing.T) {
	fake := &fakeConnector{tables: map[string][]map[string]any{
		"alpha": {{"id": 1}},
		"beta":  {{"id": 2}},
	}}
	m := newTestManager(fake, nil)
	summary, err := m.AddConnection(context.Background(), TypeSQL, Config{
		Dialect: "mysql", Host: "db.local", User: "u", Password: "p",
	})
	if err != nil {
		t.Fatalf("AddConnection: %v", err)
	}

	if err := m.SelectSqlTables(summary.ID, []string{"alpha; DROP TABLE beta"}); !errors.Is(err, ErrBadInput) {
		t.Fatalf("expected ErrBadInput for hostile name, got %v", err)
	}
	if err := m.SelectSqlTables(summary.ID, []string{"alpha"}); err != nil {
		t.Fatalf("SelectSqlTables: %v", err)
	}

	groups, err := m.GetUnifiedData(context.Background(), summary.ID)
	if err != nil {
		t.Fatalf("GetUnifiedData: %v", err)
	}
	if len(groups) != 1 || groups[0].Table != "alpha" {
		t.Fatalf("expected only alpha, got %+v", groups)
	}
}

func TestStaticConnectionServesRowsVerbatim(t *testing.T) {
	m := newTestManager(nil, nil)
	summary, err := m.AddConnection(context.Background(), TypeStatic, Config{
		SnapshotData: []Snapshot{
			{Table: "readings", Rows: []map[string]any{
				{"sensor": "a", "value": 1.5},
				{"sensor": "b", "value": 2.5},
			}},
			{Rows: []map[string]any{{"anything": true}}},
		},
	})
	if err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	groups, err := m.GetUnifiedData(context.Background(), summary.ID)
	if err != nil {
		t.Fatalf("GetUnifiedData: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Table != "readings" || groups[1].Table != "table_2" {
		t.Fatalf("unexpected group names %q %q", groups[0].Table, groups[1].Table)
	}
	first := groups[0].Rows[0]
	if first["sensor"] != "a" || first["value"] != 1.5 {
		t.Fatalf("snapshot rows must not be rewritten, got %v", first)
	}
	if _, ok := first["source"]; ok {
		t.Fatal("snapshot rows must bypass normalization")
	}
}

func TestRemoveConnectionIsIdempotent(t *testing.T) {
	m := newTestManager(nil, nil)
	summary, err := m.AddConnection(context.Background(), TypeStatic, Config{})
	if err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	m.RemoveConnection(summary.ID)
	m.RemoveConnection(summary.ID)
	m.RemoveConnection("never-existed")
	if got := len(m.ListConnections()); got != 0 {
		t.Fatalf("expected empty registry, got %d", got)
	}
	if _, err := m.GetUnifiedData(context.Background(), summary.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestWrongTypeOperations(t *testing.T) {
	m := newTestManager(nil, nil)
	summary, err := m.AddConnection(context.Background(), TypeStatic, Config{})
	if err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	if _, err := m.GetSqlTables(context.Background(), summary.ID); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
	if _, err := m.PreviewSerial(summary.ID, 10); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
	if _, err := m.PreviewMqtt(summary.ID, "t", 10); !errors.Is(err, ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestEmitNormalizesAndBroadcasts(t *testing.T) {
	h := &recordingHub{}
	m := newTestManager(nil, h)
	summary, err := m.AddConnection(context.Background(), TypeStatic, Config{})
	if err != nil {
		t.Fatalf("AddConnection: %v", err)
	}

	emit := m.emitFor(summary.ID, "mqtt")
	emit("devices/telemetry", []byte("batt:81"))

	conn, err := m.get(summary.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rows := conn.cache.Rows("devices/telemetry")
	if len(rows) != 1 {
		t.Fatalf("expected 1 cached row, got %d", len(rows))
	}
	if rows[0]["value"] != float64(81) || rows[0]["source"] != "mqtt" {
		t.Fatalf("unexpected normalized row %v", rows[0])
	}
	h.mu.Lock()
	published := len(h.rows)
	h.mu.Unlock()
	if published != 1 {
		t.Fatalf("expected 1 broadcast, got %d", published)
	}
}

func TestEmitAfterRemovalIsDropped(t *testing.T) {
	h := &recordingHub{}
	m := newTestManager(nil, h)
	summary, err := m.AddConnection(context.Background(), TypeStatic, Config{})
	if err != nil {
		t.Fatalf("AddConnection: %v", err)
	}
	emit := m.emitFor(summary.ID, "mqtt")
	m.RemoveConnection(summary.ID)
	emit("topic", []byte(`{"value": 1}`))
	h.mu.Lock()
	published := len(h.rows)
	h.mu.Unlock()
	if published != 0 {
		t.Fatalf("emit after removal must be dropped, got %d broadcasts", published)
	}
}

// registerMqtt inserts an mqtt connection without dialing a broker so the
// cache-driven read paths can be exercised in isolation.
func registerMqtt(m *Manager, id, topic string) *Connection {
	conn := &Connection{
		id:        id,
		connType:  TypeMQTT,
		cfg:       Config{BrokerURL: "tcp://broker.local:1883", Topic: topic},
		cache:     NewCache(m.limits.PushRows),
		createdAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.conns[id] = conn
	m.mu.Unlock()
	return conn
}

func TestUnifiedDataWaitsForLatePushData(t *testing.T) {
	m := newTestManager(nil, nil)
	registerMqtt(m, "late", "devices/t")

	emit := m.emitFor("late", TypeMQTT)
	go func() {
		time.Sleep(100 * time.Millisecond)
		emit("devices/t", []byte("batt:81"))
	}()

	start := time.Now()
	groups, err := m.GetUnifiedData(context.Background(), "late")
	if err != nil {
		t.Fatalf("GetUnifiedData: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Fatalf("expected a bounded wait before the re-read, returned after %v", elapsed)
	}
	if len(groups) != 1 || groups[0].Table != "devices/t" {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if len(groups[0].Rows) != 1 || groups[0].Rows[0]["value"] != float64(81) {
		t.Fatalf("late row not served: %+v", groups[0].Rows)
	}
}

func TestUnifiedDataReturnsImmediatelyWhenCached(t *testing.T) {
	m := newTestManager(nil, nil)
	registerMqtt(m, "warm", "devices/t")
	m.emitFor("warm", TypeMQTT)("devices/t", []byte(`{"value": 7}`))

	start := time.Now()
	groups, err := m.GetUnifiedData(context.Background(), "warm")
	if err != nil {
		t.Fatalf("GetUnifiedData: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("cached read must not wait, took %v", elapsed)
	}
	if len(groups) != 1 || len(groups[0].Rows) != 1 {
		t.Fatalf("unexpected groups %+v", groups)
	}
}

func TestUnifiedDataWaitHonorsContextCancel(t *testing.T) {
	m := newTestManager(nil, nil)
	registerMqtt(m, "idle", "devices/t")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	groups, err := m.GetUnifiedData(ctx, "idle")
	if err != nil {
		t.Fatalf("GetUnifiedData: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("cancelled wait must return promptly, took %v", elapsed)
	}
	if len(groups) != 0 {
		t.Fatalf("expected no groups, got %+v", groups)
	}
}

func TestConfigPortDisambiguation(t *testing.T) {
	var sqlCfg Config
	if err := sqlCfg.UnmarshalJSON([]byte(`{"host":"db","port":5432}`)); err != nil {
		t.Fatalf("unmarshal sql config: %v", err)
	}
	if sqlCfg.Port != 5432 || sqlCfg.SerialPort != "" {
		t.Fatalf("numeric port must map to sql port, got %+v", sqlCfg)
	}

	var serialCfg Config
	if err := serialCfg.UnmarshalJSON([]byte(`{"port":"/dev/ttyUSB0","baudRate":115200}`)); err != nil {
		t.Fatalf("unmarshal serial config: %v", err)
	}
	if serialCfg.SerialPort != "/dev/ttyUSB0" || serialCfg.Port != 0 {
		t.Fatalf("string port must map to serial device, got %+v", serialCfg)
	}
}
