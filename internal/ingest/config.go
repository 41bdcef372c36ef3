package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config carries the creation parameters for every connection type. Only the
// fields for the requested type are consulted; the rest stay zero.
type Config struct {
	// sql
	Dialect  string `json:"dialect,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"-"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`
	SSLMode  string `json:"sslMode,omitempty"`
	Filename string `json:"filename,omitempty"`
	ConnStr  string `json:"connectionString,omitempty"`

	// mqtt
	BrokerURL string `json:"brokerUrl,omitempty"`
	Topic     string `json:"topic,omitempty"`
	ClientID  string `json:"clientId,omitempty"`

	// http
	Endpoint       string `json:"endpoint,omitempty"`
	Method         string `json:"method,omitempty"`
	PollIntervalMs int    `json:"pollIntervalMs,omitempty"`
	DeviceID       string `json:"deviceId,omitempty"`

	// serial
	SerialPort string `json:"-"`
	BaudRate   int    `json:"baudRate,omitempty"`

	// static
	SnapshotData []Snapshot `json:"snapshotData,omitempty"`
}

// UnmarshalJSON resolves the shared "port" key: a number is the sql port, a
// string is the serial device path.
func (c *Config) UnmarshalJSON(data []byte) error {
	type alias Config
	aux := struct {
		*alias
		Port any `json:"port"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch p := aux.Port.(type) {
	case float64:
		c.Port = int(p)
	case string:
		c.SerialPort = p
	}
	return nil
}

type Snapshot struct {
	Table string           `json:"table"`
	Rows  []map[string]any `json:"rows"`
}

// Limits are the per-protocol cache bounds and polling default. The split
// between push and serial limits is historical and kept configurable rather
// than unified.
type Limits struct {
	PushRows       int
	SerialRows     int
	PollIntervalMs int
}

func DefaultLimits() Limits {
	return Limits{PushRows: 10000, SerialRows: 1000, PollIntervalMs: 5000}
}

func (l Limits) rowsFor(connType string) int {
	if connType == TypeSerial {
		return l.SerialRows
	}
	return l.PushRows
}

const (
	TypeSQL    = "sql"
	TypeMQTT   = "mqtt"
	TypeHTTP   = "http"
	TypeSerial = "serial"
	TypeStatic = "static"
)

func validateConfig(connType string, cfg Config) error {
	switch connType {
	case TypeSQL:
		dialect := strings.ToLower(strings.TrimSpace(cfg.Dialect))
		if dialect == "sqlite" || dialect == "sqlite3" {
			if strings.TrimSpace(cfg.Filename) == "" {
				return fmt.Errorf("%w: sqlite requires filename", ErrMissingCredentials)
			}
			return nil
		}
		if strings.TrimSpace(cfg.ConnStr) != "" {
			return nil
		}
		if strings.TrimSpace(cfg.Host) == "" || strings.TrimSpace(cfg.User) == "" || cfg.Password == "" {
			return fmt.Errorf("%w: sql requires host, user and password", ErrMissingCredentials)
		}
		return nil
	case TypeMQTT:
		if strings.TrimSpace(cfg.BrokerURL) == "" || strings.TrimSpace(cfg.Topic) == "" {
			return fmt.Errorf("%w: mqtt requires brokerUrl and topic", ErrMissingCredentials)
		}
		return nil
	case TypeHTTP:
		if strings.TrimSpace(cfg.Endpoint) == "" {
			return fmt.Errorf("%w: http requires endpoint", ErrMissingCredentials)
		}
		return nil
	case TypeSerial:
		if strings.TrimSpace(cfg.SerialPort) == "" {
			return fmt.Errorf("%w: serial requires port", ErrMissingCredentials)
		}
		return nil
	case TypeStatic:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidType, connType)
	}
}
