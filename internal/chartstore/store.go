// Package chartstore persists saved chart definitions. Charts are opaque
// JSON documents; nothing here depends on their shape.
package chartstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("chart not found")

type Chart struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Store interface {
	Create(ctx context.Context, data json.RawMessage) (Chart, error)
	Get(ctx context.Context, id string) (Chart, error)
	GetAll(ctx context.Context) ([]Chart, error)
	Update(ctx context.Context, id string, data json.RawMessage) (Chart, error)
	Delete(ctx context.Context, id string) error
}
