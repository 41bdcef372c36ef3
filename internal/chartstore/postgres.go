package chartstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const chartsSchema = `
CREATE TABLE IF NOT EXISTS charts (
    id         UUID PRIMARY KEY,
    data       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// PostgresStore persists charts in a charts table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, chartsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Create(ctx context.Context, data json.RawMessage) (Chart, error) {
	chart := Chart{ID: uuid.NewString()}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO charts (id, data) VALUES ($1, $2) RETURNING data, created_at, updated_at`,
		chart.ID, data,
	).Scan(&chart.Data, &chart.CreatedAt, &chart.UpdatedAt)
	if err != nil {
		return Chart{}, fmt.Errorf("insert chart: %w", err)
	}
	return chart, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Chart, error) {
	chart := Chart{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT data, created_at, updated_at FROM charts WHERE id = $1`, id,
	).Scan(&chart.Data, &chart.CreatedAt, &chart.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Chart{}, ErrNotFound
	}
	if err != nil {
		return Chart{}, fmt.Errorf("select chart: %w", err)
	}
	return chart, nil
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]Chart, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, data, created_at, updated_at FROM charts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("select charts: %w", err)
	}
	defer rows.Close()

	var charts []Chart
	for rows.Next() {
		var chart Chart
		if err := rows.Scan(&chart.ID, &chart.Data, &chart.CreatedAt, &chart.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chart: %w", err)
		}
		charts = append(charts, chart)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate charts: %w", err)
	}
	return charts, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, data json.RawMessage) (Chart, error) {
	chart := Chart{ID: id}
	err := s.pool.QueryRow(ctx,
		`UPDATE charts SET data = $2, updated_at = now() WHERE id = $1 RETURNING data, created_at, updated_at`,
		id, data,
	).Scan(&chart.Data, &chart.CreatedAt, &chart.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Chart{}, ErrNotFound
	}
	if err != nil {
		return Chart{}, fmt.Errorf("update chart: %w", err)
	}
	return chart, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM charts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete chart: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
