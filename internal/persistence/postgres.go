package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresConfig mirrors the pool sizing knobs the fleet's other
// Postgres-backed services expose.
type PostgresConfig struct {
	URL      string
	MinConns int32
	MaxConns int32
}

// PostgresStore is a pgxpool-backed Store. Schema:
//
//	CREATE TABLE session_snapshots (
//	    user_id    TEXT PRIMARY KEY,
//	    version    SMALLINT NOT NULL,
//	    blob       BYTEA NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects and pings before returning, so a bad
// connection string fails fast at startup rather than on first save.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger zerolog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("persistence: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persistence: ping database: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger.With().Str("component", "persistence").Logger()}, nil
}

func (p *PostgresStore) Save(ctx context.Context, userID string, version byte, blob []byte) error {
	const q = `
		INSERT INTO session_snapshots (user_id, version, blob, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE
		SET version = EXCLUDED.version, blob = EXCLUDED.blob, updated_at = EXCLUDED.updated_at`

	if _, err := p.pool.Exec(ctx, q, userID, int16(version), blob); err != nil {
		return fmt.Errorf("persistence: save snapshot: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context, userID string) (byte, []byte, error) {
	const q = `SELECT version, blob FROM session_snapshots WHERE user_id = $1`

	var version int16
	var blob []byte
	err := p.pool.QueryRow(ctx, q, userID).Scan(&version, &blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("persistence: load snapshot: %w", err)
	}
	return byte(version), blob, nil
}

func (p *PostgresStore) Delete(ctx context.Context, userID string) error {
	const q = `DELETE FROM session_snapshots WHERE user_id = $1`
	if _, err := p.pool.Exec(ctx, q, userID); err != nil {
		return fmt.Errorf("persistence: delete snapshot: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}
