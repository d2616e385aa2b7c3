package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend persists histories in a single key/value table. Expired
// rows are ignored on read and overwritten on the next write.
type PostgresBackend struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	ready bool
}

// NewPostgresBackend builds the pool without dialing; the first operation
// connects and creates the schema.
func NewPostgresBackend(databaseURL string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (b *PostgresBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ready {
		return nil
	}
	if err := initSchema(ctx, b.pool); err != nil {
		return err
	}
	b.ready = true
	return nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_history (
			key TEXT PRIMARY KEY,
			turns JSONB NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_history_expires ON chat_history (expires_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (b *PostgresBackend) Load(ctx context.Context, key string) (History, error) {
	if err := b.Connect(ctx); err != nil {
		return nil, err
	}
	var raw []byte
	err := b.pool.QueryRow(ctx,
		`SELECT turns FROM chat_history WHERE key=$1 AND expires_at > now()`,
		key,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return History{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return decode(raw)
}

func (b *PostgresBackend) Save(ctx context.Context, key string, h History, ttl time.Duration) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}
	raw, err := encode(h)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = b.pool.Exec(ctx,
		`INSERT INTO chat_history (key, turns, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE
		 SET turns = EXCLUDED.turns, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		key,
		string(raw),
		now.Add(ttl),
		now,
	)
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	if err := b.Connect(ctx); err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx, `DELETE FROM chat_history WHERE key=$1`, key); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
