package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend keeps histories in a local SQLite file, for single-node
// deployments without Redis.
type SQLiteBackend struct {
	path string
	now  func() time.Time

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteBackend(path string) *SQLiteBackend {
	return &SQLiteBackend{path: path, now: time.Now}
}

// Connect opens the database and creates the schema on first use.
func (b *SQLiteBackend) Connect(ctx context.Context) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return b.db, nil
	}
	if dir := filepath.Dir(b.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", b.path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", b.path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", b.path, err)
	}
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chat_history (
			key TEXT PRIMARY KEY,
			turns TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	b.db = db
	return db, nil
}

func (b *SQLiteBackend) Load(ctx context.Context, key string) (History, error) {
	db, err := b.Connect(ctx)
	if err != nil {
		return nil, err
	}
	var raw string
	err = db.QueryRowContext(ctx,
		`SELECT turns FROM chat_history WHERE key = ? AND expires_at > ?`,
		key, b.now().UnixMilli(),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return History{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return decode([]byte(raw))
}

func (b *SQLiteBackend) Save(ctx context.Context, key string, h History, ttl time.Duration) error {
	db, err := b.Connect(ctx)
	if err != nil {
		return err
	}
	raw, err := encode(h)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO chat_history (key, turns, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET turns = excluded.turns, expires_at = excluded.expires_at`,
		key, string(raw), b.now().Add(ttl).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	db, err := b.Connect(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM chat_history WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
