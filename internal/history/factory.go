package history

import (
	"fmt"
	"strings"
)

// BackendConfig selects and configures one storage engine.
type BackendConfig struct {
	Kind        string
	RedisURL    string
	DatabaseURL string
	SQLitePath  string
}

// NewBackend builds the configured backend. None of them dial at
// construction time.
func NewBackend(cfg BackendConfig) (Backend, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = "redis"
	}

	switch kind {
	case "redis":
		return NewRedisBackend(cfg.RedisURL)
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for postgres history backend")
		}
		return NewPostgresBackend(cfg.DatabaseURL)
	case "sqlite":
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, fmt.Errorf("SQLITE_PATH is required for sqlite history backend")
		}
		return NewSQLiteBackend(cfg.SQLitePath), nil
	case "memory":
		return NewInMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported history backend %q", cfg.Kind)
	}
}
