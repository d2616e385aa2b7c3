package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the chat relay.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowedOrigins []string
	AllowAnyOrigin bool

	Timezone    string
	PersonaPath string

	HistoryBackend string
	RedisURL       string
	DatabaseURL    string
	SQLitePath     string
	HistoryTTL     time.Duration
	HistoryCap     int

	CompletionProvider string
	CompletionBaseURL  string
	CompletionAPIKey   string
	CompletionModel    string
	AnthropicAPIKey    string
	CompletionTimeout  time.Duration

	SerializePerUser bool

	LogLevel  string
	LogFormat string
	LogDir    string
}

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding the environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           bindAddr(),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "chat_relay"),
		AllowedOrigins:     listFromEnv("ALLOWED_ORIGINS"),
		Timezone:           envOrDefault("APP_TIMEZONE", "Asia/Shanghai"),
		PersonaPath:        envOrDefault("PERSONA_PATH", "personas/Nahida.txt"),
		HistoryBackend:     envOrDefault("HISTORY_BACKEND", "redis"),
		RedisURL:           envOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		SQLitePath:         envOrDefault("SQLITE_PATH", "data/history.db"),
		CompletionProvider: envOrDefault("COMPLETION_PROVIDER", "auto"),
		CompletionBaseURL:  envOrDefault("DEEPSEEK_API_URL", "https://api.deepseek.com"),
		CompletionAPIKey:   stringsTrimSpace("DEEPSEEK_API_KEY"),
		CompletionModel:    envOrDefault("COMPLETION_MODEL", "deepseek-chat"),
		AnthropicAPIKey:    stringsTrimSpace("ANTHROPIC_API_KEY"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		LogDir:             stringsTrimSpace("LOG_DIR"),
		ShutdownTimeout:    15 * time.Second,
		HistoryTTL:         time.Hour,
		HistoryCap:         10,
		CompletionTimeout:  60 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryTTL, err = durationFromEnv("HISTORY_TTL", cfg.HistoryTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryCap, err = intFromEnv("HISTORY_CAP", cfg.HistoryCap)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SerializePerUser, err = boolFromEnv("CHAT_SERIALIZE_PER_USER", cfg.SerializePerUser)
	if err != nil {
		return Config{}, err
	}

	if cfg.HistoryTTL < time.Second {
		return Config{}, fmt.Errorf("HISTORY_TTL must be at least 1s")
	}
	if cfg.HistoryCap <= 0 {
		return Config{}, fmt.Errorf("HISTORY_CAP must be positive")
	}
	if cfg.CompletionTimeout <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_TIMEOUT must be positive")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("APP_TIMEZONE parse error: %w", err)
	}

	return cfg, nil
}

// Location resolves Timezone; Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// bindAddr honors PORT like the original deployment, with APP_BIND_ADDR
// taking precedence.
func bindAddr() string {
	if v := stringsTrimSpace("APP_BIND_ADDR"); v != "" {
		return v
	}
	if port := stringsTrimSpace("PORT"); port != "" {
		return ":" + port
	}
	return ":8812"
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func listFromEnv(key string) []string {
	v := stringsTrimSpace(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
