package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// State backends.
const (
	StateBackendSQLite = "sqlite"
	StateBackendRedis  = "redis"
)

const (
	defaultListenAddr        = ":8080"
	defaultDBPath            = "doss.db"
	defaultNATSSubject       = "doss.invocations"
	defaultInvocationTimeout = 5 * time.Minute
	defaultJournalRetention  = 24 * time.Hour
	defaultPruneInterval     = 10 * time.Minute

	envListenAddr        = "DOSS_LISTEN_ADDR"
	envDBPath            = "DOSS_DB_PATH"
	envLogLevel          = "DOSS_LOG_LEVEL"
	envStateBackend      = "DOSS_STATE_BACKEND"
	envRedisURL          = "DOSS_REDIS_URL"
	envNATSURL           = "DOSS_NATS_URL"
	envNATSSubject       = "DOSS_NATS_SUBJECT"
	envInvocationTimeout = "DOSS_INVOCATION_TIMEOUT"
	envJournalRetention  = "DOSS_JOURNAL_RETENTION"
	envPruneInterval     = "DOSS_PRUNE_INTERVAL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// StateBackend selects where object state lives: "sqlite" (the invocation
	// database) or "redis".
	StateBackend string
	RedisURL     string

	// NATSURL enables lifecycle event publishing when set.
	NATSURL     string
	NATSSubject string

	InvocationTimeout time.Duration
	// JournalRetention is how long finished invocations are kept. Zero
	// disables pruning.
	JournalRetention time.Duration
	PruneInterval    time.Duration
}

// LoadDotEnv loads variables from the given .env files into the environment
// without overriding variables that are already set. Missing files are
// ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:        defaultListenAddr,
		DBPath:            defaultDBPath,
		LogLevel:          slog.LevelInfo,
		StateBackend:      StateBackendSQLite,
		NATSSubject:       defaultNATSSubject,
		InvocationTimeout: defaultInvocationTimeout,
		JournalRetention:  defaultJournalRetention,
		PruneInterval:     defaultPruneInterval,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envStateBackend); v != "" {
		cfg.StateBackend = strings.ToLower(v)
	}
	cfg.RedisURL = os.Getenv(envRedisURL)
	cfg.NATSURL = os.Getenv(envNATSURL)
	if v := os.Getenv(envNATSSubject); v != "" {
		cfg.NATSSubject = v
	}

	var err error
	if cfg.InvocationTimeout, err = durationEnv(envInvocationTimeout, cfg.InvocationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.JournalRetention, err = durationEnv(envJournalRetention, cfg.JournalRetention); err != nil {
		return Config{}, err
	}
	if cfg.PruneInterval, err = durationEnv(envPruneInterval, cfg.PruneInterval); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StateBackend {
	case StateBackendSQLite:
	case StateBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%s is required when %s=%s", envRedisURL, envStateBackend, StateBackendRedis)
		}
	default:
		return fmt.Errorf("%s: unknown state backend %q", envStateBackend, c.StateBackend)
	}
	if c.InvocationTimeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", envInvocationTimeout, c.InvocationTimeout)
	}
	if c.JournalRetention < 0 {
		return fmt.Errorf("%s must not be negative, got %s", envJournalRetention, c.JournalRetention)
	}
	if c.PruneInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %s", envPruneInterval, c.PruneInterval)
	}
	return nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
