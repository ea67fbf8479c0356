// Package config reads the runtime configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	DataDir    string

	SyncEndpoint   string
	SyncToken      string
	HealthURL      string
	ProbeInterval  time.Duration
	RetryInterval  time.Duration
	SubmitTimeout  time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	Squash         bool
	BackgroundSync bool

	LogLevel string
	LogFile  string

	JWTSecret string
	Database  Database
}

// Database holds the Postgres settings of the sync receiver. The keys keep
// the names the hosted database dashboard exports.
type Database struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string
}

// DBPath is the SQLite file of the durable store.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "offline.db")
}

// Load reads envFile when it exists and then the process environment.
// A missing default .env is not an error; a missing explicit file is.
func Load(envFile string) (*Config, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment.
func FromEnv() (*Config, error) {
	p := parser{}
	cfg := &Config{
		ListenAddr: p.str("LISTEN_ADDR", "127.0.0.1:8080"),
		DataDir:    p.str("DATA_DIR", "data"),

		SyncEndpoint:   p.str("SYNC_ENDPOINT", "http://localhost:9090/api/sync"),
		SyncToken:      p.str("SYNC_TOKEN", ""),
		HealthURL:      p.str("SYNC_HEALTH_URL", ""),
		ProbeInterval:  p.duration("PROBE_INTERVAL", 15*time.Second),
		RetryInterval:  p.duration("SYNC_RETRY_INTERVAL", time.Minute),
		SubmitTimeout:  p.duration("SYNC_TIMEOUT", 30*time.Second),
		MaxAttempts:    p.integer("SYNC_MAX_ATTEMPTS", 8),
		BackoffBase:    p.duration("SYNC_BACKOFF_BASE", 30*time.Second),
		BackoffMax:     p.duration("SYNC_BACKOFF_MAX", time.Hour),
		Squash:         p.boolean("SYNC_SQUASH", true),
		BackgroundSync: p.boolean("BACKGROUND_SYNC", true),

		LogLevel: p.str("LOG_LEVEL", "info"),
		LogFile:  p.str("LOG_FILE", ""),

		JWTSecret: p.str("SYNC_JWT_SECRET", ""),
		Database: Database{
			User:     p.str("user", ""),
			Password: p.str("password", ""),
			Host:     p.str("host", "localhost"),
			Port:     p.str("port", "5432"),
			Name:     p.str("dbname", "postgres"),
			SSLMode:  p.str("sslmode", "require"),
		},
	}
	if cfg.HealthURL == "" {
		cfg.HealthURL = cfg.SyncEndpoint
	}
	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return cfg, nil
}

type parser struct {
	errs []error
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid positive integer %q", key, v))
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}
