// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        // e.g. "8080"
	Env            string        // "development" | "production"
	ReadTimeout    time.Duration // default 10s
	WriteTimeout   time.Duration // default 10s
	AllowedOrigins []string      // WS_ALLOWED_ORIGINS, comma-separated; empty = allow all
	RateLimitRPS   int           // per-IP limit on mutating routes, default 10
	MetricsEnabled bool          // expose GET /metrics
}

// StoreConfig selects and configures the auction store.
type StoreConfig struct {
	Driver          string        // postgres | sqlite | memory
	DSN             string        // full postgres DSN
	SQLitePath      string        // database file for the sqlite driver
	MaxOpenConns    int           // default 10
	MaxIdleConns    int           // default 5
	ConnMaxLifetime time.Duration // default 5m
}

// WorkerConfig locates the bidding worker and its files.
type WorkerConfig struct {
	WorkDir       string
	LauncherPath  string
	EsniperPath   string
	EsniperConfig string
}

// ReconcileConfig tunes the periodic tick.
type ReconcileConfig struct {
	Interval    time.Duration  // default 1m; 0 disables the built-in scheduler
	Parallelism int            // concurrent log reads, default 4
	Location    *time.Location // zone of the worker's "End time:" stamps
}

// AuthConfig holds API token settings.
type AuthConfig struct {
	TokenSecret string        // empty = API runs unauthenticated
	TokenTTL    time.Duration // default 24h
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Worker    WorkerConfig
	Reconcile ReconcileConfig
	Auth      AuthConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case StorePostgres:
		if c.IsProd() && os.Getenv("DATABASE_DSN") == "" {
			errs = append(errs, errors.New("DATABASE_DSN must be set in production"))
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH must be set for the sqlite store"))
		}
	case StoreMemory:
		if c.IsProd() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be postgres, sqlite or memory, got %q", c.Store.Driver))
	}

	if c.Worker.WorkDir == "" {
		errs = append(errs, errors.New("WORK_DIR must be set"))
	}
	if c.Worker.LauncherPath == "" {
		errs = append(errs, errors.New("LAUNCHER_PATH must be set"))
	}
	if c.Worker.EsniperPath == "" {
		errs = append(errs, errors.New("ESNIPER_PATH must be set"))
	}
	if c.Reconcile.Interval < 0 {
		errs = append(errs, fmt.Errorf("TICK_INTERVAL must not be negative, got %s", c.Reconcile.Interval))
	}
	if c.Reconcile.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("TICK_PARALLELISM must be at least 1, got %d", c.Reconcile.Parallelism))
	}
	if c.IsProd() && c.Auth.TokenSecret == "" {
		errs = append(errs, errors.New("API_TOKEN_SECRET must be set in production"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables
// (after a .env file in the working directory, if present).
// Panics if loading fails, so call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		_ = godotenv.Load()
		instance, loadErr = Load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Loader
// ──────────────────────────────────────────────────────────────────────────────

// Load reads a fresh Config from the environment without caching it.
func Load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	rps, err := getInt("RATE_LIMIT_RPS", 10)
	if err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_RPS: %w", err)
	}
	metricsOn, err := getBool("METRICS_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("METRICS_ENABLED: %w", err)
	}
	cfg.Server = ServerConfig{
		Port:           getEnv("SERVER_PORT", "8080"),
		Env:            getEnv("ENVIRONMENT", "development"),
		ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		AllowedOrigins: getList("WS_ALLOWED_ORIGINS"),
		RateLimitRPS:   rps,
		MetricsEnabled: metricsOn,
	}

	// ── Store ─────────────────────────────────────────────────────────────────
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		// Build DSN from individual components for convenience in dev
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			getEnv("DB_HOST", "localhost"),
			getEnv("DB_PORT", "5432"),
			getEnv("DB_USER", "postgres"),
			getEnv("DB_PASSWORD", ""),
			getEnv("DB_NAME", "snipe"),
			getEnv("DB_SSLMODE", "disable"),
		)
	}
	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}

	workDir := getEnv("WORK_DIR", "./snipes")
	cfg.Store = StoreConfig{
		Driver:          strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
		DSN:             dsn,
		SQLitePath:      getEnv("SQLITE_PATH", filepath.Join(workDir, "snipe.db")),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	cfg.Worker = WorkerConfig{
		WorkDir:       workDir,
		LauncherPath:  getEnv("LAUNCHER_PATH", "/usr/local/bin/esniperstart.sh"),
		EsniperPath:   getEnv("ESNIPER_PATH", "/usr/bin/esniper"),
		EsniperConfig: getEnv("ESNIPER_CONFIG", ""),
	}

	// ── Reconcile ─────────────────────────────────────────────────────────────
	parallel, err := getInt("TICK_PARALLELISM", 4)
	if err != nil {
		return nil, fmt.Errorf("TICK_PARALLELISM: %w", err)
	}
	loc := time.Local
	if tz := os.Getenv("LOG_TIMEZONE"); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("LOG_TIMEZONE: %w", err)
		}
	}
	cfg.Reconcile = ReconcileConfig{
		Interval:    getDuration("TICK_INTERVAL", time.Minute),
		Parallelism: parallel,
		Location:    loc,
	}

	// ── Auth ──────────────────────────────────────────────────────────────────
	cfg.Auth = AuthConfig{
		TokenSecret: getEnv("API_TOKEN_SECRET", ""),
		TokenTTL:    getDuration("API_TOKEN_TTL", 24*time.Hour),
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", v)
	}
	return b, nil
}

// getList splits a comma-separated env var, dropping empty entries.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or unparseable.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
