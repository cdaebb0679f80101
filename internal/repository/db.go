package repository

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite" // sqlite driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// Supported SQL drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

//go:embed migrations
var migrationFS embed.FS

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Open connects to the database and applies the per-driver settings.
// SQLite is limited to one connection and runs in WAL mode.
func Open(ctx context.Context, driver, dsn string, pool PoolConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("repository.Open %s: %w", driver, err)
	}

	switch driver {
	case DriverSQLite:
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL;",
			"PRAGMA synchronous=NORMAL;",
			"PRAGMA busy_timeout=5000;",
			"PRAGMA foreign_keys=ON;",
		}
		for _, p := range pragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				db.Close()
				return nil, fmt.Errorf("repository.Open: pragma %s: %w", p, err)
			}
		}
	default:
		db.SetMaxOpenConns(pool.MaxOpenConns)
		db.SetMaxIdleConns(pool.MaxIdleConns)
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	return db, nil
}

// Migrate executes every embedded *.sql file for the driver in name order.
// Idempotent: files use IF NOT EXISTS.
func Migrate(ctx context.Context, db *sqlx.DB, logger *slog.Logger) error {
	dir := path.Join("migrations", db.DriverName())
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("repository.Migrate: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, path.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := fs.ReadFile(migrationFS, f)
		if err != nil {
			return fmt.Errorf("repository.Migrate: read %q: %w", f, err)
		}
		if _, err = db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("repository.Migrate: exec %q: %w", f, err)
		}
		logger.Info("migration applied", "file", path.Base(f))
	}
	return nil
}
