// Package app wires the store, the worker supervisor and the services from a
// Config. Shared by the HTTP server and the snipectl command.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/evetabi/snipe/internal/config"
	"github.com/evetabi/snipe/internal/repository"
	"github.com/evetabi/snipe/internal/service"
	"github.com/evetabi/snipe/internal/supervisor"
	"github.com/jmoiron/sqlx"
)

// App holds every long-lived component.
type App struct {
	Store     service.Store
	Sup       *supervisor.Supervisor
	Cascade   *service.CascadeService
	Reconcile *service.ReconcileService
	Snipes    *service.SnipeService
	Groups    *service.GroupService
	Auth      *service.AuthService

	db *sqlx.DB
}

// Options replace the real process table and spawner, mainly in tests.
type Options struct {
	Procs   supervisor.ProcessTable
	Spawner supervisor.Spawner
}

// New opens the configured store, applies migrations and builds the services.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{}

	// ── Store ─────────────────────────────────────────────────────────────────
	switch cfg.Store.Driver {
	case config.StoreMemory:
		a.Store = repository.NewMemoryStore()
		logger.Warn("using in-memory store; auctions are lost on restart")
	case config.StorePostgres, config.StoreSQLite:
		driver, dsn := repository.DriverPostgres, cfg.Store.DSN
		if cfg.Store.Driver == config.StoreSQLite {
			driver, dsn = repository.DriverSQLite, cfg.Store.SQLitePath
		}
		db, err := repository.Open(ctx, driver, dsn, repository.PoolConfig{
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		if err := repository.Migrate(ctx, db, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.db = db
		a.Store = repository.NewSQLStore(db)
		logger.Info("store connected", "driver", driver)
	default:
		return nil, fmt.Errorf("app.New: unknown store driver %q", cfg.Store.Driver)
	}

	// ── Supervisor ────────────────────────────────────────────────────────────
	a.Sup = supervisor.New(supervisor.Config{
		WorkDir:       cfg.Worker.WorkDir,
		LauncherPath:  cfg.Worker.LauncherPath,
		EsniperPath:   cfg.Worker.EsniperPath,
		EsniperConfig: cfg.Worker.EsniperConfig,
	}, opts.Procs, opts.Spawner, logger)

	// ── Services ──────────────────────────────────────────────────────────────
	a.Cascade = service.NewCascadeService(a.Store, logger)
	a.Reconcile = service.NewReconcileService(a.Store, a.Sup, a.Cascade, service.ReconcileConfig{
		Parallelism: cfg.Reconcile.Parallelism,
		Location:    cfg.Reconcile.Location,
	}, logger)
	a.Snipes = service.NewSnipeService(a.Store, a.Sup, a.Cascade, logger)
	a.Groups = service.NewGroupService(a.Store, logger)
	a.Auth = service.NewAuthService(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)

	return a, nil
}

// Close releases the database connection, if any.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
