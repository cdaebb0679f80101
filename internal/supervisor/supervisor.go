// Package supervisor launches, locates and stops the external bidding
// workers, and owns the per-auction task and log files they use.
//
// A worker is started through a launcher script which in turn runs the
// bidding binary. The pid reported at spawn time is the launcher's; the pid
// that must receive SIGTERM is the launcher's child when one exists.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/shopspring/decimal"
)

// File name suffixes of the per-auction artifacts.
const (
	TaskSuffix = ".ebaysnipe"
	LogSuffix  = ".ebaysnipelog"

	// artifactMode is applied explicitly after creation so the process umask
	// cannot narrow it; the worker may run as another user.
	artifactMode os.FileMode = 0o666
)

// Config locates the launcher, the bidding binary and the working directory.
type Config struct {
	WorkDir       string
	LauncherPath  string
	EsniperPath   string
	EsniperConfig string
}

// Supervisor implements the process-side operations of the orchestrator.
type Supervisor struct {
	cfg          Config
	launcherName string
	procs        ProcessTable
	spawner      Spawner
	logger       *slog.Logger

	// gc is held exclusively by garbage collection and shared by every
	// launch-then-persist section, so a worker that is not yet recorded in
	// the store is never mistaken for an orphan.
	gc sync.RWMutex
}

// New creates a Supervisor. nil procs or spawner select the gopsutil and
// os/exec implementations.
func New(cfg Config, procs ProcessTable, spawner Spawner, logger *slog.Logger) *Supervisor {
	if procs == nil {
		procs = SystemProcesses{}
	}
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:          cfg,
		launcherName: filepath.Base(cfg.LauncherPath),
		procs:        procs,
		spawner:      spawner,
		logger:       logger.With("component", "supervisor"),
	}
}

// TaskPath returns the task file path for an auction.
func (s *Supervisor) TaskPath(auctionID int64) string {
	return filepath.Join(s.cfg.WorkDir, strconv.FormatInt(auctionID, 10)+TaskSuffix)
}

// LogPath returns the worker log path for an auction.
func (s *Supervisor) LogPath(auctionID int64) string {
	return filepath.Join(s.cfg.WorkDir, strconv.FormatInt(auctionID, 10)+LogSuffix)
}

// ──────────────────────────────────────────────────────────────────────────────
// Launch
// ──────────────────────────────────────────────────────────────────────────────

// Launch writes the task file ("<id> <bid>\n") and an empty log file, then
// starts the launcher detached with
// "<task> <log> <esniper> <esniper-config>". It does not wait for the worker.
func (s *Supervisor) Launch(ctx context.Context, auctionID int64, bid decimal.Decimal) (domain.WorkerHandle, error) {
	if err := os.MkdirAll(s.cfg.WorkDir, 0o755); err != nil {
		return domain.WorkerHandle{}, fmt.Errorf("supervisor.Launch: work dir: %w", err)
	}

	taskPath := s.TaskPath(auctionID)
	task := fmt.Sprintf("%d %s\n", auctionID, bid.String())
	if err := os.WriteFile(taskPath, []byte(task), artifactMode); err != nil {
		return domain.WorkerHandle{}, fmt.Errorf("supervisor.Launch: write task: %w", err)
	}
	if err := os.Chmod(taskPath, artifactMode); err != nil {
		return domain.WorkerHandle{}, fmt.Errorf("supervisor.Launch: chmod task: %w", err)
	}

	logPath := s.LogPath(auctionID)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, artifactMode)
	if err != nil {
		return domain.WorkerHandle{}, fmt.Errorf("supervisor.Launch: open log: %w", err)
	}
	defer logFile.Close()
	if err := os.Chmod(logPath, artifactMode); err != nil {
		return domain.WorkerHandle{}, fmt.Errorf("supervisor.Launch: chmod log: %w", err)
	}

	pid, err := s.spawner.Spawn(ctx, Command{
		Path:   s.cfg.LauncherPath,
		Args:   []string{taskPath, logPath, s.cfg.EsniperPath, s.cfg.EsniperConfig},
		Dir:    s.cfg.WorkDir,
		Output: logFile,
	})
	if err != nil {
		return domain.WorkerHandle{}, fmt.Errorf("supervisor.Launch %d: %w", auctionID, err)
	}

	s.logger.Info("worker launched", "auction_id", auctionID, "pid", pid, "bid", bid.String())
	return domain.WorkerHandle{PID: pid, Bid: bid}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Process lookup
// ──────────────────────────────────────────────────────────────────────────────

// ResolveActualPid maps a launcher handle to the pid of the bidding process:
// the launcher's first child, or the launcher itself if it has no child
// (it exec'd the binary). ok is false when the launcher is gone.
func (s *Supervisor) ResolveActualPid(ctx context.Context, h domain.WorkerHandle) (int, bool, error) {
	if h.PID <= 0 {
		return 0, false, nil
	}
	alive, err := s.procs.Exists(ctx, h.PID)
	if err != nil {
		return 0, false, fmt.Errorf("supervisor.ResolveActualPid: %w", err)
	}
	if !alive {
		return 0, false, nil
	}
	kids, err := s.procs.Children(ctx, h.PID)
	if err != nil {
		return 0, false, fmt.Errorf("supervisor.ResolveActualPid: %w", err)
	}
	if len(kids) == 0 {
		return h.PID, true, nil
	}
	return kids[0], true, nil
}

// ListLivePids returns the pids of every running launcher instance.
func (s *Supervisor) ListLivePids(ctx context.Context) (map[int]struct{}, error) {
	pids, err := s.procs.PidsByName(ctx, s.launcherName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrProcessTable, err)
	}
	live := make(map[int]struct{}, len(pids))
	for _, pid := range pids {
		live[pid] = struct{}{}
	}
	return live, nil
}

// IsLive reports whether h's launcher is still running.
func (s *Supervisor) IsLive(ctx context.Context, h domain.WorkerHandle) (bool, error) {
	if h.PID <= 0 {
		return false, nil
	}
	live, err := s.ListLivePids(ctx)
	if err != nil {
		return false, err
	}
	_, ok := live[h.PID]
	return ok, nil
}

// Terminate sends SIGTERM to the bidding process behind h and returns
// without waiting. A handle whose launcher is gone is a no-op.
func (s *Supervisor) Terminate(ctx context.Context, h domain.WorkerHandle) error {
	pid, ok, err := s.ResolveActualPid(ctx, h)
	if err != nil {
		return fmt.Errorf("supervisor.Terminate: %w", err)
	}
	if !ok {
		return nil
	}
	if err := s.procs.Signal(ctx, pid); err != nil {
		return fmt.Errorf("supervisor.Terminate: %w", err)
	}
	s.logger.Info("worker terminated", "launcher_pid", h.PID, "pid", pid)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Files
// ──────────────────────────────────────────────────────────────────────────────

// ReadLog returns the worker log for an auction.
func (s *Supervisor) ReadLog(auctionID int64) ([]byte, error) {
	data, err := os.ReadFile(s.LogPath(auctionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("auction %d: %w", auctionID, domain.ErrLogNotFound)
		}
		return nil, fmt.Errorf("supervisor.ReadLog: %w", err)
	}
	return data, nil
}

// CleanupFiles removes both artifacts of an auction. Missing files are fine.
func (s *Supervisor) CleanupFiles(auctionID int64) error {
	var errs []error
	for _, p := range []string{s.TaskPath(auctionID), s.LogPath(auctionID)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("supervisor.CleanupFiles: %w", errors.Join(errs...))
	}
	return nil
}

// Artifact is one task or log file found in the working directory.
type Artifact struct {
	AuctionID int64
	Path      string
}

// ListArtifacts returns every task and log file in the working directory
// whose name starts with a numeric auction id.
func (s *Supervisor) ListArtifacts() ([]Artifact, error) {
	entries, err := os.ReadDir(s.cfg.WorkDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("supervisor.ListArtifacts: %w", err)
	}
	var out []Artifact
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, TaskSuffix) || strings.HasSuffix(name, LogSuffix)) {
			continue
		}
		prefix, _, _ := strings.Cut(name, ".")
		id, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Artifact{AuctionID: id, Path: filepath.Join(s.cfg.WorkDir, name)})
	}
	return out, nil
}

// RemoveArtifact deletes a single artifact.
func (s *Supervisor) RemoveArtifact(a Artifact) error {
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("supervisor.RemoveArtifact: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// GC exclusion
// ──────────────────────────────────────────────────────────────────────────────

// Shared runs fn while no garbage collection pass is running. Callers wrap
// launch-and-persist sequences in it.
func (s *Supervisor) Shared(fn func() error) error {
	s.gc.RLock()
	defer s.gc.RUnlock()
	return fn()
}

// Exclusive runs fn once all Shared sections have drained.
func (s *Supervisor) Exclusive(fn func() error) error {
	s.gc.Lock()
	defer s.gc.Unlock()
	return fn()
}
