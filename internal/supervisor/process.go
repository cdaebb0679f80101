package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/shirou/gopsutil/v3/process"
)

// ──────────────────────────────────────────────────────────────────────────────
// Seams
// ──────────────────────────────────────────────────────────────────────────────

// ProcessTable is the read/signal view of the OS process list the
// supervisor relies on.
type ProcessTable interface {
	// PidsByName returns every live process whose executable name, or the
	// base name of its script argument, equals name.
	PidsByName(ctx context.Context, name string) ([]int, error)
	// Children returns the direct children of pid in ascending order.
	Children(ctx context.Context, pid int) ([]int, error)
	// Exists reports whether pid is a live process.
	Exists(ctx context.Context, pid int) (bool, error)
	// Signal asks pid to terminate (SIGTERM on POSIX).
	Signal(ctx context.Context, pid int) error
}

// Command describes one launcher invocation.
type Command struct {
	Path   string
	Args   []string
	Dir    string
	Output *os.File // stdout and stderr; nil discards
}

// Spawner starts a detached process and returns its pid without waiting
// for it to exit.
type Spawner interface {
	Spawn(ctx context.Context, cmd Command) (int, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// gopsutil-backed process table
// ──────────────────────────────────────────────────────────────────────────────

// SystemProcesses implements ProcessTable on top of gopsutil.
type SystemProcesses struct{}

// PidsByName lists matching processes, the way `pidof -x` does for scripts.
func (SystemProcesses) PidsByName(ctx context.Context, name string) ([]int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("supervisor.PidsByName: %w", err)
	}
	var pids []int
	for _, p := range procs {
		if processMatches(ctx, p, name) {
			pids = append(pids, int(p.Pid))
		}
	}
	sort.Ints(pids)
	return pids, nil
}

func processMatches(ctx context.Context, p *process.Process, name string) bool {
	if n, err := p.NameWithContext(ctx); err == nil && n == name {
		return true
	}
	args, err := p.CmdlineSliceWithContext(ctx)
	if err != nil {
		return false
	}
	// interpreter + script: "/bin/sh ./esniperstart.sh ..."
	for i := 0; i < len(args) && i < 2; i++ {
		if filepath.Base(args[i]) == name {
			return true
		}
	}
	return false
}

// Children returns the direct children of pid.
func (SystemProcesses) Children(ctx context.Context, pid int) ([]int, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, nil
		}
		return nil, fmt.Errorf("supervisor.Children: %w", err)
	}
	kids, err := p.ChildrenWithContext(ctx)
	if err != nil {
		if errors.Is(err, process.ErrorNoChildren) {
			return nil, nil
		}
		return nil, fmt.Errorf("supervisor.Children: %w", err)
	}
	out := make([]int, 0, len(kids))
	for _, k := range kids {
		out = append(out, int(k.Pid))
	}
	sort.Ints(out)
	return out, nil
}

// Exists reports whether pid is running.
func (SystemProcesses) Exists(ctx context.Context, pid int) (bool, error) {
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return false, fmt.Errorf("supervisor.Exists: %w", err)
	}
	return ok, nil
}

// Signal sends SIGTERM. A process that is already gone is not an error.
func (SystemProcesses) Signal(ctx context.Context, pid int) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("supervisor.Signal: %w", err)
	}
	if err := p.TerminateWithContext(ctx); err != nil {
		if ok, _ := process.PidExistsWithContext(ctx, int32(pid)); !ok {
			return nil
		}
		return fmt.Errorf("supervisor.Signal %d: %w", pid, err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// exec-backed spawner
// ──────────────────────────────────────────────────────────────────────────────

// ExecSpawner starts the launcher with os/exec in its own process group and
// reaps it in the background so it never lingers as a zombie.
type ExecSpawner struct{}

// Spawn starts cmd and returns its pid. ctx only bounds the start itself:
// the worker outlives the request that launched it.
func (ExecSpawner) Spawn(ctx context.Context, c Command) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if c.Output != nil {
		cmd.Stdout = c.Output
		cmd.Stderr = c.Output
	}
	configureDetached(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("supervisor.Spawn %s: %w", c.Path, err)
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()
	return pid, nil
}
