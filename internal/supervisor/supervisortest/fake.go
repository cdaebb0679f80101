// Package supervisortest provides an in-memory process table and spawner
// for tests that exercise the supervisor without starting real processes.
package supervisortest

import (
	"context"
	"sort"
	"sync"

	"github.com/evetabi/snipe/internal/supervisor"
)

// Processes is a fake ProcessTable and Spawner. Every spawned launcher gets a
// child pid (launcher pid + 1) standing for the bidding binary.
type Processes struct {
	mu       sync.Mutex
	nextPID  int
	launcher map[int]bool  // live launcher pids
	children map[int][]int // launcher pid -> child pids

	Spawned  []supervisor.Command
	Signaled []int

	// Inject failures.
	ListErr  error
	SpawnErr error

	// SlowExit makes signalled launchers keep running, as one still handling
	// SIGTERM would.
	SlowExit bool
}

// New returns an empty fake process table.
func New() *Processes {
	return &Processes{
		nextPID:  1000,
		launcher: make(map[int]bool),
		children: make(map[int][]int),
	}
}

// Spawn records cmd and registers a live launcher with one child.
func (p *Processes) Spawn(_ context.Context, cmd supervisor.Command) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SpawnErr != nil {
		return 0, p.SpawnErr
	}
	p.nextPID += 10
	pid := p.nextPID
	p.launcher[pid] = true
	p.children[pid] = []int{pid + 1}
	p.Spawned = append(p.Spawned, cmd)
	return pid, nil
}

// PidsByName returns every live launcher regardless of name.
func (p *Processes) PidsByName(_ context.Context, _ string) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListErr != nil {
		return nil, p.ListErr
	}
	pids := make([]int, 0, len(p.launcher))
	for pid := range p.launcher {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

// Children returns the children of a live launcher.
func (p *Processes) Children(_ context.Context, pid int) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.launcher[pid] {
		return nil, nil
	}
	return append([]int(nil), p.children[pid]...), nil
}

// Exists reports whether pid is a live launcher or one of its children.
func (p *Processes) Exists(_ context.Context, pid int) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ownerLocked(pid) != 0, nil
}

// Signal stops pid. A launcher exits together with its child.
func (p *Processes) Signal(_ context.Context, pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Signaled = append(p.Signaled, pid)
	if p.SlowExit {
		return nil
	}
	if owner := p.ownerLocked(pid); owner != 0 {
		delete(p.launcher, owner)
		delete(p.children, owner)
	}
	return nil
}

// Crash makes a launcher disappear without a signal.
func (p *Processes) Crash(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.launcher, pid)
	delete(p.children, pid)
}

// StartOrphan registers a live launcher that no auction owns.
func (p *Processes) StartOrphan() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextPID += 10
	pid := p.nextPID
	p.launcher[pid] = true
	p.children[pid] = []int{pid + 1}
	return pid
}

// StartExecd registers a live launcher that replaced itself with the
// bidding binary and so has no child.
func (p *Processes) StartExecd() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextPID += 10
	pid := p.nextPID
	p.launcher[pid] = true
	return pid
}

// Live reports whether a launcher pid is still running.
func (p *Processes) Live(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.launcher[pid]
}

// SpawnCount returns the number of successful spawns.
func (p *Processes) SpawnCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Spawned)
}

// SignalCount returns the number of Signal calls.
func (p *Processes) SignalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Signaled)
}

func (p *Processes) ownerLocked(pid int) int {
	if p.launcher[pid] {
		return pid
	}
	for owner, kids := range p.children {
		for _, k := range kids {
			if k == pid {
				return owner
			}
		}
	}
	return 0
}
