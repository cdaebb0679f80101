package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/evetabi/snipe/internal/logscan"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// ReconcileConfig tunes a ReconcileService.
type ReconcileConfig struct {
	// Parallelism bounds concurrent log reads in the observe phase.
	Parallelism int
	// Location interprets the worker's "End time:" stamps.
	Location *time.Location
}

// ReconcileService brings worker processes, their files and the store into
// agreement. One call to Tick is one full pass.
type ReconcileService struct {
	store   Store
	sup     WorkerSupervisor
	cascade *CascadeService
	cfg     ReconcileConfig
	logger  *slog.Logger

	broadcaster Broadcaster
	recorder    TickRecorder

	running atomic.Bool
}

// NewReconcileService builds a ReconcileService.
func NewReconcileService(
	store Store,
	sup WorkerSupervisor,
	cascade *CascadeService,
	cfg ReconcileConfig,
	logger *slog.Logger,
) *ReconcileService {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &ReconcileService{
		store:   store,
		sup:     sup,
		cascade: cascade,
		cfg:     cfg,
		logger:  logger.With("component", "reconciler"),
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *ReconcileService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SetRecorder injects the metrics collector post-construction.
func (s *ReconcileService) SetRecorder(r TickRecorder) { s.recorder = r }

// ──────────────────────────────────────────────────────────────────────────────
// Tick
// ──────────────────────────────────────────────────────────────────────────────

// Tick runs one reconciliation pass:
//
//  1. observe  – read and scan the log of every running auction (parallel)
//  2. apply    – persist new facts and statuses in ascending id order;
//     a win commits together with its group cascade
//  3. exclude  – re-run the cascade for every won grouped auction so a group
//     never keeps a running member next to a winner
//  4. liveness – relaunch dead workers and workers holding a stale bid
//  5. collect  – terminate unreferenced launchers and delete orphaned files
//
// Per-auction failures land in the report and never abort the pass. The
// returned error is reserved for failures that prevent the pass from
// starting: the auction list cannot be read, or another tick is running.
func (s *ReconcileService) Tick(ctx context.Context) (*domain.TickReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, domain.ErrTickInProgress
	}
	defer s.running.Store(false)

	report := domain.NewTickReport()
	err := s.tick(ctx, report)
	report.Duration = time.Since(report.StartedAt)

	if s.recorder != nil {
		s.recorder.ObserveTick(report, err)
	}
	if err != nil {
		s.logger.Error("tick failed", "tick_id", report.ID, "err", err)
		return report, err
	}

	for _, e := range report.Errors {
		s.logger.Warn("tick: auction error", "tick_id", report.ID,
			"auction_id", e.AuctionID, "stage", e.Stage, "err", e.Err)
	}
	s.logger.Info("tick complete",
		"tick_id", report.ID,
		"observed", report.Observed,
		"updated", report.Updated,
		"won", report.Won,
		"superseded", report.Superseded,
		"launched", report.Launched,
		"terminated", report.Terminated,
		"files_removed", report.FilesRemoved,
		"errors", len(report.Errors),
		"duration", report.Duration.Round(time.Millisecond),
	)

	if s.broadcaster != nil {
		for _, c := range report.Changes {
			s.broadcaster.BroadcastStatusChange(c)
		}
		s.broadcaster.BroadcastTick(report)
	}
	return report, nil
}

func (s *ReconcileService) tick(ctx context.Context, report *domain.TickReport) error {
	auctions, err := s.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("reconcile_service.Tick: list auctions: %w", err)
	}
	sortByID(auctions)
	before := lo.KeyBy(auctions, func(a *domain.Auction) int64 { return a.ID })

	// ── Step 1: observe ──────────────────────────────────────────────────────
	running := lo.Filter(auctions, func(a *domain.Auction, _ int) bool {
		return a.Status == domain.StatusRunning
	})
	observations := s.observe(ctx, running, report)

	// ── Step 2: apply ────────────────────────────────────────────────────────
	for i, a := range running {
		if obs := observations[i]; obs != nil {
			s.apply(ctx, a, *obs, before, report)
		}
	}

	// ── Step 3: group exclusivity ────────────────────────────────────────────
	s.enforceGroups(ctx, before, report)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("reconcile_service.Tick: %w", err)
	}

	// ── Step 4: liveness ─────────────────────────────────────────────────────
	live, err := s.sup.ListLivePids(ctx)
	if err != nil {
		// Without a process snapshot neither relaunching nor collecting is safe.
		report.Fail(0, domain.StageProcessTable, err)
		return nil
	}
	stopped := s.ensureWorkers(ctx, live, report)

	// ── Step 5: garbage collection ───────────────────────────────────────────
	s.collectGarbage(ctx, stopped, report)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// observe
// ──────────────────────────────────────────────────────────────────────────────

// observe reads and scans logs concurrently. The result is index-aligned
// with auctions; nil marks an auction whose log could not be read.
func (s *ReconcileService) observe(ctx context.Context, auctions []*domain.Auction, report *domain.TickReport) []*logscan.Observation {
	results := make([]*logscan.Observation, len(auctions))
	errs := make([]error, len(auctions))

	var g errgroup.Group
	g.SetLimit(s.cfg.Parallelism)
	for i, a := range auctions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			data, err := s.sup.ReadLog(a.ID)
			if err != nil {
				errs[i] = err
				return nil
			}
			obs := logscan.Scan(data, s.cfg.Location)
			results[i] = &obs
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			report.Fail(auctions[i].ID, domain.StageReadLog, err)
		}
	}
	report.Observed = len(auctions)
	return results
}

// ──────────────────────────────────────────────────────────────────────────────
// apply
// ──────────────────────────────────────────────────────────────────────────────

// apply merges one observation into the stored record under the auction's
// group lock. The record is re-read first: an auction superseded earlier in
// this pass or deleted is left alone, and one written by anyone else since
// the snapshot is left for the next pass, because the observation may
// describe a worker that has since been replaced.
func (s *ReconcileService) apply(
	ctx context.Context,
	snap *domain.Auction,
	obs logscan.Observation,
	before map[int64]*domain.Auction,
	report *domain.TickReport,
) {
	unlock := s.cascade.lockGroup(snap.GroupID)
	defer unlock()

	current, err := s.store.Get(ctx, snap.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrAuctionNotFound) {
			report.Fail(snap.ID, domain.StagePersist, err)
		}
		return
	}
	if current.Status != domain.StatusRunning {
		return
	}
	if current.Version != snap.Version {
		s.logger.Debug("auction changed since snapshot, retrying next tick",
			"auction_id", snap.ID, "snapshot_version", snap.Version, "version", current.Version)
		return
	}

	next := current.Clone()
	changed := false
	if obs.HighestBid != nil && (next.HighestBid == nil || !next.HighestBid.Equal(*obs.HighestBid)) {
		next.HighestBid = obs.HighestBid
		changed = true
	}
	if next.EndTime == nil && obs.EndTime != nil {
		next.EndTime = obs.EndTime
		changed = true
	}
	statusChanged := obs.Status != next.Status && next.Status.CanTransition(obs.Status)
	if statusChanged {
		next.Status = obs.Status
		changed = true
	}
	if !changed {
		return
	}

	if statusChanged && next.Status == domain.StatusWon {
		superseded, err := s.cascade.commitWinLocked(ctx, next)
		if err != nil {
			report.Fail(snap.ID, domain.StageCascade, err)
			return
		}
		report.Won++
		s.recordSuperseded(superseded, next.GroupID, before, report)
	} else if err := s.store.Upsert(ctx, next); err != nil {
		report.Fail(snap.ID, domain.StagePersist, err)
		return
	}

	report.Updated++
	if statusChanged {
		report.Changes = append(report.Changes, domain.StatusChange{
			AuctionID: next.ID,
			GroupID:   next.GroupID,
			From:      current.Status,
			To:        next.Status,
		})
	}
}

// enforceGroups re-applies the cascade for every won grouped auction in
// ascending id order. Siblings that are already superseded are untouched,
// so a quiet pass changes nothing.
func (s *ReconcileService) enforceGroups(ctx context.Context, before map[int64]*domain.Auction, report *domain.TickReport) {
	auctions, err := s.store.GetAll(ctx)
	if err != nil {
		report.Fail(0, domain.StageCascade, err)
		return
	}
	sortByID(auctions)
	for _, a := range auctions {
		if a.Status != domain.StatusWon || !a.InGroup() {
			continue
		}
		s.enforceGroup(ctx, a, before, report)
	}
}

// enforceGroup re-reads a under its group lock so that a winner superseded
// by a lower id earlier in this loop does not supersede that id in turn.
func (s *ReconcileService) enforceGroup(ctx context.Context, a *domain.Auction, before map[int64]*domain.Auction, report *domain.TickReport) {
	unlock := s.cascade.lockGroup(a.GroupID)
	defer unlock()

	current, err := s.store.Get(ctx, a.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrAuctionNotFound) {
			report.Fail(a.ID, domain.StageCascade, err)
		}
		return
	}
	if current.Status != domain.StatusWon || !sameGroup(current.GroupID, a.GroupID) {
		return
	}
	ids, err := s.cascade.onWinLocked(ctx, current.ID, current.GroupID)
	if err != nil {
		report.Fail(a.ID, domain.StageCascade, err)
		return
	}
	s.recordSuperseded(ids, current.GroupID, before, report)
}

func (s *ReconcileService) recordSuperseded(ids []int64, groupID *int64, before map[int64]*domain.Auction, report *domain.TickReport) {
	for _, id := range ids {
		from := domain.StatusRunning
		if prev, ok := before[id]; ok {
			from = prev.Status
		}
		report.Superseded++
		report.Changes = append(report.Changes, domain.StatusChange{
			AuctionID: id,
			GroupID:   groupID,
			From:      from,
			To:        domain.StatusSuperseded,
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// liveness
// ──────────────────────────────────────────────────────────────────────────────

// ensureWorkers gives every running auction exactly one live worker carrying
// its current bid. It returns the launcher pids it sent a signal to.
func (s *ReconcileService) ensureWorkers(ctx context.Context, live map[int]struct{}, report *domain.TickReport) map[int]struct{} {
	stopped := make(map[int]struct{})
	auctions, err := s.store.GetAll(ctx)
	if err != nil {
		report.Fail(0, domain.StagePersist, err)
		return stopped
	}
	sortByID(auctions)

	for _, a := range auctions {
		if a.Status != domain.StatusRunning {
			continue
		}
		h, hasHandle := a.Handle()
		alive := false
		if hasHandle {
			_, alive = live[h.PID]
		}
		if alive && !a.BidChanged() {
			continue
		}

		if alive {
			if err := s.sup.Terminate(ctx, h); err != nil {
				report.Fail(a.ID, domain.StageTerminate, err)
				continue
			}
			report.Terminated++
			stopped[h.PID] = struct{}{}
		}

		err := s.sup.Shared(func() error {
			nh, err := s.sup.Launch(ctx, a.ID, a.Bid)
			if err != nil {
				return launchError{err}
			}
			report.Launched++
			a.AttachWorker(nh)
			return s.store.Upsert(ctx, a)
		})
		if err != nil {
			var le launchError
			if errors.As(err, &le) {
				report.Fail(a.ID, domain.StageLaunch, le.err)
			} else {
				report.Fail(a.ID, domain.StagePersist, err)
			}
		}
	}
	return stopped
}

type launchError struct{ err error }

func (e launchError) Error() string { return e.err.Error() }
func (e launchError) Unwrap() error { return e.err }

// ──────────────────────────────────────────────────────────────────────────────
// garbage collection
// ──────────────────────────────────────────────────────────────────────────────

// collectGarbage runs with launches excluded. It terminates every live
// launcher that no running auction references and removes files whose
// auction has no record. Launchers in stopped were already signalled this
// pass and may still be exiting.
func (s *ReconcileService) collectGarbage(ctx context.Context, stopped map[int]struct{}, report *domain.TickReport) {
	err := s.sup.Exclusive(func() error {
		auctions, err := s.store.GetAll(ctx)
		if err != nil {
			return err
		}
		known := make(map[int64]struct{}, len(auctions))
		referenced := make(map[int]struct{}, len(auctions))
		for _, a := range auctions {
			known[a.ID] = struct{}{}
			if a.Status == domain.StatusRunning && a.ProcessID != nil {
				referenced[*a.ProcessID] = struct{}{}
			}
		}

		live, err := s.sup.ListLivePids(ctx)
		if err != nil {
			report.Fail(0, domain.StageProcessTable, err)
		} else {
			pids := lo.Keys(live)
			sort.Ints(pids)
			for _, pid := range pids {
				if _, ok := referenced[pid]; ok {
					continue
				}
				if _, ok := stopped[pid]; ok {
					continue
				}
				if err := s.sup.Terminate(ctx, domain.WorkerHandle{PID: pid}); err != nil {
					report.Fail(0, domain.StageTerminate, fmt.Errorf("pid %d: %w", pid, err))
					continue
				}
				report.Terminated++
			}
		}

		artifacts, err := s.sup.ListArtifacts()
		if err != nil {
			report.Fail(0, domain.StageCleanup, err)
			return nil
		}
		for _, art := range artifacts {
			if _, ok := known[art.AuctionID]; ok {
				continue
			}
			if err := s.sup.RemoveArtifact(art); err != nil {
				report.Fail(art.AuctionID, domain.StageCleanup, err)
				continue
			}
			report.FilesRemoved++
		}
		return nil
	})
	if err != nil {
		report.Fail(0, domain.StageCleanup, err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────────────────────────────────

func sortByID(auctions []*domain.Auction) {
	sort.Slice(auctions, func(i, j int) bool { return auctions[i].ID < auctions[j].ID })
}

func sameGroup(a, b *int64) bool {
	av, bv := int64(0), int64(0)
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av == bv
}
