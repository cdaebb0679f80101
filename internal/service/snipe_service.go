package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/shopspring/decimal"
)

// AuctionView is an auction plus whether its worker is currently running.
type AuctionView struct {
	*domain.Auction
	Live bool `json:"live"`
}

// SnipeService implements the user-facing snipe actions: placing or
// changing a snipe, moving it between groups, deleting it, and purging
// finished ones.
type SnipeService struct {
	store   Store
	sup     WorkerSupervisor
	cascade *CascadeService
	logger  *slog.Logger

	broadcaster Broadcaster
}

// NewSnipeService builds a SnipeService.
func NewSnipeService(store Store, sup WorkerSupervisor, cascade *CascadeService, logger *slog.Logger) *SnipeService {
	return &SnipeService{
		store:   store,
		sup:     sup,
		cascade: cascade,
		logger:  logger.With("component", "snipe"),
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *SnipeService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// ──────────────────────────────────────────────────────────────────────────────
// PlaceSnipe
// ──────────────────────────────────────────────────────────────────────────────

// PlaceSnipe creates a snipe or changes an existing one.
//
//   - unknown id: launch a worker and insert a running record
//   - different bid: stop the old worker, launch with the new bid and reset
//     the status to running
//   - same bid on a running snipe whose worker died: relaunch
//
// A non-nil groupID moves the snipe into that group (0 removes it from its
// group); nil leaves the group unchanged.
func (s *SnipeService) PlaceSnipe(ctx context.Context, id int64, rawBid string, groupID *int64) (*domain.Auction, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidAuctionID
	}
	bid, err := domain.NormalizeBid(rawBid)
	if err != nil {
		return nil, err
	}
	group, err := s.resolveGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrAuctionNotFound):
		return s.create(ctx, id, bid, group)
	case err != nil:
		return nil, fmt.Errorf("snipe_service.PlaceSnipe: %w", err)
	}

	a := existing.Clone()
	if groupID != nil {
		a.GroupID = group
	}

	if !a.Bid.Equal(bid) {
		a.Bid = bid
		a.Status = domain.StatusRunning
		if err := s.relaunch(ctx, a, true); err != nil {
			return nil, err
		}
		s.logger.Info("snipe bid changed", "auction_id", id, "bid", bid.String())
		s.notify(existing, a)
		return a, nil
	}

	if a.Status == domain.StatusRunning {
		live, err := s.workerLive(ctx, a)
		if err != nil {
			return nil, err
		}
		if !live {
			if err := s.relaunch(ctx, a, false); err != nil {
				return nil, err
			}
			return a, nil
		}
	}

	if groupID != nil && !sameGroup(existing.GroupID, a.GroupID) {
		if err := s.store.Upsert(ctx, a); err != nil {
			return nil, fmt.Errorf("snipe_service.PlaceSnipe: %w", err)
		}
	}
	return a, nil
}

func (s *SnipeService) create(ctx context.Context, id int64, bid decimal.Decimal, group *int64) (*domain.Auction, error) {
	a := domain.NewAuction(id, bid, group)
	err := s.sup.Shared(func() error {
		h, err := s.sup.Launch(ctx, id, bid)
		if err != nil {
			return err
		}
		a.AttachWorker(h)
		if err := s.store.Upsert(ctx, a); err != nil {
			_ = s.sup.Terminate(ctx, h)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snipe_service.PlaceSnipe: %w", err)
	}
	s.logger.Info("snipe created", "auction_id", id, "bid", bid.String(), "pid", *a.ProcessID)
	return a, nil
}

// relaunch stops a's current worker when stop is set, starts a new one with
// a.Bid and persists the record.
func (s *SnipeService) relaunch(ctx context.Context, a *domain.Auction, stop bool) error {
	if h, ok := a.Handle(); ok && stop {
		if err := s.sup.Terminate(ctx, h); err != nil {
			return fmt.Errorf("snipe_service.relaunch: %w", err)
		}
	}
	err := s.sup.Shared(func() error {
		h, err := s.sup.Launch(ctx, a.ID, a.Bid)
		if err != nil {
			return err
		}
		a.AttachWorker(h)
		return s.store.Upsert(ctx, a)
	})
	if err != nil {
		return fmt.Errorf("snipe_service.relaunch: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Group membership
// ──────────────────────────────────────────────────────────────────────────────

// AssignGroup moves an auction into groupID, or out of any group when
// groupID is nil or 0.
func (s *SnipeService) AssignGroup(ctx context.Context, id int64, groupID *int64) (*domain.Auction, error) {
	group, err := s.resolveGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("snipe_service.AssignGroup: %w", err)
	}
	if sameGroup(existing.GroupID, group) {
		return existing, nil
	}

	unlock := s.cascade.lockGroups(existing.GroupID, group)
	defer unlock()

	a := existing.Clone()
	a.GroupID = group
	if err := s.store.Upsert(ctx, a); err != nil {
		return nil, fmt.Errorf("snipe_service.AssignGroup: %w", err)
	}
	s.logger.Info("snipe group changed", "auction_id", id, "group_id", group)
	return a, nil
}

// resolveGroup validates an optional group reference; 0 means "no group".
func (s *SnipeService) resolveGroup(ctx context.Context, groupID *int64) (*int64, error) {
	if groupID == nil || *groupID == 0 {
		return nil, nil
	}
	if _, err := s.store.GetGroup(ctx, *groupID); err != nil {
		return nil, err
	}
	g := *groupID
	return &g, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Delete / purge
// ──────────────────────────────────────────────────────────────────────────────

// Delete stops the auction's worker, removes its files and its record.
func (s *SnipeService) Delete(ctx context.Context, id int64) error {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("snipe_service.Delete: %w", err)
	}
	return s.remove(ctx, a)
}

// PurgeFinished deletes every auction that is no longer running and returns
// how many were removed.
func (s *SnipeService) PurgeFinished(ctx context.Context) (int, error) {
	auctions, err := s.store.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("snipe_service.PurgeFinished: %w", err)
	}
	var (
		removed int
		errs    []error
	)
	for _, a := range auctions {
		if a.Status == domain.StatusRunning {
			continue
		}
		if err := s.remove(ctx, a); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	s.logger.Info("finished snipes purged", "removed", removed, "failed", len(errs))
	return removed, errors.Join(errs...)
}

func (s *SnipeService) remove(ctx context.Context, a *domain.Auction) error {
	return s.sup.Shared(func() error {
		if h, ok := a.Handle(); ok {
			if err := s.sup.Terminate(ctx, h); err != nil {
				return fmt.Errorf("snipe_service.Delete %d: %w", a.ID, err)
			}
		}
		if err := s.sup.CleanupFiles(a.ID); err != nil {
			return fmt.Errorf("snipe_service.Delete %d: %w", a.ID, err)
		}
		if err := s.store.Delete(ctx, a.ID); err != nil && !errors.Is(err, domain.ErrAuctionNotFound) {
			return fmt.Errorf("snipe_service.Delete %d: %w", a.ID, err)
		}
		s.logger.Info("snipe deleted", "auction_id", a.ID)
		return nil
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

// List returns every auction with its worker liveness, ordered by id.
func (s *SnipeService) List(ctx context.Context) ([]*AuctionView, error) {
	auctions, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("snipe_service.List: %w", err)
	}
	sortByID(auctions)
	live := s.liveSet(ctx)

	out := make([]*AuctionView, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, s.view(a, live))
	}
	return out, nil
}

// Get returns one auction with its worker liveness.
func (s *SnipeService) Get(ctx context.Context, id int64) (*AuctionView, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(a, s.liveSet(ctx)), nil
}

// Log returns the raw worker log of a known auction.
func (s *SnipeService) Log(ctx context.Context, id int64) ([]byte, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.sup.ReadLog(id)
}

// Counts tallies auctions per status.
func (s *SnipeService) Counts(ctx context.Context) (domain.StatusCounts, error) {
	auctions, err := s.store.GetAll(ctx)
	if err != nil {
		return domain.StatusCounts{}, fmt.Errorf("snipe_service.Counts: %w", err)
	}
	return domain.CountStatuses(auctions), nil
}

func (s *SnipeService) view(a *domain.Auction, live map[int]struct{}) *AuctionView {
	v := &AuctionView{Auction: a}
	if h, ok := a.Handle(); ok && live != nil {
		_, v.Live = live[h.PID]
	}
	return v
}

// liveSet returns the live launcher pids, or nil when the process table is
// unavailable (liveness is then reported as false).
func (s *SnipeService) liveSet(ctx context.Context) map[int]struct{} {
	live, err := s.sup.ListLivePids(ctx)
	if err != nil {
		s.logger.Warn("process table unavailable", "err", err)
		return nil
	}
	return live
}

func (s *SnipeService) workerLive(ctx context.Context, a *domain.Auction) (bool, error) {
	h, ok := a.Handle()
	if !ok {
		return false, nil
	}
	live, err := s.sup.ListLivePids(ctx)
	if err != nil {
		return false, fmt.Errorf("snipe_service: %w", err)
	}
	_, alive := live[h.PID]
	return alive, nil
}

func (s *SnipeService) notify(before, after *domain.Auction) {
	if s.broadcaster == nil || before.Status == after.Status {
		return
	}
	s.broadcaster.BroadcastStatusChange(domain.StatusChange{
		AuctionID: after.ID,
		GroupID:   after.GroupID,
		From:      before.Status,
		To:        after.Status,
	})
}
