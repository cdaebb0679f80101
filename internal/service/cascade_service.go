package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/evetabi/snipe/internal/domain"
)

// CascadeService enforces group exclusivity: once one member of a group has
// won, every other member is superseded. All writes touching a group are
// serialized by a mutex keyed by the group id.
type CascadeService struct {
	store  Store
	locks  *keyedMutex
	logger *slog.Logger
}

// NewCascadeService builds a CascadeService.
func NewCascadeService(store Store, logger *slog.Logger) *CascadeService {
	return &CascadeService{
		store:  store,
		locks:  newKeyedMutex(),
		logger: logger.With("component", "cascade"),
	}
}

// OnWin supersedes every other auction in groupID. The winner itself is not
// touched; the caller has already persisted it as won. Siblings are
// superseded regardless of what their own logs say. Calling OnWin again with
// the same arguments changes nothing. A nil or zero group is a no-op.
func (s *CascadeService) OnWin(ctx context.Context, auctionID int64, groupID *int64) ([]int64, error) {
	if groupID == nil || *groupID == 0 {
		return nil, nil
	}
	unlock := s.lockGroup(groupID)
	defer unlock()
	return s.onWinLocked(ctx, auctionID, groupID)
}

// onWinLocked is OnWin for callers already holding the group lock.
func (s *CascadeService) onWinLocked(ctx context.Context, auctionID int64, groupID *int64) ([]int64, error) {
	ids, err := s.store.SupersedeSiblings(ctx, *groupID, auctionID)
	if err != nil {
		return nil, fmt.Errorf("cascade_service.OnWin: %w", err)
	}
	if len(ids) > 0 {
		s.logger.Info("group siblings superseded", "group_id", *groupID, "winner", auctionID, "superseded", ids)
	}
	return ids, nil
}

// CommitWin persists winner as won and, when it belongs to a group,
// supersedes its siblings in the same store transaction.
func (s *CascadeService) CommitWin(ctx context.Context, winner *domain.Auction) ([]int64, error) {
	unlock := s.lockGroup(winner.GroupID)
	defer unlock()
	return s.commitWinLocked(ctx, winner)
}

// commitWinLocked is CommitWin for callers already holding the group lock.
func (s *CascadeService) commitWinLocked(ctx context.Context, winner *domain.Auction) ([]int64, error) {
	winner.Status = domain.StatusWon
	if !winner.InGroup() {
		if err := s.store.Upsert(ctx, winner); err != nil {
			return nil, fmt.Errorf("cascade_service.CommitWin: %w", err)
		}
		return nil, nil
	}
	ids, err := s.store.SettleWin(ctx, winner)
	if err != nil {
		return nil, fmt.Errorf("cascade_service.CommitWin: %w", err)
	}
	s.logger.Info("auction won", "auction_id", winner.ID, "group_id", *winner.GroupID, "superseded", ids)
	return ids, nil
}

// lockGroup locks the group's mutex and returns the unlock func. Ungrouped
// auctions need no lock.
func (s *CascadeService) lockGroup(groupID *int64) func() {
	if groupID == nil || *groupID == 0 {
		return func() {}
	}
	return s.locks.lock(*groupID)
}

// lockGroups locks two groups in ascending id order.
func (s *CascadeService) lockGroups(a, b *int64) func() {
	if sameGroup(a, b) {
		return s.lockGroup(a)
	}
	if b != nil && (a == nil || *b < *a) {
		a, b = b, a
	}
	first := s.lockGroup(a)
	second := s.lockGroup(b)
	return func() {
		second()
		first()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// keyedMutex
// ──────────────────────────────────────────────────────────────────────────────

type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*sync.Mutex)}
}

func (k *keyedMutex) lock(key int64) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
