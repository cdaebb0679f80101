package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/evetabi/snipe/internal/domain"
)

// MemoryStore is an in-process Store used with STORE_DRIVER=memory and in
// tests. Records are cloned on the way in and out.
type MemoryStore struct {
	mu          sync.RWMutex
	auctions    map[int64]*domain.Auction
	groups      map[int64]*domain.Group
	nextGroupID int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[int64]*domain.Auction),
		groups:   make(map[int64]*domain.Group),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Auctions
// ──────────────────────────────────────────────────────────────────────────────

func (s *MemoryStore) GetAll(_ context.Context) ([]*domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	return a.Clone(), nil
}

// Upsert inserts when a.Version is 0, otherwise updates if the stored
// version matches.
func (s *MemoryStore) Upsert(_ context.Context, a *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(a)
}

func (s *MemoryStore) upsertLocked(a *domain.Auction) error {
	now := time.Now().UTC()
	cur, exists := s.auctions[a.ID]
	if a.Version == 0 {
		if exists {
			return domain.ErrAuctionExists
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
	} else {
		if !exists {
			return domain.ErrAuctionNotFound
		}
		if cur.Version != a.Version {
			return domain.ErrStaleAuction
		}
	}
	a.Version++
	a.UpdatedAt = now
	s.auctions[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auctions[id]; !ok {
		return domain.ErrAuctionNotFound
	}
	delete(s.auctions, id)
	return nil
}

func (s *MemoryStore) ListByGroup(_ context.Context, groupID int64) ([]*domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Auction
	for _, a := range s.auctions {
		if a.GroupID != nil && *a.GroupID == groupID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SettleWin persists winner and supersedes its siblings atomically.
func (s *MemoryStore) SettleWin(_ context.Context, winner *domain.Auction) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.upsertLocked(winner); err != nil {
		return nil, err
	}
	if !winner.InGroup() {
		return nil, nil
	}
	return s.supersedeLocked(*winner.GroupID, winner.ID), nil
}

func (s *MemoryStore) SupersedeSiblings(_ context.Context, groupID, exceptID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supersedeLocked(groupID, exceptID), nil
}

func (s *MemoryStore) supersedeLocked(groupID, exceptID int64) []int64 {
	var ids []int64
	now := time.Now().UTC()
	for id, a := range s.auctions {
		if id == exceptID || a.GroupID == nil || *a.GroupID != groupID || a.Status == domain.StatusSuperseded {
			continue
		}
		a.Status = domain.StatusSuperseded
		a.Version++
		a.UpdatedAt = now
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ──────────────────────────────────────────────────────────────────────────────
// Groups
// ──────────────────────────────────────────────────────────────────────────────

func (s *MemoryStore) ListGroups(_ context.Context) ([]*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Group, 0, len(s.groups))
	for _, g := range s.groups {
		c := *g
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetGroup(_ context.Context, id int64) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	c := *g
	return &c, nil
}

func (s *MemoryStore) CreateGroup(_ context.Context, g *domain.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.groups {
		if strings.EqualFold(existing.Name, g.Name) {
			return domain.ErrGroupNameTaken
		}
	}
	s.nextGroupID++
	g.ID = s.nextGroupID
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	c := *g
	s.groups[g.ID] = &c
	return nil
}

func (s *MemoryStore) UpdateGroupNotes(_ context.Context, id int64, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return domain.ErrGroupNotFound
	}
	g.Notes = notes
	return nil
}

// DeleteGroup removes the group and clears GroupID on its members.
func (s *MemoryStore) DeleteGroup(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return domain.ErrGroupNotFound
	}
	delete(s.groups, id)
	now := time.Now().UTC()
	for _, a := range s.auctions {
		if a.GroupID != nil && *a.GroupID == id {
			a.GroupID = nil
			a.Version++
			a.UpdatedAt = now
		}
	}
	return nil
}
