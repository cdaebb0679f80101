package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evetabi/snipe/internal/domain"
)

// GroupService manages auction groups.
type GroupService struct {
	store  Store
	logger *slog.Logger
}

// NewGroupService builds a GroupService.
func NewGroupService(store Store, logger *slog.Logger) *GroupService {
	return &GroupService{store: store, logger: logger.With("component", "group")}
}

// Create adds a new group. Names are unique.
func (s *GroupService) Create(ctx context.Context, name, notes string) (*domain.Group, error) {
	name, err := domain.NormalizeGroupName(name)
	if err != nil {
		return nil, err
	}
	g := &domain.Group{Name: name, Notes: notes, CreatedAt: time.Now().UTC()}
	if err := s.store.CreateGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("group_service.Create: %w", err)
	}
	s.logger.Info("group created", "group_id", g.ID, "name", g.Name)
	return g, nil
}

// List returns every group with member counts.
func (s *GroupService) List(ctx context.Context) ([]*domain.GroupSummary, error) {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("group_service.List: %w", err)
	}
	out := make([]*domain.GroupSummary, 0, len(groups))
	for _, g := range groups {
		sum, err := s.summarize(ctx, g)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// Get returns one group with member counts.
func (s *GroupService) Get(ctx context.Context, id int64) (*domain.GroupSummary, error) {
	g, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, g)
}

// ByName looks a group up by its (case-insensitive) name.
func (s *GroupService) ByName(ctx context.Context, name string) (*domain.Group, error) {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("group_service.ByName: %w", err)
	}
	for _, g := range groups {
		if strings.EqualFold(g.Name, strings.TrimSpace(name)) {
			return g, nil
		}
	}
	return nil, domain.ErrGroupNotFound
}

// Members returns the auctions of a group ordered by id.
func (s *GroupService) Members(ctx context.Context, id int64) ([]*domain.Auction, error) {
	if _, err := s.store.GetGroup(ctx, id); err != nil {
		return nil, err
	}
	members, err := s.store.ListByGroup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("group_service.Members: %w", err)
	}
	sortByID(members)
	return members, nil
}

// UpdateNotes replaces a group's free-text notes.
func (s *GroupService) UpdateNotes(ctx context.Context, id int64, notes string) (*domain.Group, error) {
	if err := s.store.UpdateGroupNotes(ctx, id, notes); err != nil {
		return nil, fmt.Errorf("group_service.UpdateNotes: %w", err)
	}
	return s.store.GetGroup(ctx, id)
}

// Delete removes a group; its members stay but become ungrouped.
func (s *GroupService) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteGroup(ctx, id); err != nil {
		return fmt.Errorf("group_service.Delete: %w", err)
	}
	s.logger.Info("group deleted", "group_id", id)
	return nil
}

func (s *GroupService) summarize(ctx context.Context, g *domain.Group) (*domain.GroupSummary, error) {
	members, err := s.store.ListByGroup(ctx, g.ID)
	if err != nil {
		return nil, fmt.Errorf("group_service: members of %d: %w", g.ID, err)
	}
	return &domain.GroupSummary{
		Group:   *g,
		Members: len(members),
		Counts:  domain.CountStatuses(members),
	}, nil
}
