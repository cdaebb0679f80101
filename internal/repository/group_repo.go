package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/snipe/internal/domain"
)

// ListGroups returns every group ordered by id.
func (r *SQLStore) ListGroups(ctx context.Context) ([]*domain.Group, error) {
	var groups []*domain.Group
	err := r.db.SelectContext(ctx, &groups,
		`SELECT id, name, notes, created_at FROM auction_groups ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("group_repo.ListGroups: %w", err)
	}
	return groups, nil
}

// GetGroup fetches a group by id.
func (r *SQLStore) GetGroup(ctx context.Context, id int64) (*domain.Group, error) {
	var g domain.Group
	err := r.db.GetContext(ctx, &g,
		r.db.Rebind(`SELECT id, name, notes, created_at FROM auction_groups WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, fmt.Errorf("group_repo.GetGroup: %w", err)
	}
	return &g, nil
}

// CreateGroup inserts g and sets its generated id.
func (r *SQLStore) CreateGroup(ctx context.Context, g *domain.Group) error {
	var taken int
	if err := r.db.GetContext(ctx, &taken,
		r.db.Rebind(`SELECT COUNT(*) FROM auction_groups WHERE lower(name) = lower(?)`), g.Name); err != nil {
		return fmt.Errorf("group_repo.CreateGroup: %w", err)
	}
	if taken > 0 {
		return domain.ErrGroupNameTaken
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	err := r.db.GetContext(ctx, &g.ID,
		r.db.Rebind(`INSERT INTO auction_groups (name, notes, created_at) VALUES (?, ?, ?) RETURNING id`),
		g.Name, g.Notes, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("group_repo.CreateGroup: %w", err)
	}
	return nil
}

// UpdateGroupNotes replaces the notes of a group.
func (r *SQLStore) UpdateGroupNotes(ctx context.Context, id int64, notes string) error {
	res, err := r.db.ExecContext(ctx,
		r.db.Rebind(`UPDATE auction_groups SET notes = ? WHERE id = ?`), notes, id)
	if err != nil {
		return fmt.Errorf("group_repo.UpdateGroupNotes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

// DeleteGroup ungroups the members and removes the group in one transaction.
func (r *SQLStore) DeleteGroup(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("group_repo.DeleteGroup begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE auctions
		SET group_id = NULL, version = version + 1, updated_at = ?
		WHERE group_id = ?`), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("group_repo.DeleteGroup ungroup: %w", err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM auction_groups WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("group_repo.DeleteGroup: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrGroupNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("group_repo.DeleteGroup commit: %w", err)
	}
	return nil
}
