package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/jmoiron/sqlx"
)

// SQLStore implements the service Store on PostgreSQL or SQLite through
// sqlx. Queries are written with '?' placeholders and rebound per driver.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

const auctionColumns = `id, bid, highest_bid, process_id, launched_bid, status, group_id, end_time, version, created_at, updated_at`

// GetAll returns every auction ordered by id.
func (r *SQLStore) GetAll(ctx context.Context) ([]*domain.Auction, error) {
	var auctions []*domain.Auction
	err := r.db.SelectContext(ctx, &auctions,
		`SELECT `+auctionColumns+` FROM auctions ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.GetAll: %w", err)
	}
	return auctions, nil
}

// Get fetches one auction by id.
func (r *SQLStore) Get(ctx context.Context, id int64) (*domain.Auction, error) {
	var a domain.Auction
	err := r.db.GetContext(ctx, &a,
		r.db.Rebind(`SELECT `+auctionColumns+` FROM auctions WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("auction_repo.Get: %w", err)
	}
	return &a, nil
}

// Upsert inserts (Version 0) or compare-and-set updates an auction.
func (r *SQLStore) Upsert(ctx context.Context, a *domain.Auction) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auction_repo.Upsert begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := r.upsertTx(ctx, tx, a); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("auction_repo.Upsert commit: %w", err)
	}
	return nil
}

func (r *SQLStore) upsertTx(ctx context.Context, tx *sqlx.Tx, a *domain.Auction) error {
	now := time.Now().UTC()
	row := *a
	row.UpdatedAt = now

	if a.Version == 0 {
		var n int
		if err := tx.GetContext(ctx, &n, tx.Rebind(`SELECT COUNT(*) FROM auctions WHERE id = ?`), a.ID); err != nil {
			return fmt.Errorf("auction_repo.Upsert exists: %w", err)
		}
		if n > 0 {
			return domain.ErrAuctionExists
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		row.Version = 1
		query := `
			INSERT INTO auctions
				(` + auctionColumns + `)
			VALUES
				(:id, :bid, :highest_bid, :process_id, :launched_bid, :status, :group_id, :end_time, :version, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, &row); err != nil {
			return fmt.Errorf("auction_repo.Upsert insert: %w", err)
		}
		a.Version, a.CreatedAt, a.UpdatedAt = row.Version, row.CreatedAt, row.UpdatedAt
		return nil
	}

	query := `
		UPDATE auctions
		SET bid          = :bid,
		    highest_bid  = :highest_bid,
		    process_id   = :process_id,
		    launched_bid = :launched_bid,
		    status       = :status,
		    group_id     = :group_id,
		    end_time     = :end_time,
		    version      = version + 1,
		    updated_at   = :updated_at
		WHERE id = :id AND version = :version`
	res, err := tx.NamedExecContext(ctx, query, &row)
	if err != nil {
		return fmt.Errorf("auction_repo.Upsert update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var count int
		if err := tx.GetContext(ctx, &count, tx.Rebind(`SELECT COUNT(*) FROM auctions WHERE id = ?`), a.ID); err != nil {
			return fmt.Errorf("auction_repo.Upsert exists: %w", err)
		}
		if count == 0 {
			return domain.ErrAuctionNotFound
		}
		return domain.ErrStaleAuction
	}
	a.Version++
	a.UpdatedAt = now
	return nil
}

// Delete removes an auction row.
func (r *SQLStore) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM auctions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("auction_repo.Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAuctionNotFound
	}
	return nil
}

// ListByGroup returns the members of a group ordered by id.
func (r *SQLStore) ListByGroup(ctx context.Context, groupID int64) ([]*domain.Auction, error) {
	var auctions []*domain.Auction
	err := r.db.SelectContext(ctx, &auctions,
		r.db.Rebind(`SELECT `+auctionColumns+` FROM auctions WHERE group_id = ? ORDER BY id ASC`), groupID)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.ListByGroup: %w", err)
	}
	return auctions, nil
}

// SettleWin writes the winner and supersedes its siblings in one transaction.
func (r *SQLStore) SettleWin(ctx context.Context, winner *domain.Auction) ([]int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.SettleWin begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	version := winner.Version
	if err := r.upsertTx(ctx, tx, winner); err != nil {
		return nil, err
	}
	var ids []int64
	if winner.InGroup() {
		ids, err = supersedeTx(ctx, tx, *winner.GroupID, winner.ID)
		if err != nil {
			winner.Version = version
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		winner.Version = version
		return nil, fmt.Errorf("auction_repo.SettleWin commit: %w", err)
	}
	return ids, nil
}

// SupersedeSiblings marks every other member of groupID superseded.
func (r *SQLStore) SupersedeSiblings(ctx context.Context, groupID, exceptID int64) ([]int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.SupersedeSiblings begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ids, err := supersedeTx(ctx, tx, groupID, exceptID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("auction_repo.SupersedeSiblings commit: %w", err)
	}
	return ids, nil
}

func supersedeTx(ctx context.Context, tx *sqlx.Tx, groupID, exceptID int64) ([]int64, error) {
	var ids []int64
	err := tx.SelectContext(ctx, &ids, tx.Rebind(`
		SELECT id FROM auctions
		WHERE group_id = ? AND id <> ? AND status <> 'superseded'
		ORDER BY id ASC`), groupID, exceptID)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.supersede select: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE auctions
		SET status = 'superseded', version = version + 1, updated_at = ?
		WHERE group_id = ? AND id <> ? AND status <> 'superseded'`),
		time.Now().UTC(), groupID, exceptID)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.supersede update: %w", err)
	}
	return ids, nil
}
