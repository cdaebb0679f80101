package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/evetabi/snipe/internal/repository"
	"github.com/evetabi/snipe/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Both implementations must satisfy the same contract.
func storeFactories(t *testing.T) map[string]func(t *testing.T) service.Store {
	return map[string]func(t *testing.T) service.Store{
		"memory": func(t *testing.T) service.Store {
			return repository.NewMemoryStore()
		},
		"sqlite": func(t *testing.T) service.Store {
			ctx := context.Background()
			db, err := repository.Open(ctx, repository.DriverSQLite,
				filepath.Join(t.TempDir(), "snipe.db"), repository.PoolConfig{})
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			require.NoError(t, repository.Migrate(ctx, db, discardLogger()))
			return repository.NewSQLStore(db)
		},
	}
}

func eachStore(t *testing.T, fn func(t *testing.T, s service.Store)) {
	for name, mk := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, mk(t))
		})
	}
}

func newAuction(id int64, bid string, group *int64) *domain.Auction {
	return domain.NewAuction(id, decimal.RequireFromString(bid), group)
}

func TestStore_InsertGetUpdate(t *testing.T) {
	eachStore(t, func(t *testing.T, s service.Store) {
		ctx := context.Background()

		a := newAuction(100, "12.50", nil)
		require.NoError(t, s.Upsert(ctx, a))
		require.Equal(t, int64(1), a.Version)

		got, err := s.Get(ctx, 100)
		require.NoError(t, err)
		require.True(t, got.Bid.Equal(decimal.RequireFromString("12.5")))
		require.Equal(t, domain.StatusRunning, got.Status)
		require.Nil(t, got.HighestBid)
		require.Nil(t, got.EndTime)

		end := time.Date(2025, 3, 1, 18, 30, 0, 0, time.UTC)
		hb := decimal.RequireFromString("9.99")
		got.EndTime = &end
		got.HighestBid = &hb
		got.AttachWorker(domain.WorkerHandle{PID: 4321, Bid: got.Bid})
		require.NoError(t, s.Upsert(ctx, got))
		require.Equal(t, int64(2), got.Version)

		again, err := s.Get(ctx, 100)
		require.NoError(t, err)
		require.NotNil(t, again.EndTime)
		require.True(t, again.EndTime.Equal(end))
		require.True(t, again.HighestBid.Equal(hb))
		require.Equal(t, 4321, *again.ProcessID)
		require.Equal(t, int64(2), again.Version)
	})
}

func TestStore_CompareAndSet(t *testing.T) {
	eachStore(t, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		require.NoError(t, s.Upsert(ctx, newAuction(1, "5", nil)))

		require.ErrorIs(t, s.Upsert(ctx, newAuction(1, "6", nil)), domain.ErrAuctionExists)

		first, err := s.Get(ctx, 1)
		require.NoError(t, err)
		second, err := s.Get(ctx, 1)
		require.NoError(t, err)

		first.Status = domain.StatusOutbid
		require.NoError(t, s.Upsert(ctx, first))

		second.Bid = decimal.NewFromInt(8)
		require.ErrorIs(t, s.Upsert(ctx, second), domain.ErrStaleAuction)

		ghost := newAuction(2, "1", nil)
		ghost.Version = 3
		require.ErrorIs(t, s.Upsert(ctx, ghost), domain.ErrAuctionNotFound)
	})
}

func TestStore_DeleteAndGetAll(t *testing.T) {
	eachStore(t, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		for _, id := range []int64{30, 10, 20} {
			require.NoError(t, s.Upsert(ctx, newAuction(id, "1", nil)))
		}
		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.Equal(t, int64(10), all[0].ID)

		require.NoError(t, s.Delete(ctx, 20))
		require.ErrorIs(t, s.Delete(ctx, 20), domain.ErrAuctionNotFound)
		_, err = s.Get(ctx, 20)
		require.ErrorIs(t, err, domain.ErrAuctionNotFound)
	})
}

func TestStore_GroupsAndCascade(t *testing.T) {
	eachStore(t, func(t *testing.T, s service.Store) {
		ctx := context.Background()

		g := &domain.Group{Name: "Lenses"}
		require.NoError(t, s.CreateGroup(ctx, g))
		require.NotZero(t, g.ID)
		require.ErrorIs(t, s.CreateGroup(ctx, &domain.Group{Name: "lenses"}), domain.ErrGroupNameTaken)

		gid := g.ID
		for _, id := range []int64{1, 2, 3} {
			require.NoError(t, s.Upsert(ctx, newAuction(id, "10", &gid)))
		}
		require.NoError(t, s.Upsert(ctx, newAuction(4, "10", nil)))

		members, err := s.ListByGroup(ctx, gid)
		require.NoError(t, err)
		require.Len(t, members, 3)

		winner, err := s.Get(ctx, 2)
		require.NoError(t, err)
		winner.Status = domain.StatusWon
		ids, err := s.SettleWin(ctx, winner)
		require.NoError(t, err)
		require.Equal(t, []int64{1, 3}, ids)

		for id, want := range map[int64]domain.AuctionStatus{
			1: domain.StatusSuperseded,
			2: domain.StatusWon,
			3: domain.StatusSuperseded,
			4: domain.StatusRunning,
		} {
			a, err := s.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, want, a.Status, "auction %d", id)
		}

		again, err := s.SupersedeSiblings(ctx, gid, 2)
		require.NoError(t, err)
		require.Empty(t, again)

		require.NoError(t, s.UpdateGroupNotes(ctx, gid, "only one body"))
		got, err := s.GetGroup(ctx, gid)
		require.NoError(t, err)
		require.Equal(t, "only one body", got.Notes)

		require.NoError(t, s.DeleteGroup(ctx, gid))
		_, err = s.GetGroup(ctx, gid)
		require.ErrorIs(t, err, domain.ErrGroupNotFound)
		a, err := s.Get(ctx, 1)
		require.NoError(t, err)
		require.Nil(t, a.GroupID)

		require.ErrorIs(t, s.DeleteGroup(ctx, gid), domain.ErrGroupNotFound)
		require.ErrorIs(t, s.UpdateGroupNotes(ctx, gid, "x"), domain.ErrGroupNotFound)
	})
}

func TestStore_SettleWinStaleRollsBack(t *testing.T) {
	eachStore(t, func(t *testing.T, s service.Store) {
		ctx := context.Background()
		g := &domain.Group{Name: "g"}
		require.NoError(t, s.CreateGroup(ctx, g))
		gid := g.ID
		require.NoError(t, s.Upsert(ctx, newAuction(1, "1", &gid)))
		require.NoError(t, s.Upsert(ctx, newAuction(2, "1", &gid)))

		stale, err := s.Get(ctx, 1)
		require.NoError(t, err)
		fresh, err := s.Get(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, s.Upsert(ctx, fresh))

		stale.Status = domain.StatusWon
		_, err = s.SettleWin(ctx, stale)
		require.ErrorIs(t, err, domain.ErrStaleAuction)

		sibling, err := s.Get(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, domain.StatusRunning, sibling.Status)
	})
}
