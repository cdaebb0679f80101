package service_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPlaceSnipe_CreatesRecordAndWorker(t *testing.T) {
	h := newHarness(t)

	a := h.place(123, " 12,50 ", nil)
	require.Equal(t, domain.StatusRunning, a.Status)
	require.True(t, a.Bid.Equal(decimal.RequireFromString("12.50")))
	require.NotNil(t, a.ProcessID)
	require.Equal(t, 1, h.procs.SpawnCount())

	task, err := os.ReadFile(h.sup.TaskPath(123))
	require.NoError(t, err)
	require.Equal(t, "123 12.5\n", string(task))

	stored := h.get(123)
	require.Equal(t, *a.ProcessID, *stored.ProcessID)
}

func TestPlaceSnipe_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.snipes.PlaceSnipe(ctx, 0, "10", nil)
	require.ErrorIs(t, err, domain.ErrInvalidAuctionID)

	_, err = h.snipes.PlaceSnipe(ctx, 1, "abc", nil)
	require.ErrorIs(t, err, domain.ErrInvalidBid)
	require.True(t, domain.IsValidation(err))

	missing := int64(42)
	_, err = h.snipes.PlaceSnipe(ctx, 1, "10", &missing)
	require.ErrorIs(t, err, domain.ErrGroupNotFound)

	require.Zero(t, h.procs.SpawnCount())
}

func TestPlaceSnipe_SameBidKeepsLiveWorker(t *testing.T) {
	h := newHarness(t)
	first := h.place(1, "10", nil)
	second := h.place(1, "10.00", nil)

	require.Equal(t, *first.ProcessID, *second.ProcessID)
	require.Equal(t, 1, h.procs.SpawnCount())
	require.Zero(t, h.procs.SignalCount())
}

func TestPlaceSnipe_SameBidRelaunchesDeadWorker(t *testing.T) {
	h := newHarness(t)
	first := h.place(1, "10", nil)
	h.procs.Crash(*first.ProcessID)

	second := h.place(1, "10", nil)
	require.NotEqual(t, *first.ProcessID, *second.ProcessID)
	require.True(t, h.procs.Live(*second.ProcessID))
	require.Equal(t, 2, h.procs.SpawnCount())
}

func TestPlaceSnipe_NewBidRestartsAndResetsStatus(t *testing.T) {
	h := newHarness(t)
	first := h.place(1, "10", nil)
	h.writeLog(1, logOutbid)
	h.tick()
	require.Equal(t, domain.StatusOutbid, h.get(1).Status)

	second := h.place(1, "30", nil)
	require.Equal(t, domain.StatusRunning, second.Status)
	require.True(t, second.LaunchedBid.Equal(decimal.NewFromInt(30)))
	require.False(t, h.procs.Live(*first.ProcessID))
	require.True(t, h.procs.Live(*second.ProcessID))

	last := h.bc.changes[len(h.bc.changes)-1]
	require.Equal(t, domain.StatusOutbid, last.From)
	require.Equal(t, domain.StatusRunning, last.To)
}

func TestPlaceSnipe_SpawnFailureLeavesNoRecord(t *testing.T) {
	h := newHarness(t)
	h.procs.SpawnErr = errors.New("exec format error")

	_, err := h.snipes.PlaceSnipe(context.Background(), 5, "10", nil)
	require.Error(t, err)
	_, err = h.store.Get(context.Background(), 5)
	require.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestAssignGroup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.group("cameras")
	h.place(1, "10", nil)

	a, err := h.snipes.AssignGroup(ctx, 1, g)
	require.NoError(t, err)
	require.Equal(t, *g, *a.GroupID)

	members, err := h.groups.Members(ctx, *g)
	require.NoError(t, err)
	require.Len(t, members, 1)

	none := int64(0)
	a, err = h.snipes.AssignGroup(ctx, 1, &none)
	require.NoError(t, err)
	require.Nil(t, a.GroupID)

	_, err = h.snipes.AssignGroup(ctx, 99, g)
	require.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestDelete_StopsWorkerAndRemovesFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.place(1, "10", nil)

	require.NoError(t, h.snipes.Delete(ctx, 1))
	require.False(t, h.procs.Live(*a.ProcessID))
	for _, p := range []string{h.sup.TaskPath(1), h.sup.LogPath(1)} {
		_, err := os.Stat(p)
		require.ErrorIs(t, err, os.ErrNotExist)
	}
	_, err := h.store.Get(ctx, 1)
	require.ErrorIs(t, err, domain.ErrAuctionNotFound)

	require.ErrorIs(t, h.snipes.Delete(ctx, 1), domain.ErrAuctionNotFound)
}

func TestPurgeFinished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.place(1, "10", nil)
	h.place(2, "10", nil)
	h.place(3, "10", nil)
	h.writeLog(2, logWon)
	h.writeLog(3, logOutbid)
	h.tick()

	removed, err := h.snipes.PurgeFinished(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	all, err := h.snipes.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, int64(1), all[0].ID)
	require.True(t, all[0].Live)
}

func TestQueries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.place(1, "10", nil)
	h.writeLog(1, logRunning)

	v, err := h.snipes.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, v.Live)

	h.procs.Crash(*a.ProcessID)
	v, err = h.snipes.Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, v.Live)

	data, err := h.snipes.Log(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, logRunning, string(data))

	_, err = h.snipes.Log(ctx, 2)
	require.ErrorIs(t, err, domain.ErrAuctionNotFound)

	counts, err := h.snipes.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCounts{Running: 1}, counts)
}
