package service_test

import (
	"context"
	"testing"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestOnWin_SupersedesAllOtherMembers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := h.group("g")
	for _, id := range []int64{1, 2, 3, 4} {
		h.seed(id, "10", g)
	}
	outbid := h.get(4)
	outbid.Status = domain.StatusOutbid
	require.NoError(t, h.store.Upsert(ctx, outbid))

	ids, err := h.cascade.OnWin(ctx, 2, g)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3, 4}, ids)
	require.Equal(t, domain.StatusRunning, h.get(2).Status)

	again, err := h.cascade.OnWin(ctx, 2, g)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestOnWin_UngroupedIsNoop(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "10", nil)

	ids, err := h.cascade.OnWin(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Empty(t, ids)

	zero := int64(0)
	ids, err = h.cascade.OnWin(context.Background(), 1, &zero)
	require.NoError(t, err)
	require.Empty(t, ids)
	require.Equal(t, domain.StatusRunning, h.get(1).Status)
}

func TestGroupService(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.groups.Create(ctx, "   ", "")
	require.ErrorIs(t, err, domain.ErrInvalidGroupName)

	g, err := h.groups.Create(ctx, "Lenses", "50mm only")
	require.NoError(t, err)
	_, err = h.groups.Create(ctx, "LENSES", "")
	require.ErrorIs(t, err, domain.ErrGroupNameTaken)
	require.True(t, domain.IsConflict(err))

	byName, err := h.groups.ByName(ctx, " lenses ")
	require.NoError(t, err)
	require.Equal(t, g.ID, byName.ID)

	h.seed(1, "10", &g.ID)
	h.seed(2, "10", &g.ID)
	h.writeLog(1, logOutbid)
	h.tick()

	sum, err := h.groups.Get(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Members)
	require.Equal(t, 1, sum.Counts.Outbid)
	require.Equal(t, 1, sum.Counts.Running)

	list, err := h.groups.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	updated, err := h.groups.UpdateNotes(ctx, g.ID, "any 50mm")
	require.NoError(t, err)
	require.Equal(t, "any 50mm", updated.Notes)

	require.NoError(t, h.groups.Delete(ctx, g.ID))
	require.Nil(t, h.get(1).GroupID)
	_, err = h.groups.Get(ctx, g.ID)
	require.ErrorIs(t, err, domain.ErrGroupNotFound)
	require.True(t, domain.IsNotFound(err))
}
