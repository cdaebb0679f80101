package service_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/evetabi/snipe/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTick_RunningAuctionRecordsFactsAndGetsWorker(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "20", nil)
	h.writeLog(1, logRunning)

	report := h.tick()
	require.Empty(t, report.Errors)
	require.Equal(t, 1, report.Observed)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 1, report.Launched)
	require.Empty(t, report.Changes)

	a := h.get(1)
	require.Equal(t, domain.StatusRunning, a.Status)
	require.True(t, a.HighestBid.Equal(decimal.RequireFromString("12.50")))
	require.NotNil(t, a.EndTime)
	require.True(t, a.EndTime.Equal(time.Date(2024, 12, 24, 18, 30, 0, 0, time.UTC)))
	require.NotNil(t, a.ProcessID)
	require.True(t, h.procs.Live(*a.ProcessID))
	require.True(t, a.LaunchedBid.Equal(a.Bid))
}

func TestTick_WonStopsWorker(t *testing.T) {
	h := newHarness(t)
	placed := h.place(1, "20", nil)
	pid := *placed.ProcessID
	h.writeLog(1, logWon)

	report := h.tick()
	require.Empty(t, report.Errors)
	require.Equal(t, 1, report.Won)
	require.Equal(t, 0, report.Launched)
	require.Equal(t, 1, report.Terminated)
	require.Equal(t, []domain.StatusChange{{
		AuctionID: 1, From: domain.StatusRunning, To: domain.StatusWon,
	}}, report.Changes)

	require.Equal(t, domain.StatusWon, h.get(1).Status)
	require.False(t, h.procs.Live(pid))
	require.Equal(t, 1, h.bc.ticks)
	require.Len(t, h.bc.changes, 1)
}

func TestTick_OutbidRecordsEndTimeAndIsNotRelaunched(t *testing.T) {
	h := newHarness(t)
	h.seed(7, "20", nil)
	h.writeLog(7, logOutbid)

	report := h.tick()
	require.Empty(t, report.Errors)
	require.Equal(t, 0, report.Launched)

	a := h.get(7)
	require.Equal(t, domain.StatusOutbid, a.Status)
	require.True(t, a.HighestBid.Equal(decimal.NewFromInt(25)))
	require.True(t, a.EndTime.Equal(time.Date(2024, 12, 24, 18, 30, 0, 0, time.UTC)))
}

func TestTick_EndTimeIsKeptOnceKnown(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "20", nil)
	h.writeLog(1, logRunning)
	h.tick()

	h.writeLog(1, "End time: 01/01/2030 10:00:00\nCurrently: 12.50  (your maximum bid: 20.00)\n")
	h.tick()

	a := h.get(1)
	require.True(t, a.EndTime.Equal(time.Date(2024, 12, 24, 18, 30, 0, 0, time.UTC)))
}

func TestTick_GroupWinSupersedesSiblings(t *testing.T) {
	h := newHarness(t)
	g := h.group("lenses")
	for _, id := range []int64{1, 2, 3} {
		h.place(id, "20", g)
	}
	h.place(4, "20", nil)
	h.writeLog(2, logWon)
	h.writeLog(1, logOutbid)

	report := h.tick()
	require.Empty(t, report.Errors)
	require.Equal(t, 1, report.Won)
	require.Equal(t, 2, report.Superseded)

	require.Equal(t, domain.StatusSuperseded, h.get(1).Status)
	require.Equal(t, domain.StatusWon, h.get(2).Status)
	require.Equal(t, domain.StatusSuperseded, h.get(3).Status)
	require.Equal(t, domain.StatusRunning, h.get(4).Status)

	// Only the ungrouped auction keeps a worker.
	for _, id := range []int64{1, 2, 3} {
		require.False(t, h.procs.Live(*h.get(id).ProcessID), "auction %d", id)
	}
	require.True(t, h.procs.Live(*h.get(4).ProcessID))
}

func TestTick_SameTickWinsResolveToLowestID(t *testing.T) {
	h := newHarness(t)
	g := h.group("watch")
	for _, id := range []int64{5, 3, 9} {
		h.seed(id, "20", g)
	}
	h.writeLog(9, logWon)
	h.writeLog(3, logWon)
	h.writeLog(5, logRunning)

	report := h.tick()
	require.Equal(t, 1, report.Won)
	require.Equal(t, 2, report.Superseded)

	require.Equal(t, domain.StatusWon, h.get(3).Status)
	require.Equal(t, domain.StatusSuperseded, h.get(5).Status)
	require.Equal(t, domain.StatusSuperseded, h.get(9).Status)

	counts := domain.CountStatuses([]*domain.Auction{h.get(3), h.get(5), h.get(9)})
	require.Equal(t, 1, counts.Won)
}

func TestTick_WinnersMovedIntoOneGroupKeepLowestID(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "20", nil)
	h.seed(2, "20", nil)
	h.writeLog(1, logWon)
	h.writeLog(2, logWon)
	h.tick()
	require.Equal(t, domain.StatusWon, h.get(1).Status)
	require.Equal(t, domain.StatusWon, h.get(2).Status)

	g := h.group("lens")
	for _, id := range []int64{1, 2} {
		_, err := h.snipes.AssignGroup(context.Background(), id, g)
		require.NoError(t, err)
	}

	report := h.tick()
	require.Empty(t, report.Errors)
	require.Equal(t, 1, report.Superseded)
	require.Equal(t, domain.StatusWon, h.get(1).Status)
	require.Equal(t, domain.StatusSuperseded, h.get(2).Status)
}

func TestTick_MissingLogIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "20", nil)
	h.seed(2, "20", nil)
	h.writeLog(2, logOutbid)

	report := h.tick()
	require.Len(t, report.Errors, 1)
	require.Equal(t, int64(1), report.Errors[0].AuctionID)
	require.Equal(t, domain.StageReadLog, report.Errors[0].Stage)
	require.ErrorIs(t, report.Errors[0], domain.ErrLogNotFound)

	require.Equal(t, domain.StatusOutbid, h.get(2).Status)

	// The failing auction still gets a worker, which creates its log.
	a := h.get(1)
	require.Equal(t, domain.StatusRunning, a.Status)
	require.NotNil(t, a.ProcessID)
	_, err := os.Stat(h.sup.LogPath(1))
	require.NoError(t, err)
}

func TestTick_SecondPassIsQuiet(t *testing.T) {
	h := newHarness(t)
	g := h.group("pair")
	h.seed(1, "20", g)
	h.seed(2, "20", g)
	h.seed(3, "15", nil)
	h.writeLog(1, logWon)
	h.writeLog(2, logRunning)
	h.writeLog(3, logRunning)
	h.tick()

	versions := map[int64]int64{}
	for _, id := range []int64{1, 2, 3} {
		versions[id] = h.get(id).Version
	}
	spawned, signaled := h.procs.SpawnCount(), h.procs.SignalCount()

	report := h.tick()
	require.Empty(t, report.Errors)
	require.Zero(t, report.Updated)
	require.Zero(t, report.Launched)
	require.Zero(t, report.Terminated)
	require.Zero(t, report.FilesRemoved)
	require.Empty(t, report.Changes)
	for id, v := range versions {
		require.Equal(t, v, h.get(id).Version, "auction %d", id)
	}
	require.Equal(t, spawned, h.procs.SpawnCount())
	require.Equal(t, signaled, h.procs.SignalCount())
}

func TestTick_RelaunchesDeadWorker(t *testing.T) {
	h := newHarness(t)
	placed := h.place(1, "20", nil)
	old := *placed.ProcessID
	h.procs.Crash(old)

	report := h.tick()
	require.Empty(t, report.Errors)
	require.Equal(t, 1, report.Launched)

	a := h.get(1)
	require.NotEqual(t, old, *a.ProcessID)
	require.True(t, h.procs.Live(*a.ProcessID))
}

func TestTick_RelaunchesWorkerWithStaleBid(t *testing.T) {
	h := newHarness(t)
	placed := h.place(1, "20", nil)
	old := *placed.ProcessID

	// Bid changed behind the worker's back, e.g. by a direct store edit.
	a := h.get(1)
	a.Bid = decimal.NewFromInt(25)
	require.NoError(t, h.store.Upsert(context.Background(), a))

	report := h.tick()
	require.Empty(t, report.Errors)
	require.Equal(t, 1, report.Terminated)
	require.Equal(t, 1, report.Launched)
	require.False(t, h.procs.Live(old))

	a = h.get(1)
	require.True(t, a.LaunchedBid.Equal(decimal.NewFromInt(25)))
	task, err := os.ReadFile(h.sup.TaskPath(1))
	require.NoError(t, err)
	require.Equal(t, "1 25\n", string(task))
}

func TestTick_SlowExitingWorkerIsTerminatedOnce(t *testing.T) {
	h := newHarness(t)
	placed := h.place(1, "20", nil)
	old := *placed.ProcessID

	a := h.get(1)
	a.Bid = decimal.NewFromInt(25)
	require.NoError(t, h.store.Upsert(context.Background(), a))
	h.procs.SlowExit = true

	report := h.tick()
	require.Empty(t, report.Errors)
	require.Equal(t, 1, report.Terminated)
	require.Equal(t, 1, report.Launched)
	require.Equal(t, 1, h.procs.SignalCount())
	require.True(t, h.procs.Live(old))
	require.NotEqual(t, old, *h.get(1).ProcessID)
}

func TestTick_RaisedBidIgnoresPreviousWorkerLog(t *testing.T) {
	h := newHarness(t)
	h.place(1, "20", nil)
	h.writeLog(1, logOutbid)
	h.tick()
	require.Equal(t, domain.StatusOutbid, h.get(1).Status)

	_, err := h.snipes.PlaceSnipe(context.Background(), 1, "30", nil)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, h.get(1).Status)

	// The new worker has not written anything yet.
	report := h.tick()
	require.Empty(t, report.Errors)
	require.Empty(t, report.Changes)

	a := h.get(1)
	require.Equal(t, domain.StatusRunning, a.Status)
	require.True(t, a.HighestBid.Equal(decimal.NewFromInt(25)))
	require.True(t, a.EndTime.Equal(time.Date(2024, 12, 24, 18, 30, 0, 0, time.UTC)))
}

func TestTick_RecordChangedDuringPassIsLeftForNextPass(t *testing.T) {
	h := newHarness(t)
	h.place(1, "20", nil)
	h.writeLog(1, logOutbid)

	// The bid is raised after the logs were read but before the result is
	// written back.
	racing := &hookStore{Store: h.store, onGet: func() {
		_, err := h.snipes.PlaceSnipe(context.Background(), 1, "30", nil)
		require.NoError(t, err)
	}}
	rec := service.NewReconcileService(racing, h.sup, h.cascade,
		service.ReconcileConfig{Location: time.UTC}, discardLogger())

	report, err := rec.Tick(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Errors)
	require.Empty(t, report.Changes)

	a := h.get(1)
	require.Equal(t, domain.StatusRunning, a.Status)
	require.True(t, a.Bid.Equal(decimal.NewFromInt(30)))
	require.Nil(t, a.HighestBid)

	// The new worker's log is empty, so the next pass keeps it running.
	report = h.tick()
	require.Empty(t, report.Changes)
	require.Equal(t, domain.StatusRunning, h.get(1).Status)
}

func TestTick_CollectsOrphans(t *testing.T) {
	h := newHarness(t)
	h.place(1, "20", nil)
	orphan := h.procs.StartOrphan()
	require.NoError(t, os.WriteFile(h.sup.TaskPath(99), []byte("99 1\n"), 0o666))
	require.NoError(t, os.WriteFile(h.sup.LogPath(99), nil, 0o666))
	require.NoError(t, os.WriteFile(h.sup.LogPath(1)+".bak", nil, 0o666))

	report := h.tick()
	require.Empty(t, report.Errors)
	require.Equal(t, 1, report.Terminated)
	require.Equal(t, 2, report.FilesRemoved)
	require.False(t, h.procs.Live(orphan))
	require.True(t, h.procs.Live(*h.get(1).ProcessID))

	for _, p := range []string{h.sup.TaskPath(99), h.sup.LogPath(99)} {
		_, err := os.Stat(p)
		require.ErrorIs(t, err, os.ErrNotExist)
	}
	_, err := os.Stat(h.sup.TaskPath(1))
	require.NoError(t, err)
}

func TestTick_ProcessTableFailureSkipsLiveness(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "20", nil)
	h.seed(2, "20", nil)
	h.writeLog(1, logRunning)
	h.writeLog(2, logOutbid)
	h.procs.ListErr = errors.New("ps unavailable")

	report := h.tick()
	require.Len(t, report.Errors, 1)
	require.Equal(t, domain.StageProcessTable, report.Errors[0].Stage)
	require.ErrorIs(t, report.Errors[0], domain.ErrProcessTable)
	require.Zero(t, report.Launched)

	// Log-derived facts are still persisted.
	require.Equal(t, domain.StatusOutbid, h.get(2).Status)
	require.NotNil(t, h.get(1).HighestBid)
}

func TestTick_RejectsConcurrentPass(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "20", nil)

	blocking := &blockingStore{Store: h.store, entered: make(chan struct{}), release: make(chan struct{})}
	rec := service.NewReconcileService(blocking, h.sup, service.NewCascadeService(blocking, discardLogger()),
		service.ReconcileConfig{}, discardLogger())

	done := make(chan error, 1)
	go func() {
		_, err := rec.Tick(context.Background())
		done <- err
	}()
	<-blocking.entered

	_, err := rec.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrTickInProgress)

	close(blocking.release)
	require.NoError(t, <-done)
}

func TestTick_ListFailureAbortsPass(t *testing.T) {
	h := newHarness(t)
	broken := &failingStore{Store: h.store, err: errors.New("db down")}
	rec := service.NewReconcileService(broken, h.sup, service.NewCascadeService(broken, discardLogger()),
		service.ReconcileConfig{}, discardLogger())

	report, err := rec.Tick(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
}

// blockingStore parks the first GetAll until release is closed.
type blockingStore struct {
	service.Store
	entered chan struct{}
	release chan struct{}
	once    bool
}

func (s *blockingStore) GetAll(ctx context.Context) ([]*domain.Auction, error) {
	if !s.once {
		s.once = true
		close(s.entered)
		<-s.release
	}
	return s.Store.GetAll(ctx)
}

type failingStore struct {
	service.Store
	err error
}

func (s *failingStore) GetAll(context.Context) ([]*domain.Auction, error) { return nil, s.err }

// hookStore runs onGet once, before the first Get is served.
type hookStore struct {
	service.Store
	onGet func()
	done  bool
}

func (s *hookStore) Get(ctx context.Context, id int64) (*domain.Auction, error) {
	if !s.done {
		s.done = true
		s.onGet()
	}
	return s.Store.Get(ctx, id)
}
