package service_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/evetabi/snipe/internal/repository"
	"github.com/evetabi/snipe/internal/service"
	"github.com/evetabi/snipe/internal/supervisor"
	"github.com/evetabi/snipe/internal/supervisor/supervisortest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// harness wires the real services to an in-memory store and a fake process
// table rooted in a temp directory.
type harness struct {
	t       *testing.T
	store   *repository.MemoryStore
	procs   *supervisortest.Processes
	sup     *supervisor.Supervisor
	cascade *service.CascadeService
	rec     *service.ReconcileService
	snipes  *service.SnipeService
	groups  *service.GroupService
	bc      *recordingBroadcaster
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := discardLogger()
	store := repository.NewMemoryStore()
	procs := supervisortest.New()
	sup := supervisor.New(supervisor.Config{
		WorkDir:       t.TempDir(),
		LauncherPath:  "/opt/esniper/esniperstart.sh",
		EsniperPath:   "/usr/bin/esniper",
		EsniperConfig: "/etc/esniper.cfg",
	}, procs, procs, logger)

	cascade := service.NewCascadeService(store, logger)
	rec := service.NewReconcileService(store, sup, cascade, service.ReconcileConfig{
		Parallelism: 3,
		Location:    time.UTC,
	}, logger)
	bc := &recordingBroadcaster{}
	rec.SetBroadcaster(bc)

	snipes := service.NewSnipeService(store, sup, cascade, logger)
	snipes.SetBroadcaster(bc)

	return &harness{
		t:       t,
		store:   store,
		procs:   procs,
		sup:     sup,
		cascade: cascade,
		rec:     rec,
		snipes:  snipes,
		groups:  service.NewGroupService(store, logger),
		bc:      bc,
	}
}

// seed inserts a record directly, without launching a worker.
func (h *harness) seed(id int64, bid string, group *int64) *domain.Auction {
	h.t.Helper()
	a := domain.NewAuction(id, decimal.RequireFromString(bid), group)
	require.NoError(h.t, h.store.Upsert(context.Background(), a))
	return a
}

// place creates a snipe through the service, which launches a worker.
func (h *harness) place(id int64, bid string, group *int64) *domain.Auction {
	h.t.Helper()
	a, err := h.snipes.PlaceSnipe(context.Background(), id, bid, group)
	require.NoError(h.t, err)
	return a
}

func (h *harness) writeLog(id int64, text string) {
	h.t.Helper()
	require.NoError(h.t, os.WriteFile(h.sup.LogPath(id), []byte(text), 0o666))
}

func (h *harness) get(id int64) *domain.Auction {
	h.t.Helper()
	a, err := h.store.Get(context.Background(), id)
	require.NoError(h.t, err)
	return a
}

func (h *harness) tick() *domain.TickReport {
	h.t.Helper()
	r, err := h.rec.Tick(context.Background())
	require.NoError(h.t, err)
	return r
}

func (h *harness) group(name string) *int64 {
	h.t.Helper()
	g, err := h.groups.Create(context.Background(), name, "")
	require.NoError(h.t, err)
	id := g.ID
	return &id
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	changes []domain.StatusChange
	ticks   int
}

func (b *recordingBroadcaster) BroadcastStatusChange(c domain.StatusChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, c)
}

func (b *recordingBroadcaster) BroadcastTick(*domain.TickReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ticks++
}

const (
	logRunning = "End time: 24/12/2024 18:30:00\nCurrently: 12.50  (your maximum bid: 20.00)\n"
	logOutbid  = "End time: 24/12/2024 18:30:00\nCurrently: 25.00  (your maximum bid: 20.00)\n"
	logWon     = "Currently: 18.00  (your maximum bid: 20.00)\nYou have already won 1 item(s).\n"
)
