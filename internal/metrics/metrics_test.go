package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/evetabi/snipe/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector_ObserveTick(t *testing.T) {
	rq := require.New(t)
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	report := domain.NewTickReport()
	report.Duration = 120 * time.Millisecond
	report.Launched = 2
	report.Terminated = 1
	report.FilesRemoved = 3
	report.Changes = []domain.StatusChange{
		{AuctionID: 1, From: domain.StatusRunning, To: domain.StatusWon},
		{AuctionID: 2, From: domain.StatusRunning, To: domain.StatusSuperseded},
		{AuctionID: 3, From: domain.StatusOutbid, To: domain.StatusSuperseded},
	}
	report.Fail(4, domain.StageReadLog, domain.ErrLogNotFound)

	c.ObserveTick(report, nil)
	c.ObserveTick(domain.NewTickReport(), errors.New("store down"))

	expected := `
# HELP snipe_ticks_total Reconciliation passes by result (ok, failed).
# TYPE snipe_ticks_total counter
snipe_ticks_total{result="failed"} 1
snipe_ticks_total{result="ok"} 1
# HELP snipe_status_changes_total Auction status transitions applied by ticks, by new status.
# TYPE snipe_status_changes_total counter
snipe_status_changes_total{status="superseded"} 2
snipe_status_changes_total{status="won"} 1
# HELP snipe_auction_errors_total Per-auction failures isolated during a tick, by stage.
# TYPE snipe_auction_errors_total counter
snipe_auction_errors_total{stage="read_log"} 1
# HELP snipe_workers_launched_total Workers started by reconciliation.
# TYPE snipe_workers_launched_total counter
snipe_workers_launched_total 2
`
	rq.NoError(testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"snipe_ticks_total",
		"snipe_status_changes_total",
		"snipe_auction_errors_total",
		"snipe_workers_launched_total",
	))
	n, err := testutil.GatherAndCount(reg, "snipe_tick_duration_seconds")
	rq.NoError(err)
	rq.Equal(1, n)
}

func TestHandler(t *testing.T) {
	rq := require.New(t)
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	c.ObserveTick(domain.NewTickReport(), nil)

	srv := httptest.NewServer(metrics.Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	rq.NoError(err)
	defer resp.Body.Close()

	rq.Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	rq.NoError(err)
	rq.Contains(string(body), `snipe_ticks_total{result="ok"} 1`)
}
