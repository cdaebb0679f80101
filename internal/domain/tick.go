package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TickStage names the reconciliation step in which a per-auction error
// occurred.
type TickStage string

const (
	StageReadLog      TickStage = "read_log"
	StagePersist      TickStage = "persist"
	StageCascade      TickStage = "cascade"
	StageProcessTable TickStage = "process_table"
	StageLaunch       TickStage = "launch"
	StageTerminate    TickStage = "terminate"
	StageCleanup      TickStage = "cleanup"
)

// AuctionError is a failure isolated to one auction (AuctionID 0 means the
// failure affected the whole tick step, e.g. a process-table read).
type AuctionError struct {
	AuctionID int64     `json:"auction_id"`
	Stage     TickStage `json:"stage"`
	Err       error     `json:"-"`
}

func (e AuctionError) Error() string {
	if e.AuctionID == 0 {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("auction %d: %s: %v", e.AuctionID, e.Stage, e.Err)
}

func (e AuctionError) Unwrap() error { return e.Err }

// StatusChange records one status transition applied during a tick.
type StatusChange struct {
	AuctionID int64         `json:"auction_id"`
	GroupID   *int64        `json:"group_id,omitempty"`
	From      AuctionStatus `json:"from"`
	To        AuctionStatus `json:"to"`
}

// TickReport summarises one reconciliation pass.
type TickReport struct {
	ID           uuid.UUID      `json:"id"`
	StartedAt    time.Time      `json:"started_at"`
	Duration     time.Duration  `json:"duration"`
	Observed     int            `json:"observed"`
	Updated      int            `json:"updated"`
	Won          int            `json:"won"`
	Superseded   int            `json:"superseded"`
	Launched     int            `json:"launched"`
	Terminated   int            `json:"terminated"`
	FilesRemoved int            `json:"files_removed"`
	Changes      []StatusChange `json:"changes"`
	Errors       []AuctionError `json:"-"`
}

// NewTickReport starts a report stamped with a fresh id.
func NewTickReport() *TickReport {
	return &TickReport{ID: uuid.New(), StartedAt: time.Now().UTC()}
}

// Fail appends a per-auction error.
func (r *TickReport) Fail(auctionID int64, stage TickStage, err error) {
	r.Errors = append(r.Errors, AuctionError{AuctionID: auctionID, Stage: stage, Err: err})
}

// ErrorMessages renders Errors for JSON output.
func (r *TickReport) ErrorMessages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.Error())
	}
	return out
}
