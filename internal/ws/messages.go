// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/google/uuid"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeStatusChanged MsgType = "status_changed"
	MsgTypeTickCompleted MsgType = "tick_completed"
	MsgTypeError         MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// StatusChangedMessage: one per applied status transition.
// ──────────────────────────────────────────────────────────────────────────────

// StatusChangedMessage tells clients an auction moved to a new status.
type StatusChangedMessage struct {
	Type      MsgType              `json:"type"`
	AuctionID int64                `json:"auction_id"`
	GroupID   *int64               `json:"group_id,omitempty"`
	From      domain.AuctionStatus `json:"from"`
	To        domain.AuctionStatus `json:"to"`
	Timestamp time.Time            `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// TickCompletedMessage: one per reconciliation pass.
// ──────────────────────────────────────────────────────────────────────────────

// TickCompletedMessage summarises a finished tick so dashboards can refresh.
type TickCompletedMessage struct {
	Type         MsgType   `json:"type"`
	TickID       uuid.UUID `json:"tick_id"`
	Observed     int       `json:"observed"`
	Updated      int       `json:"updated"`
	Won          int       `json:"won"`
	Superseded   int       `json:"superseded"`
	Launched     int       `json:"launched"`
	Terminated   int       `json:"terminated"`
	FilesRemoved int       `json:"files_removed"`
	Errors       []string  `json:"errors,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Timestamp    time.Time `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage: sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}

func newStatusChanged(c domain.StatusChange) StatusChangedMessage {
	return StatusChangedMessage{
		Type:      MsgTypeStatusChanged,
		AuctionID: c.AuctionID,
		GroupID:   c.GroupID,
		From:      c.From,
		To:        c.To,
		Timestamp: time.Now().UTC(),
	}
}

func newTickCompleted(r *domain.TickReport) TickCompletedMessage {
	return TickCompletedMessage{
		Type:         MsgTypeTickCompleted,
		TickID:       r.ID,
		Observed:     r.Observed,
		Updated:      r.Updated,
		Won:          r.Won,
		Superseded:   r.Superseded,
		Launched:     r.Launched,
		Terminated:   r.Terminated,
		FilesRemoved: r.FilesRemoved,
		Errors:       r.ErrorMessages(),
		DurationMs:   r.Duration.Milliseconds(),
		Timestamp:    time.Now().UTC(),
	}
}
