// Package domain defines the core entities of the snipe orchestrator:
// auctions watched by external bidding workers, the groups they belong to,
// and the report produced by one reconciliation tick.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// AuctionStatus represents the lifecycle state of a snipe.
type AuctionStatus string

const (
	StatusRunning    AuctionStatus = "running"    // worker should be alive and bidding
	StatusWon        AuctionStatus = "won"        // worker reported a win
	StatusOutbid     AuctionStatus = "outbid"     // lost, or bid below the minimum
	StatusSuperseded AuctionStatus = "superseded" // another member of the group won
)

// IsValid returns true if s is one of the known statuses.
func (s AuctionStatus) IsValid() bool {
	switch s {
	case StatusRunning, StatusWon, StatusOutbid, StatusSuperseded:
		return true
	}
	return false
}

// IsTerminal reports whether the status can no longer change through
// observation. Only Running auctions are reconciled.
func (s AuctionStatus) IsTerminal() bool {
	return s != StatusRunning
}

// CanTransition enforces the monotone status order: only Running moves on
// observation, and a sibling's win supersedes any status.
func (s AuctionStatus) CanTransition(next AuctionStatus) bool {
	if s == next {
		return true
	}
	switch next {
	case StatusWon, StatusOutbid:
		return s == StatusRunning
	case StatusSuperseded:
		return true
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// WorkerHandle
// ──────────────────────────────────────────────────────────────────────────────

// WorkerHandle identifies a launched bidding worker. PID is the pid of the
// launcher wrapper as reported at spawn time; Bid is the amount the worker
// was started with.
type WorkerHandle struct {
	PID int             `json:"pid"`
	Bid decimal.Decimal `json:"bid"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Auction
// ──────────────────────────────────────────────────────────────────────────────

// Auction is one snipe attempt, keyed by the marketplace's numeric item id.
type Auction struct {
	ID          int64            `json:"id"           db:"id"`
	Bid         decimal.Decimal  `json:"bid"          db:"bid"`
	HighestBid  *decimal.Decimal `json:"highest_bid"  db:"highest_bid"`
	ProcessID   *int             `json:"process_id"   db:"process_id"`
	LaunchedBid *decimal.Decimal `json:"launched_bid" db:"launched_bid"`
	Status      AuctionStatus    `json:"status"       db:"status"`
	GroupID     *int64           `json:"group_id"     db:"group_id"`
	EndTime     *time.Time       `json:"end_time"     db:"end_time"`
	Version     int64            `json:"version"      db:"version"`
	CreatedAt   time.Time        `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"   db:"updated_at"`
}

// NewAuction returns a Running auction for id with the given normalized bid.
func NewAuction(id int64, bid decimal.Decimal, groupID *int64) *Auction {
	now := time.Now().UTC()
	return &Auction{
		ID:        id,
		Bid:       bid,
		Status:    StatusRunning,
		GroupID:   groupID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Handle returns the worker handle recorded on the auction, if any.
func (a *Auction) Handle() (WorkerHandle, bool) {
	if a.ProcessID == nil {
		return WorkerHandle{}, false
	}
	h := WorkerHandle{PID: *a.ProcessID}
	if a.LaunchedBid != nil {
		h.Bid = *a.LaunchedBid
	}
	return h, true
}

// AttachWorker records h as the auction's current worker.
func (a *Auction) AttachWorker(h WorkerHandle) {
	pid := h.PID
	bid := h.Bid
	a.ProcessID = &pid
	a.LaunchedBid = &bid
}

// BidChanged reports whether the user's bid differs from the bid the current
// worker was launched with.
func (a *Auction) BidChanged() bool {
	return a.LaunchedBid != nil && !a.LaunchedBid.Equal(a.Bid)
}

// InGroup reports whether the auction belongs to a group.
func (a *Auction) InGroup() bool {
	return a.GroupID != nil && *a.GroupID != 0
}

// Clone returns a deep copy so callers can mutate without aliasing the
// stored record.
func (a *Auction) Clone() *Auction {
	c := *a
	if a.HighestBid != nil {
		v := *a.HighestBid
		c.HighestBid = &v
	}
	if a.ProcessID != nil {
		v := *a.ProcessID
		c.ProcessID = &v
	}
	if a.LaunchedBid != nil {
		v := *a.LaunchedBid
		c.LaunchedBid = &v
	}
	if a.GroupID != nil {
		v := *a.GroupID
		c.GroupID = &v
	}
	if a.EndTime != nil {
		v := *a.EndTime
		c.EndTime = &v
	}
	return &c
}

// ──────────────────────────────────────────────────────────────────────────────
// Bid normalization
// ──────────────────────────────────────────────────────────────────────────────

// NormalizeBid canonicalises user input: surrounding space is trimmed and a
// comma decimal separator becomes a period. The result must be positive.
func NormalizeBid(raw string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if s == "" {
		return decimal.Zero, ErrInvalidBid
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidBid, raw)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: must be positive, got %s", ErrInvalidBid, d)
	}
	return d, nil
}

// StatusCounts tallies auctions per status for the overview screen.
type StatusCounts struct {
	Running    int `json:"running"`
	Won        int `json:"won"`
	Outbid     int `json:"outbid"`
	Superseded int `json:"superseded"`
}

// CountStatuses tallies the given auctions by status.
func CountStatuses(auctions []*Auction) StatusCounts {
	var c StatusCounts
	for _, a := range auctions {
		switch a.Status {
		case StatusRunning:
			c.Running++
		case StatusWon:
			c.Won++
		case StatusOutbid:
			c.Outbid++
		case StatusSuperseded:
			c.Superseded++
		}
	}
	return c
}
