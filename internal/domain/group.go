package domain

import (
	"strings"
	"time"
)

// Group ties mutually exclusive auctions together: at most one member should
// end up won. Membership lives on Auction.GroupID only.
type Group struct {
	ID        int64     `json:"id"         db:"id"`
	Name      string    `json:"name"       db:"name"`
	Notes     string    `json:"notes"      db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NormalizeGroupName trims the name and rejects empty input.
func NormalizeGroupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidGroupName
	}
	return name, nil
}

// GroupSummary is a group plus per-status counts of its members.
type GroupSummary struct {
	Group
	Members int          `json:"members"`
	Counts  StatusCounts `json:"counts"`
}
