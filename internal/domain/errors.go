package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors: compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Auction errors
var (
	// ErrAuctionNotFound is returned when no auction record matches the given id.
	ErrAuctionNotFound = errors.New("auction not found")

	// ErrAuctionExists is returned when an insert collides with an existing id.
	ErrAuctionExists = errors.New("auction already exists")

	// ErrStaleAuction is returned by a compare-and-set write when the stored
	// version no longer matches the version the caller read.
	ErrStaleAuction = errors.New("auction was modified concurrently")

	// ErrInvalidBid is returned when a bid cannot be parsed or is not positive.
	ErrInvalidBid = errors.New("invalid bid amount")

	// ErrInvalidAuctionID is returned for zero or negative auction ids.
	ErrInvalidAuctionID = errors.New("invalid auction id")
)

// Group errors
var (
	// ErrGroupNotFound is returned when no group matches the given id or name.
	ErrGroupNotFound = errors.New("group not found")

	// ErrGroupNameTaken is returned when a group with the same name exists.
	ErrGroupNameTaken = errors.New("group name is already taken")

	// ErrInvalidGroupName is returned for an empty group name.
	ErrInvalidGroupName = errors.New("group name must not be empty")
)

// Worker / reconciliation errors
var (
	// ErrLogNotFound is returned when an auction has no log file on disk.
	ErrLogNotFound = errors.New("worker log not found")

	// ErrTickInProgress is returned when Tick is called while another tick
	// is still running.
	ErrTickInProgress = errors.New("reconciliation tick already in progress")

	// ErrProcessTable is returned when the OS process table cannot be read.
	ErrProcessTable = errors.New("process table unavailable")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound can stay in sync automatically.
var notFoundErrors = []error{
	ErrAuctionNotFound,
	ErrGroupNotFound,
	ErrLogNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors. Use this when translating domain errors to
// HTTP 404 responses.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict
// (concurrent modification, duplicate names, overlapping ticks).
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrStaleAuction,
		ErrAuctionExists,
		ErrGroupNameTaken,
		ErrTickInProgress,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation returns true for errors caused by bad caller input.
func IsValidation(err error) bool {
	for _, target := range []error{ErrInvalidBid, ErrInvalidAuctionID, ErrInvalidGroupName} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
