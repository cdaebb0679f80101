package service

import (
	"context"

	"github.com/evetabi/snipe/internal/domain"
	"github.com/evetabi/snipe/internal/supervisor"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Store: persistence contract
// ──────────────────────────────────────────────────────────────────────────────

// Store is the persistence contract every service works against.
// Implemented by repository.SQLStore and repository.MemoryStore.
//
// Writes are compare-and-set on Auction.Version: Upsert of an auction with
// Version 0 inserts it, any other Version must match the stored one or the
// write fails with domain.ErrStaleAuction. On success the passed auction's
// Version and UpdatedAt are advanced.
type Store interface {
	GetAll(ctx context.Context) ([]*domain.Auction, error)
	Get(ctx context.Context, id int64) (*domain.Auction, error)
	Upsert(ctx context.Context, a *domain.Auction) error
	Delete(ctx context.Context, id int64) error
	ListByGroup(ctx context.Context, groupID int64) ([]*domain.Auction, error)
	ListGroups(ctx context.Context) ([]*domain.Group, error)

	// SettleWin persists winner (CAS) and supersedes every other member of
	// its group in a single transaction. Returns the superseded ids.
	SettleWin(ctx context.Context, winner *domain.Auction) ([]int64, error)
	// SupersedeSiblings marks every member of groupID except exceptID as
	// superseded. Members already superseded are left untouched.
	SupersedeSiblings(ctx context.Context, groupID, exceptID int64) ([]int64, error)

	GetGroup(ctx context.Context, id int64) (*domain.Group, error)
	CreateGroup(ctx context.Context, g *domain.Group) error
	UpdateGroupNotes(ctx context.Context, id int64, notes string) error
	// DeleteGroup removes the group and ungroups its members.
	DeleteGroup(ctx context.Context, id int64) error
}

// ──────────────────────────────────────────────────────────────────────────────
// Collaborator interfaces
// ──────────────────────────────────────────────────────────────────────────────

// WorkerSupervisor is what the services need from supervisor.Supervisor.
type WorkerSupervisor interface {
	Launch(ctx context.Context, auctionID int64, bid decimal.Decimal) (domain.WorkerHandle, error)
	Terminate(ctx context.Context, h domain.WorkerHandle) error
	ListLivePids(ctx context.Context) (map[int]struct{}, error)
	ReadLog(auctionID int64) ([]byte, error)
	CleanupFiles(auctionID int64) error
	ListArtifacts() ([]supervisor.Artifact, error)
	RemoveArtifact(a supervisor.Artifact) error
	Shared(fn func() error) error
	Exclusive(fn func() error) error
}

// Broadcaster pushes state changes to connected clients.
// Implemented by ws.Hub.
type Broadcaster interface {
	BroadcastStatusChange(change domain.StatusChange)
	BroadcastTick(report *domain.TickReport)
}

// TickRecorder receives the outcome of every reconciliation pass.
// Implemented by metrics.Collector.
type TickRecorder interface {
	ObserveTick(report *domain.TickReport, err error)
}
