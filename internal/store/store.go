// Package store defines the persistence interface for the bid engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/pennybid/bid-engine/internal/model"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when an insert violates a uniqueness rule,
	// such as a second top-up credit for the same external reference.
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// InTx runs fn inside one atomic unit of work. The unit commits when fn
	// returns nil and rolls back on any error or panic; row locks taken
	// through the Tx are released in both cases.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// --- Seeding (auction creation and registration live elsewhere) ---

	// CreateAuction persists a new auction.
	CreateAuction(ctx context.Context, a *model.Auction) error

	// CreateWallet persists a new wallet.
	CreateWallet(ctx context.Context, w *model.Wallet) error

	// --- Unlocked reads ---

	// GetAuction retrieves an auction by its ID.
	GetAuction(ctx context.Context, id string) (*model.Auction, error)

	// GetWallet retrieves a wallet by its owner's ID.
	GetWallet(ctx context.Context, id string) (*model.Wallet, error)

	// ListLedgerEntries returns a bidder's ledger, newest first.
	// A limit <= 0 returns every entry.
	ListLedgerEntries(ctx context.Context, bidderID string, limit int) ([]model.LedgerEntry, error)

	// ListBids returns all accepted bids for an auction in order.
	ListBids(ctx context.Context, auctionID string) ([]model.Bid, error)

	// ListEarlyParticipants returns the early participants of an auction.
	ListEarlyParticipants(ctx context.Context, auctionID string) ([]model.EarlyParticipation, error)
}

// Tx is a transactional session. Everything written through it becomes
// visible atomically at commit, or not at all.
type Tx interface {
	// LockAuction takes an exclusive lock on the auction row and returns
	// its current state. Blocks until the lock is free or ctx is done.
	LockAuction(ctx context.Context, id string) (*model.Auction, error)

	// LockWallet takes an exclusive lock on the wallet row.
	LockWallet(ctx context.Context, id string) (*model.Wallet, error)

	// HasEarlyParticipation reports whether the pair is already recorded.
	HasEarlyParticipation(ctx context.Context, auctionID, bidderID string) (bool, error)

	// HasLedgerReference reports whether an entry of kind with the given
	// reference exists.
	HasLedgerReference(ctx context.Context, kind model.EntryKind, reference string) (bool, error)

	// UpdateAuction writes the bid-mutable fields: current price, total
	// bids and countdown. Status and winner are never written here.
	UpdateAuction(ctx context.Context, a *model.Auction) error

	// UpdateWallet writes balance, cumulative deposit and loyalty tier.
	UpdateWallet(ctx context.Context, w *model.Wallet) error

	// InsertBid appends an accepted bid.
	InsertBid(ctx context.Context, b *model.Bid) error

	// InsertEarlyParticipation records the pair if absent. It reports
	// whether a new row was written; an existing row is not an error.
	InsertEarlyParticipation(ctx context.Context, ep *model.EarlyParticipation) (bool, error)

	// InsertLedgerEntry appends an immutable ledger entry.
	InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
}
