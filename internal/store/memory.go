package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/pennybid/bid-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Row locks are per key, so transactions on different auctions never wait
// on each other. Writes made through a Tx are staged and applied in one
// step at commit; a rolled-back Tx leaves no trace.
type MemoryStore struct {
	mu       sync.RWMutex
	auctions map[string]*model.Auction
	wallets  map[string]*model.Wallet
	bids     []model.Bid
	early    []model.EarlyParticipation
	ledger   []model.LedgerEntry

	locks *rowLocks
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[string]*model.Auction),
		wallets:  make(map[string]*model.Wallet),
		locks:    &rowLocks{slots: make(map[string]chan struct{})},
	}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		s:        s,
		held:     make(map[string]bool),
		auctions: make(map[string]*model.Auction),
		wallets:  make(map[string]*model.Wallet),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) CreateAuction(_ context.Context, a *model.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[a.ID]; ok {
		return fmt.Errorf("auction %s: %w", a.ID, ErrDuplicate)
	}
	s.auctions[a.ID] = cloneAuction(a)
	return nil
}

func (s *MemoryStore) CreateWallet(_ context.Context, w *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wallets[w.ID]; ok {
		return fmt.Errorf("wallet %s: %w", w.ID, ErrDuplicate)
	}
	clone := *w
	if clone.LoyaltyTier == "" {
		clone.LoyaltyTier = model.TierHero
	}
	s.wallets[w.ID] = &clone
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, id string) (*model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	return cloneAuction(a), nil
}

func (s *MemoryStore) GetWallet(_ context.Context, id string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", id, ErrNotFound)
	}
	clone := *w
	return &clone, nil
}

func (s *MemoryStore) ListLedgerEntries(_ context.Context, bidderID string, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].BidderID != bidderID {
			continue
		}
		result = append(result, s.ledger[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) ListBids(_ context.Context, auctionID string) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bid
	for _, b := range s.bids {
		if b.AuctionID == auctionID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListEarlyParticipants(_ context.Context, auctionID string) ([]model.EarlyParticipation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.EarlyParticipation
	for _, ep := range s.early {
		if ep.AuctionID == auctionID {
			result = append(result, ep)
		}
	}
	return result, nil
}

// --- Transactions ---

// memTx stages writes until commit. Reads see committed state overlaid
// with the transaction's own staged writes.
type memTx struct {
	s    *MemoryStore
	held map[string]bool

	auctions map[string]*model.Auction
	wallets  map[string]*model.Wallet
	bids     []model.Bid
	early    []model.EarlyParticipation
	ledger   []model.LedgerEntry
}

func (tx *memTx) lock(ctx context.Context, key string) error {
	if tx.held[key] {
		return nil
	}
	if err := tx.s.locks.acquire(ctx, key); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	tx.held[key] = true
	return nil
}

func (tx *memTx) release() {
	for key := range tx.held {
		tx.s.locks.release(key)
	}
	tx.held = nil
}

func (tx *memTx) LockAuction(ctx context.Context, id string) (*model.Auction, error) {
	if _, err := tx.s.GetAuction(ctx, id); err != nil {
		return nil, err
	}
	if err := tx.lock(ctx, auctionKey(id)); err != nil {
		return nil, err
	}
	if staged, ok := tx.auctions[id]; ok {
		return cloneAuction(staged), nil
	}
	// Re-read under the lock: the pre-lock copy may be stale.
	return tx.s.GetAuction(ctx, id)
}

func (tx *memTx) LockWallet(ctx context.Context, id string) (*model.Wallet, error) {
	if _, err := tx.s.GetWallet(ctx, id); err != nil {
		return nil, err
	}
	if err := tx.lock(ctx, walletKey(id)); err != nil {
		return nil, err
	}
	if staged, ok := tx.wallets[id]; ok {
		clone := *staged
		return &clone, nil
	}
	return tx.s.GetWallet(ctx, id)
}

func (tx *memTx) HasEarlyParticipation(_ context.Context, auctionID, bidderID string) (bool, error) {
	return tx.hasEarly(auctionID, bidderID), nil
}

func (tx *memTx) HasLedgerReference(_ context.Context, kind model.EntryKind, reference string) (bool, error) {
	return tx.hasReference(kind, reference), nil
}

// hasEarly checks the staged rows, then the committed ones.
func (tx *memTx) hasEarly(auctionID, bidderID string) bool {
	for _, ep := range tx.early {
		if ep.AuctionID == auctionID && ep.BidderID == bidderID {
			return true
		}
	}

	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.hasEarlyLocked(auctionID, bidderID)
}

func (tx *memTx) hasReference(kind model.EntryKind, reference string) bool {
	for _, e := range tx.ledger {
		if e.Kind == kind && e.Reference == reference {
			return true
		}
	}

	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.hasReferenceLocked(kind, reference)
}

func (tx *memTx) UpdateAuction(_ context.Context, a *model.Auction) error {
	if !tx.held[auctionKey(a.ID)] {
		return fmt.Errorf("update auction %s: row not locked", a.ID)
	}
	tx.auctions[a.ID] = cloneAuction(a)
	return nil
}

func (tx *memTx) UpdateWallet(_ context.Context, w *model.Wallet) error {
	if !tx.held[walletKey(w.ID)] {
		return fmt.Errorf("update wallet %s: row not locked", w.ID)
	}
	clone := *w
	tx.wallets[w.ID] = &clone
	return nil
}

func (tx *memTx) InsertBid(_ context.Context, b *model.Bid) error {
	tx.bids = append(tx.bids, *b)
	return nil
}

func (tx *memTx) InsertEarlyParticipation(_ context.Context, ep *model.EarlyParticipation) (bool, error) {
	if tx.hasEarly(ep.AuctionID, ep.BidderID) {
		return false, nil
	}
	tx.early = append(tx.early, *ep)
	return true, nil
}

func (tx *memTx) InsertLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	if e.Kind == model.EntryTopUpCredit && tx.hasReference(e.Kind, e.Reference) {
		return fmt.Errorf("ledger reference %s: %w", e.Reference, ErrDuplicate)
	}
	tx.ledger = append(tx.ledger, *e)
	return nil
}

// commit applies every staged write under the store mutex, so readers
// observe either none or all of them.
func (tx *memTx) commit() error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	// Reference uniqueness spans wallets, which do not share a row lock.
	for _, e := range tx.ledger {
		if e.Kind == model.EntryTopUpCredit && s.hasReferenceLocked(e.Kind, e.Reference) {
			return fmt.Errorf("ledger reference %s: %w", e.Reference, ErrDuplicate)
		}
	}

	for id, a := range tx.auctions {
		cur := s.auctions[id]
		cur.CurrentPrice = a.CurrentPrice
		cur.TotalBids = a.TotalBids
		cur.CountdownSeconds = a.CountdownSeconds
	}
	for id, w := range tx.wallets {
		cur := s.wallets[id]
		cur.Balance = w.Balance
		cur.CumulativeDeposit = w.CumulativeDeposit
		cur.LoyaltyTier = w.LoyaltyTier
	}
	s.bids = append(s.bids, tx.bids...)
	for _, ep := range tx.early {
		if !s.hasEarlyLocked(ep.AuctionID, ep.BidderID) {
			s.early = append(s.early, ep)
		}
	}
	s.ledger = append(s.ledger, tx.ledger...)
	return nil
}

func (s *MemoryStore) hasEarlyLocked(auctionID, bidderID string) bool {
	for _, ep := range s.early {
		if ep.AuctionID == auctionID && ep.BidderID == bidderID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) hasReferenceLocked(kind model.EntryKind, reference string) bool {
	for _, e := range s.ledger {
		if e.Kind == kind && e.Reference == reference {
			return true
		}
	}
	return false
}

// --- Row locks ---

// rowLocks hands out one single-slot channel per row key. A channel send
// acquires, a receive releases; waiting on a send honours ctx.
type rowLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func (l *rowLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *rowLocks) acquire(ctx context.Context, key string) error {
	select {
	case l.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *rowLocks) release(key string) {
	<-l.slot(key)
}

func auctionKey(id string) string { return "auction:" + id }
func walletKey(id string) string  { return "wallet:" + id }

func cloneAuction(a *model.Auction) *model.Auction {
	clone := *a
	if a.WinnerID != nil {
		w := *a.WinnerID
		clone.WinnerID = &w
	}
	return &clone
}
