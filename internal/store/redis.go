package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pennybid/bid-engine/internal/model"
)

// reevictDelay is how long after a commit an auction key is evicted a second
// time. A reader that missed the cache before the commit may still write the
// old row back after the first eviction.
const reevictDelay = 500 * time.Millisecond

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for auction reads. Transactions always run against the primary;
// auctions locked by a committed transaction are evicted afterwards, and once
// more after reevictDelay. Wallets change on every bid and are always read
// from the primary. Locked reads inside a transaction never consult the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	reevict time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		reevict: reevictDelay,
	}
}

// --- Transactions (primary, then invalidate) ---

func (s *CachedStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	rec := &touchedTx{}
	err := s.primary.InTx(ctx, func(tx Tx) error {
		rec.Tx = tx
		return fn(rec)
	})
	if err != nil {
		return err
	}

	// The commit stands even if the caller has gone away.
	keys := rec.keys()
	if len(keys) > 0 {
		bg := context.WithoutCancel(ctx)
		s.rdb.Del(bg, keys...)
		time.AfterFunc(s.reevict, func() { s.rdb.Del(bg, keys...) })
	}
	return nil
}

// --- Write-through ---

func (s *CachedStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	if err := s.primary.CreateAuction(ctx, a); err != nil {
		return err
	}
	s.cache(ctx, auctionCacheKey(a.ID), a)
	return nil
}

func (s *CachedStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	return s.primary.CreateWallet(ctx, w)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	data, err := s.rdb.Get(ctx, auctionCacheKey(id)).Bytes()
	if err == nil {
		var a model.Auction
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, auctionCacheKey(id), a)
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetWallet(ctx context.Context, id string) (*model.Wallet, error) {
	return s.primary.GetWallet(ctx, id)
}

func (s *CachedStore) ListLedgerEntries(ctx context.Context, bidderID string, limit int) ([]model.LedgerEntry, error) {
	return s.primary.ListLedgerEntries(ctx, bidderID, limit)
}

func (s *CachedStore) ListBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	return s.primary.ListBids(ctx, auctionID)
}

func (s *CachedStore) ListEarlyParticipants(ctx context.Context, auctionID string) ([]model.EarlyParticipation, error) {
	return s.primary.ListEarlyParticipants(ctx, auctionID)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// touchedTx records which cached auctions a transaction locked.
type touchedTx struct {
	Tx

	mu      sync.Mutex
	touched []string
}

func (t *touchedTx) LockAuction(ctx context.Context, id string) (*model.Auction, error) {
	t.touch(auctionCacheKey(id))
	return t.Tx.LockAuction(ctx, id)
}

func (t *touchedTx) touch(key string) {
	t.mu.Lock()
	t.touched = append(t.touched, key)
	t.mu.Unlock()
}

func (t *touchedTx) keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.touched
}

func auctionCacheKey(id string) string { return fmt.Sprintf("auction:%s", id) }
