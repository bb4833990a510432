package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pennybid/bid-engine/internal/model"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const auctionColumns = `id, title, current_price::TEXT, total_bids, status,
		        min_price_limit::TEXT, winner_id, timer_seconds, created_at`

const walletColumns = `id, email, balance::TEXT, total_deposit::TEXT,
		        loyalty_level, is_blocked, created_at`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Row locks are taken with SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	// Rollback must run even when ctx is already cancelled.
	rollback := func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }
	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
		if err != nil {
			rollback()
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auctions (id, title, current_price, total_bids, status, min_price_limit, winner_id, timer_seconds, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6::NUMERIC, $7, $8, $9)`,
		a.ID, a.Title, a.CurrentPrice.String(), a.TotalBids, string(a.Status),
		a.MinPriceLimit.String(), a.WinnerID, a.CountdownSeconds, a.CreatedAt,
	)
	return mapWriteErr(err, "auction "+a.ID)
}

func (s *PostgresStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	tier := w.LoyaltyTier
	if tier == "" {
		tier = model.TierHero
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, balance, total_deposit, loyalty_level, is_blocked, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7)`,
		w.ID, w.Email, w.Balance.String(), w.CumulativeDeposit.String(),
		string(tier), w.IsBlocked, w.CreatedAt,
	)
	return mapWriteErr(err, "wallet "+w.ID)
}

func (s *PostgresStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	a, err := scanAuction(s.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get auction %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, id string) (*model.Wallet, error) {
	w, err := scanWallet(s.pool.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", id, err)
	}
	return w, nil
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, bidderID string, limit int) ([]model.LedgerEntry, error) {
	// LIMIT NULL means no limit.
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, amount::TEXT, balance_after::TEXT,
		        reference, payment_method, status, created_at
		 FROM transactions WHERE user_id = $1
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $2`, bidderID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind, amountS, balanceS string
		if err := rows.Scan(&e.ID, &e.BidderID, &kind, &amountS, &balanceS,
			&e.Reference, &e.PaymentMethod, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = model.EntryKind(kind)
		e.Amount, _ = decimal.NewFromString(amountS)
		e.BalanceAfter, _ = decimal.NewFromString(balanceS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) ListBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, auction_id, user_id, bid_amount::TEXT, price_after_bid::TEXT, is_bot, created_at
		 FROM bids WHERE auction_id = $1 ORDER BY seq`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		var b model.Bid
		var amountS, priceS string
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &amountS, &priceS,
			&b.IsBot, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Amount, _ = decimal.NewFromString(amountS)
		b.PriceAfterBid, _ = decimal.NewFromString(priceS)
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (s *PostgresStore) ListEarlyParticipants(ctx context.Context, auctionID string) ([]model.EarlyParticipation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT auction_id, user_id, joined_at
		 FROM early_participants WHERE auction_id = $1 ORDER BY joined_at`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.EarlyParticipation
	for rows.Next() {
		var ep model.EarlyParticipation
		if err := rows.Scan(&ep.AuctionID, &ep.BidderID, &ep.JoinedAt); err != nil {
			return nil, err
		}
		result = append(result, ep)
	}
	return result, rows.Err()
}

// --- Transactions ---

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockAuction(ctx context.Context, id string) (*model.Auction, error) {
	a, err := scanAuction(t.tx.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock auction %s: %w", id, err)
	}
	return a, nil
}

func (t *pgTx) LockWallet(ctx context.Context, id string) (*model.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock wallet %s: %w", id, err)
	}
	return w, nil
}

func (t *pgTx) HasEarlyParticipation(ctx context.Context, auctionID, bidderID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM early_participants WHERE auction_id = $1 AND user_id = $2)`,
		auctionID, bidderID).Scan(&exists)
	return exists, err
}

func (t *pgTx) HasLedgerReference(ctx context.Context, kind model.EntryKind, reference string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE type = $1 AND reference = $2)`,
		string(kind), reference).Scan(&exists)
	return exists, err
}

func (t *pgTx) UpdateAuction(ctx context.Context, a *model.Auction) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE auctions
		 SET current_price = $2::NUMERIC, total_bids = $3, timer_seconds = $4
		 WHERE id = $1`,
		a.ID, a.CurrentPrice.String(), a.TotalBids, a.CountdownSeconds,
	)
	return err
}

func (t *pgTx) UpdateWallet(ctx context.Context, w *model.Wallet) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE users
		 SET balance = $2::NUMERIC, total_deposit = $3::NUMERIC, loyalty_level = $4
		 WHERE id = $1`,
		w.ID, w.Balance.String(), w.CumulativeDeposit.String(), string(w.LoyaltyTier),
	)
	return err
}

func (t *pgTx) InsertBid(ctx context.Context, b *model.Bid) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO bids (id, auction_id, user_id, bid_amount, price_after_bid, is_bot, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7)`,
		b.ID, b.AuctionID, b.BidderID, b.Amount.String(), b.PriceAfterBid.String(), b.IsBot, b.CreatedAt,
	)
	return err
}

func (t *pgTx) InsertEarlyParticipation(ctx context.Context, ep *model.EarlyParticipation) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO early_participants (auction_id, user_id, joined_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (auction_id, user_id) DO NOTHING`,
		ep.AuctionID, ep.BidderID, ep.JoinedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, balance_after, reference, payment_method, status, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9)`,
		e.ID, e.BidderID, string(e.Kind), e.Amount.String(), e.BalanceAfter.String(),
		e.Reference, e.PaymentMethod, e.Status, e.CreatedAt,
	)
	return mapWriteErr(err, "ledger reference "+e.Reference)
}

// --- Scanning helpers ---

func scanAuction(row pgx.Row) (*model.Auction, error) {
	var a model.Auction
	var status, priceS, limitS string

	if err := row.Scan(&a.ID, &a.Title, &priceS, &a.TotalBids, &status,
		&limitS, &a.WinnerID, &a.CountdownSeconds, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.Status = model.AuctionStatus(status)
	a.CurrentPrice, _ = decimal.NewFromString(priceS)
	a.MinPriceLimit, _ = decimal.NewFromString(limitS)
	return &a, nil
}

func scanWallet(row pgx.Row) (*model.Wallet, error) {
	var w model.Wallet
	var tier, balanceS, depositS string

	if err := row.Scan(&w.ID, &w.Email, &balanceS, &depositS,
		&tier, &w.IsBlocked, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	w.LoyaltyTier = model.LoyaltyTier(tier)
	w.Balance, _ = decimal.NewFromString(balanceS)
	w.CumulativeDeposit, _ = decimal.NewFromString(depositS)
	return &w, nil
}

// mapWriteErr converts unique violations into ErrDuplicate.
func mapWriteErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return err
}
