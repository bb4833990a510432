// Package bidding places bids on penny auctions.
//
// A bid is one atomic unit of work: lock the auction row, lock the bidder's
// wallet row, evaluate eligibility against that locked state, then debit the
// wallet, advance the auction and append the bid and ledger rows. The auction
// row lock totally orders bids per auction; bids on different auctions never
// wait on each other. A credit only ever locks a wallet, so the
// auction→wallet order here cannot deadlock against it.
//
// All monetary values use shopspring/decimal, never float64.
package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pennybid/bid-engine/internal/eligibility"
	"github.com/pennybid/bid-engine/internal/events"
	"github.com/pennybid/bid-engine/internal/metrics"
	"github.com/pennybid/bid-engine/internal/model"
	"github.com/pennybid/bid-engine/internal/store"
)

var (
	// ErrStorage is returned when the unit of work failed and was rolled
	// back. Nothing was written; the whole bid may be retried.
	ErrStorage = errors.New("bidding: storage failure")

	// ErrInvalidInput is returned for an empty auction or bidder ID.
	ErrInvalidInput = errors.New("bidding: invalid input")
)

// Outcome is the tagged result of a bid attempt.
type Outcome string

const (
	OutcomeAccepted        Outcome = "accepted"
	OutcomeRejected        Outcome = "rejected"
	OutcomeAuctionNotFound Outcome = "auction_not_found"
	OutcomeBidderNotFound  Outcome = "bidder_not_found"
)

// Config holds the bid economics.
type Config struct {
	BidCost        decimal.Decimal // debited from the wallet per bid
	BidStep        decimal.Decimal // added to the auction price per bid
	CountdownReset int             // seconds written to the auction on every bid
}

// DefaultConfig returns cost 50, step 50 and a 10 second countdown.
func DefaultConfig() Config {
	return Config{
		BidCost:        decimal.NewFromInt(50),
		BidStep:        decimal.NewFromInt(50),
		CountdownReset: 10,
	}
}

// BidResult describes what happened to one bid. Fields beyond Outcome and
// Reason are only set when the bid was accepted.
type BidResult struct {
	Outcome Outcome
	Reason  eligibility.Reason

	BidID            string
	AuctionID        string
	BidderID         string
	PreviousPrice    decimal.Decimal
	NewPrice         decimal.Decimal
	NewBalance       decimal.Decimal
	TotalBids        int
	Countdown        int
	EarlyParticipant bool // an early-participation row was written by this bid
}

// Accepted reports whether the bid was applied.
func (r BidResult) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}

// label is the metrics/log label: the reason for rejections, else the outcome.
func (r BidResult) label() string {
	if r.Outcome == OutcomeRejected {
		return string(r.Reason)
	}
	return string(r.Outcome)
}

// Engine executes bids against a Store.
type Engine struct {
	store     store.Store
	cfg       Config
	publisher events.Publisher
	now       func() time.Time
}

// NewEngine creates a bid engine. A nil publisher discards events.
func NewEngine(st store.Store, cfg Config, pub events.Publisher) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{
		store:     st,
		cfg:       cfg,
		publisher: pub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PlaceBid runs one bid for bidderID on auctionID.
//
// Domain rejections and missing rows are reported through BidResult with a
// nil error. A non-nil error always wraps ErrStorage or ErrInvalidInput, and
// in the storage case nothing was committed.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID string) (BidResult, error) {
	if auctionID == "" || bidderID == "" {
		return BidResult{}, fmt.Errorf("%w: auction_id and bidder are required", ErrInvalidInput)
	}

	start := time.Now()
	var res BidResult

	err := e.store.InTx(ctx, func(tx store.Tx) error {
		res = BidResult{AuctionID: auctionID, BidderID: bidderID}

		auction, err := tx.LockAuction(ctx, auctionID)
		if errors.Is(err, store.ErrNotFound) {
			res.Outcome = OutcomeAuctionNotFound
			return nil
		}
		if err != nil {
			return err
		}

		wallet, err := tx.LockWallet(ctx, bidderID)
		if errors.Is(err, store.ErrNotFound) {
			res.Outcome = OutcomeBidderNotFound
			return nil
		}
		if err != nil {
			return err
		}

		snap := eligibility.Snapshot{
			Status:        auction.Status,
			WinnerID:      auction.WinnerID,
			CurrentPrice:  auction.CurrentPrice,
			MinPriceLimit: auction.MinPriceLimit,
			Balance:       wallet.Balance,
			BidCost:       e.cfg.BidCost,
		}
		if !auction.Closed() && eligibility.NeedsParticipationCheck(auction.CurrentPrice, auction.MinPriceLimit) {
			snap.EarlyParticipant, err = tx.HasEarlyParticipation(ctx, auctionID, bidderID)
			if err != nil {
				return err
			}
		}

		decision := eligibility.Evaluate(snap)
		if !decision.Eligible {
			res.Outcome = OutcomeRejected
			res.Reason = decision.Reason
			return nil
		}

		return e.apply(ctx, tx, auction, wallet, &res)
	})

	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.StorageFailures.WithLabelValues("bid").Inc()
		metrics.BidsTotal.WithLabelValues("storage_error").Inc()
		metrics.BidLatency.WithLabelValues("storage_error").Observe(elapsed)
		slog.Error("bid failed", "auction", auctionID, "bidder", bidderID, "err", err)
		return BidResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	metrics.BidsTotal.WithLabelValues(res.label()).Inc()
	metrics.BidLatency.WithLabelValues(res.label()).Observe(elapsed)

	if !res.Accepted() {
		slog.Info("bid rejected", "auction", auctionID, "bidder", bidderID, "outcome", res.label())
		return res, nil
	}

	slog.Info("bid accepted",
		"bid_id", res.BidID,
		"auction", auctionID,
		"bidder", bidderID,
		"price", res.NewPrice.String(),
		"balance", res.NewBalance.String(),
		"total_bids", res.TotalBids,
		"early", res.EarlyParticipant,
	)

	// The bid is committed. Publishing is best effort and still happens
	// when the caller has gone away.
	e.publisher.Publish(context.WithoutCancel(ctx), events.Event{
		Type:      events.TypeBidPlaced,
		AuctionID: auctionID,
		BidderID:  bidderID,
		Price:     res.NewPrice,
		TotalBids: res.TotalBids,
		Countdown: res.Countdown,
		Amount:    e.cfg.BidCost.Neg(),
		Balance:   res.NewBalance,
		Timestamp: e.now(),
	})
	return res, nil
}

// apply performs the mutations of an eligible bid inside tx.
func (e *Engine) apply(ctx context.Context, tx store.Tx, auction *model.Auction, wallet *model.Wallet, res *BidResult) error {
	now := e.now()
	before := auction.CurrentPrice

	auction.CurrentPrice = before.Add(e.cfg.BidStep)
	auction.TotalBids++
	auction.CountdownSeconds = e.cfg.CountdownReset
	if err := tx.UpdateAuction(ctx, auction); err != nil {
		return fmt.Errorf("update auction: %w", err)
	}

	wallet.Balance = wallet.Balance.Sub(e.cfg.BidCost)
	if err := tx.UpdateWallet(ctx, wallet); err != nil {
		return fmt.Errorf("update wallet: %w", err)
	}

	bid := &model.Bid{
		ID:            uuid.New().String(),
		AuctionID:     auction.ID,
		BidderID:      wallet.ID,
		Amount:        e.cfg.BidCost,
		PriceAfterBid: auction.CurrentPrice,
		CreatedAt:     now,
	}
	if err := tx.InsertBid(ctx, bid); err != nil {
		return fmt.Errorf("insert bid: %w", err)
	}

	entry := &model.LedgerEntry{
		ID:           uuid.New().String(),
		BidderID:     wallet.ID,
		Kind:         model.EntryBidDebit,
		Amount:       e.cfg.BidCost.Neg(),
		BalanceAfter: wallet.Balance,
		Reference:    model.AuctionReference(auction.ID),
		Status:       model.EntryStatusCompleted,
		CreatedAt:    now,
	}
	if err := tx.InsertLedgerEntry(ctx, entry); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	var early bool
	if before.LessThan(auction.MinPriceLimit) {
		var err error
		early, err = tx.InsertEarlyParticipation(ctx, &model.EarlyParticipation{
			AuctionID: auction.ID,
			BidderID:  wallet.ID,
			JoinedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("insert early participation: %w", err)
		}
	}

	*res = BidResult{
		Outcome:          OutcomeAccepted,
		BidID:            bid.ID,
		AuctionID:        auction.ID,
		BidderID:         wallet.ID,
		PreviousPrice:    before,
		NewPrice:         auction.CurrentPrice,
		NewBalance:       wallet.Balance,
		TotalBids:        auction.TotalBids,
		Countdown:        auction.CountdownSeconds,
		EarlyParticipant: early,
	}
	return nil
}
