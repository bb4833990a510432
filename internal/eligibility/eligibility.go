// Package eligibility decides whether a bidder may bid on an auction.
//
// The evaluation is pure: callers pass a snapshot read under the auction's
// row lock, never a cached value, so that many bidders crossing the
// early-participant threshold at once cannot slip through on a stale price.
//
// Rules run in order and the first failing rule wins:
//  1. auction not active, or a winner already assigned → auction_closed
//  2. balance below the bid cost                       → insufficient_balance
//  3. price at or above min_price_limit and the bidder
//     has no early-participation record                → quota_exceeded
//
// Rule 3 is the "No Jumper" rule: once the early-bird threshold is crossed,
// only bidders who joined before it may continue.
package eligibility

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/pennybid/bid-engine/internal/model"
)

var (
	// ErrAuctionClosed is returned for auctions that are not active or
	// already have a winner.
	ErrAuctionClosed = errors.New("eligibility: auction closed")

	// ErrInsufficientBalance is returned when the wallet cannot cover the
	// bid cost.
	ErrInsufficientBalance = errors.New("eligibility: insufficient balance")

	// ErrQuotaExceeded is returned when the price has crossed the
	// early-participant threshold and the bidder was not an early participant.
	ErrQuotaExceeded = errors.New("eligibility: no jumper quota exceeded")
)

// Reason identifies why a bid was rejected.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonAuctionClosed       Reason = "auction_closed"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonQuotaExceeded       Reason = "quota_exceeded"
)

// Snapshot is the state the evaluator needs, read under lock.
type Snapshot struct {
	Status        model.AuctionStatus
	WinnerID      *string
	CurrentPrice  decimal.Decimal
	MinPriceLimit decimal.Decimal
	Balance       decimal.Decimal
	BidCost       decimal.Decimal

	// EarlyParticipant is true when the bidder already has an
	// early-participation record for this auction.
	EarlyParticipant bool
}

// Decision is the tagged result of an evaluation.
type Decision struct {
	Eligible bool
	Reason   Reason
}

// Evaluate applies the eligibility rules to a snapshot.
func Evaluate(s Snapshot) Decision {
	if s.Status != model.AuctionActive || s.WinnerID != nil {
		return reject(ReasonAuctionClosed)
	}
	if s.Balance.LessThan(s.BidCost) {
		return reject(ReasonInsufficientBalance)
	}
	if NeedsParticipationCheck(s.CurrentPrice, s.MinPriceLimit) && !s.EarlyParticipant {
		return reject(ReasonQuotaExceeded)
	}
	return Decision{Eligible: true}
}

// NeedsParticipationCheck reports whether the quota rule applies at price.
// Callers use it to skip the early-participation lookup below the threshold.
func NeedsParticipationCheck(currentPrice, minPriceLimit decimal.Decimal) bool {
	return currentPrice.GreaterThanOrEqual(minPriceLimit)
}

// Err returns the sentinel error for a rejected decision, or nil.
func (d Decision) Err() error {
	switch d.Reason {
	case ReasonAuctionClosed:
		return ErrAuctionClosed
	case ReasonInsufficientBalance:
		return ErrInsufficientBalance
	case ReasonQuotaExceeded:
		return ErrQuotaExceeded
	}
	return nil
}

func reject(r Reason) Decision {
	return Decision{Reason: r}
}
