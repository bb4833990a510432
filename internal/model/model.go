// Package model defines the core domain types shared across the bid engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionActive    AuctionStatus = "active"
	AuctionEnded     AuctionStatus = "ended"
	AuctionCancelled AuctionStatus = "cancelled"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryBidDebit    EntryKind = "bid_debit"
	EntryTopUpCredit EntryKind = "topup_credit"
)

// EntryStatusCompleted is the only status the engine writes.
const EntryStatusCompleted = "completed"

// LoyaltyTier is the reward tier derived from a wallet's lifetime deposits.
type LoyaltyTier string

const (
	TierHero    LoyaltyTier = "Hero"
	TierNoble   LoyaltyTier = "Noble"
	TierMonarch LoyaltyTier = "Monarch"
)

// Auction is one live penny-auction item. Only the bid engine mutates
// CurrentPrice, TotalBids and CountdownSeconds; Status and WinnerID belong
// to the external closing process.
type Auction struct {
	ID               string          `json:"id" db:"id"`
	Title            string          `json:"title" db:"title"`
	CurrentPrice     decimal.Decimal `json:"current_price" db:"current_price"`
	TotalBids        int             `json:"total_bids" db:"total_bids"`
	Status           AuctionStatus   `json:"status" db:"status"`
	MinPriceLimit    decimal.Decimal `json:"min_price_limit" db:"min_price_limit"` // early-participant threshold
	WinnerID         *string         `json:"winner_id,omitempty" db:"winner_id"`
	CountdownSeconds int             `json:"countdown_seconds" db:"timer_seconds"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// Closed reports whether the auction no longer accepts bids.
func (a *Auction) Closed() bool {
	return a.Status != AuctionActive || a.WinnerID != nil
}

// Wallet is the single balance held by one bidder identity.
type Wallet struct {
	ID                string          `json:"id" db:"id"`
	Email             string          `json:"email" db:"email"`
	Balance           decimal.Decimal `json:"balance" db:"balance"`
	CumulativeDeposit decimal.Decimal `json:"total_deposit" db:"total_deposit"`
	LoyaltyTier       LoyaltyTier     `json:"loyalty_level" db:"loyalty_level"`
	IsBlocked         bool            `json:"is_blocked" db:"is_blocked"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// EarlyParticipation records that a bidder bid on an auction while its price
// was still below the min price limit. Written at most once per pair.
type EarlyParticipation struct {
	AuctionID string    `json:"auction_id" db:"auction_id"`
	BidderID  string    `json:"user_id" db:"user_id"`
	JoinedAt  time.Time `json:"joined_at" db:"joined_at"`
}

// Bid is one accepted bid event on an auction.
type Bid struct {
	ID            string          `json:"id" db:"id"`
	AuctionID     string          `json:"auction_id" db:"auction_id"`
	BidderID      string          `json:"user_id" db:"user_id"`
	Amount        decimal.Decimal `json:"bid_amount" db:"bid_amount"`
	PriceAfterBid decimal.Decimal `json:"price_after_bid" db:"price_after_bid"`
	IsBot         bool            `json:"is_bot" db:"is_bot"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// LedgerEntry is an immutable record of a balance-affecting event.
// Once created, these are never modified or deleted. BalanceAfter equals the
// wallet balance written by the same transaction.
type LedgerEntry struct {
	ID            string          `json:"id" db:"id"`
	BidderID      string          `json:"user_id" db:"user_id"`
	Kind          EntryKind       `json:"type" db:"type"`
	Amount        decimal.Decimal `json:"amount" db:"amount"` // signed: -debit, +credit
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	Reference     string          `json:"reference" db:"reference"`
	PaymentMethod string          `json:"payment_method,omitempty" db:"payment_method"`
	Status        string          `json:"status" db:"status"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// PaymentNotification is a gateway report about one external payment.
type PaymentNotification struct {
	TransactionID string          `json:"TransactionId"`
	AccountID     string          `json:"AccountId"`
	Amount        decimal.Decimal `json:"Amount"`
	Currency      string          `json:"Currency,omitempty"`
	Status        string          `json:"Status"`
}

// PaymentStatusCompleted is the gateway status of a settled payment.
const PaymentStatusCompleted = "Completed"

// Completed reports whether the gateway settled the payment. The status is
// compared case-insensitively.
func (n PaymentNotification) Completed() bool {
	return strings.EqualFold(n.Status, PaymentStatusCompleted)
}

// AuctionReference is the ledger reference written for bid debits.
func AuctionReference(auctionID string) string {
	return "Auction #" + auctionID
}
