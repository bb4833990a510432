// Package events fans committed bid and wallet changes out to realtime
// clients (WebSocket) and to the message bus (RabbitMQ).
//
// Publishing happens after commit and is best effort: a publisher failure
// never undoes or fails the operation that produced the event.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Event types.
const (
	TypeBidPlaced      = "bid_placed"
	TypeWalletCredited = "wallet_credited"
)

// Event describes one committed state change.
type Event struct {
	Type      string          `json:"type"`
	AuctionID string          `json:"auction_id,omitempty"`
	BidderID  string          `json:"bidder_id"`
	Price     decimal.Decimal `json:"price,omitempty"`
	TotalBids int             `json:"total_bids,omitempty"`
	Countdown int             `json:"countdown_seconds,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Multi publishes every event to each of its publishers in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
