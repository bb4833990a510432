// Package wallet credits external payments to bidder wallets and prepares
// top-ups.
//
// Crediting is idempotent per gateway transaction: the wallet row is locked,
// the ledger is checked for the transaction's reference, and only then are
// balance, cumulative deposit, loyalty tier and the ledger entry written in
// one unit of work. The gateway re-delivers notifications freely; duplicates
// are absorbed here.
//
// All monetary values use shopspring/decimal, never float64.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pennybid/bid-engine/internal/events"
	"github.com/pennybid/bid-engine/internal/loyalty"
	"github.com/pennybid/bid-engine/internal/metrics"
	"github.com/pennybid/bid-engine/internal/model"
	"github.com/pennybid/bid-engine/internal/store"
)

var (
	// ErrBelowMinimum is returned for top-ups under the configured minimum.
	ErrBelowMinimum = errors.New("wallet: amount below minimum")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("wallet: invalid amount")

	// ErrUnknownAccount is returned when no wallet exists for the bidder.
	ErrUnknownAccount = errors.New("wallet: unknown account")

	// ErrStorage is returned when the unit of work failed and was rolled
	// back.
	ErrStorage = errors.New("wallet: storage failure")
)

// PaymentMethod is recorded on every gateway credit.
const PaymentMethod = "cloudpayments"

// Outcome is the tagged result of a payment notification.
type Outcome string

const (
	OutcomeCredited       Outcome = "credited"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeUnknownAccount Outcome = "unknown_account"
	OutcomeInvalid        Outcome = "invalid"
)

// CreditResult describes what a notification did. Balance fields are only
// set for OutcomeCredited.
type CreditResult struct {
	Outcome           Outcome
	EntryID           string
	NewBalance        decimal.Decimal
	CumulativeDeposit decimal.Decimal
	Tier              model.LoyaltyTier
}

// Config holds top-up parameters.
type Config struct {
	MinTopUp decimal.Decimal
	Currency string
	PublicID string // gateway merchant identifier handed to the payment widget
}

// DefaultConfig returns a 100 KZT minimum with the gateway's demo merchant.
func DefaultConfig() Config {
	return Config{
		MinTopUp: decimal.NewFromInt(100),
		Currency: "KZT",
		PublicID: "demo",
	}
}

// TopUpIntent carries what the payment widget needs to start a payment.
type TopUpIntent struct {
	PublicID    string          `json:"public_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	AccountID   string          `json:"account_id"`
	Email       string          `json:"email"`
}

// BalanceView is the bidder-facing wallet summary.
type BalanceView struct {
	Balance      decimal.Decimal   `json:"balance"`
	TotalDeposit decimal.Decimal   `json:"total_deposit"`
	LoyaltyLevel model.LoyaltyTier `json:"loyalty_level"`
}

// Service manages wallet credits and reads.
type Service struct {
	store     store.Store
	cfg       Config
	tiers     *loyalty.Calculator
	publisher events.Publisher
	now       func() time.Time
}

// NewService creates a wallet service. A nil calculator uses the default
// thresholds; a nil publisher discards events.
func NewService(st store.Store, cfg Config, tiers *loyalty.Calculator, pub events.Publisher) *Service {
	if tiers == nil {
		tiers = loyalty.Default()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		store:     st,
		cfg:       cfg,
		tiers:     tiers,
		publisher: pub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreditPayment applies a gateway notification. Notifications that are not
// completed are acknowledged without any mutation. Only storage failures are
// returned as errors; they wrap ErrStorage and nothing was committed.
func (s *Service) CreditPayment(ctx context.Context, n model.PaymentNotification) (CreditResult, error) {
	if !n.Completed() {
		s.record(OutcomeIgnored)
		slog.Info("payment ignored", "transaction", n.TransactionID, "status", n.Status)
		return CreditResult{Outcome: OutcomeIgnored}, nil
	}
	if n.TransactionID == "" || n.AccountID == "" || !n.Amount.IsPositive() {
		s.record(OutcomeInvalid)
		slog.Warn("payment invalid", "transaction", n.TransactionID, "account", n.AccountID, "amount", n.Amount.String())
		return CreditResult{Outcome: OutcomeInvalid}, nil
	}

	var res CreditResult
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		res = CreditResult{}

		w, err := tx.LockWallet(ctx, n.AccountID)
		if errors.Is(err, store.ErrNotFound) {
			res.Outcome = OutcomeUnknownAccount
			return nil
		}
		if err != nil {
			return err
		}

		applied, err := tx.HasLedgerReference(ctx, model.EntryTopUpCredit, n.TransactionID)
		if err != nil {
			return err
		}
		if applied {
			res.Outcome = OutcomeAlreadyApplied
			return nil
		}

		w.Balance = w.Balance.Add(n.Amount)
		w.CumulativeDeposit = w.CumulativeDeposit.Add(n.Amount)
		w.LoyaltyTier = s.tiers.Tier(w.CumulativeDeposit)
		if err := tx.UpdateWallet(ctx, w); err != nil {
			return fmt.Errorf("update wallet: %w", err)
		}

		entry := &model.LedgerEntry{
			ID:            uuid.New().String(),
			BidderID:      w.ID,
			Kind:          model.EntryTopUpCredit,
			Amount:        n.Amount,
			BalanceAfter:  w.Balance,
			Reference:     n.TransactionID,
			PaymentMethod: PaymentMethod,
			Status:        model.EntryStatusCompleted,
			CreatedAt:     s.now(),
		}
		if err := tx.InsertLedgerEntry(ctx, entry); err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		res = CreditResult{
			Outcome:           OutcomeCredited,
			EntryID:           entry.ID,
			NewBalance:        w.Balance,
			CumulativeDeposit: w.CumulativeDeposit,
			Tier:              w.LoyaltyTier,
		}
		return nil
	})

	// A concurrent delivery of the same transaction won the race to the
	// unique reference after our check.
	if errors.Is(err, store.ErrDuplicate) {
		res, err = CreditResult{Outcome: OutcomeAlreadyApplied}, nil
	}
	if err != nil {
		metrics.StorageFailures.WithLabelValues("credit").Inc()
		metrics.CreditsTotal.WithLabelValues("storage_error").Inc()
		slog.Error("payment credit failed", "transaction", n.TransactionID, "account", n.AccountID, "err", err)
		return CreditResult{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	s.record(res.Outcome)
	switch res.Outcome {
	case OutcomeCredited:
		slog.Info("payment credited",
			"transaction", n.TransactionID,
			"account", n.AccountID,
			"amount", n.Amount.String(),
			"balance", res.NewBalance.String(),
			"tier", res.Tier,
		)
		s.publisher.Publish(context.WithoutCancel(ctx), events.Event{
			Type:      events.TypeWalletCredited,
			BidderID:  n.AccountID,
			Amount:    n.Amount,
			Balance:   res.NewBalance,
			Timestamp: s.now(),
		})
	case OutcomeAlreadyApplied:
		slog.Info("payment already applied", "transaction", n.TransactionID, "account", n.AccountID)
	case OutcomeUnknownAccount:
		slog.Warn("payment for unknown account", "transaction", n.TransactionID, "account", n.AccountID)
	}
	return res, nil
}

func (s *Service) record(o Outcome) {
	metrics.CreditsTotal.WithLabelValues(string(o)).Inc()
}

// InitiateTopUp validates amount and returns the payment widget
// parameters. It does not mutate state.
func (s *Service) InitiateTopUp(ctx context.Context, bidderID string, amount decimal.Decimal) (TopUpIntent, error) {
	if !amount.IsPositive() {
		return TopUpIntent{}, ErrInvalidAmount
	}
	if amount.LessThan(s.cfg.MinTopUp) {
		return TopUpIntent{}, fmt.Errorf("%w: minimum is %s %s", ErrBelowMinimum, s.cfg.MinTopUp, s.cfg.Currency)
	}

	w, err := s.wallet(ctx, bidderID)
	if err != nil {
		return TopUpIntent{}, err
	}

	return TopUpIntent{
		PublicID:    s.cfg.PublicID,
		Amount:      amount,
		Currency:    s.cfg.Currency,
		Description: fmt.Sprintf("Wallet top-up of %s %s", amount, s.cfg.Currency),
		AccountID:   w.ID,
		Email:       w.Email,
	}, nil
}

// Balance returns the bidder's wallet summary.
func (s *Service) Balance(ctx context.Context, bidderID string) (BalanceView, error) {
	w, err := s.wallet(ctx, bidderID)
	if err != nil {
		return BalanceView{}, err
	}
	return BalanceView{
		Balance:      w.Balance,
		TotalDeposit: w.CumulativeDeposit,
		LoyaltyLevel: w.LoyaltyTier,
	}, nil
}

// Transactions returns the bidder's most recent ledger entries, newest first.
func (s *Service) Transactions(ctx context.Context, bidderID string, limit int) ([]model.LedgerEntry, error) {
	entries, err := s.store.ListLedgerEntries(ctx, bidderID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return entries, nil
}

func (s *Service) wallet(ctx context.Context, bidderID string) (*model.Wallet, error) {
	w, err := s.store.GetWallet(ctx, bidderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownAccount
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return w, nil
}
