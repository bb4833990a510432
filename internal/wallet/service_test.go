package wallet_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/pennybid/bid-engine/internal/events"
	"github.com/pennybid/bid-engine/internal/model"
	"github.com/pennybid/bid-engine/internal/store"
	"github.com/pennybid/bid-engine/internal/wallet"
)

func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func newTestService(t *testing.T) (*wallet.Service, *store.MemoryStore, *recorder) {
	t.Helper()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.CreateWallet(context.Background(), &model.Wallet{
		ID:      "u1",
		Email:   "u1@example.com",
		Balance: d(200),
	}))
	rec := &recorder{}
	return wallet.NewService(ms, wallet.DefaultConfig(), nil, rec), ms, rec
}

func completed(txID, account string, amount int64) model.PaymentNotification {
	return model.PaymentNotification{
		TransactionID: txID,
		AccountID:     account,
		Amount:        d(amount),
		Currency:      "KZT",
		Status:        "Completed",
	}
}

func TestCreditPayment_Credits(t *testing.T) {
	svc, ms, rec := newTestService(t)
	ctx := context.Background()

	res, err := svc.CreditPayment(ctx, completed("tx-1", "u1", 1000))
	require.NoError(t, err)
	assert.Equal(t, wallet.OutcomeCredited, res.Outcome)
	assert.True(t, res.NewBalance.Equal(d(1200)), "balance %s", res.NewBalance)
	assert.True(t, res.CumulativeDeposit.Equal(d(1000)))
	assert.Equal(t, model.TierHero, res.Tier)

	w, err := ms.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(d(1200)))
	assert.True(t, w.CumulativeDeposit.Equal(d(1000)))

	entries, err := ms.ListLedgerEntries(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, res.EntryID, e.ID)
	assert.Equal(t, model.EntryTopUpCredit, e.Kind)
	assert.True(t, e.Amount.Equal(d(1000)))
	assert.True(t, e.BalanceAfter.Equal(d(1200)))
	assert.Equal(t, "tx-1", e.Reference)
	assert.Equal(t, wallet.PaymentMethod, e.PaymentMethod)
	assert.Equal(t, model.EntryStatusCompleted, e.Status)

	require.Len(t, rec.events, 1)
	assert.Equal(t, events.TypeWalletCredited, rec.events[0].Type)
	assert.Equal(t, "u1", rec.events[0].BidderID)
}

func TestCreditPayment_Idempotent(t *testing.T) {
	svc, ms, rec := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreditPayment(ctx, completed("tx-1", "u1", 500))
	require.NoError(t, err)
	assert.Equal(t, wallet.OutcomeCredited, first.Outcome)

	second, err := svc.CreditPayment(ctx, completed("tx-1", "u1", 500))
	require.NoError(t, err)
	assert.Equal(t, wallet.OutcomeAlreadyApplied, second.Outcome)

	w, _ := ms.GetWallet(ctx, "u1")
	assert.True(t, w.Balance.Equal(d(700)), "balance %s", w.Balance)
	entries, _ := ms.ListLedgerEntries(ctx, "u1", 0)
	assert.Len(t, entries, 1)
	assert.Len(t, rec.events, 1)
}

func TestCreditPayment_ConcurrentRedelivery(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	var mu sync.Mutex
	outcomes := map[wallet.Outcome]int{}
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			res, err := svc.CreditPayment(ctx, completed("tx-1", "u1", 300))
			if err != nil {
				return err
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, outcomes[wallet.OutcomeCredited])
	assert.Equal(t, 19, outcomes[wallet.OutcomeAlreadyApplied])

	w, _ := ms.GetWallet(ctx, "u1")
	assert.True(t, w.Balance.Equal(d(500)), "balance %s", w.Balance)
}

func TestCreditPayment_DistinctTransactionsAccumulate(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := svc.CreditPayment(ctx, completed(fmt.Sprintf("tx-%d", i), "u1", 100))
			return err
		})
	}
	require.NoError(t, g.Wait())

	w, _ := ms.GetWallet(ctx, "u1")
	assert.True(t, w.Balance.Equal(d(1200)), "balance %s", w.Balance)
	assert.True(t, w.CumulativeDeposit.Equal(d(1000)))
	entries, _ := ms.ListLedgerEntries(ctx, "u1", 0)
	assert.Len(t, entries, 10)
}

func TestCreditPayment_NotApplied(t *testing.T) {
	tests := []struct {
		name string
		n    model.PaymentNotification
		want wallet.Outcome
	}{
		{"pending", model.PaymentNotification{TransactionID: "tx-1", AccountID: "u1", Amount: d(100), Status: "Pending"}, wallet.OutcomeIgnored},
		{"declined", model.PaymentNotification{TransactionID: "tx-1", AccountID: "u1", Amount: d(100), Status: "Declined"}, wallet.OutcomeIgnored},
		{"no status", model.PaymentNotification{TransactionID: "tx-1", AccountID: "u1", Amount: d(100)}, wallet.OutcomeIgnored},
		{"unknown account", completed("tx-1", "ghost", 100), wallet.OutcomeUnknownAccount},
		{"zero amount", completed("tx-1", "u1", 0), wallet.OutcomeInvalid},
		{"negative amount", completed("tx-1", "u1", -100), wallet.OutcomeInvalid},
		{"no reference", completed("", "u1", 100), wallet.OutcomeInvalid},
		{"no account", completed("tx-1", "", 100), wallet.OutcomeInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, ms, rec := newTestService(t)
			ctx := context.Background()

			res, err := svc.CreditPayment(ctx, tc.n)
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Outcome)

			w, _ := ms.GetWallet(ctx, "u1")
			assert.True(t, w.Balance.Equal(d(200)), "balance %s", w.Balance)
			entries, _ := ms.ListLedgerEntries(ctx, "u1", 0)
			assert.Empty(t, entries)
			assert.Empty(t, rec.events)
		})
	}
}

func TestCreditPayment_StatusCaseInsensitive(t *testing.T) {
	svc, _, _ := newTestService(t)
	n := completed("tx-1", "u1", 100)
	n.Status = "completed"

	res, err := svc.CreditPayment(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, wallet.OutcomeCredited, res.Outcome)
}

func TestCreditPayment_LoyaltyMonotonic(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	w, _ := ms.GetWallet(ctx, "u1")
	assert.Equal(t, model.TierHero, w.LoyaltyTier)

	steps := []struct {
		amount int64
		want   model.LoyaltyTier
	}{
		{40000, model.TierHero},
		{20000, model.TierNoble},
		{100000, model.TierMonarch},
		{1, model.TierMonarch},
	}
	for i, s := range steps {
		res, err := svc.CreditPayment(ctx, completed(fmt.Sprintf("tx-%d", i), "u1", s.amount))
		require.NoError(t, err)
		assert.Equal(t, s.want, res.Tier, "after step %d (deposit %s)", i, res.CumulativeDeposit)
	}

	w, _ = ms.GetWallet(ctx, "u1")
	assert.Equal(t, model.TierMonarch, w.LoyaltyTier)
	assert.True(t, w.CumulativeDeposit.Equal(d(160001)))
}

// failingStore fails every ledger insert.
type failingStore struct {
	*store.MemoryStore
}

func (f failingStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.MemoryStore.InTx(ctx, func(tx store.Tx) error {
		return fn(failingTx{Tx: tx})
	})
}

type failingTx struct {
	store.Tx
}

func (failingTx) InsertLedgerEntry(context.Context, *model.LedgerEntry) error {
	return errors.New("connection reset")
}

func TestCreditPayment_StorageFailureRollsBack(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, ms.CreateWallet(ctx, &model.Wallet{ID: "u1", Balance: d(200)}))
	svc := wallet.NewService(failingStore{ms}, wallet.DefaultConfig(), nil, nil)

	_, err := svc.CreditPayment(ctx, completed("tx-1", "u1", 500))
	assert.ErrorIs(t, err, wallet.ErrStorage)

	w, _ := ms.GetWallet(ctx, "u1")
	assert.True(t, w.Balance.Equal(d(200)))
	assert.True(t, w.CumulativeDeposit.IsZero())

	// The notification can be re-delivered once storage recovers.
	healthy := wallet.NewService(ms, wallet.DefaultConfig(), nil, nil)
	res, err := healthy.CreditPayment(ctx, completed("tx-1", "u1", 500))
	require.NoError(t, err)
	assert.Equal(t, wallet.OutcomeCredited, res.Outcome)
}

func TestInitiateTopUp(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()

	intent, err := svc.InitiateTopUp(ctx, "u1", d(500))
	require.NoError(t, err)
	assert.Equal(t, "demo", intent.PublicID)
	assert.True(t, intent.Amount.Equal(d(500)))
	assert.Equal(t, "KZT", intent.Currency)
	assert.Equal(t, "u1", intent.AccountID)
	assert.Equal(t, "u1@example.com", intent.Email)
	assert.Contains(t, intent.Description, "500")

	_, err = svc.InitiateTopUp(ctx, "u1", d(100))
	assert.NoError(t, err, "the minimum itself is allowed")

	_, err = svc.InitiateTopUp(ctx, "u1", d(99))
	assert.ErrorIs(t, err, wallet.ErrBelowMinimum)

	_, err = svc.InitiateTopUp(ctx, "u1", d(0))
	assert.ErrorIs(t, err, wallet.ErrInvalidAmount)

	_, err = svc.InitiateTopUp(ctx, "ghost", d(500))
	assert.ErrorIs(t, err, wallet.ErrUnknownAccount)

	// Initiating never touches the wallet.
	w, _ := ms.GetWallet(ctx, "u1")
	assert.True(t, w.Balance.Equal(d(200)))
}

func TestBalanceAndTransactions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := svc.CreditPayment(ctx, completed(fmt.Sprintf("tx-%d", i), "u1", int64(i*100)))
		require.NoError(t, err)
	}

	view, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, view.Balance.Equal(d(800)))
	assert.True(t, view.TotalDeposit.Equal(d(600)))
	assert.Equal(t, model.TierHero, view.LoyaltyLevel)

	entries, err := svc.Transactions(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "tx-3", entries[0].Reference)
	assert.Equal(t, "tx-2", entries[1].Reference)

	empty, err := svc.Transactions(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = svc.Balance(ctx, "ghost")
	assert.ErrorIs(t, err, wallet.ErrUnknownAccount)
}
