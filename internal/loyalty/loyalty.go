// Package loyalty maps a wallet's lifetime deposit total to a reward tier.
//
// Tiers are assigned by ascending thresholds on the cumulative deposit:
//   - below Noble            → Hero
//   - Noble up to Monarch    → Noble
//   - Monarch and above      → Monarch
//
// Because cumulative deposits never decrease, the tier of a wallet never
// regresses.
package loyalty

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/pennybid/bid-engine/internal/model"
)

// ErrInvalidThresholds is returned when thresholds are not 0 < noble < monarch.
var ErrInvalidThresholds = errors.New("loyalty: thresholds must satisfy 0 < noble < monarch")

var (
	// DefaultNoble is the cumulative deposit at which a wallet becomes Noble.
	DefaultNoble = decimal.NewFromInt(50000)

	// DefaultMonarch is the cumulative deposit at which a wallet becomes Monarch.
	DefaultMonarch = decimal.NewFromInt(150000)
)

// Calculator is stateless; thresholds are fixed at construction.
type Calculator struct {
	noble   decimal.Decimal
	monarch decimal.Decimal
}

// NewCalculator creates a calculator with the given tier thresholds.
func NewCalculator(noble, monarch decimal.Decimal) (*Calculator, error) {
	if !noble.IsPositive() || !monarch.GreaterThan(noble) {
		return nil, ErrInvalidThresholds
	}
	return &Calculator{noble: noble, monarch: monarch}, nil
}

// Default returns a calculator with the production thresholds.
func Default() *Calculator {
	return &Calculator{noble: DefaultNoble, monarch: DefaultMonarch}
}

// Tier returns the tier for a cumulative deposit total.
func (c *Calculator) Tier(cumulativeDeposit decimal.Decimal) model.LoyaltyTier {
	switch {
	case cumulativeDeposit.GreaterThanOrEqual(c.monarch):
		return model.TierMonarch
	case cumulativeDeposit.GreaterThanOrEqual(c.noble):
		return model.TierNoble
	default:
		return model.TierHero
	}
}
