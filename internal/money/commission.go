package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the number of fractional digits of the settlement currency.
const MinorUnitPlaces = 2

var DefaultCommissionRate = decimal.RequireFromString("0.10")

var ErrInvalidRate = errors.New("commission rate must be within [0, 1)")

// Split divides amount into the platform commission and the worker payout.
// The commission is rounded half-even to the minor unit and the payout takes
// the remainder, so commission+payout always equals amount.
func Split(amount, rate decimal.Decimal) (commission, payout decimal.Decimal, err error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, decimal.Zero, ErrInvalidRate
	}
	commission = amount.Mul(rate).RoundBank(MinorUnitPlaces)
	payout = amount.Sub(commission)
	return commission, payout, nil
}

// MinorUnits converts amount to an integer count of minor units, rounding half-even.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(MinorUnitPlaces).RoundBank(0).IntPart()
}

// InMinorUnits reports whether amount has no digits below the minor unit.
func InMinorUnits(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(MinorUnitPlaces))
}
