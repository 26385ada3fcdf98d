package units

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Fixed-point conversion between human-readable decimal amounts and on-chain
// integer units. All arithmetic that feeds a contract call is big.Int; the
// only float-free path from a decimal string to units is through here.

const (
	// USD amounts and sale prices are carried in 1e6-scaled units.
	USDDecimals = 6
	// Fractions (reward multipliers) are scaled by 1e6 as well.
	FractionScale = 1_000_000
)

var (
	ErrNegative     = errors.New("amount must not be negative")
	ErrZeroPrice    = errors.New("price must be positive")
	ErrBadDecimals  = errors.New("decimals must be in [0,18]")
	fractionScaleBI = big.NewInt(FractionScale)
)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ToUnits parses a decimal string into integer units scaled by 10^decimals.
// Digits beyond the supported precision are truncated toward zero.
func ToUnits(s string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > 18 {
		return nil, ErrBadDecimals
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, ErrNegative
	}

	// Shift moves the scale without touching the integer coefficient, so no
	// float arithmetic happens on the way to units.
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// FromUnits renders integer units back to a decimal amount.
func FromUnits(u *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(u, -int32(decimals))
}

// QuoteTokenUnits computes floor(usd / price) expressed in the purchased
// token's smallest unit: usdUnits and priceUnits are both 1e6-scaled USD.
func QuoteTokenUnits(usdUnits, priceUnits *big.Int, tokenDecimals int) (*big.Int, error) {
	if tokenDecimals < 0 || tokenDecimals > 18 {
		return nil, ErrBadDecimals
	}
	if priceUnits == nil || priceUnits.Sign() <= 0 {
		return nil, ErrZeroPrice
	}
	if usdUnits == nil || usdUnits.Sign() < 0 {
		return nil, ErrNegative
	}

	num := new(big.Int).Mul(usdUnits, pow10(tokenDecimals))
	return num.Quo(num, priceUnits), nil
}

// RewardUnits computes floor(base * fraction) where fraction is scaled by
// FractionScale (0.029999 -> 29999).
func RewardUnits(base, fraction *big.Int) *big.Int {
	r := new(big.Int).Mul(base, fraction)
	return r.Quo(r, fractionScaleBI)
}

// RewardUnitsPercent computes floor(base * percent / 100) for whole-percent
// reward rates read from chain.
func RewardUnitsPercent(base *big.Int, percent int64) *big.Int {
	r := new(big.Int).Mul(base, big.NewInt(percent))
	return r.Quo(r, big.NewInt(100))
}

// TotalUnits is the purchased amount plus its reward.
func TotalUnits(base, reward *big.Int) *big.Int {
	return new(big.Int).Add(base, reward)
}
