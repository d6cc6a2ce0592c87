// Package dexmath holds the pure arithmetic behind valuations.
//
// Rounding policy, applied uniformly: raw token amounts are big.Int
// and every division floors (a caller is never promised more than the
// pool would pay out); display prices are shopspring decimals divided
// at 18 fractional digits with half-up rounding.
package dexmath

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits carried by price
// divisions.
const PriceScale = 18

func init() {
	decimal.DivisionPrecision = PriceScale
}

// ProRataShare returns reserve * lpAmount / totalSupply, floored.
// totalSupply must be positive; callers guard the zero-supply case.
func ProRataShare(reserve, lpAmount, totalSupply *big.Int) *big.Int {
	share := new(big.Int).Mul(reserve, lpAmount)
	return share.Quo(share, totalSupply)
}

// Rate returns the price of one base unit denominated in counter
// units, adjusted for the two tokens' decimals. ok is false when
// either reserve is empty, which callers must treat as "price
// unavailable" rather than an error.
func Rate(counterReserve *big.Int, counterDecimals uint8, baseReserve *big.Int, baseDecimals uint8) (decimal.Decimal, bool) {
	if counterReserve == nil || baseReserve == nil {
		return decimal.Zero, false
	}
	if counterReserve.Sign() <= 0 || baseReserve.Sign() <= 0 {
		return decimal.Zero, false
	}

	counter := decimal.NewFromBigInt(counterReserve, -int32(counterDecimals))
	base := decimal.NewFromBigInt(baseReserve, -int32(baseDecimals))
	return counter.Div(base), true
}

// Constant-product swap fee: 0.3% = 997/1000.
var (
	feeMul = big.NewInt(997)
	feeDen = big.NewInt(1000)
)

// GetAmountOut computes the output of a constant-product swap:
// amountOut = (amountIn*997 * reserveOut) / (reserveIn*1000 + amountIn*997).
// ok is false when the pool cannot satisfy the swap.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, bool) {
	if amountIn == nil || reserveIn == nil || reserveOut == nil {
		return big.NewInt(0), false
	}
	if amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return big.NewInt(0), false
	}

	inWithFee := new(big.Int).Mul(amountIn, feeMul)
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, feeDen)
	denominator.Add(denominator, inWithFee)

	return numerator.Quo(numerator, denominator), true
}

// MinimumOut applies a slippage tolerance to an expected amount:
// amount * (1 - tolerance), truncated. Truncation (never rounding up)
// keeps the authorized minimum at or below what the computation
// produced.
func MinimumOut(amount *big.Int, tolerance decimal.Decimal) *big.Int {
	keep := decimal.NewFromInt(1).Sub(tolerance)
	out := decimal.NewFromBigInt(amount, 0).Mul(keep)
	return out.Truncate(0).BigInt()
}
