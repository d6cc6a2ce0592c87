package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TokenID is the opaque identifier of a token: ticker plus a short
// suffix derived from the token contract, e.g. "WETH-c02aaa".
// It is immutable and safe to use as a map key.
type TokenID string

// Valid reports whether the identifier has the ticker-suffix shape.
func (t TokenID) Valid() bool {
	ticker, suffix, ok := strings.Cut(string(t), "-")
	return ok && ticker != "" && suffix != ""
}

// Pair describes one constant-product pool trading two tokens.
// Pairs are immutable once discovered; a fresh listing replaces the
// cached slice wholesale on TTL expiry.
type Pair struct {
	Address     string
	FirstToken  TokenID
	SecondToken TokenID
}

// Other returns the counter token of the pair, or "" if token is not
// part of the pair.
func (p Pair) Other(token TokenID) TokenID {
	switch token {
	case p.FirstToken:
		return p.SecondToken
	case p.SecondToken:
		return p.FirstToken
	}
	return ""
}

// Has reports whether token is one of the pair's two tokens.
func (p Pair) Has(token TokenID) bool {
	return token == p.FirstToken || token == p.SecondToken
}

// ReservesSnapshot is a point-in-time read of a pair's reserves and LP
// supply. Never mutated after capture; a new fetch produces a new
// snapshot.
type ReservesSnapshot struct {
	Reserve0    *big.Int
	Reserve1    *big.Int
	TotalSupply *big.Int
	Taken       time.Time
}

// TokenMetadata holds the static facts about a token.
type TokenMetadata struct {
	ID       TokenID
	Name     string
	Symbol   string
	Decimals uint8
}

// LiquidityPosition is the pro-rata decomposition of an LP amount into
// the pair's two underlying token amounts.
type LiquidityPosition struct {
	FirstTokenAmount  *big.Int
	SecondTokenAmount *big.Int
}

// PricePath is an ordered token sequence from source to destination,
// both inclusive. A single element means source == destination. A nil
// or empty path means no route exists.
type PricePath []TokenID

// Quote is the result of a price lookup. Available is false when no
// route to the anchor exists or the pool has no liquidity; callers
// must branch on it rather than on an error.
type Quote struct {
	Token     TokenID
	Price     decimal.Decimal
	Path      PricePath
	Available bool
	Taken     time.Time
}

// Unavailable builds the "no price" quote for a token.
func Unavailable(token TokenID) Quote {
	return Quote{Token: token, Available: false}
}

// UnsignedTx is an assembled but unsigned contract call. Signing and
// broadcast happen outside this service.
type UnsignedTx struct {
	To       string
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	Deadline time.Time
}
