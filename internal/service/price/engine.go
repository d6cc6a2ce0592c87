package price

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"pricepath/internal/apperrors"
	"pricepath/internal/cache"
	"pricepath/internal/dexmath"
	"pricepath/internal/graph"
	"pricepath/pkg/types"
)

// ReservesProvider reads a pair's reserves and LP supply on demand.
type ReservesProvider interface {
	GetReserves(ctx context.Context, pairAddress string) (types.ReservesSnapshot, error)
}

// ReferenceSource quotes anchor tokens whose USD price comes from
// outside the pair graph. ok is false for tokens it does not quote.
type ReferenceSource interface {
	GetReferenceUSDPrice(ctx context.Context, token types.TokenID) (decimal.Decimal, bool, error)
}

// Router exposes the cached pair topology.
type Router interface {
	Graph(ctx context.Context) (*graph.PairGraph, error)
	PairByAddress(ctx context.Context, address string) (types.Pair, bool, error)
}

// TokenSource resolves token metadata (decimals in particular).
type TokenSource interface {
	Metadata(ctx context.Context, token types.TokenID) (types.TokenMetadata, error)
}

// lpDecimals is the LP token precision of constant-product pools.
const lpDecimals = 18

// Config tunes the engine.
type Config struct {
	// AnchorToken is the stable reference every USD price composes
	// towards.
	AnchorToken types.TokenID
	// ReservesTTL bounds how stale a reserves snapshot may be served.
	ReservesTTL time.Duration
	// PriceTTL bounds how long a composed USD quote stays cached.
	PriceTTL time.Duration
}

// Engine computes pool valuations and USD prices. It holds no state of
// its own beyond cache entries: every call is a function of the
// current cache contents and upstream data.
type Engine struct {
	router    Router
	tokens    TokenSource
	reserves  ReservesProvider
	reference ReferenceSource
	cache     *cache.Cache
	cfg       Config
	logger    *slog.Logger
}

func NewEngine(router Router, tokens TokenSource, reserves ReservesProvider, reference ReferenceSource, c *cache.Cache, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		router:    router,
		tokens:    tokens,
		reserves:  reserves,
		reference: reference,
		cache:     c,
		cfg:       cfg,
		logger:    logger,
	}
}

// Reserves returns the cached snapshot for a pair, fetching upstream
// at most once per TTL window.
func (e *Engine) Reserves(ctx context.Context, pairAddress string) (types.ReservesSnapshot, error) {
	if pairAddress == "" {
		return types.ReservesSnapshot{}, apperrors.ErrInvalidInput
	}
	return cache.GetOrSet(ctx, e.cache, cache.NamespaceReserves, pairAddress, e.cfg.ReservesTTL, func(ctx context.Context) (types.ReservesSnapshot, error) {
		snapshot, err := e.reserves.GetReserves(ctx, pairAddress)
		if err != nil {
			return types.ReservesSnapshot{}, apperrors.Upstream(err, "fetching reserves")
		}
		return snapshot, nil
	})
}

// DirectPrice quotes token in units of the pair's counter token, from
// the pool's reserves alone. No USD composition happens here. A pool
// with an empty side yields an unavailable quote.
func (e *Engine) DirectPrice(ctx context.Context, pairAddress string, token types.TokenID) (types.Quote, error) {
	if pairAddress == "" || !token.Valid() {
		return types.Quote{}, apperrors.ErrInvalidInput
	}

	pair, ok, err := e.router.PairByAddress(ctx, pairAddress)
	if err != nil {
		return types.Quote{}, err
	}
	if !ok || !pair.Has(token) {
		return types.Unavailable(token), nil
	}

	rate, ok, err := e.edgeRate(ctx, pair, token)
	if err != nil {
		return types.Quote{}, err
	}
	if !ok {
		return types.Unavailable(token), nil
	}

	return types.Quote{
		Token:     token,
		Price:     rate,
		Path:      types.PricePath{token, pair.Other(token)},
		Available: true,
		Taken:     time.Now(),
	}, nil
}

// PriceUSD quotes token in USD. Anchor tokens with an external
// reference price answer immediately without consulting the graph;
// everything else resolves a path to the anchor and multiplies the
// per-edge exchange rates along it. An empty path yields an
// unavailable quote, not an error.
func (e *Engine) PriceUSD(ctx context.Context, token types.TokenID) (types.Quote, error) {
	if !token.Valid() {
		return types.Quote{}, apperrors.ErrInvalidInput
	}

	referencePrice, ok, err := e.reference.GetReferenceUSDPrice(ctx, token)
	if err != nil {
		return types.Quote{}, apperrors.Upstream(err, "querying reference price")
	}
	if ok {
		return types.Quote{
			Token:     token,
			Price:     referencePrice,
			Path:      types.PricePath{token},
			Available: true,
			Taken:     time.Now(),
		}, nil
	}

	return cache.GetOrSet(ctx, e.cache, cache.NamespacePrices, string(token), e.cfg.PriceTTL, func(ctx context.Context) (types.Quote, error) {
		return e.priceUSDByPath(ctx, token)
	})
}

func (e *Engine) priceUSDByPath(ctx context.Context, token types.TokenID) (types.Quote, error) {
	g, err := e.router.Graph(ctx)
	if err != nil {
		return types.Quote{}, err
	}

	path := graph.FindPath(g, token, e.cfg.AnchorToken)
	if len(path) == 0 {
		e.logger.Debug("no route to anchor", "token", string(token))
		return types.Unavailable(token), nil
	}

	price := e.anchorUSD(ctx)
	for i := 0; i+1 < len(path); i++ {
		pair, ok := g.PairFor(path[i], path[i+1])
		if !ok {
			return types.Unavailable(token), nil
		}
		rate, ok, err := e.edgeRate(ctx, pair, path[i])
		if err != nil {
			return types.Quote{}, err
		}
		if !ok {
			return types.Unavailable(token), nil
		}
		price = price.Mul(rate)
	}

	return types.Quote{
		Token:     token,
		Price:     price,
		Path:      path,
		Available: true,
		Taken:     time.Now(),
	}, nil
}

// anchorUSD returns the anchor's externally quoted USD price, or 1
// when the reference source has no quote for it (the anchor is a
// stable asset by configuration).
func (e *Engine) anchorUSD(ctx context.Context) decimal.Decimal {
	price, ok, err := e.reference.GetReferenceUSDPrice(ctx, e.cfg.AnchorToken)
	if err != nil || !ok {
		if err != nil {
			e.logger.Warn("reference source failed for anchor, assuming parity", "err", err)
		}
		return decimal.NewFromInt(1)
	}
	return price
}

// edgeRate prices base in units of the pair's other token from the
// pool's current reserves. ok is false for an empty pool side.
func (e *Engine) edgeRate(ctx context.Context, pair types.Pair, base types.TokenID) (decimal.Decimal, bool, error) {
	snapshot, err := e.Reserves(ctx, pair.Address)
	if err != nil {
		return decimal.Zero, false, err
	}

	counter := pair.Other(base)
	baseMeta, err := e.tokens.Metadata(ctx, base)
	if err != nil {
		return decimal.Zero, false, err
	}
	counterMeta, err := e.tokens.Metadata(ctx, counter)
	if err != nil {
		return decimal.Zero, false, err
	}

	baseReserve, counterReserve := snapshot.Reserve0, snapshot.Reserve1
	if base == pair.SecondToken {
		baseReserve, counterReserve = snapshot.Reserve1, snapshot.Reserve0
	}

	rate, ok := dexmath.Rate(counterReserve, counterMeta.Decimals, baseReserve, baseMeta.Decimals)
	return rate, ok, nil
}

// LpPriceUSD values one LP token of a pool in USD: both reserves at
// their USD prices, summed, divided by the LP supply. A pool with zero
// supply or an unpriceable side yields an unavailable quote. LP tokens
// carry no ticker identifier, so the quote's Token field holds the
// pool address instead.
func (e *Engine) LpPriceUSD(ctx context.Context, pairAddress string) (types.Quote, error) {
	if pairAddress == "" {
		return types.Quote{}, apperrors.ErrInvalidInput
	}

	pair, ok, err := e.router.PairByAddress(ctx, pairAddress)
	if err != nil {
		return types.Quote{}, err
	}
	if !ok {
		return types.Unavailable(types.TokenID(pairAddress)), nil
	}

	snapshot, err := e.Reserves(ctx, pairAddress)
	if err != nil {
		return types.Quote{}, err
	}
	if snapshot.TotalSupply == nil || snapshot.TotalSupply.Sign() == 0 {
		return types.Unavailable(types.TokenID(pairAddress)), nil
	}

	firstQuote, err := e.PriceUSD(ctx, pair.FirstToken)
	if err != nil {
		return types.Quote{}, err
	}
	secondQuote, err := e.PriceUSD(ctx, pair.SecondToken)
	if err != nil {
		return types.Quote{}, err
	}
	if !firstQuote.Available || !secondQuote.Available {
		return types.Unavailable(types.TokenID(pairAddress)), nil
	}

	firstMeta, err := e.tokens.Metadata(ctx, pair.FirstToken)
	if err != nil {
		return types.Quote{}, err
	}
	secondMeta, err := e.tokens.Metadata(ctx, pair.SecondToken)
	if err != nil {
		return types.Quote{}, err
	}

	poolValue := decimal.NewFromBigInt(snapshot.Reserve0, -int32(firstMeta.Decimals)).Mul(firstQuote.Price).
		Add(decimal.NewFromBigInt(snapshot.Reserve1, -int32(secondMeta.Decimals)).Mul(secondQuote.Price))
	supply := decimal.NewFromBigInt(snapshot.TotalSupply, -int32(lpDecimals))

	return types.Quote{
		Token:     types.TokenID(pairAddress),
		Price:     poolValue.Div(supply),
		Available: true,
		Taken:     time.Now(),
	}, nil
}

// ComputeLiquidityPosition decomposes lpAmount pro rata into the two
// underlying token amounts, flooring both divisions. ok is false when
// the pool has zero LP supply; a non-positive lpAmount is invalid
// input.
func (e *Engine) ComputeLiquidityPosition(snapshot types.ReservesSnapshot, lpAmount *big.Int) (types.LiquidityPosition, bool, error) {
	if lpAmount == nil || lpAmount.Sign() <= 0 {
		return types.LiquidityPosition{}, false, apperrors.ErrInvalidInput
	}
	if snapshot.Reserve0 == nil || snapshot.Reserve1 == nil || snapshot.TotalSupply == nil {
		return types.LiquidityPosition{}, false, apperrors.ErrInvalidInput
	}
	if snapshot.TotalSupply.Sign() == 0 {
		return types.LiquidityPosition{}, false, nil
	}

	return types.LiquidityPosition{
		FirstTokenAmount:  dexmath.ProRataShare(snapshot.Reserve0, lpAmount, snapshot.TotalSupply),
		SecondTokenAmount: dexmath.ProRataShare(snapshot.Reserve1, lpAmount, snapshot.TotalSupply),
	}, true, nil
}

// LiquidityPosition is ComputeLiquidityPosition on a pair's current
// snapshot.
func (e *Engine) LiquidityPosition(ctx context.Context, pairAddress string, lpAmount *big.Int) (types.LiquidityPosition, bool, error) {
	snapshot, err := e.Reserves(ctx, pairAddress)
	if err != nil {
		return types.LiquidityPosition{}, false, err
	}
	return e.ComputeLiquidityPosition(snapshot, lpAmount)
}

// MinimumOut applies a slippage tolerance to an expected amount,
// truncating so the authorized minimum never exceeds the computed one.
// tolerance must lie strictly between 0 and 1.
func (e *Engine) MinimumOut(amount *big.Int, tolerance decimal.Decimal) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, apperrors.ErrInvalidInput
	}
	if tolerance.Sign() <= 0 || tolerance.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, apperrors.ErrInvalidInput
	}
	return dexmath.MinimumOut(amount, tolerance), nil
}
