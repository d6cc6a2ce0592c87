// Package tx assembles unsigned router transactions from engine
// valuations. Signing and broadcast are the caller's problem.
package tx

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"pricepath/internal/apperrors"
	"pricepath/internal/dexmath"
	"pricepath/internal/graph"
	"pricepath/pkg/types"
)

const routerABIJSON = `[
	{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"tokenA","type":"address"},{"internalType":"address","name":"tokenB","type":"address"},{"internalType":"uint256","name":"amountADesired","type":"uint256"},{"internalType":"uint256","name":"amountBDesired","type":"uint256"},{"internalType":"uint256","name":"amountAMin","type":"uint256"},{"internalType":"uint256","name":"amountBMin","type":"uint256"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"addLiquidity","outputs":[{"internalType":"uint256","name":"amountA","type":"uint256"},{"internalType":"uint256","name":"amountB","type":"uint256"},{"internalType":"uint256","name":"liquidity","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"tokenA","type":"address"},{"internalType":"address","name":"tokenB","type":"address"},{"internalType":"uint256","name":"liquidity","type":"uint256"},{"internalType":"uint256","name":"amountAMin","type":"uint256"},{"internalType":"uint256","name":"amountBMin","type":"uint256"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"removeLiquidity","outputs":[{"internalType":"uint256","name":"amountA","type":"uint256"},{"internalType":"uint256","name":"amountB","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

// Engine is the slice of the valuation engine the assembler consumes.
type Engine interface {
	Reserves(ctx context.Context, pairAddress string) (types.ReservesSnapshot, error)
	MinimumOut(amount *big.Int, tolerance decimal.Decimal) (*big.Int, error)
	LiquidityPosition(ctx context.Context, pairAddress string, lpAmount *big.Int) (types.LiquidityPosition, bool, error)
}

// Topology exposes the cached pair graph and listing.
type Topology interface {
	Graph(ctx context.Context) (*graph.PairGraph, error)
	PairByAddress(ctx context.Context, address string) (types.Pair, bool, error)
}

// AddressBook maps token identifiers back to contract addresses.
type AddressBook interface {
	TokenAddress(token types.TokenID) (string, bool)
}

// Config tunes the assembler.
type Config struct {
	// RouterAddress is the swap router the payloads target.
	RouterAddress string
	// Deadline is how far in the future assembled transactions stay
	// valid.
	Deadline time.Duration
}

// SwapRequest describes an exact-in swap to assemble.
type SwapRequest struct {
	TokenIn   types.TokenID
	TokenOut  types.TokenID
	AmountIn  *big.Int
	Tolerance decimal.Decimal
	Recipient string
}

// RemoveLiquidityRequest describes an LP withdrawal to assemble.
type RemoveLiquidityRequest struct {
	PairAddress string
	LpAmount    *big.Int
	Tolerance   decimal.Decimal
	Recipient   string
}

// Assembler builds unsigned router payloads with minimum amounts
// derived through the engine's truncating tolerance math.
type Assembler struct {
	engine    Engine
	topology  Topology
	addresses AddressBook
	cfg       Config
	routerABI abi.ABI
	logger    *slog.Logger
}

func NewAssembler(engine Engine, topology Topology, addresses AddressBook, cfg Config, logger *slog.Logger) (*Assembler, error) {
	if !common.IsHexAddress(cfg.RouterAddress) {
		return nil, errors.Errorf("invalid router address %q", cfg.RouterAddress)
	}
	if cfg.Deadline == 0 {
		cfg.Deadline = 20 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	routerABI, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "parsing router ABI")
	}

	return &Assembler{
		engine:    engine,
		topology:  topology,
		addresses: addresses,
		cfg:       cfg,
		routerABI: routerABI,
		logger:    logger,
	}, nil
}

// BuildSwap assembles an exact-in swap along the shortest route from
// TokenIn to TokenOut. ok is false when no route exists or a pool on
// the route cannot satisfy the swap; that is not an error.
func (a *Assembler) BuildSwap(ctx context.Context, req SwapRequest) (types.UnsignedTx, bool, error) {
	if !req.TokenIn.Valid() || !req.TokenOut.Valid() || req.TokenIn == req.TokenOut {
		return types.UnsignedTx{}, false, apperrors.ErrInvalidInput
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 || !common.IsHexAddress(req.Recipient) {
		return types.UnsignedTx{}, false, apperrors.ErrInvalidInput
	}

	g, err := a.topology.Graph(ctx)
	if err != nil {
		return types.UnsignedTx{}, false, err
	}

	path := graph.FindPath(g, req.TokenIn, req.TokenOut)
	if len(path) < 2 {
		return types.UnsignedTx{}, false, nil
	}

	expected, ok, err := a.expectedOut(ctx, g, path, req.AmountIn)
	if err != nil {
		return types.UnsignedTx{}, false, err
	}
	if !ok {
		return types.UnsignedTx{}, false, nil
	}

	minOut, err := a.engine.MinimumOut(expected, req.Tolerance)
	if err != nil {
		return types.UnsignedTx{}, false, err
	}

	hops, err := a.hopAddresses(path)
	if err != nil {
		return types.UnsignedTx{}, false, err
	}

	deadline := time.Now().Add(a.cfg.Deadline)
	data, err := a.routerABI.Pack("swapExactTokensForTokens",
		req.AmountIn, minOut, hops, common.HexToAddress(req.Recipient), big.NewInt(deadline.Unix()))
	if err != nil {
		return types.UnsignedTx{}, false, errors.Wrap(err, "packing swap")
	}

	a.logger.Info("swap assembled",
		"from", string(req.TokenIn), "to", string(req.TokenOut), "hops", len(path)-1)

	return types.UnsignedTx{
		To:       a.cfg.RouterAddress,
		Data:     data,
		Value:    big.NewInt(0),
		Deadline: deadline,
	}, true, nil
}

// expectedOut walks the route applying the constant-product swap
// formula per hop on current reserves.
func (a *Assembler) expectedOut(ctx context.Context, g *graph.PairGraph, path types.PricePath, amountIn *big.Int) (*big.Int, bool, error) {
	amount := amountIn
	for i := 0; i+1 < len(path); i++ {
		pair, ok := g.PairFor(path[i], path[i+1])
		if !ok {
			return nil, false, nil
		}
		snapshot, err := a.engine.Reserves(ctx, pair.Address)
		if err != nil {
			return nil, false, err
		}

		reserveIn, reserveOut := snapshot.Reserve0, snapshot.Reserve1
		if path[i] == pair.SecondToken {
			reserveIn, reserveOut = snapshot.Reserve1, snapshot.Reserve0
		}

		amount, ok = dexmath.GetAmountOut(amount, reserveIn, reserveOut)
		if !ok {
			return nil, false, nil
		}
	}
	return amount, true, nil
}

// AddLiquidityRequest describes a deposit into a pool.
type AddLiquidityRequest struct {
	PairAddress  string
	FirstAmount  *big.Int
	SecondAmount *big.Int
	Tolerance    decimal.Decimal
	Recipient    string
}

// BuildAddLiquidity assembles a deposit with per-token minimums at
// the desired amounts reduced by the tolerance. ok is false for an
// unknown pool.
func (a *Assembler) BuildAddLiquidity(ctx context.Context, req AddLiquidityRequest) (types.UnsignedTx, bool, error) {
	if req.FirstAmount == nil || req.FirstAmount.Sign() <= 0 ||
		req.SecondAmount == nil || req.SecondAmount.Sign() <= 0 ||
		!common.IsHexAddress(req.Recipient) {
		return types.UnsignedTx{}, false, apperrors.ErrInvalidInput
	}

	pair, ok, err := a.topology.PairByAddress(ctx, req.PairAddress)
	if err != nil {
		return types.UnsignedTx{}, false, err
	}
	if !ok {
		return types.UnsignedTx{}, false, nil
	}

	minFirst, err := a.engine.MinimumOut(req.FirstAmount, req.Tolerance)
	if err != nil {
		return types.UnsignedTx{}, false, err
	}
	minSecond, err := a.engine.MinimumOut(req.SecondAmount, req.Tolerance)
	if err != nil {
		return types.UnsignedTx{}, false, err
	}

	hops, err := a.hopAddresses(types.PricePath{pair.FirstToken, pair.SecondToken})
	if err != nil {
		return types.UnsignedTx{}, false, err
	}

	deadline := time.Now().Add(a.cfg.Deadline)
	data, err := a.routerABI.Pack("addLiquidity",
		hops[0], hops[1], req.FirstAmount, req.SecondAmount, minFirst, minSecond,
		common.HexToAddress(req.Recipient), big.NewInt(deadline.Unix()))
	if err != nil {
		return types.UnsignedTx{}, false, errors.Wrap(err, "packing addLiquidity")
	}

	return types.UnsignedTx{
		To:       a.cfg.RouterAddress,
		Data:     data,
		Value:    big.NewInt(0),
		Deadline: deadline,
	}, true, nil
}

// BuildRemoveLiquidity assembles an LP withdrawal with per-token
// minimums at the pool's current pro-rata decomposition, reduced by
// the tolerance. ok is false for a pool with no supply.
func (a *Assembler) BuildRemoveLiquidity(ctx context.Context, req RemoveLiquidityRequest) (types.UnsignedTx, bool, error) {
	if req.LpAmount == nil || req.LpAmount.Sign() <= 0 || !common.IsHexAddress(req.Recipient) {
		return types.UnsignedTx{}, false, apperrors.ErrInvalidInput
	}

	pair, ok, err := a.topology.PairByAddress(ctx, req.PairAddress)
	if err != nil {
		return types.UnsignedTx{}, false, err
	}
	if !ok {
		return types.UnsignedTx{}, false, nil
	}

	position, ok, err := a.engine.LiquidityPosition(ctx, req.PairAddress, req.LpAmount)
	if err != nil {
		return types.UnsignedTx{}, false, err
	}
	if !ok {
		return types.UnsignedTx{}, false, nil
	}
	// A dust LP amount can floor a side to zero; the pool cannot
	// satisfy such a withdrawal.
	if position.FirstTokenAmount.Sign() == 0 || position.SecondTokenAmount.Sign() == 0 {
		return types.UnsignedTx{}, false, nil
	}

	minFirst, err := a.engine.MinimumOut(position.FirstTokenAmount, req.Tolerance)
	if err != nil {
		return types.UnsignedTx{}, false, err
	}
	minSecond, err := a.engine.MinimumOut(position.SecondTokenAmount, req.Tolerance)
	if err != nil {
		return types.UnsignedTx{}, false, err
	}

	hops, err := a.hopAddresses(types.PricePath{pair.FirstToken, pair.SecondToken})
	if err != nil {
		return types.UnsignedTx{}, false, err
	}

	deadline := time.Now().Add(a.cfg.Deadline)
	data, err := a.routerABI.Pack("removeLiquidity",
		hops[0], hops[1], req.LpAmount, minFirst, minSecond,
		common.HexToAddress(req.Recipient), big.NewInt(deadline.Unix()))
	if err != nil {
		return types.UnsignedTx{}, false, errors.Wrap(err, "packing removeLiquidity")
	}

	return types.UnsignedTx{
		To:       a.cfg.RouterAddress,
		Data:     data,
		Value:    big.NewInt(0),
		Deadline: deadline,
	}, true, nil
}

func (a *Assembler) hopAddresses(path types.PricePath) ([]common.Address, error) {
	hops := make([]common.Address, len(path))
	for i, token := range path {
		raw, ok := a.addresses.TokenAddress(token)
		if !ok {
			return nil, errors.Errorf("no contract address for token %s", token)
		}
		hops[i] = common.HexToAddress(raw)
	}
	return hops, nil
}
