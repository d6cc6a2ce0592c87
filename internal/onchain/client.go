// Package onchain adapts uniswap-v2-style contracts to the provider
// interfaces the core services consume. Retry policy lives here, not
// in the engine: a failed read is retried with exponential backoff
// before it surfaces as an upstream error.
package onchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"pricepath/pkg/types"
)

const factoryABIJSON = `[
	{"inputs":[],"name":"allPairsLength","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"","type":"uint256"}],"name":"allPairs","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const pairABIJSON = `[
	{"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"_reserve0","type":"uint112"},{"internalType":"uint112","name":"_reserve1","type":"uint112"},{"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const erc20ABIJSON = `[
	{"inputs":[],"name":"name","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

// idSuffixLen is how many address hex characters go into a TokenID.
const idSuffixLen = 6

// scanConcurrency bounds parallel pair resolution during a registry
// listing.
const scanConcurrency = 8

// EthCaller is the slice of the Ethereum client the adapter needs.
type EthCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RetryConfig defines retry parameters for upstream reads.
type RetryConfig struct {
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
}

// DefaultRetryConfig provides default retry parameters.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	BackoffMin:  200 * time.Millisecond,
	BackoffMax:  5 * time.Second,
}

// Client reads pair registry, reserves and token metadata from the
// chain. It implements the registry, reserves and metadata provider
// interfaces of the core services.
type Client struct {
	caller      EthCaller
	factory     common.Address
	callTimeout time.Duration
	retry       RetryConfig
	logger      *slog.Logger

	factoryABI abi.ABI
	pairABI    abi.ABI
	erc20ABI   abi.ABI

	mu       sync.RWMutex
	addrByID map[types.TokenID]common.Address
	idByAddr map[common.Address]types.TokenID
}

// NewClient dials the RPC endpoint and builds the adapter.
func NewClient(rpcURL string, factory string, callTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	caller, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "ethclient.Dial")
	}
	return NewClientWithCaller(caller, factory, callTimeout, logger)
}

// NewClientWithCaller builds the adapter on an existing caller; tests
// inject a fake here.
func NewClientWithCaller(caller EthCaller, factory string, callTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(factory) {
		return nil, errors.Errorf("invalid factory address %q", factory)
	}
	if logger == nil {
		logger = slog.Default()
	}

	factoryABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "parsing factory ABI")
	}
	pairABI, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "parsing pair ABI")
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "parsing erc20 ABI")
	}

	return &Client{
		caller:      caller,
		factory:     common.HexToAddress(factory),
		callTimeout: callTimeout,
		retry:       DefaultRetryConfig,
		logger:      logger,
		factoryABI:  factoryABI,
		pairABI:     pairABI,
		erc20ABI:    erc20ABI,
		addrByID:    make(map[types.TokenID]common.Address),
		idByAddr:    make(map[common.Address]types.TokenID),
	}, nil
}

// ListAllPairs walks the factory registry and resolves every pair's
// tokens. The listing is all-or-nothing: any failed read fails the
// whole call so no partial listing is ever cached downstream.
func (c *Client) ListAllPairs(ctx context.Context) ([]types.Pair, error) {
	out, err := c.call(ctx, c.factoryABI, c.factory, "allPairsLength")
	if err != nil {
		return nil, errors.Wrap(err, "allPairsLength")
	}
	length, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected allPairsLength result")
	}

	total := int(length.Int64())
	listed := make([]types.Pair, total)

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(scanConcurrency)
	for i := 0; i < total; i++ {
		i := i
		group.Go(func() error {
			pair, err := c.resolvePair(gctx, i)
			if err != nil {
				return errors.Wrapf(err, "pair %d", i)
			}
			listed[i] = pair
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	c.logger.Info("registry scan complete", "pairs", total)
	return listed, nil
}

func (c *Client) resolvePair(ctx context.Context, index int) (types.Pair, error) {
	out, err := c.call(ctx, c.factoryABI, c.factory, "allPairs", big.NewInt(int64(index)))
	if err != nil {
		return types.Pair{}, errors.Wrap(err, "allPairs")
	}
	pairAddr, ok := out[0].(common.Address)
	if !ok {
		return types.Pair{}, errors.New("unexpected allPairs result")
	}

	out, err = c.call(ctx, c.pairABI, pairAddr, "token0")
	if err != nil {
		return types.Pair{}, errors.Wrap(err, "token0")
	}
	token0, ok := out[0].(common.Address)
	if !ok {
		return types.Pair{}, errors.New("unexpected token0 result")
	}

	out, err = c.call(ctx, c.pairABI, pairAddr, "token1")
	if err != nil {
		return types.Pair{}, errors.Wrap(err, "token1")
	}
	token1, ok := out[0].(common.Address)
	if !ok {
		return types.Pair{}, errors.New("unexpected token1 result")
	}

	firstID, err := c.tokenID(ctx, token0)
	if err != nil {
		return types.Pair{}, err
	}
	secondID, err := c.tokenID(ctx, token1)
	if err != nil {
		return types.Pair{}, err
	}

	return types.Pair{
		Address:     strings.ToLower(pairAddr.Hex()),
		FirstToken:  firstID,
		SecondToken: secondID,
	}, nil
}

// tokenID derives the opaque identifier for a token contract: its
// ticker plus a short address suffix, e.g. "WETH-c02aaa". The mapping
// is remembered so metadata lookups can go from identifier back to
// contract.
func (c *Client) tokenID(ctx context.Context, addr common.Address) (types.TokenID, error) {
	c.mu.RLock()
	id, ok := c.idByAddr[addr]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	out, err := c.call(ctx, c.erc20ABI, addr, "symbol")
	if err != nil {
		return "", errors.Wrap(err, "symbol")
	}
	symbol, ok := out[0].(string)
	if !ok || symbol == "" {
		return "", errors.Errorf("token %s has no usable symbol", addr.Hex())
	}

	suffix := strings.ToLower(addr.Hex()[2 : 2+idSuffixLen])
	id = types.TokenID(fmt.Sprintf("%s-%s", symbol, suffix))

	c.mu.Lock()
	c.idByAddr[addr] = id
	c.addrByID[id] = addr
	c.mu.Unlock()

	return id, nil
}

// TokenAddress returns the contract address behind a token identifier
// seen during a registry scan. ok is false for unknown tokens.
func (c *Client) TokenAddress(token types.TokenID) (string, bool) {
	c.mu.RLock()
	addr, ok := c.addrByID[token]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	return strings.ToLower(addr.Hex()), true
}

// GetReserves reads a pair's reserves and LP supply in one snapshot.
func (c *Client) GetReserves(ctx context.Context, pairAddress string) (types.ReservesSnapshot, error) {
	if !common.IsHexAddress(pairAddress) {
		return types.ReservesSnapshot{}, errors.Errorf("invalid pair address %q", pairAddress)
	}
	addr := common.HexToAddress(pairAddress)

	out, err := c.call(ctx, c.pairABI, addr, "getReserves")
	if err != nil {
		return types.ReservesSnapshot{}, errors.Wrap(err, "getReserves")
	}
	reserve0, ok0 := out[0].(*big.Int)
	reserve1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return types.ReservesSnapshot{}, errors.New("unexpected getReserves result")
	}

	out, err = c.call(ctx, c.pairABI, addr, "totalSupply")
	if err != nil {
		return types.ReservesSnapshot{}, errors.Wrap(err, "totalSupply")
	}
	supply, ok := out[0].(*big.Int)
	if !ok {
		return types.ReservesSnapshot{}, errors.New("unexpected totalSupply result")
	}

	return types.ReservesSnapshot{
		Reserve0:    reserve0,
		Reserve1:    reserve1,
		TotalSupply: supply,
		Taken:       time.Now(),
	}, nil
}

// GetTokenMetadata resolves a token's name, symbol and decimals. The
// token must have been seen by a registry scan, otherwise its contract
// address is unknown.
func (c *Client) GetTokenMetadata(ctx context.Context, token types.TokenID) (types.TokenMetadata, error) {
	c.mu.RLock()
	addr, ok := c.addrByID[token]
	c.mu.RUnlock()
	if !ok {
		return types.TokenMetadata{}, errors.Errorf("unknown token %s", token)
	}

	out, err := c.call(ctx, c.erc20ABI, addr, "name")
	if err != nil {
		return types.TokenMetadata{}, errors.Wrap(err, "name")
	}
	name, _ := out[0].(string)

	out, err = c.call(ctx, c.erc20ABI, addr, "symbol")
	if err != nil {
		return types.TokenMetadata{}, errors.Wrap(err, "symbol")
	}
	symbol, _ := out[0].(string)

	out, err = c.call(ctx, c.erc20ABI, addr, "decimals")
	if err != nil {
		return types.TokenMetadata{}, errors.Wrap(err, "decimals")
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return types.TokenMetadata{}, errors.New("unexpected decimals result")
	}

	return types.TokenMetadata{
		ID:       token,
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
	}, nil
}

// call packs, executes and unpacks one contract read, retrying with
// exponential backoff up to the configured attempts.
func (c *Client) call(ctx context.Context, contractABI abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "packing %s", method)
	}

	var res []byte
	backoff := c.retry.BackoffMin
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		res, err = c.caller.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
		cancel()
		if err == nil {
			break
		}
		if attempt+1 >= c.retry.MaxAttempts || ctx.Err() != nil {
			return nil, errors.Wrapf(err, "calling %s on %s", method, to.Hex())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.retry.BackoffMax {
			backoff = c.retry.BackoffMax
		}
	}

	out, err := contractABI.Unpack(method, res)
	if err != nil {
		return nil, errors.Wrapf(err, "unpacking %s", method)
	}
	return out, nil
}
