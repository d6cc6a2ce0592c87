package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pricepath/pkg/types"
)

const (
	tokenA = types.TokenID("AAA-111111")
	tokenB = types.TokenID("BBB-222222")
	tokenC = types.TokenID("CCC-333333")
	tokenD = types.TokenID("DDD-444444")
)

func pair(addr string, first, second types.TokenID) types.Pair {
	return types.Pair{Address: addr, FirstToken: first, SecondToken: second}
}

func TestBuildSymmetricEdges(t *testing.T) {
	g := Build([]types.Pair{
		pair("0xab", tokenA, tokenB),
		pair("0xbc", tokenB, tokenC),
	})

	// Every edge must exist in both directions.
	for _, tokens := range [][2]types.TokenID{{tokenA, tokenB}, {tokenB, tokenC}} {
		require.Contains(t, g.Neighbors(tokens[0]), tokens[1])
		require.Contains(t, g.Neighbors(tokens[1]), tokens[0])
	}

	require.Equal(t, 3, g.TokenCount())
	require.Equal(t, 2, g.PairCount())
}

func TestBuildSkipsMalformedPairs(t *testing.T) {
	g := Build([]types.Pair{
		pair("0xab", tokenA, tokenB),
		pair("0xbad", tokenA, ""),
		pair("0xself", tokenC, tokenC),
	})

	require.Equal(t, 2, g.TokenCount())
	require.Equal(t, 1, g.PairCount())
	require.False(t, g.HasToken(tokenC))
}

func TestNeighborsSorted(t *testing.T) {
	g := Build([]types.Pair{
		pair("0x1", tokenB, tokenD),
		pair("0x2", tokenB, tokenA),
		pair("0x3", tokenB, tokenC),
	})

	require.Equal(t, []types.TokenID{tokenA, tokenC, tokenD}, g.Neighbors(tokenB))
}

func TestNeighborsUnknownToken(t *testing.T) {
	g := Build(nil)
	require.Empty(t, g.Neighbors(tokenA))
	require.False(t, g.HasToken(tokenA))
}

func TestPairFor(t *testing.T) {
	p := pair("0xab", tokenA, tokenB)
	g := Build([]types.Pair{p})

	got, ok := g.PairFor(tokenA, tokenB)
	require.True(t, ok)
	require.Equal(t, p, got)

	// Direction does not matter.
	got, ok = g.PairFor(tokenB, tokenA)
	require.True(t, ok)
	require.Equal(t, p, got)

	_, ok = g.PairFor(tokenA, tokenC)
	require.False(t, ok)
}
