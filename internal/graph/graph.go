package graph

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"pricepath/pkg/types"
)

// edgeKey identifies the undirected edge between two tokens, with the
// endpoints normalized so (A,B) and (B,A) map to the same key.
type edgeKey struct {
	lo, hi types.TokenID
}

func newEdgeKey(a, b types.TokenID) edgeKey {
	if b < a {
		a, b = b, a
	}
	return edgeKey{lo: a, hi: b}
}

// PairGraph is an immutable snapshot of the tradable pair topology:
// nodes are token identifiers, an edge exists where a pair trades the
// two tokens. Snapshots are built wholesale from a pair listing and
// never mutated afterwards, so traversals that acquired a snapshot
// keep a consistent view even while a newer one is being built.
type PairGraph struct {
	adjacency map[types.TokenID]mapset.Set[types.TokenID]
	pairs     map[edgeKey]types.Pair
}

// Build constructs a graph from the full pair listing, inserting both
// directions of every edge. Pairs with a missing token identifier or
// trading a token against itself are skipped.
func Build(pairs []types.Pair) *PairGraph {
	g := &PairGraph{
		adjacency: make(map[types.TokenID]mapset.Set[types.TokenID], len(pairs)),
		pairs:     make(map[edgeKey]types.Pair, len(pairs)),
	}

	for _, pair := range pairs {
		if pair.FirstToken == "" || pair.SecondToken == "" || pair.FirstToken == pair.SecondToken {
			continue
		}
		g.link(pair.FirstToken, pair.SecondToken)
		g.link(pair.SecondToken, pair.FirstToken)

		key := newEdgeKey(pair.FirstToken, pair.SecondToken)
		if _, exists := g.pairs[key]; !exists {
			g.pairs[key] = pair
		}
	}
	return g
}

func (g *PairGraph) link(from, to types.TokenID) {
	set, ok := g.adjacency[from]
	if !ok {
		set = mapset.NewThreadUnsafeSet[types.TokenID]()
		g.adjacency[from] = set
	}
	set.Add(to)
}

// HasToken reports whether the token appears in at least one pair.
func (g *PairGraph) HasToken(token types.TokenID) bool {
	_, ok := g.adjacency[token]
	return ok
}

// Neighbors returns the tokens directly tradable against token, in
// lexicographic order. An unknown token has zero neighbors.
func (g *PairGraph) Neighbors(token types.TokenID) []types.TokenID {
	set, ok := g.adjacency[token]
	if !ok {
		return nil
	}
	neighbors := set.ToSlice()
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })
	return neighbors
}

// PairFor resolves the pool backing the edge between two tokens.
func (g *PairGraph) PairFor(a, b types.TokenID) (types.Pair, bool) {
	pair, ok := g.pairs[newEdgeKey(a, b)]
	return pair, ok
}

// TokenCount returns the number of distinct tokens in the graph.
func (g *PairGraph) TokenCount() int {
	return len(g.adjacency)
}

// PairCount returns the number of distinct edges in the graph.
func (g *PairGraph) PairCount() int {
	return len(g.pairs)
}
