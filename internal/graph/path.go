package graph

import "pricepath/pkg/types"

// FindPath returns the shortest token path from source to destination
// over the snapshot, using breadth-first search. Neighbors are visited
// in lexicographic order, so among equally short paths the one with
// the lexicographically smallest hops wins and the result is
// deterministic for a fixed pair listing.
//
// A path of length one means no hop is needed (source == destination).
// A nil result means no route exists; it is a normal outcome, never an
// error, including for tokens the graph has never seen.
func FindPath(g *PairGraph, source, destination types.TokenID) types.PricePath {
	if source == destination {
		if !g.HasToken(source) {
			return nil
		}
		return types.PricePath{source}
	}

	visited := map[types.TokenID]bool{source: true}
	parent := make(map[types.TokenID]types.TokenID)
	queue := []types.TokenID{source}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range g.Neighbors(current) {
			if visited[next] {
				continue
			}
			visited[next] = true
			parent[next] = current

			if next == destination {
				return reconstruct(parent, source, destination)
			}
			queue = append(queue, next)
		}
	}

	return nil
}

func reconstruct(parent map[types.TokenID]types.TokenID, source, destination types.TokenID) types.PricePath {
	var reversed types.PricePath
	for at := destination; ; at = parent[at] {
		reversed = append(reversed, at)
		if at == source {
			break
		}
	}

	path := make(types.PricePath, len(reversed))
	for i, token := range reversed {
		path[len(path)-1-i] = token
	}
	return path
}
