package pairs

import (
	"context"
	"log/slog"
	"time"

	"pricepath/internal/apperrors"
	"pricepath/internal/cache"
	"pricepath/internal/graph"
	"pricepath/pkg/types"
)

// Registry lists every tradable pair known to the upstream exchange.
type Registry interface {
	ListAllPairs(ctx context.Context) ([]types.Pair, error)
}

// Service maintains the cached pair listing and the graph snapshot
// built from it. Both are rebuilt wholesale when their TTL elapses; a
// failed listing fails the whole refresh, so a graph with missing
// pairs is never cached.
type Service struct {
	registry Registry
	cache    *cache.Cache
	ttl      time.Duration
	logger   *slog.Logger
}

// NewService creates the pair service. ttl controls how long a pair
// listing and the graph built from it stay cached.
func NewService(registry Registry, c *cache.Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		cache:    c,
		ttl:      ttl,
		logger:   logger,
	}
}

// Pairs returns the cached pair listing, fetching it from the registry
// at most once per TTL window regardless of concurrent demand.
func (s *Service) Pairs(ctx context.Context) ([]types.Pair, error) {
	return cache.GetOrSet(ctx, s.cache, cache.NamespacePairs, "all", s.ttl, func(ctx context.Context) ([]types.Pair, error) {
		listed, err := s.registry.ListAllPairs(ctx)
		if err != nil {
			return nil, apperrors.Upstream(err, "listing pairs")
		}
		s.logger.Info("pair listing refreshed", "pairs", len(listed))
		return listed, nil
	})
}

// Graph returns the current graph snapshot. Snapshots are immutable;
// a traversal keeps the one it acquired even if a newer snapshot is
// built while it runs.
func (s *Service) Graph(ctx context.Context) (*graph.PairGraph, error) {
	return cache.GetOrSet(ctx, s.cache, cache.NamespaceGraph, "current", s.ttl, func(ctx context.Context) (*graph.PairGraph, error) {
		listed, err := s.Pairs(ctx)
		if err != nil {
			return nil, err
		}
		g := graph.Build(listed)
		s.logger.Info("pair graph rebuilt", "tokens", g.TokenCount(), "edges", g.PairCount())
		return g, nil
	})
}

// FindPath resolves the shortest route between two tokens over the
// current snapshot. An empty path means no route exists; it is not an
// error.
func (s *Service) FindPath(ctx context.Context, source, destination types.TokenID) (types.PricePath, error) {
	if !source.Valid() || !destination.Valid() {
		return nil, apperrors.ErrInvalidInput
	}
	g, err := s.Graph(ctx)
	if err != nil {
		return nil, err
	}
	return graph.FindPath(g, source, destination), nil
}

// PairByAddress resolves a pair from the cached listing by its pool
// address. ok is false when the address is unknown.
func (s *Service) PairByAddress(ctx context.Context, address string) (types.Pair, bool, error) {
	listed, err := s.Pairs(ctx)
	if err != nil {
		return types.Pair{}, false, err
	}
	for _, pair := range listed {
		if pair.Address == address {
			return pair, true, nil
		}
	}
	return types.Pair{}, false, nil
}
