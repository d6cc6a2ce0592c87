package tokens

import (
	"context"
	"log/slog"
	"time"

	"pricepath/internal/apperrors"
	"pricepath/internal/cache"
	"pricepath/pkg/types"
)

// MetadataProvider resolves the static facts about a token from the
// upstream chain.
type MetadataProvider interface {
	GetTokenMetadata(ctx context.Context, token types.TokenID) (types.TokenMetadata, error)
}

// metadataTTL is deliberately long: decimals and identifiers never
// change for the lifetime of a token contract.
const metadataTTL = 24 * time.Hour

// Service caches token metadata. Fetched entries flow to the secondary
// store through the cache's publisher.
type Service struct {
	provider MetadataProvider
	cache    *cache.Cache
	logger   *slog.Logger
}

func NewService(provider MetadataProvider, c *cache.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{provider: provider, cache: c, logger: logger}
}

// Metadata returns the token's static facts, fetching them at most
// once per TTL window.
func (s *Service) Metadata(ctx context.Context, token types.TokenID) (types.TokenMetadata, error) {
	if !token.Valid() {
		return types.TokenMetadata{}, apperrors.ErrInvalidInput
	}
	return cache.GetOrSet(ctx, s.cache, cache.NamespaceMetadata, string(token), metadataTTL, func(ctx context.Context) (types.TokenMetadata, error) {
		meta, err := s.provider.GetTokenMetadata(ctx, token)
		if err != nil {
			return types.TokenMetadata{}, apperrors.Upstream(err, "fetching token metadata")
		}
		return meta, nil
	})
}
