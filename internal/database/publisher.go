package database

import (
	"context"

	"pricepath/internal/cache"
	"pricepath/pkg/types"
)

// Publisher mirrors freshly computed cache values into Postgres so the
// token listing can serve the latest known prices. It only handles the
// namespaces it persists; everything else is a no-op.
type Publisher struct {
	db *DB
}

func NewPublisher(db *DB) *Publisher {
	return &Publisher{db: db}
}

func (p *Publisher) Publish(ctx context.Context, ns cache.Namespace, key string, value any) error {
	switch ns {
	case cache.NamespacePrices:
		quote, ok := value.(types.Quote)
		if !ok || !quote.Available {
			return nil
		}
		return p.db.UpsertPrice(ctx, quote)
	case cache.NamespaceMetadata:
		meta, ok := value.(types.TokenMetadata)
		if !ok {
			return nil
		}
		return p.db.UpsertToken(ctx, meta)
	}
	return nil
}
