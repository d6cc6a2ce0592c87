package price

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"pricepath/pkg/types"
)

// StaticReference quotes anchor tokens from configuration. Stable
// assets whose USD price is maintained off-graph live here; every
// other token is unavailable and falls through to path composition.
type StaticReference struct {
	prices map[types.TokenID]decimal.Decimal
}

// NewStaticReference parses the configured token -> price mapping.
func NewStaticReference(quotes map[string]string) (*StaticReference, error) {
	prices := make(map[types.TokenID]decimal.Decimal, len(quotes))
	for token, raw := range quotes {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "reference price for %s", token)
		}
		if price.Sign() <= 0 {
			return nil, errors.Errorf("reference price for %s must be positive", token)
		}
		prices[types.TokenID(token)] = price
	}
	return &StaticReference{prices: prices}, nil
}

func (r *StaticReference) GetReferenceUSDPrice(ctx context.Context, token types.TokenID) (decimal.Decimal, bool, error) {
	price, ok := r.prices[token]
	return price, ok, nil
}
