package tokens

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"pricepath/internal/apperrors"
	"pricepath/internal/cache"
	"pricepath/pkg/types"
)

type fakeProvider struct {
	calls atomic.Int64
	err   error
}

func (f *fakeProvider) GetTokenMetadata(ctx context.Context, token types.TokenID) (types.TokenMetadata, error) {
	f.calls.Add(1)
	if f.err != nil {
		return types.TokenMetadata{}, f.err
	}
	return types.TokenMetadata{ID: token, Name: "Wrapped Ether", Symbol: "WETH", Decimals: 18}, nil
}

func newFixture(t *testing.T, provider *fakeProvider) *Service {
	t.Helper()
	c := cache.New(cache.Config{ComputeTimeout: time.Second}, nil, nil)
	t.Cleanup(c.Close)
	return NewService(provider, c, nil)
}

func TestMetadataCached(t *testing.T) {
	provider := &fakeProvider{}
	svc := newFixture(t, provider)

	for i := 0; i < 3; i++ {
		meta, err := svc.Metadata(context.Background(), "WETH-abc123")
		require.NoError(t, err)
		require.Equal(t, uint8(18), meta.Decimals)
	}
	require.Equal(t, int64(1), provider.calls.Load())
}

func TestMetadataInvalidToken(t *testing.T) {
	provider := &fakeProvider{}
	svc := newFixture(t, provider)

	_, err := svc.Metadata(context.Background(), "nodash")
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	require.Zero(t, provider.calls.Load())
}

func TestMetadataUpstreamFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("rpc down")}
	svc := newFixture(t, provider)

	_, err := svc.Metadata(context.Background(), "WETH-abc123")
	require.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)

	provider.err = nil
	meta, err := svc.Metadata(context.Background(), "WETH-abc123")
	require.NoError(t, err)
	require.Equal(t, "WETH", meta.Symbol)
	require.Equal(t, int64(2), provider.calls.Load())
}
