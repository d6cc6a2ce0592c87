package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pricepath/internal/apperrors"
	"pricepath/internal/database"
	"pricepath/internal/service/tx"
	"pricepath/pkg/types"
)

type stubEngine struct {
	quote   types.Quote
	lpQuote types.Quote
	err     error
}

func (s *stubEngine) PriceUSD(ctx context.Context, token types.TokenID) (types.Quote, error) {
	return s.quote, s.err
}

func (s *stubEngine) LpPriceUSD(ctx context.Context, pairAddress string) (types.Quote, error) {
	return s.lpQuote, s.err
}

type stubPaths struct {
	path types.PricePath
	err  error
}

func (s *stubPaths) FindPath(ctx context.Context, source, destination types.TokenID) (types.PricePath, error) {
	return s.path, s.err
}

type stubStore struct {
	rows []database.TokenRow
}

func (s *stubStore) ListTokens(ctx context.Context) ([]database.TokenRow, error) {
	return s.rows, nil
}

type stubAssembler struct {
	unsigned types.UnsignedTx
	ok       bool
	err      error
}

func (s *stubAssembler) BuildSwap(ctx context.Context, req tx.SwapRequest) (types.UnsignedTx, bool, error) {
	return s.unsigned, s.ok, s.err
}

func serve(t *testing.T, svc *Service, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestGetPrice(t *testing.T) {
	engine := &stubEngine{quote: types.Quote{
		Token:     "WETH-abc123",
		Price:     decimal.RequireFromString("3000"),
		Path:      types.PricePath{"WETH-abc123", "USDC-a0b869"},
		Available: true,
		Taken:     time.Now(),
	}}
	svc := NewService(engine, &stubPaths{}, &stubStore{}, &stubAssembler{}, 0, nil)

	rec := serve(t, svc, "GET", "/v1/price/WETH-abc123", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp QuoteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Available)
	require.Equal(t, "3000", resp.PriceUSD)
	require.Equal(t, []string{"WETH-abc123", "USDC-a0b869"}, resp.Path)
}

func TestGetPriceUnavailable(t *testing.T) {
	engine := &stubEngine{quote: types.Unavailable("XYZ-deadbe")}
	svc := NewService(engine, &stubPaths{}, &stubStore{}, &stubAssembler{}, 0, nil)

	rec := serve(t, svc, "GET", "/v1/price/XYZ-deadbe", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp QuoteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Available)
	require.Empty(t, resp.PriceUSD)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", apperrors.ErrInvalidInput, http.StatusBadRequest},
		{"upstream unavailable", apperrors.Upstream(errors.New("rpc down"), "listing pairs"), http.StatusBadGateway},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&stubEngine{err: tt.err}, &stubPaths{}, &stubStore{}, &stubAssembler{}, 0, nil)
			rec := serve(t, svc, "GET", "/v1/price/WETH-abc123", nil)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestFindPath(t *testing.T) {
	paths := &stubPaths{path: types.PricePath{"AAA-111111", "BBB-222222"}}
	svc := NewService(&stubEngine{}, paths, &stubStore{}, &stubAssembler{}, 0, nil)

	rec := serve(t, svc, "GET", "/v1/path?from=AAA-111111&to=BBB-222222", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PathResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, []string{"AAA-111111", "BBB-222222"}, resp.Path)
}

func TestFindPathNoRoute(t *testing.T) {
	svc := NewService(&stubEngine{}, &stubPaths{}, &stubStore{}, &stubAssembler{}, 0, nil)

	rec := serve(t, svc, "GET", "/v1/path?from=AAA-111111&to=ZZZ-999999", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PathResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Path)
}

func TestListTokens(t *testing.T) {
	store := &stubStore{rows: []database.TokenRow{
		{ID: "WETH-abc123", Name: "Wrapped Ether", Symbol: "WETH", Decimals: 18},
	}}
	svc := NewService(&stubEngine{}, &stubPaths{}, store, &stubAssembler{}, 0, nil)

	rec := serve(t, svc, "GET", "/v1/tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TokenListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Tokens, 1)
	require.Equal(t, "WETH", resp.Tokens[0].Symbol)
	require.Nil(t, resp.Tokens[0].PriceUSD)
}

func TestBuildSwap(t *testing.T) {
	assembler := &stubAssembler{
		unsigned: types.UnsignedTx{
			To:       "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
			Data:     []byte{0x38, 0xed, 0x17, 0x39},
			Deadline: time.Unix(1700000000, 0),
		},
		ok: true,
	}
	svc := NewService(&stubEngine{}, &stubPaths{}, &stubStore{}, assembler, 0, nil)

	body, err := json.Marshal(SwapRequestBody{
		TokenIn:   "AAA-111111",
		TokenOut:  "BBB-222222",
		AmountIn:  big.NewInt(1000).String(),
		Tolerance: "0.01",
		Recipient: "0x1111111111111111111111111111111111111111",
	})
	require.NoError(t, err)

	rec := serve(t, svc, "POST", "/v1/swap", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SwapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Available)
	require.Equal(t, "0x38ed1739", resp.Data)
	require.Equal(t, int64(1700000000), resp.Deadline)
}

func TestBuildSwapNoRoute(t *testing.T) {
	svc := NewService(&stubEngine{}, &stubPaths{}, &stubStore{}, &stubAssembler{ok: false}, 0, nil)

	body := []byte(`{"token_in":"AAA-111111","token_out":"ZZZ-999999","amount_in":"1000","tolerance":"0.01","recipient":"0x1111111111111111111111111111111111111111"}`)
	rec := serve(t, svc, "POST", "/v1/swap", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SwapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Available)
}

func TestBuildSwapBadBody(t *testing.T) {
	svc := NewService(&stubEngine{}, &stubPaths{}, &stubStore{}, &stubAssembler{}, 0, nil)

	rec := serve(t, svc, "POST", "/v1/swap", []byte(`{"amount_in":"not-a-number"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
