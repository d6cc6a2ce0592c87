package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"pricepath/internal/apperrors"
	"pricepath/internal/database"
	"pricepath/internal/metrics"
	"pricepath/internal/service/tx"
	"pricepath/pkg/types"
)

// PriceEngine is the slice of the valuation engine the API exposes.
type PriceEngine interface {
	PriceUSD(ctx context.Context, token types.TokenID) (types.Quote, error)
	LpPriceUSD(ctx context.Context, pairAddress string) (types.Quote, error)
}

// PathService resolves routes between tokens.
type PathService interface {
	FindPath(ctx context.Context, source, destination types.TokenID) (types.PricePath, error)
}

// TokenStore lists known tokens with their latest stored prices.
type TokenStore interface {
	ListTokens(ctx context.Context) ([]database.TokenRow, error)
}

// SwapAssembler builds unsigned swap payloads.
type SwapAssembler interface {
	BuildSwap(ctx context.Context, req tx.SwapRequest) (types.UnsignedTx, bool, error)
}

// Service serves the aggregation API over HTTP.
type Service struct {
	server    *http.Server
	engine    PriceEngine
	paths     PathService
	store     TokenStore
	assembler SwapAssembler
	logger    *slog.Logger
}

// QuoteResponse is the wire shape of a USD quote. Price is a decimal
// string and omitted when the quote is unavailable.
type QuoteResponse struct {
	Token     string   `json:"token,omitempty"`
	Pair      string   `json:"pair,omitempty"`
	PriceUSD  string   `json:"price,omitempty"`
	Path      []string `json:"path,omitempty"`
	Available bool     `json:"available"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

type PathResponse struct {
	Path []string `json:"path"`
}

type TokenListResponse struct {
	Tokens []TokenInfo `json:"tokens"`
}

type TokenInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	Decimals  int       `json:"decimals"`
	PriceUSD  *string   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SwapRequestBody struct {
	TokenIn   string `json:"token_in"`
	TokenOut  string `json:"token_out"`
	AmountIn  string `json:"amount_in"`
	Tolerance string `json:"tolerance"`
	Recipient string `json:"recipient"`
}

type SwapResponse struct {
	To        string `json:"to,omitempty"`
	Data      string `json:"data,omitempty"`
	Deadline  int64  `json:"deadline,omitempty"`
	Available bool   `json:"available"`
}

func NewService(engine PriceEngine, paths PathService, store TokenStore, assembler SwapAssembler, port int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		engine:    engine,
		paths:     paths,
		store:     store,
		assembler: assembler,
		logger:    logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/price/{token}", s.instrument("price", s.handleGetPrice)).Methods("GET")
	r.HandleFunc("/v1/lp/{pair}", s.instrument("lp", s.handleGetLpPrice)).Methods("GET")
	r.HandleFunc("/v1/path", s.instrument("path", s.handleFindPath)).Methods("GET")
	r.HandleFunc("/v1/tokens", s.instrument("tokens", s.handleListTokens)).Methods("GET")
	r.HandleFunc("/v1/swap", s.instrument("swap", s.handleBuildSwap)).Methods("POST")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Service) Start() error {
	return s.server.ListenAndServe()
}

func (s *Service) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Service) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	m := metrics.HTTP()
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		m.Requests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.Latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func (s *Service) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	token := types.TokenID(mux.Vars(r)["token"])

	quote, err := s.engine.PriceUSD(r.Context(), token)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, quoteResponse(quote))
}

func (s *Service) handleGetLpPrice(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]

	quote, err := s.engine.LpPriceUSD(r.Context(), pair)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := quoteResponse(quote)
	resp.Pair = pair
	writeJSON(w, resp)
}

func (s *Service) handleFindPath(w http.ResponseWriter, r *http.Request) {
	source := types.TokenID(r.URL.Query().Get("from"))
	destination := types.TokenID(r.URL.Query().Get("to"))

	path, err := s.paths.FindPath(r.Context(), source, destination)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := PathResponse{Path: make([]string, len(path))}
	for i, token := range path {
		resp.Path[i] = string(token)
	}
	writeJSON(w, resp)
}

func (s *Service) handleListTokens(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListTokens(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := TokenListResponse{Tokens: make([]TokenInfo, len(rows))}
	for i, row := range rows {
		var price *string
		if row.PriceUSD.Valid {
			value := row.PriceUSD.String
			price = &value
		}
		resp.Tokens[i] = TokenInfo{
			ID:        row.ID,
			Name:      row.Name,
			Symbol:    row.Symbol,
			Decimals:  row.Decimals,
			PriceUSD:  price,
			UpdatedAt: row.UpdatedAt,
		}
	}
	writeJSON(w, resp)
}

func (s *Service) handleBuildSwap(w http.ResponseWriter, r *http.Request) {
	var body SwapRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	amountIn, ok := new(big.Int).SetString(body.AmountIn, 10)
	if !ok {
		http.Error(w, "invalid amount_in", http.StatusBadRequest)
		return
	}
	tolerance, err := decimal.NewFromString(body.Tolerance)
	if err != nil {
		http.Error(w, "invalid tolerance", http.StatusBadRequest)
		return
	}

	unsigned, ok, err := s.assembler.BuildSwap(r.Context(), tx.SwapRequest{
		TokenIn:   types.TokenID(body.TokenIn),
		TokenOut:  types.TokenID(body.TokenOut),
		AmountIn:  amountIn,
		Tolerance: tolerance,
		Recipient: body.Recipient,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, SwapResponse{Available: false})
		return
	}

	writeJSON(w, SwapResponse{
		To:        unsigned.To,
		Data:      hexutil.Encode(unsigned.Data),
		Deadline:  unsigned.Deadline.Unix(),
		Available: true,
	})
}

// writeError maps the engine's error taxonomy onto transport status
// codes: invalid input is the caller's fault, upstream failures are a
// bad gateway, everything else is internal.
func (s *Service) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidInput):
		http.Error(w, "invalid input", http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrUpstreamUnavailable):
		s.logger.Warn("upstream failure", "err", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	default:
		s.logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func quoteResponse(quote types.Quote) QuoteResponse {
	resp := QuoteResponse{
		Token:     string(quote.Token),
		Available: quote.Available,
	}
	if !quote.Available {
		return resp
	}

	resp.PriceUSD = quote.Price.String()
	resp.Timestamp = quote.Taken.Unix()
	resp.Path = make([]string, len(quote.Path))
	for i, token := range quote.Path {
		resp.Path[i] = string(token)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
