package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/clearing"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/market"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/observability"
	"github.com/darkty0x/curie-v2-perpetual-contracts/internal/vault"
)

// HTTPServer serves the JSON query API, health probes, and Prometheus
// metrics. All amounts are decimal strings at the canonical 1e18 scale.
type HTTPServer struct {
	addr    string
	engine  *clearing.Engine
	markets *market.Registry
	vault   *vault.Vault
	healthz *observability.HealthChecker
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewHTTPServer(addr string, engine *clearing.Engine, markets *market.Registry, v *vault.Vault, healthz *observability.HealthChecker, logger zerolog.Logger, metrics *observability.Metrics) *HTTPServer {
	return &HTTPServer{
		addr:    addr,
		engine:  engine,
		markets: markets,
		vault:   v,
		healthz: healthz,
		logger:  logger,
		metrics: metrics,
	}
}

// Run serves until ctx is cancelled.
func (s *HTTPServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.healthz.LivenessHandler)
	mux.HandleFunc("GET /readyz", s.healthz.ReadinessHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/markets", s.instrument("markets", s.handleMarkets))
	mux.HandleFunc("GET /v1/markets/{market}/price", s.instrument("market_price", s.handleMarketPrice))
	mux.HandleFunc("GET /v1/traders/{trader}/markets", s.instrument("trader_markets", s.handleTraderMarkets))
	mux.HandleFunc("GET /v1/traders/{trader}/markets/{market}/position", s.instrument("position", s.handlePosition))
	mux.HandleFunc("GET /v1/traders/{trader}/markets/{market}/tokens/{token}", s.instrument("token_info", s.handleTokenInfo))
	mux.HandleFunc("GET /v1/traders/{trader}/net-quote-balance", s.instrument("net_quote_balance", s.handleNetQuoteBalance))
	mux.HandleFunc("GET /v1/traders/{trader}/balance", s.instrument("vault_balance", s.handleVaultBalance))
	mux.HandleFunc("GET /v1/traders/{trader}/free-collateral", s.instrument("free_collateral", s.handleFreeCollateral))

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type apiError struct {
	Error string `json:"error"`
}

func (s *HTTPServer) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.metrics != nil {
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			status := "ok"
			if rec.status >= 400 {
				status = "error"
				s.metrics.QueryErrors.WithLabelValues(endpoint, http.StatusText(rec.status)).Inc()
			}
			s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Error: err.Error()})
}

func parseTrader(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	trader, err := uuid.Parse(r.PathValue("trader"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return uuid.Nil, false
	}
	return trader, true
}

func (s *HTTPServer) handleMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": s.markets.IDs()})
}

func (s *HTTPServer) handleMarketPrice(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("market")
	sqrtPrice, err := s.engine.GetSqrtMarkPriceX96(marketID)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"market_id":      marketID,
		"sqrt_price_x96": sqrtPrice.Dec(),
	})
}

func (s *HTTPServer) handleTraderMarkets(w http.ResponseWriter, r *http.Request) {
	trader, ok := parseTrader(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": s.engine.ActiveMarkets(trader)})
}

func (s *HTTPServer) handlePosition(w http.ResponseWriter, r *http.Request) {
	trader, ok := parseTrader(w, r)
	if !ok {
		return
	}
	marketID := r.PathValue("market")
	if !s.markets.Has(marketID) {
		writeErr(w, http.StatusNotFound, market.ErrUnknownMarket)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"position_size":     s.engine.GetPositionSize(trader, marketID).String(),
		"open_notional":     s.engine.GetOpenNotional(trader, marketID).String(),
		"owed_realized_pnl": s.engine.GetOwedRealizedPnl(trader, marketID).String(),
	})
}

func (s *HTTPServer) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	trader, ok := parseTrader(w, r)
	if !ok {
		return
	}
	info, err := s.engine.GetTokenInfo(trader, r.PathValue("market"), r.PathValue("token"))
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"available": info.Available.String(),
		"debt":      info.Debt.String(),
	})
}

func (s *HTTPServer) handleNetQuoteBalance(w http.ResponseWriter, r *http.Request) {
	trader, ok := parseTrader(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"net_quote_balance": s.engine.GetNetQuoteBalance(trader).String(),
	})
}

func (s *HTTPServer) handleVaultBalance(w http.ResponseWriter, r *http.Request) {
	trader, ok := parseTrader(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"balance": s.vault.BalanceOf(trader).String(),
	})
}

func (s *HTTPServer) handleFreeCollateral(w http.ResponseWriter, r *http.Request) {
	trader, ok := parseTrader(w, r)
	if !ok {
		return
	}
	free, err := s.engine.FreeCollateral(trader, s.vault.BalanceOf(trader))
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"free_collateral": free.String(),
	})
}
