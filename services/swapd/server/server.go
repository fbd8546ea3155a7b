package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"swapnet/observability"

	swap "swapnet/native/swap"
	"swapnet/services/swapd/storage"
)

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress string
}

// Server exposes the swap engine over HTTP.
type Server struct {
	cfg     Config
	engine  *swap.Engine
	vaults  *swap.VaultStore
	oracle  *swap.OracleAggregator
	history *storage.Storage
	logger  *slog.Logger
	metrics *observability.VaultMetrics
}

// New constructs a new HTTP server.
func New(cfg Config, engine *swap.Engine, vaults *swap.VaultStore, oracle *swap.OracleAggregator, history *storage.Storage, logger *slog.Logger) (*Server, error) {
	if engine == nil || vaults == nil || oracle == nil {
		return nil, fmt.Errorf("engine, vault store and oracle required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8546"
	}
	return &Server{
		cfg:     cfg,
		engine:  engine,
		vaults:  vaults,
		oracle:  oracle,
		history: history,
		logger:  logger,
		metrics: observability.Vault(),
	}, nil
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Post("/swaps", s.handleSwap)
		api.Post("/vaults", s.handleInitVault)
		api.Put("/vaults/{owner}/{asset}", s.handleUpdateVault)
		api.Get("/vaults/{owner}/{asset}", s.handleGetVault)
		api.Post("/vaults/{owner}/{asset}/deposit", s.handleDeposit)
		api.Post("/vaults/{owner}/{asset}/withdraw", s.handleWithdraw)
		api.Get("/prices/{symbol}", s.handleGetPrice)
		api.Post("/oracle/{symbol}/update", s.handleOracleUpdate)
		api.Get("/receipts/{id}", s.handleGetReceipt)
		api.Get("/receipts", s.handleListReceipts)
	})
	return otelhttp.NewHandler(r, "swapd.http")
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{Addr: s.cfg.ListenAddress, Handler: s.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "address", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type swapRequest struct {
	Requester    string `json:"requester"`
	AssetIn      string `json:"asset_in"`
	AssetOut     string `json:"asset_out"`
	AmountIn     uint64 `json:"amount_in"`
	MinAmountOut uint64 `json:"min_amount_out"`
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := s.engine.RequestSwap(r.Context(), req.Requester, req.AssetIn, req.AssetOut, req.AmountIn, req.MinAmountOut)
	if err != nil {
		s.writeSwapError(w, err)
		return
	}
	if s.history != nil {
		if err := s.history.RecordReceipt(r.Context(), *receipt); err != nil {
			s.logger.Warn("record receipt", "receipt", receipt.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, receipt)
}

type vaultParams struct {
	BuyFeeBps         uint32 `json:"buy_fee_bps"`
	SellFeeBps        uint32 `json:"sell_fee_bps"`
	Min               uint64 `json:"min"`
	Max               uint64 `json:"max"`
	ReceiveEnabled    bool   `json:"receive_enabled"`
	ProvideEnabled    bool   `json:"provide_enabled"`
	LimitPrice        uint64 `json:"limit_price"`
	LimitPriceEnabled bool   `json:"limit_price_enabled"`
	Delegate          string `json:"delegate"`
}

func (p vaultParams) core() swap.VaultParams {
	return swap.VaultParams{
		BuyFeeBps:         p.BuyFeeBps,
		SellFeeBps:        p.SellFeeBps,
		Min:               p.Min,
		Max:               p.Max,
		ReceiveEnabled:    p.ReceiveEnabled,
		ProvideEnabled:    p.ProvideEnabled,
		LimitPrice:        p.LimitPrice,
		LimitPriceEnabled: p.LimitPriceEnabled,
		Delegate:          p.Delegate,
	}
}

func (s *Server) handleInitVault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string      `json:"caller"`
		Asset  string      `json:"asset"`
		Params vaultParams `json:"params"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vault, err := s.vaults.InitVault(req.Caller, req.Asset, req.Params.core())
	s.metrics.ObserveOp("init", err)
	if err != nil {
		s.writeSwapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, vault)
}

func (s *Server) handleUpdateVault(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	asset := chi.URLParam(r, "asset")
	var req struct {
		Caller string      `json:"caller"`
		Params vaultParams `json:"params"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vault, err := s.vaults.UpdateVaultConfig(req.Caller, owner, asset, req.Params.core())
	s.metrics.ObserveOp("update", err)
	if err != nil {
		s.writeSwapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vault)
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	vault, err := s.vaults.Vault(chi.URLParam(r, "owner"), chi.URLParam(r, "asset"))
	if err != nil {
		s.writeSwapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vault)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	asset := chi.URLParam(r, "asset")
	var req struct {
		Caller string `json:"caller"`
		Amount uint64 `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vault, err := s.vaults.Deposit(req.Caller, owner, asset, req.Amount)
	s.metrics.ObserveOp("deposit", err)
	if err != nil {
		s.writeSwapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vault)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	asset := chi.URLParam(r, "asset")
	var req struct {
		Caller string `json:"caller"`
		Amount uint64 `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vault, err := s.vaults.WithdrawFrom(req.Caller, owner, asset, req.Amount)
	s.metrics.ObserveOp("withdraw", err)
	if err != nil {
		s.writeSwapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vault)
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.oracle.Price(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeSwapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (s *Server) handleOracleUpdate(w http.ResponseWriter, r *http.Request) {
	price, err := s.oracle.Update(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeSwapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, storage.ErrNotFound)
		return
	}
	receipt, err := s.history.Receipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []swap.Receipt{})
		return
	}
	requester := r.URL.Query().Get("requester")
	if strings.TrimSpace(requester) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("requester query parameter required"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	receipts, err := s.history.ReceiptsByRequester(r.Context(), requester, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// writeSwapError maps the module's error taxonomy onto HTTP statuses.
func (s *Server) writeSwapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, swap.ErrInvalidAmount), errors.Is(err, swap.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, swap.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, swap.ErrNotFound), errors.Is(err, swap.ErrUnknownAsset):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, swap.ErrAlreadyExists), errors.Is(err, swap.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, swap.ErrInsufficientBalance),
		errors.Is(err, swap.ErrInsufficientLiquidity),
		errors.Is(err, swap.ErrSlippageExceeded):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, swap.ErrStalePrice):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.logger.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("internal error"))
	}
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
