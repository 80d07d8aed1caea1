package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/mselser95/order-reconciler/internal/circuitbreaker"
	"github.com/mselser95/order-reconciler/internal/reconcile"
	"github.com/mselser95/order-reconciler/internal/staleness"
	"github.com/mselser95/order-reconciler/pkg/config"
	"github.com/mselser95/order-reconciler/pkg/timestamp"
	"github.com/mselser95/order-reconciler/pkg/types"
	"go.uber.org/zap"
)

// OrderSource reads the order registry.
type OrderSource interface {
	AllActive() []types.OrderRecord
	Get(id string) (types.OrderRecord, bool)
}

// SweepRunner runs an on-demand sweep.
type SweepRunner interface {
	RunNow(ctx context.Context, symbol string) (*reconcile.SweepReport, error)
}

// StalePreviewer lists current stale candidates without acting on them.
type StalePreviewer interface {
	Preview(symbol string) staleness.Result
}

// ParamsSource supplies the active parameter snapshot.
type ParamsSource interface {
	Current() *config.Snapshot
}

// BreakerStatus reports the gateway circuit breaker state.
type BreakerStatus interface {
	GetStatus() circuitbreaker.Status
}

// SweepHistory lists past sweeps, newest first.
type SweepHistory interface {
	RecentSweeps(ctx context.Context, limit int) ([]*reconcile.SweepReport, error)
}

// ReloadFunc reloads trading parameters and returns the new snapshot.
type ReloadFunc func() (*config.Snapshot, error)

// APIHandler serves the reconciler's JSON API.
type APIHandler struct {
	orders  OrderSource
	sweeper SweepRunner
	preview StalePreviewer
	params  ParamsSource
	reload  ReloadFunc
	breaker BreakerStatus
	history SweepHistory
	now     func() time.Time
	logger  *zap.Logger
}

// APIConfig holds the API dependencies. Orders and Params are required; the
// routes backed by a nil dependency answer 501.
type APIConfig struct {
	Orders  OrderSource
	Sweeper SweepRunner
	Preview StalePreviewer
	Params  ParamsSource
	Reload  ReloadFunc
	Breaker BreakerStatus
	History SweepHistory
	Now     func() time.Time
	Logger  *zap.Logger
}

// OrderView is the JSON form of an order record.
type OrderView struct {
	ID             string            `json:"id"`
	ClientOrderID  string            `json:"client_order_id,omitempty"`
	Symbol         string            `json:"symbol"`
	Side           types.Side        `json:"side,omitempty"`
	Quantity       string            `json:"quantity"`
	Price          string            `json:"price"`
	FilledQuantity string            `json:"filled_quantity"`
	Status         types.OrderStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	Age            string            `json:"age"`
	RetryCount     int               `json:"retry_count"`
	LastError      string            `json:"last_error,omitempty"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
}

// OrdersResponse is the body of GET /api/orders.
type OrdersResponse struct {
	Count  int         `json:"count"`
	Orders []OrderView `json:"orders"`
}

// StaleResponse is the body of GET /api/orders/stale.
type StaleResponse struct {
	ThresholdSeconds float64     `json:"threshold_seconds"`
	Stale            []OrderView `json:"stale"`
	Skewed           []OrderView `json:"skewed"`
}

// ConfigResponse is the body of the config endpoints.
type ConfigResponse struct {
	Version    uint64               `json:"version"`
	LoadedAt   time.Time            `json:"loaded_at"`
	Parameters config.RawParameters `json:"parameters"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	ActiveOrders   int                    `json:"active_orders"`
	ActiveSymbols  int                    `json:"active_symbols"`
	ParamsVersion  uint64                 `json:"params_version"`
	CircuitBreaker *circuitbreaker.Status `json:"circuit_breaker,omitempty"`
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error      string             `json:"error"`
	Violations []config.Violation `json:"violations,omitempty"`
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(cfg *APIConfig) *APIHandler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &APIHandler{
		orders:  cfg.Orders,
		sweeper: cfg.Sweeper,
		preview: cfg.Preview,
		params:  cfg.Params,
		reload:  cfg.Reload,
		breaker: cfg.Breaker,
		history: cfg.History,
		now:     now,
		logger:  logger,
	}
}

// Routes mounts the API on r.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/orders", h.HandleListOrders)
	r.Get("/orders/stale", h.HandleStale)
	r.Get("/orders/{id}", h.HandleGetOrder)
	r.Post("/sweep", h.HandleSweep)
	r.Get("/sweeps", h.HandleSweepHistory)
	r.Get("/config", h.HandleConfig)
	r.Post("/config/reload", h.HandleReload)
	r.Get("/status", h.HandleStatus)
}

// HandleListOrders handles GET /api/orders[?symbol=].
func (h *APIHandler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	now := h.now()

	views := make([]OrderView, 0)
	for _, rec := range h.orders.AllActive() {
		if symbol != "" && rec.Symbol != symbol {
			continue
		}
		views = append(views, h.view(rec, now))
	}

	h.writeJSON(w, http.StatusOK, OrdersResponse{Count: len(views), Orders: views})
}

// HandleGetOrder handles GET /api/orders/{id}. Terminal records are served
// while they are still retained.
func (h *APIHandler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, ok := h.orders.Get(id)
	if !ok {
		h.writeError(w, "order not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, h.view(rec, h.now()))
}

// HandleStale handles GET /api/orders/stale[?symbol=].
func (h *APIHandler) HandleStale(w http.ResponseWriter, r *http.Request) {
	if h.preview == nil {
		h.writeError(w, "stale preview not available", http.StatusNotImplemented)
		return
	}

	result := h.preview.Preview(r.URL.Query().Get("symbol"))
	now := h.now()

	resp := StaleResponse{
		ThresholdSeconds: h.params.Current().ThresholdSeconds(),
		Stale:            make([]OrderView, 0, len(result.Stale)),
		Skewed:           make([]OrderView, 0, len(result.Skewed)),
	}
	for _, c := range result.Stale {
		resp.Stale = append(resp.Stale, h.view(c.Record, now))
	}
	for _, s := range result.Skewed {
		resp.Skewed = append(resp.Skewed, h.view(s.Record, now))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleSweep handles POST /api/sweep[?symbol=] and returns the sweep report.
func (h *APIHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		h.writeError(w, "sweeps not available", http.StatusNotImplemented)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	h.logger.Info("sweep-requested", zap.String("symbol", symbol))

	report, err := h.sweeper.RunNow(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, reconcile.ErrSweepInProgress) {
			h.writeError(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("sweep-request-failed", zap.Error(err))
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

// HandleSweepHistory handles GET /api/sweeps[?limit=].
func (h *APIHandler) HandleSweepHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, "sweep history not available", http.StatusNotImplemented)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			h.writeError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	reports, err := h.history.RecentSweeps(r.Context(), limit)
	if err != nil {
		h.logger.Error("sweep-history-failed", zap.Error(err))
		h.writeError(w, "failed to load sweep history", http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []*reconcile.SweepReport{}
	}

	h.writeJSON(w, http.StatusOK, reports)
}

// HandleConfig handles GET /api/config.
func (h *APIHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, configResponse(h.params.Current()))
}

// HandleReload handles POST /api/config/reload. An invalid parameter set is
// rejected with 422 and the active snapshot stays in place.
func (h *APIHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if h.reload == nil {
		h.writeError(w, "reload not available", http.StatusNotImplemented)
		return
	}

	snap, err := h.reload()
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			h.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error:      "invalid configuration",
				Violations: cfgErr.Violations,
			})
			return
		}
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info("params-reloaded-via-api", zap.Uint64("version", snap.Version))
	h.writeJSON(w, http.StatusOK, configResponse(snap))
}

// HandleStatus handles GET /api/status.
func (h *APIHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	active := h.orders.AllActive()
	symbols := make(map[string]struct{})
	for _, rec := range active {
		symbols[rec.Symbol] = struct{}{}
	}

	resp := StatusResponse{
		ActiveOrders:  len(active),
		ActiveSymbols: len(symbols),
		ParamsVersion: h.params.Current().Version,
	}
	if h.breaker != nil {
		status := h.breaker.GetStatus()
		resp.CircuitBreaker = &status
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func configResponse(snap *config.Snapshot) ConfigResponse {
	return ConfigResponse{
		Version:    snap.Version,
		LoadedAt:   snap.LoadedAt,
		Parameters: snap.Raw(),
	}
}

func (h *APIHandler) view(rec types.OrderRecord, now time.Time) OrderView {
	v := OrderView{
		ID:             rec.ID,
		ClientOrderID:  rec.ClientOrderID,
		Symbol:         rec.Symbol,
		Side:           rec.Side,
		Quantity:       rec.Quantity.String(),
		Price:          rec.Price.String(),
		FilledQuantity: rec.FilledQuantity.String(),
		Status:         rec.Status,
		CreatedAt:      rec.CreatedAt,
		RetryCount:     rec.RetryCount,
		LastError:      rec.LastError,
	}

	age, err := timestamp.AgeSeconds(rec.CreatedAt, now)
	if err != nil {
		v.Age = "n/a"
	} else {
		v.Age = timestamp.FormatAge(age)
	}

	if !rec.ResolvedAt.IsZero() {
		resolved := rec.ResolvedAt
		v.ResolvedAt = &resolved
	}
	return v
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		h.logger.Error("failed-to-encode-response", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (h *APIHandler) writeError(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, statusCode, ErrorResponse{Error: message})
}
