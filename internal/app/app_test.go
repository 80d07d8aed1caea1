package app

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/order-reconciler/internal/registry"
	"github.com/mselser95/order-reconciler/internal/storage"
	"github.com/mselser95/order-reconciler/internal/testutil"
	"github.com/mselser95/order-reconciler/pkg/config"
	"github.com/mselser95/order-reconciler/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		LogLevel:                "info",
		HTTPPort:                "0",
		ExecutionMode:           "paper",
		SweepInterval:           time.Hour,
		StorageMode:             "badger",
		BadgerPath:              t.TempDir(),
		JournalBufferSize:       64,
		BreakerFailureThreshold: 5,
		BreakerCooldown:         time.Second,
		AlertDedupTTL:           time.Minute,
	}
}

func defaultLoader() (config.RawParameters, error) {
	return config.DefaultParameters(), nil
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, zap.NewNop(), &Options{Loader: defaultLoader})
	require.NoError(t, err)
	return a
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, zap.NewNop(), nil)
	assert.ErrorContains(t, err, "config cannot be nil")

	_, err = New(testConfig(t), nil, nil)
	assert.ErrorContains(t, err, "logger cannot be nil")
}

func TestNew_InvalidParameters(t *testing.T) {
	loader := func() (config.RawParameters, error) {
		raw := config.DefaultParameters()
		raw.StaleOrderThresholdSeconds = 0
		return raw, nil
	}

	_, err := New(testConfig(t), zap.NewNop(), &Options{Loader: loader})
	require.Error(t, err)

	var cfgErr *config.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.True(t, cfgErr.HasField("stale_order_threshold_seconds"))
}

func TestNew_RestoresJournaledOrders(t *testing.T) {
	cfg := testConfig(t)
	now := time.Now()

	store, err := storage.NewBadgerStorage(&storage.BadgerConfig{Path: cfg.BadgerPath, Logger: zap.NewNop()})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.StoreOrder(ctx, testutil.CreateTestOrder("ex-open", "BTCUSDT", time.Minute, now, types.StatusOpen)))
	require.NoError(t, store.StoreOrder(ctx, testutil.CreateTestOrder("ex-partial", "ETHUSDT", time.Minute, now, types.StatusPartiallyFilled)))
	require.NoError(t, store.StoreOrder(ctx, testutil.CreateTestOrder("ex-filled", "BTCUSDT", time.Minute, now, types.StatusFilled)))
	require.NoError(t, store.Close())

	a := newTestApp(t, cfg)
	defer func() { assert.NoError(t, a.Shutdown()) }()

	assert.Equal(t, 2, a.Registry().ActiveCount())
	_, found := a.Registry().Get("ex-filled")
	assert.False(t, found)

	rec, found := a.Registry().Get("ex-open")
	require.True(t, found)
	assert.Equal(t, types.StatusOpen, rec.Status)
}

func TestApp_PaperSweepCancelsAndJournals(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	res, err := a.Paper().SubmitOrder(ctx, types.OrderRequest{
		ClientOrderID: "client-1",
		Symbol:        "BTCUSDT",
		Side:          types.SideBuy,
		Quantity:      decimal.NewFromInt(10),
		Price:         decimal.RequireFromString("0.52"),
	})
	require.NoError(t, err)

	stale := testutil.CreateTestOrder(res.OrderID, "BTCUSDT", 10*time.Minute, time.Now(), types.StatusOpen)
	require.NoError(t, a.Registry().Upsert(stale))

	report, err := a.Scheduler().RunNow(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, []string{res.OrderID}, report.Cancelled)
	assert.Equal(t, 0, report.RemainingActive)

	rec, found := a.Registry().Get(res.OrderID)
	require.True(t, found)
	assert.Equal(t, types.StatusCancelled, rec.Status)

	require.NoError(t, a.Shutdown())

	// The journal flushed the order and the sweep before closing the store.
	store, err := storage.NewBadgerStorage(&storage.BadgerConfig{Path: cfg.BadgerPath, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer store.Close()

	active, err := store.LoadActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	sweeps, err := store.RecentSweeps(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sweeps, 1)
	assert.Equal(t, report.SweepID, sweeps[0].SweepID)
	assert.Equal(t, []string{res.OrderID}, sweeps[0].Cancelled)
}

func TestApp_SubmitThroughTracker(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	defer func() { assert.NoError(t, a.Shutdown()) }()

	rec, err := a.Tracker().Submit(context.Background(), types.OrderRequest{
		Symbol:   "ETHUSDT",
		Side:     types.SideSell,
		Quantity: decimal.NewFromInt(3),
		Price:    decimal.RequireFromString("0.40"),
	})
	require.NoError(t, err)
	assert.Equal(t, "paper-1", rec.ID)
	assert.Equal(t, types.StatusOpen, rec.Status)
	assert.Equal(t, 1, a.Registry().ActiveCount())

	// Nothing is old enough to be stale yet.
	preview := a.Engine().Preview("")
	assert.Empty(t, preview.Stale)
}

func TestApp_Reload(t *testing.T) {
	var threshold atomic.Int64
	threshold.Store(120)
	loader := func() (config.RawParameters, error) {
		raw := config.DefaultParameters()
		raw.StaleOrderThresholdSeconds = int(threshold.Load())
		return raw, nil
	}

	a, err := New(testConfig(t), zap.NewNop(), &Options{Loader: loader})
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Shutdown()) }()

	assert.Equal(t, uint64(1), a.Params().Current().Version)

	threshold.Store(300)
	snap, err := a.Reload()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, 300*time.Second, a.Params().Current().StaleOrderThreshold)

	threshold.Store(-1)
	_, err = a.Reload()
	require.Error(t, err)
	assert.Equal(t, uint64(2), a.Params().Current().Version)
}

func TestApp_HTTPRoutesWired(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	defer func() { assert.NoError(t, a.Shutdown()) }()

	require.NoError(t, a.Registry().Upsert(
		testutil.CreateTestOrder("ex-1", "BTCUSDT", time.Minute, time.Now(), types.StatusOpen)))

	handler := a.httpServer.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)

	// Badger keeps sweep history, so the history route is live.
	req = httptest.NewRequest(http.MethodGet, "/api/sweeps", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApp_ConsoleStorageHasNoHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageMode = "console"
	a := newTestApp(t, cfg)
	defer func() { assert.NoError(t, a.Shutdown()) }()

	req := httptest.NewRequest(http.MethodGet, "/api/sweeps", nil)
	rec := httptest.NewRecorder()
	a.httpServer.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestApp_StartAndShutdown(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	require.NoError(t, a.Start())

	rec, err := a.Tracker().Submit(context.Background(), types.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     types.SideBuy,
		Quantity: decimal.NewFromInt(5),
		Price:    decimal.RequireFromString("0.50"),
	})
	require.NoError(t, err)

	// A fill on the paper exchange reaches the registry through the event consumer.
	require.NoError(t, a.Paper().Fill(rec.ID, decimal.NewFromInt(5)))
	require.Eventually(t, func() bool {
		got, found := a.Registry().Get(rec.ID)
		return found && got.Status == types.StatusFilled
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, a.Shutdown())
}

func TestApp_LiveModeSweepsThroughREST(t *testing.T) {
	api := testutil.NewMockExchangeAPI()
	defer api.Close()

	cfg := testConfig(t)
	cfg.ExecutionMode = "live"
	cfg.ExchangeBaseURL = api.URL
	cfg.ExchangeSecret = base64.URLEncoding.EncodeToString([]byte("test-secret"))
	cfg.ExchangeAPIKey = "key"
	cfg.ExchangeTimeout = 2 * time.Second

	a := newTestApp(t, cfg)
	defer func() { assert.NoError(t, a.Shutdown()) }()

	api.SetOrder(testutil.MockExchangeOrder{OrderID: "ex-9", Symbol: "BTCUSDT", Status: "open", FilledQuantity: "0"})
	require.NoError(t, a.Registry().Upsert(
		testutil.CreateTestOrder("ex-9", "BTCUSDT", 10*time.Minute, time.Now(), types.StatusOpen)))

	report, err := a.Scheduler().RunNow(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, []string{"ex-9"}, report.Cancelled)

	// The live registry feeds symbols to the order stream subscriber.
	assert.Equal(t, []string{"BTCUSDT"}, a.symbols.take())
}

func TestShutdown_ReturnsComponentError(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	// Point the HTTP server at a port that is already taken.
	taken, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer taken.Close()
	cfg.HTTPPort = strconv.Itoa(taken.Addr().(*net.TCPAddr).Port)
	a.httpServer = a.setupHTTPServer()

	require.NoError(t, a.Start())

	select {
	case <-a.groupCtx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected the listen failure to cancel the group")
	}

	err = a.Shutdown()
	require.Error(t, err)
	assert.ErrorContains(t, err, "http server")
}

func TestObserverList_FansOut(t *testing.T) {
	w1 := newSymbolWatcher()
	w2 := newSymbolWatcher()
	list := observerList{w1, w2}

	list.Observe(registry.Change{
		Kind:   registry.ChangeUpserted,
		Record: testutil.CreateTestOrder("ex-1", "SOLUSDT", time.Minute, time.Now(), types.StatusOpen),
	})

	assert.Equal(t, []string{"SOLUSDT"}, w1.take())
	assert.Equal(t, []string{"SOLUSDT"}, w2.take())
}
