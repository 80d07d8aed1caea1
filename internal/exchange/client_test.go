package exchange

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/order-reconciler/internal/testutil"
	"github.com/mselser95/order-reconciler/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSecret = "dGVzdC1zZWNyZXQ=" // base64 of "test-secret"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(&ClientConfig{
		BaseURL:    baseURL,
		APIKey:     "test-api-key",
		Secret:     testSecret,
		Passphrase: "test-passphrase",
		Timeout:    2 * time.Second,
		Now:        func() time.Time { return fixedNow },
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewClient(nil)
	assert.EqualError(t, err, "config cannot be nil")

	_, err = NewClient(&ClientConfig{Logger: logger, Secret: testSecret})
	assert.EqualError(t, err, "base url cannot be empty")

	_, err = NewClient(&ClientConfig{BaseURL: "http://x", Secret: testSecret})
	assert.EqualError(t, err, "logger cannot be nil")

	_, err = NewClient(&ClientConfig{BaseURL: "http://x", Secret: "not base64!", Logger: logger})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode secret")
}

func TestClient_SubmitOrderSignsRequest(t *testing.T) {
	api := testutil.NewMockExchangeAPI()
	defer api.Close()
	c := newTestClient(t, api.URL)

	res, err := c.SubmitOrder(context.Background(), types.OrderRequest{
		ClientOrderID: "cid-1",
		Symbol:        "BTCUSDT",
		Side:          types.SideBuy,
		Quantity:      decimal.RequireFromString("1.5"),
		Price:         decimal.RequireFromString("64000.25"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ex-1", res.OrderID)
	assert.Equal(t, types.StatusOpen, res.Status)

	reqs := api.Requests()
	require.Len(t, reqs, 1)
	r := reqs[0]
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, "test-api-key", r.Header.Get(HeaderAPIKey))
	assert.Equal(t, "test-passphrase", r.Header.Get(HeaderPassphrase))
	assert.Equal(t, "1717243200", r.Header.Get(HeaderTimestamp))

	want := Sign([]byte("test-secret"), "1717243200", http.MethodPost, "/orders", r.Body)
	assert.Equal(t, want, r.Header.Get(HeaderSignature))

	var payload OrderPayload
	require.NoError(t, json.Unmarshal(r.Body, &payload))
	assert.Equal(t, "cid-1", payload.ClientOrderID)
	assert.True(t, payload.Price.Equal(decimal.RequireFromString("64000.25")))
}

func TestClient_QueryOrder(t *testing.T) {
	api := testutil.NewMockExchangeAPI()
	defer api.Close()
	api.SetOrder(testutil.MockExchangeOrder{OrderID: "ex-9", Status: "partially_filled", FilledQuantity: "0.4"})
	c := newTestClient(t, api.URL)

	res, err := c.QueryOrder(context.Background(), "ex-9")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPartiallyFilled, res.Status)
	assert.True(t, res.FilledQuantity.Equal(decimal.RequireFromString("0.4")))

	r := api.Requests()[0]
	want := Sign([]byte("test-secret"), "1717243200", http.MethodGet, "/orders/ex-9", nil)
	assert.Equal(t, want, r.Header.Get(HeaderSignature))
}

func TestClient_QueryOrderExchangeStatuses(t *testing.T) {
	tests := []struct {
		wire string
		want types.OrderStatus
	}{
		{"live", types.StatusOpen},
		{"matched", types.StatusFilled},
		{"canceled", types.StatusCancelled},
		{"expired", types.StatusCancelled},
	}

	api := testutil.NewMockExchangeAPI()
	defer api.Close()
	c := newTestClient(t, api.URL)

	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			api.SetOrder(testutil.MockExchangeOrder{OrderID: "ex-1", Status: tt.wire, FilledQuantity: "0"})
			res, err := c.QueryOrder(context.Background(), "ex-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestClient_QueryOrderUnknownStatusIsPermanent(t *testing.T) {
	api := testutil.NewMockExchangeAPI()
	defer api.Close()
	api.SetOrder(testutil.MockExchangeOrder{OrderID: "ex-1", Status: "frozen", FilledQuantity: "0"})
	c := newTestClient(t, api.URL)

	_, err := c.QueryOrder(context.Background(), "ex-1")
	require.Error(t, err)
	assert.True(t, types.IsPermanent(err))
	assert.Contains(t, err.Error(), "frozen")
}

func TestClient_CancelOrder(t *testing.T) {
	api := testutil.NewMockExchangeAPI()
	defer api.Close()
	api.SetOrder(testutil.MockExchangeOrder{OrderID: "open", Status: "open", FilledQuantity: "0"})
	api.SetOrder(testutil.MockExchangeOrder{OrderID: "done", Status: "filled", FilledQuantity: "1"})
	c := newTestClient(t, api.URL)

	res, err := c.CancelOrder(context.Background(), "open")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = c.CancelOrder(context.Background(), "done")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, types.ReasonAlreadyClosed, res.Reason)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"unavailable", http.StatusServiceUnavailable, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"forbidden", http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := testutil.NewMockExchangeAPI()
			defer api.Close()
			api.SetOrder(testutil.MockExchangeOrder{OrderID: "ex-1", Status: "open", FilledQuantity: "0"})
			api.QueueStatus(http.MethodGet, "/orders/ex-1", tt.code)
			c := newTestClient(t, api.URL)

			_, err := c.QueryOrder(context.Background(), "ex-1")
			require.Error(t, err)
			assert.Equal(t, tt.transient, types.IsTransient(err))
			assert.Equal(t, !tt.transient, types.IsPermanent(err))

			// The queued failure is consumed; the next call succeeds.
			_, err = c.QueryOrder(context.Background(), "ex-1")
			assert.NoError(t, err)
		})
	}
}

func TestClient_UnknownOrderIsPermanent(t *testing.T) {
	api := testutil.NewMockExchangeAPI()
	defer api.Close()
	c := newTestClient(t, api.URL)

	_, err := c.CancelOrder(context.Background(), "missing")
	require.Error(t, err)

	var permanent *types.PermanentGatewayError
	require.True(t, errors.As(err, &permanent))
	assert.Equal(t, http.StatusNotFound, permanent.Code)
	assert.Equal(t, "cancel", permanent.Op)
	assert.Contains(t, err.Error(), types.ReasonUnknownOrder)
}

func TestClient_TransportErrorIsTransient(t *testing.T) {
	api := testutil.NewMockExchangeAPI()
	c := newTestClient(t, api.URL)
	api.Close()

	_, err := c.QueryOrder(context.Background(), "ex-1")
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
}

func TestClient_ContextCancelledIsTransient(t *testing.T) {
	api := testutil.NewMockExchangeAPI()
	defer api.Close()
	c := newTestClient(t, api.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.QueryOrder(ctx, "ex-1")
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSign_Deterministic(t *testing.T) {
	a := Sign([]byte("k"), "1", "GET", "/orders/1", nil)
	b := Sign([]byte("k"), "1", "GET", "/orders/1", []byte{})
	c := Sign([]byte("k"), "2", "GET", "/orders/1", nil)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
