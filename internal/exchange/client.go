// Package exchange holds the gateway adapters the reconciler talks to: a signed
// REST client for live trading and an in-memory paper exchange.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"
	"github.com/mselser95/order-reconciler/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Request headers carrying the API credentials and signature.
const (
	HeaderAPIKey     = "X-API-KEY"
	HeaderSignature  = "X-SIGNATURE"
	HeaderTimestamp  = "X-TIMESTAMP"
	HeaderPassphrase = "X-PASSPHRASE"
)

// Client is the REST exchange gateway. Every request is signed with
// HMAC-SHA256 over timestamp + method + path + body.
type Client struct {
	http       *resty.Client
	apiKey     string
	secret     []byte
	passphrase string
	now        func() time.Time
	logger     *zap.Logger
}

// ClientConfig holds configuration for the REST client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Secret     string // URL-safe base64
	Passphrase string
	Timeout    time.Duration
	Now        func() time.Time
	Logger     *zap.Logger
}

// OrderPayload is the body of POST /orders.
type OrderPayload struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
}

// OrderResponse is the exchange view of one order.
type OrderResponse struct {
	OrderID        string          `json:"order_id"`
	ClientOrderID  string          `json:"client_order_id,omitempty"`
	Status         string          `json:"status"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
}

// CancelResponse is the body returned by DELETE /orders/{id}.
type CancelResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewClient creates a new REST client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	secret, err := base64.URLEncoding.DecodeString(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	// Retries belong to the reconciler, which counts them per order.
	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	return &Client{
		http:       httpClient,
		apiKey:     cfg.APIKey,
		secret:     secret,
		passphrase: cfg.Passphrase,
		now:        now,
		logger:     cfg.Logger,
	}, nil
}

// Sign returns the signature for one request.
func Sign(secret []byte, timestamp, method, path string, body []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(timestamp + method + path))
	h.Write(body)
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// SubmitOrder places a new order.
func (c *Client) SubmitOrder(ctx context.Context, req types.OrderRequest) (result types.SubmitResult, err error) {
	payload := OrderPayload{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Quantity:      req.Quantity,
		Price:         req.Price,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return types.SubmitResult{}, fmt.Errorf("marshal order: %w", err)
	}

	var resp OrderResponse
	err = c.do(ctx, "submit", req.ClientOrderID, http.MethodPost, "/orders", body, &resp)
	if err != nil {
		return types.SubmitResult{}, err
	}

	status, ok := types.ParseExchangeStatus(resp.Status)
	if !ok {
		status = types.StatusOpen
	}
	if resp.OrderID == "" {
		return types.SubmitResult{}, &types.PermanentGatewayError{
			Op: "submit", OrderID: req.ClientOrderID, Err: errors.New("response carries no order id"),
		}
	}

	c.logger.Info("order-submitted",
		zap.String("order-id", resp.OrderID),
		zap.String("client-order-id", req.ClientOrderID),
		zap.String("symbol", req.Symbol),
		zap.String("status", string(status)))

	return types.SubmitResult{OrderID: resp.OrderID, Status: status}, nil
}

// QueryOrder fetches the exchange's view of an order.
func (c *Client) QueryOrder(ctx context.Context, orderID string) (result types.QueryResult, err error) {
	var resp OrderResponse
	err = c.do(ctx, "query", orderID, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &resp)
	if err != nil {
		return types.QueryResult{}, err
	}

	status, ok := types.ParseExchangeStatus(resp.Status)
	if !ok {
		return types.QueryResult{}, &types.PermanentGatewayError{
			Op: "query", OrderID: orderID, Err: fmt.Errorf("unrecognized order status %q", resp.Status),
		}
	}

	return types.QueryResult{Status: status, FilledQuantity: resp.FilledQuantity}, nil
}

// CancelOrder asks the exchange to cancel an order. An answered rejection is
// returned as a CancelResult, not an error.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (result types.CancelResult, err error) {
	var resp CancelResponse
	err = c.do(ctx, "cancel", orderID, http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil, &resp)
	if err != nil {
		return types.CancelResult{}, err
	}

	return types.CancelResult{Success: resp.Success, Reason: resp.Reason}, nil
}

// do sends one signed request and decodes a 2xx body into out. Failures come
// back as *types.TransientGatewayError or *types.PermanentGatewayError.
func (c *Client) do(ctx context.Context, op, orderID, method, path string, body []byte, out any) error {
	timestamp := strconv.FormatInt(c.now().Unix(), 10)

	r := c.http.R().
		SetContext(ctx).
		SetHeader(HeaderAPIKey, c.apiKey).
		SetHeader(HeaderPassphrase, c.passphrase).
		SetHeader(HeaderTimestamp, timestamp).
		SetHeader(HeaderSignature, Sign(c.secret, timestamp, method, path, body))
	if body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	start := time.Now()
	resp, err := r.Execute(method, path)
	RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		RequestsTotal.WithLabelValues(op, "error").Inc()
		c.logger.Warn("exchange-request-failed",
			zap.String("op", op),
			zap.String("order-id", orderID),
			zap.Error(err))
		return &types.TransientGatewayError{Op: op, OrderID: orderID, Err: err}
	}

	code := resp.StatusCode()
	RequestsTotal.WithLabelValues(op, statusClass(code)).Inc()

	if resp.IsSuccess() {
		err = json.Unmarshal(resp.Body(), out)
		if err != nil {
			return &types.PermanentGatewayError{Op: op, OrderID: orderID, Code: code, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}

	cause := errors.New(errorMessage(resp.Body(), code))
	if code == http.StatusTooManyRequests || code >= 500 {
		c.logger.Warn("exchange-request-transient",
			zap.String("op", op),
			zap.String("order-id", orderID),
			zap.Int("status", code),
			zap.Error(cause))
		return &types.TransientGatewayError{Op: op, OrderID: orderID, Code: code, Err: cause}
	}

	c.logger.Warn("exchange-request-rejected",
		zap.String("op", op),
		zap.String("order-id", orderID),
		zap.Int("status", code),
		zap.Error(cause))
	return &types.PermanentGatewayError{Op: op, OrderID: orderID, Code: code, Err: cause}
}

// errorMessage extracts a reason from an error body. 404 without a body maps
// to the unknown-order reason.
func errorMessage(body []byte, code int) string {
	var e errorResponse
	if json.Unmarshal(body, &e) == nil {
		if e.Code != "" {
			return e.Code
		}
		if e.Error != "" {
			return e.Error
		}
	}
	if code == http.StatusNotFound {
		return types.ReasonUnknownOrder
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(code)
	}
	return text
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code == http.StatusTooManyRequests:
		return "429"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
