package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// MockExchangeOrder is one order held by MockExchangeAPI, in wire form.
type MockExchangeOrder struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id,omitempty"`
	Symbol         string `json:"symbol,omitempty"`
	Status         string `json:"status"`
	FilledQuantity string `json:"filled_quantity"`
}

// RecordedRequest is one request received by MockExchangeAPI.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// MockExchangeAPI is a mock HTTP server that simulates the exchange REST API:
// POST /orders, GET /orders/{id} and DELETE /orders/{id}.
type MockExchangeAPI struct {
	*httptest.Server

	mu        sync.Mutex
	orders    map[string]*MockExchangeOrder
	failures  map[string][]int // "METHOD /path" -> queued status codes
	requests  []RecordedRequest
	idCounter int
}

// NewMockExchangeAPI creates and starts a mock exchange server.
func NewMockExchangeAPI() *MockExchangeAPI {
	mock := &MockExchangeAPI{
		orders:   make(map[string]*MockExchangeOrder),
		failures: make(map[string][]int),
	}
	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// SetOrder stores or replaces an order.
func (m *MockExchangeAPI) SetOrder(o MockExchangeOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderID] = &o
}

// QueueStatus makes the next requests matching method and path answer with
// the given status codes, one per request.
func (m *MockExchangeAPI) QueueStatus(method, path string, codes ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := method + " " + path
	m.failures[k] = append(m.failures[k], codes...)
}

// Requests returns every request received so far.
func (m *MockExchangeAPI) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockExchangeAPI) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Body:   body,
	})

	k := r.Method + " " + r.URL.Path
	if codes := m.failures[k]; len(codes) > 0 {
		m.failures[k] = codes[1:]
		writeJSON(w, codes[0], map[string]string{"error": http.StatusText(codes[0])})
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/orders":
		var req struct {
			ClientOrderID string `json:"client_order_id"`
			Symbol        string `json:"symbol"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		m.idCounter++
		o := &MockExchangeOrder{
			OrderID:        fmt.Sprintf("ex-%d", m.idCounter),
			ClientOrderID:  req.ClientOrderID,
			Symbol:         req.Symbol,
			Status:         "open",
			FilledQuantity: "0",
		}
		m.orders[o.OrderID] = o
		writeJSON(w, http.StatusCreated, o)

	case strings.HasPrefix(r.URL.Path, "/orders/"):
		id := strings.TrimPrefix(r.URL.Path, "/orders/")
		o, ok := m.orders[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found", "code": "UNKNOWN_ORDER"})
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, o)
		case http.MethodDelete:
			switch o.Status {
			case "filled", "cancelled", "expired":
				writeJSON(w, http.StatusOK, map[string]any{"success": false, "reason": "ORDER_ALREADY_CLOSED"})
			default:
				o.Status = "cancelled"
				writeJSON(w, http.StatusOK, map[string]any{"success": true})
			}
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
