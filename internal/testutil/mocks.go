package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/order-reconciler/pkg/types"
	"github.com/shopspring/decimal"
)

// MockOrder is the exchange-side state of one order in MockGateway.
type MockOrder struct {
	Status         types.OrderStatus
	FilledQuantity decimal.Decimal
}

// GatewayCall records one call made to MockGateway.
type GatewayCall struct {
	Op      string
	OrderID string
}

// MockGateway simulates an exchange for tests. Orders it does not know are
// reported as a permanent "unknown order" error. Errors can be queued per
// order and operation, and a delay applied to every call.
type MockGateway struct {
	mu           sync.Mutex
	orders       map[string]*MockOrder
	queued       map[string][]error // key: op + "/" + id
	sticky       map[string]error
	rejections   map[string]string
	submitErrs   []error
	delay        time.Duration
	calls        []GatewayCall
	inFlight     int
	maxInFlight  int
	orderCounter int
}

// NewMockGateway creates an empty mock exchange.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		orders:     make(map[string]*MockOrder),
		queued:     make(map[string][]error),
		sticky:     make(map[string]error),
		rejections: make(map[string]string),
	}
}

func key(op, id string) string {
	return op + "/" + id
}

// SetOrder sets the exchange-side state of an order.
func (m *MockGateway) SetOrder(id string, status types.OrderStatus, filled decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id] = &MockOrder{Status: status, FilledQuantity: filled}
}

// Order returns the exchange-side state of an order.
func (m *MockGateway) Order(id string) (MockOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return MockOrder{}, false
	}
	return *o, true
}

// QueueError makes the next calls of op ("query" or "cancel") for id fail with
// errs, one per call.
func (m *MockGateway) QueueError(op, id string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued[key(op, id)] = append(m.queued[key(op, id)], errs...)
}

// FailAlways makes every call of op for id fail with err until cleared with nil.
func (m *MockGateway) FailAlways(op, id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.sticky, key(op, id))
		return
	}
	m.sticky[key(op, id)] = err
}

// RejectCancel makes cancels for id answer unsuccessfully with reason.
func (m *MockGateway) RejectCancel(id, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections[id] = reason
}

// QueueSubmitError makes the next submits fail with errs, one per call.
func (m *MockGateway) QueueSubmitError(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErrs = append(m.submitErrs, errs...)
}

// SetDelay makes every call take d, or until its context is done.
func (m *MockGateway) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls returns every call made so far, in order.
func (m *MockGateway) Calls() []GatewayCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GatewayCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times op was called for id. An empty op or id
// matches any.
func (m *MockGateway) CallCount(op, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if (op == "" || c.Op == op) && (id == "" || c.OrderID == id) {
			n++
		}
	}
	return n
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (m *MockGateway) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// begin records the call and returns the scripted error for it, if any.
func (m *MockGateway) begin(ctx context.Context, op, id string) error {
	m.mu.Lock()
	m.calls = append(m.calls, GatewayCall{Op: op, OrderID: id})
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return &types.TransientGatewayError{Op: op, OrderID: id, Err: ctx.Err()}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(op, id)
	if errs := m.queued[k]; len(errs) > 0 {
		m.queued[k] = errs[1:]
		return errs[0]
	}
	if err, ok := m.sticky[k]; ok {
		return err
	}
	return nil
}

func (m *MockGateway) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

// SubmitOrder simulates placing an order; it rests Open on the book.
func (m *MockGateway) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.SubmitResult, error) {
	err := m.begin(ctx, "submit", req.ClientOrderID)
	defer m.end()
	if err != nil {
		return types.SubmitResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.submitErrs) > 0 {
		err = m.submitErrs[0]
		m.submitErrs = m.submitErrs[1:]
		return types.SubmitResult{}, err
	}

	m.orderCounter++
	id := fmt.Sprintf("ex-%d", m.orderCounter)
	m.orders[id] = &MockOrder{Status: types.StatusOpen, FilledQuantity: decimal.Zero}
	return types.SubmitResult{OrderID: id, Status: types.StatusOpen}, nil
}

// QueryOrder returns the exchange-side state of an order.
func (m *MockGateway) QueryOrder(ctx context.Context, orderID string) (types.QueryResult, error) {
	err := m.begin(ctx, "query", orderID)
	defer m.end()
	if err != nil {
		return types.QueryResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return types.QueryResult{}, &types.PermanentGatewayError{
			Op: "query", OrderID: orderID, Code: 404, Err: fmt.Errorf("%s", types.ReasonUnknownOrder),
		}
	}
	return types.QueryResult{Status: o.Status, FilledQuantity: o.FilledQuantity}, nil
}

// CancelOrder cancels a resting order. Orders already closed answer with
// ReasonAlreadyClosed.
func (m *MockGateway) CancelOrder(ctx context.Context, orderID string) (types.CancelResult, error) {
	err := m.begin(ctx, "cancel", orderID)
	defer m.end()
	if err != nil {
		return types.CancelResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if reason, ok := m.rejections[orderID]; ok {
		return types.CancelResult{Success: false, Reason: reason}, nil
	}
	o, ok := m.orders[orderID]
	if !ok {
		return types.CancelResult{}, &types.PermanentGatewayError{
			Op: "cancel", OrderID: orderID, Code: 404, Err: fmt.Errorf("%s", types.ReasonUnknownOrder),
		}
	}
	if o.Status.IsTerminal() {
		return types.CancelResult{Success: false, Reason: types.ReasonAlreadyClosed}, nil
	}
	o.Status = types.StatusCancelled
	return types.CancelResult{Success: true}, nil
}
