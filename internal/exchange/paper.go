package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/order-reconciler/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type paperOrder struct {
	req    types.OrderRequest
	status types.OrderStatus
	filled decimal.Decimal
}

// PaperGateway is an in-memory exchange for paper trading. Orders rest Open
// until Fill or CancelOrder moves them. Status changes are published on
// Events when a consumer keeps up; otherwise they are dropped.
type PaperGateway struct {
	mu      sync.Mutex
	orders  map[string]*paperOrder
	counter int
	events  chan types.OrderEvent
	now     func() time.Time
	logger  *zap.Logger
}

// NewPaperGateway creates an empty paper exchange.
func NewPaperGateway(logger *zap.Logger) *PaperGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperGateway{
		orders: make(map[string]*paperOrder),
		events: make(chan types.OrderEvent, 256),
		now:    time.Now,
		logger: logger,
	}
}

// Events returns the stream of simulated order updates.
func (p *PaperGateway) Events() <-chan types.OrderEvent {
	return p.events
}

// SubmitOrder accepts the order and rests it on the book.
func (p *PaperGateway) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return types.SubmitResult{}, &types.TransientGatewayError{Op: "submit", OrderID: req.ClientOrderID, Err: err}
	}
	if !req.Quantity.IsPositive() {
		return types.SubmitResult{}, &types.PermanentGatewayError{
			Op: "submit", OrderID: req.ClientOrderID, Code: 400, Err: fmt.Errorf("quantity must be positive"),
		}
	}

	p.mu.Lock()
	p.counter++
	id := fmt.Sprintf("paper-%d", p.counter)
	p.orders[id] = &paperOrder{req: req, status: types.StatusOpen, filled: decimal.Zero}
	p.mu.Unlock()

	PaperOrdersTotal.WithLabelValues("submit").Inc()
	p.logger.Info("paper-order-submitted",
		zap.String("order-id", id),
		zap.String("client-order-id", req.ClientOrderID),
		zap.String("symbol", req.Symbol),
		zap.String("quantity", req.Quantity.String()),
		zap.String("price", req.Price.String()))

	return types.SubmitResult{OrderID: id, Status: types.StatusOpen}, nil
}

// QueryOrder returns the simulated state of an order.
func (p *PaperGateway) QueryOrder(ctx context.Context, orderID string) (types.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return types.QueryResult{}, &types.TransientGatewayError{Op: "query", OrderID: orderID, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	PaperOrdersTotal.WithLabelValues("query").Inc()

	o, ok := p.orders[orderID]
	if !ok {
		return types.QueryResult{}, unknownOrder("query", orderID)
	}
	return types.QueryResult{Status: o.status, FilledQuantity: o.filled}, nil
}

// CancelOrder cancels a resting order.
func (p *PaperGateway) CancelOrder(ctx context.Context, orderID string) (types.CancelResult, error) {
	if err := ctx.Err(); err != nil {
		return types.CancelResult{}, &types.TransientGatewayError{Op: "cancel", OrderID: orderID, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	PaperOrdersTotal.WithLabelValues("cancel").Inc()

	o, ok := p.orders[orderID]
	if !ok {
		return types.CancelResult{}, unknownOrder("cancel", orderID)
	}
	if o.status.IsTerminal() {
		return types.CancelResult{Success: false, Reason: types.ReasonAlreadyClosed}, nil
	}

	o.status = types.StatusCancelled
	p.publishLocked(orderID, o)
	return types.CancelResult{Success: true}, nil
}

// Fill simulates a fill of qty against an open order.
func (p *PaperGateway) Fill(orderID string, qty decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return unknownOrder("fill", orderID)
	}
	if o.status.IsTerminal() {
		return fmt.Errorf("fill order %s: order is %s", orderID, o.status)
	}

	o.filled = decimal.Min(o.filled.Add(qty), o.req.Quantity)
	if o.filled.Equal(o.req.Quantity) {
		o.status = types.StatusFilled
	} else {
		o.status = types.StatusPartiallyFilled
	}
	PaperOrdersTotal.WithLabelValues("fill").Inc()
	p.publishLocked(orderID, o)
	return nil
}

func (p *PaperGateway) publishLocked(orderID string, o *paperOrder) {
	ev := types.OrderEvent{
		OrderID:        orderID,
		ClientOrderID:  o.req.ClientOrderID,
		Status:         o.status,
		FilledQuantity: o.filled,
		Timestamp:      p.now().UTC(),
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Debug("paper-event-dropped", zap.String("order-id", orderID))
	}
}

func unknownOrder(op, orderID string) error {
	return &types.PermanentGatewayError{Op: op, OrderID: orderID, Code: 404, Err: fmt.Errorf("%s", types.ReasonUnknownOrder)}
}
