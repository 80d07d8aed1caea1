package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the bot-side lifecycle state of an order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusOpen            OrderStatus = "open"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusCancelFailed    OrderStatus = "cancel_failed"
	StatusExpired         OrderStatus = "expired"
)

// IsTerminal reports whether no further transition may leave this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is one of the known statuses.
func (s OrderStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusOpen, StatusPartiallyFilled, StatusFilled,
		StatusCancelled, StatusCancelFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// ParseExchangeStatus maps the status strings exchanges report onto OrderStatus.
// Exchange-side expiry and rejection mean the order is gone from the book, so they
// resolve to StatusCancelled. StatusExpired is reserved for orders the reconciler
// gave up on.
func ParseExchangeStatus(raw string) (status OrderStatus, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "pending_new":
		return StatusPending, true
	case "new", "open", "accepted", "live", "active":
		return StatusOpen, true
	case "partially_filled", "partial", "partially-filled":
		return StatusPartiallyFilled, true
	case "filled", "matched", "done":
		return StatusFilled, true
	case "cancelled", "canceled", "expired", "rejected":
		return StatusCancelled, true
	default:
		return "", false
	}
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderRecord is one order the bot submitted, as the bot believes it to be.
type OrderRecord struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           Side
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         OrderStatus
	CreatedAt      time.Time // always UTC, never zero once registered
	LastCheckedAt  time.Time
	ResolvedAt     time.Time
	RetryCount     int
	LastError      string
}

// IsActive reports whether the record still represents open exposure.
func (o OrderRecord) IsActive() bool {
	return !o.Status.IsTerminal()
}

// RemainingQuantity returns the unfilled part of the order, floored at zero.
func (o OrderRecord) RemainingQuantity() decimal.Decimal {
	remaining := o.Quantity.Sub(o.FilledQuantity)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// OrderEvent is an asynchronous update about an order pushed by the exchange.
type OrderEvent struct {
	OrderID        string
	ClientOrderID  string
	Status         OrderStatus
	FilledQuantity decimal.Decimal
	Timestamp      time.Time
}
