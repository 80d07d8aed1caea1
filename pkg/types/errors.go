package types

import (
	"errors"
	"fmt"
)

// TerminalStateViolation is returned when a write would move an order out of a
// terminal status. It indicates a data-integrity bug and must not be swallowed.
type TerminalStateViolation struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *TerminalStateViolation) Error() string {
	return fmt.Sprintf("order %s is terminal (%s), refusing transition to %s", e.OrderID, e.From, e.To)
}

// TransientGatewayError is a retryable exchange failure (timeouts, rate limits, 5xx).
type TransientGatewayError struct {
	Op      string // "submit", "query" or "cancel"
	OrderID string
	Code    int // HTTP status when known
	Err     error
}

func (e *TransientGatewayError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s order %s: transient gateway error (status %d): %v", e.Op, e.OrderID, e.Code, e.Err)
	}
	return fmt.Sprintf("%s order %s: transient gateway error: %v", e.Op, e.OrderID, e.Err)
}

func (e *TransientGatewayError) Unwrap() error {
	return e.Err
}

// PermanentGatewayError is an exchange failure that retrying will not fix.
type PermanentGatewayError struct {
	Op      string
	OrderID string
	Code    int
	Err     error
}

func (e *PermanentGatewayError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s order %s: permanent gateway error (status %d): %v", e.Op, e.OrderID, e.Code, e.Err)
	}
	return fmt.Sprintf("%s order %s: permanent gateway error: %v", e.Op, e.OrderID, e.Err)
}

func (e *PermanentGatewayError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err carries a TransientGatewayError.
func IsTransient(err error) bool {
	var transient *TransientGatewayError
	return errors.As(err, &transient)
}

// IsPermanent reports whether err carries a PermanentGatewayError.
func IsPermanent(err error) bool {
	var permanent *PermanentGatewayError
	return errors.As(err, &permanent)
}

// Known gateway rejection reasons.
const (
	ReasonUnknownOrder  = "UNKNOWN_ORDER"
	ReasonAlreadyClosed = "ORDER_ALREADY_CLOSED"
	ReasonRateLimited   = "RATE_LIMITED"
)
