package types

import "github.com/shopspring/decimal"

// OrderRequest holds the parameters of a new order to submit.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          Side
	Quantity      decimal.Decimal
	Price         decimal.Decimal
}

// SubmitResult is the exchange acknowledgment of a submitted order.
type SubmitResult struct {
	OrderID string
	Status  OrderStatus
}

// QueryResult is the exchange's authoritative view of one order.
type QueryResult struct {
	Status         OrderStatus
	FilledQuantity decimal.Decimal
}

// CancelResult is the outcome of a cancel request the exchange answered.
type CancelResult struct {
	Success bool
	Reason  string
}
