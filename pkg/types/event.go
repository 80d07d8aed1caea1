package types

// RawOrderEvent is an order update as it arrives on the wire, before its
// status, quantity and timestamp are parsed.
type RawOrderEvent struct {
	EventType      string `json:"event_type"`
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Status         string `json:"status"`
	FilledQuantity string `json:"filled_quantity"`
	Timestamp      string `json:"timestamp"`
}
