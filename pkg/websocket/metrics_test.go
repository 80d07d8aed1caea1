package websocket

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetrics_Registration tests all metrics are initialized
func TestMetrics_Registration(t *testing.T) {
	if ActiveConnections == nil {
		t.Error("ActiveConnections not registered")
	}
	if ReconnectAttemptsTotal == nil {
		t.Error("ReconnectAttemptsTotal not registered")
	}
	if MessagesReceivedTotal == nil {
		t.Error("MessagesReceivedTotal not registered")
	}
	if MessagesDroppedTotal == nil {
		t.Error("MessagesDroppedTotal not registered")
	}
	if SubscriptionCount == nil {
		t.Error("SubscriptionCount not registered")
	}
}

// TestMetrics_DroppedByReason tests the drop counter is labelled per reason
func TestMetrics_DroppedByReason(t *testing.T) {
	before := testutil.ToFloat64(MessagesDroppedTotal.WithLabelValues("unparseable"))

	m := New(Config{URL: "ws://unused", MessageBufferSize: 1})
	m.handleMessage([]byte(`{"event_type": "order", "order_id": 12345 this is not json`))

	after := testutil.ToFloat64(MessagesDroppedTotal.WithLabelValues("unparseable"))
	if after != before+1 {
		t.Errorf("expected unparseable drops to grow by 1, got %v -> %v", before, after)
	}
}
