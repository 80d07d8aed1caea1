package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// feedServer is a test order feed. It records subscription messages and lets
// the test push frames to the current connection.
type feedServer struct {
	*httptest.Server

	mu          sync.Mutex
	conn        *websocket.Conn
	subscribes  []subscribeMessage
	connections int
	connected   chan struct{}
	received    chan subscribeMessage
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{
		connected: make(chan struct{}, 8),
		received:  make(chan subscribeMessage, 16),
	}
	upgrader := websocket.Upgrader{}

	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		fs.mu.Lock()
		fs.conn = conn
		fs.connections++
		fs.mu.Unlock()
		fs.connected <- struct{}{}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg subscribeMessage
			if json.Unmarshal(data, &msg) == nil {
				fs.mu.Lock()
				fs.subscribes = append(fs.subscribes, msg)
				fs.mu.Unlock()
				fs.received <- msg
			}
		}
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func (fs *feedServer) send(t *testing.T, frame string) {
	t.Helper()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.conn == nil {
		t.Fatal("no connection")
	}
	if err := fs.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func (fs *feedServer) dropConnection() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.conn != nil {
		fs.conn.Close()
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func testConfig(url string) Config {
	return Config{
		URL:                   url,
		APIKey:                "key",
		DialTimeout:           2 * time.Second,
		PingInterval:          time.Hour,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:     50 * time.Millisecond,
		ReconnectBackoffMult:  2.0,
		MessageBufferSize:     16,
		Logger:                zap.NewNop(),
	}
}

func TestNew(t *testing.T) {
	cfg := testConfig("ws://localhost:1")
	mgr := New(cfg)

	if mgr == nil {
		t.Fatal("expected non-nil manager")
	}
	if mgr.url != cfg.URL {
		t.Errorf("expected URL %q, got %q", cfg.URL, mgr.url)
	}
	if cap(mgr.messageChan) != cfg.MessageBufferSize {
		t.Errorf("expected message channel capacity %d, got %d", cfg.MessageBufferSize, cap(mgr.messageChan))
	}
	if mgr.Connected() {
		t.Error("expected manager to start disconnected")
	}
}

func TestNew_Defaults(t *testing.T) {
	mgr := New(Config{URL: "ws://localhost:1"})

	if cap(mgr.messageChan) != 1000 {
		t.Errorf("expected default buffer 1000, got %d", cap(mgr.messageChan))
	}
	if mgr.logger == nil {
		t.Error("expected a default logger")
	}
}

func TestStart_DialFailure(t *testing.T) {
	mgr := New(testConfig("ws://127.0.0.1:1/orders"))
	defer mgr.Close()

	err := mgr.Start()
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "initial connection") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSubscribe_NotConnectedRollsBack(t *testing.T) {
	mgr := New(testConfig("ws://localhost:1"))

	err := mgr.Subscribe(context.Background(), []string{"BTCUSDT"})
	if err == nil {
		t.Fatal("expected error when not connected")
	}
	if len(mgr.Subscribed()) != 0 {
		t.Errorf("expected subscription rollback, got %v", mgr.Subscribed())
	}
}

func TestManager_StreamsOrderEvents(t *testing.T) {
	fs := newFeedServer(t)
	mgr := New(testConfig(fs.wsURL()))
	if err := mgr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.Close()
	waitFor(t, fs.connected, "connection")

	if err := mgr.Subscribe(context.Background(), []string{"BTCUSDT", "ETHUSDT"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub := waitFor(t, fs.received, "subscribe message")
	if sub.Type != "subscribe" || sub.Channel != "orders" || sub.APIKey != "key" {
		t.Errorf("unexpected subscribe message: %+v", sub)
	}
	if len(sub.Symbols) != 2 {
		t.Errorf("expected 2 symbols, got %v", sub.Symbols)
	}

	fs.send(t, `{"event_type":"order","order_id":"ex-1","client_order_id":"cid-1","status":"partially_filled","filled_quantity":"0.5","timestamp":"2024-06-01T12:00:00Z"}`)
	fs.send(t, `[{"event_type":"order","order_id":"ex-2","status":"filled"},{"event_type":"heartbeat"}]`)
	fs.send(t, `{"type":"subscribed","channel":"orders"}`)
	fs.send(t, `[]`)

	first := waitFor(t, mgr.MessageChan(), "first event")
	if first.OrderID != "ex-1" || first.ClientOrderID != "cid-1" || first.FilledQuantity != "0.5" {
		t.Errorf("unexpected first event: %+v", first)
	}
	second := waitFor(t, mgr.MessageChan(), "second event")
	if second.OrderID != "ex-2" || second.Status != "filled" {
		t.Errorf("unexpected second event: %+v", second)
	}

	select {
	case ev := <-mgr.MessageChan():
		t.Errorf("control frames should not produce events, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribe_DuplicateSymbols(t *testing.T) {
	fs := newFeedServer(t)
	mgr := New(testConfig(fs.wsURL()))
	if err := mgr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.Close()
	waitFor(t, fs.connected, "connection")

	ctx := context.Background()
	if err := mgr.Subscribe(ctx, []string{"BTCUSDT"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, fs.received, "subscribe message")

	if err := mgr.Subscribe(ctx, []string{"BTCUSDT"}); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-fs.received:
		t.Errorf("duplicate subscribe should not be sent, got %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}

	if err := mgr.Unsubscribe(ctx, []string{"BTCUSDT", "NOPE"}); err != nil {
		t.Fatal(err)
	}
	unsub := waitFor(t, fs.received, "unsubscribe message")
	if unsub.Type != "unsubscribe" || len(unsub.Symbols) != 1 || unsub.Symbols[0] != "BTCUSDT" {
		t.Errorf("unexpected unsubscribe message: %+v", unsub)
	}
	if len(mgr.Subscribed()) != 0 {
		t.Errorf("expected no subscriptions, got %v", mgr.Subscribed())
	}
}

func TestManager_ReconnectResubscribes(t *testing.T) {
	fs := newFeedServer(t)
	mgr := New(testConfig(fs.wsURL()))
	if err := mgr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mgr.Close()
	waitFor(t, fs.connected, "connection")

	if err := mgr.Subscribe(context.Background(), []string{"BTCUSDT"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, fs.received, "subscribe message")

	fs.dropConnection()
	waitFor(t, fs.connected, "reconnection")

	resub := waitFor(t, fs.received, "resubscribe message")
	if len(resub.Symbols) != 1 || resub.Symbols[0] != "BTCUSDT" {
		t.Errorf("unexpected resubscribe: %+v", resub)
	}

	fs.send(t, `{"event_type":"order","order_id":"ex-9","status":"open"}`)
	ev := waitFor(t, mgr.MessageChan(), "event after reconnect")
	if ev.OrderID != "ex-9" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	fs := newFeedServer(t)
	mgr := New(testConfig(fs.wsURL()))
	if err := mgr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, fs.connected, "connection")

	if err := mgr.Close(); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatal(err)
	}

	if _, ok := <-mgr.MessageChan(); ok {
		t.Error("expected closed message channel")
	}
}

func TestHandleMessage_ChannelFull(t *testing.T) {
	mgr := New(Config{URL: "ws://unused", MessageBufferSize: 1})

	mgr.handleMessage([]byte(`{"event_type":"order","order_id":"a","status":"open"}`))
	mgr.handleMessage([]byte(`{"event_type":"order","order_id":"b","status":"open"}`))

	if len(mgr.messageChan) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(mgr.messageChan))
	}
	ev := <-mgr.messageChan
	if ev.OrderID != "a" {
		t.Errorf("expected the first event to be kept, got %s", ev.OrderID)
	}
}

func TestDecodeEvents(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"single", `{"event_type":"order","order_id":"a"}`, 1, false},
		{"batch", `[{"order_id":"a"},{"order_id":"b"}]`, 2, false},
		{"empty batch", `[]`, 0, false},
		{"garbage", `PONG`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeEvents([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr %v, got %v", tt.wantErr, err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, len(got))
			}
		})
	}
}
