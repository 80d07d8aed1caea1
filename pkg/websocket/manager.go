// Package websocket maintains the exchange's order-update stream: one
// authenticated connection with ping keepalive, reconnect with backoff and
// resubscription of every symbol on reconnect.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/mselser95/order-reconciler/pkg/types"
	"go.uber.org/zap"
)

// EventTypeOrder is the event_type carried by order updates.
const EventTypeOrder = "order"

// Manager manages a single WebSocket connection to the exchange order feed.
type Manager struct {
	url             string
	conn            *websocket.Conn
	logger          *zap.Logger
	reconnectMgr    *ReconnectManager
	config          Config
	messageChan     chan *types.RawOrderEvent
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	mu              sync.RWMutex
	writeMu         sync.Mutex
	subscribed      map[string]bool // symbols
	connected       atomic.Bool
	lastPongTime    atomic.Int64
	connectionStart atomic.Int64 // Unix timestamp of connection start
	closeOnce       sync.Once
}

// Config holds WebSocket manager configuration.
type Config struct {
	URL                   string
	APIKey                string
	Passphrase            string
	DialTimeout           time.Duration
	PongTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int
	Logger                *zap.Logger
}

// subscribeMessage is sent to start or stop receiving updates for symbols.
type subscribeMessage struct {
	Type       string   `json:"type"`
	Channel    string   `json:"channel"`
	Symbols    []string `json:"symbols"`
	APIKey     string   `json:"api_key,omitempty"`
	Passphrase string   `json:"passphrase,omitempty"`
}

// New creates a new WebSocket manager.
func New(cfg Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = 1000
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}

	reconnectCfg := ReconnectConfig{
		InitialDelay:      cfg.ReconnectInitialDelay,
		MaxDelay:          cfg.ReconnectMaxDelay,
		BackoffMultiplier: cfg.ReconnectBackoffMult,
		JitterPercent:     0.2,
	}

	return &Manager{
		url:          cfg.URL,
		logger:       cfg.Logger,
		reconnectMgr: NewReconnectManager(reconnectCfg, cfg.Logger),
		config:       cfg,
		messageChan:  make(chan *types.RawOrderEvent, cfg.MessageBufferSize),
		ctx:          ctx,
		cancel:       cancel,
		subscribed:   make(map[string]bool),
	}
}

// Start connects and starts the read, ping and reconnect loops.
func (m *Manager) Start() error {
	m.logger.Info("websocket-manager-starting", zap.String("url", m.url))

	err := m.connect(m.ctx)
	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	m.wg.Add(3)
	go m.readLoop()
	go m.pingLoop()
	go m.reconnectLoop()

	return nil
}

// connect establishes a WebSocket connection.
func (m *Manager) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.DialTimeout,
	}

	m.logger.Info("connecting-to-websocket", zap.String("url", m.url))

	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		m.lastPongTime.Store(time.Now().Unix())
		return nil
	})

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	now := time.Now()
	m.connected.Store(true)
	m.lastPongTime.Store(now.Unix())
	m.connectionStart.Store(now.Unix())
	ActiveConnections.Set(1)

	m.logger.Info("websocket-connected")

	return nil
}

// write sends v as JSON. gorilla allows one concurrent writer.
func (m *Manager) write(v any) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return errors.New("not connected")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Subscribe starts order updates for symbols. Already subscribed symbols are
// skipped. An empty list subscribes to every order on the account.
func (m *Manager) Subscribe(ctx context.Context, symbols []string) error {
	m.mu.Lock()

	newSymbols := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if !m.subscribed[s] {
			newSymbols = append(newSymbols, s)
			m.subscribed[s] = true
		}
	}

	if len(symbols) > 0 && len(newSymbols) == 0 {
		m.mu.Unlock()
		m.logger.Debug("all-symbols-already-subscribed")
		return nil
	}

	totalSubscribed := len(m.subscribed)
	m.mu.Unlock()

	err := m.write(m.subscription("subscribe", newSymbols))
	if err != nil {
		m.mu.Lock()
		for _, s := range newSymbols {
			delete(m.subscribed, s)
		}
		totalSubscribed = len(m.subscribed)
		m.mu.Unlock()

		SubscriptionCount.Set(float64(totalSubscribed))
		return fmt.Errorf("write subscribe message: %w", err)
	}

	SubscriptionCount.Set(float64(totalSubscribed))

	m.logger.Info("subscribed-to-orders",
		zap.Int("new-count", len(newSymbols)),
		zap.Int("total-count", totalSubscribed))

	return nil
}

// Unsubscribe stops order updates for symbols.
func (m *Manager) Unsubscribe(ctx context.Context, symbols []string) (err error) {
	if len(symbols) == 0 {
		return nil
	}

	m.mu.Lock()
	removed := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if m.subscribed[s] {
			removed = append(removed, s)
			delete(m.subscribed, s)
		}
	}

	if len(removed) == 0 {
		m.mu.Unlock()
		m.logger.Debug("no-symbols-to-unsubscribe")
		return nil
	}

	totalSubscribed := len(m.subscribed)
	m.mu.Unlock()

	err = m.write(m.subscription("unsubscribe", removed))
	if err != nil {
		m.mu.Lock()
		for _, s := range removed {
			m.subscribed[s] = true
		}
		totalSubscribed = len(m.subscribed)
		m.mu.Unlock()

		SubscriptionCount.Set(float64(totalSubscribed))
		return fmt.Errorf("write unsubscribe message: %w", err)
	}

	SubscriptionCount.Set(float64(totalSubscribed))
	UnsubscriptionsTotal.Inc()

	m.logger.Info("unsubscribed-from-orders",
		zap.Int("count", len(removed)),
		zap.Int("remaining-count", totalSubscribed))

	return nil
}

func (m *Manager) subscription(kind string, symbols []string) subscribeMessage {
	return subscribeMessage{
		Type:       kind,
		Channel:    "orders",
		Symbols:    symbols,
		APIKey:     m.config.APIKey,
		Passphrase: m.config.Passphrase,
	}
}

// Subscribed returns the subscribed symbols, sorted.
func (m *Manager) Subscribed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.subscribed))
	for s := range m.subscribed {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Connected reports whether the connection is currently up.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// readLoop reads messages until the connection fails or the manager closes.
func (m *Manager) readLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if m.ctx.Err() == nil {
				m.logger.Warn("read-error", zap.Error(err))
			}

			startTime := m.connectionStart.Load()
			if startTime > 0 {
				ConnectionDuration.Observe(time.Since(time.Unix(startTime, 0)).Seconds())
			}

			m.connected.Store(false)
			ActiveConnections.Set(0)
			return
		}

		m.handleMessage(message)
	}
}

// handleMessage decodes one frame: either a single event or an array of them.
// Heartbeats, control messages and non-order events are skipped.
func (m *Manager) handleMessage(message []byte) {
	events, err := decodeEvents(message)
	if err != nil {
		if len(message) < 10 {
			m.logger.Debug("websocket-heartbeat-received", zap.Int("bytes", len(message)))
			return
		}

		preview := string(message)
		if len(preview) > 100 {
			preview = preview[:100]
		}
		m.logger.Debug("websocket-unparseable-message",
			zap.Error(err),
			zap.Int("bytes", len(message)),
			zap.String("preview", preview))
		MessagesDroppedTotal.WithLabelValues("unparseable").Inc()
		return
	}

	for i := range events {
		start := time.Now()
		ev := &events[i]

		eventType := ev.EventType
		if eventType == "" {
			eventType = "unknown"
		}
		MessagesReceivedTotal.WithLabelValues(eventType).Inc()

		if ev.EventType != EventTypeOrder || ev.OrderID == "" {
			m.logger.Debug("websocket-control-message", zap.String("type", eventType))
			continue
		}

		select {
		case m.messageChan <- ev:
		default:
			m.logger.Warn("message-channel-full", zap.String("order-id", ev.OrderID))
			MessagesDroppedTotal.WithLabelValues("channel_full").Inc()
		}

		MessageLatencySeconds.Observe(time.Since(start).Seconds())
	}
}

func decodeEvents(message []byte) ([]types.RawOrderEvent, error) {
	var batch []types.RawOrderEvent
	err := json.Unmarshal(message, &batch)
	if err == nil {
		return batch, nil
	}

	var single types.RawOrderEvent
	singleErr := json.Unmarshal(message, &single)
	if singleErr != nil {
		return nil, fmt.Errorf("decode order event: %w", singleErr)
	}
	return []types.RawOrderEvent{single}, nil
}

// pingLoop sends periodic PING messages and drops connections whose pongs
// stop arriving.
func (m *Manager) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.connected.Load() {
				continue
			}

			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()

			if conn == nil {
				continue
			}

			if m.config.PongTimeout > 0 {
				sincePong := time.Since(time.Unix(m.lastPongTime.Load(), 0))
				if sincePong > m.config.PongTimeout {
					m.logger.Warn("pong-timeout", zap.Duration("since-last-pong", sincePong))
					conn.Close() // readLoop sees the error and marks the connection down
					continue
				}
			}

			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

// reconnectLoop handles reconnection when connection drops.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		if m.connected.Load() {
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		m.logger.Warn("connection-lost-initiating-reconnect")

		err := m.reconnectMgr.Reconnect(m.ctx, m.connect)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.logger.Error("reconnection-failed", zap.Error(err))
			continue
		}

		err = m.resubscribeAll()
		if err != nil {
			m.logger.Error("resubscribe-failed", zap.Error(err))
			m.connected.Store(false)
			continue
		}

		m.logger.Info("reconnection-complete-restarting-read-loop")

		m.wg.Add(1)
		go m.readLoop()
	}
}

// resubscribeAll repeats the subscription for every tracked symbol.
func (m *Manager) resubscribeAll() error {
	symbols := m.Subscribed()
	if len(symbols) == 0 {
		return nil
	}

	err := m.write(m.subscription("subscribe", symbols))
	if err != nil {
		return fmt.Errorf("write resubscribe message: %w", err)
	}

	m.logger.Info("resubscribed-to-all-symbols", zap.Int("count", len(symbols)))

	return nil
}

// MessageChan returns the channel of order events. It is closed by Close.
func (m *Manager) MessageChan() <-chan *types.RawOrderEvent {
	return m.messageChan
}

// Close gracefully closes the WebSocket manager.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.logger.Info("closing-websocket-manager")

		m.cancel()

		m.mu.RLock()
		if m.conn != nil {
			m.conn.Close()
		}
		m.mu.RUnlock()

		m.wg.Wait()

		close(m.messageChan)

		ActiveConnections.Set(0)

		m.logger.Info("websocket-manager-closed")
	})

	return nil
}
