package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	settlement "github.com/kaifufi/nft-settlement-sdk-go"
)

const (
	// Heartbeat interval
	HeartbeatInterval = 30 * time.Second

	// Reconnect settings
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 10
)

// StreamConfig holds configuration for the settlement stream client
type StreamConfig struct {
	Endpoint             string // ws://host:port/v1/events
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	OnEvent              func(ev *settlement.SettledEvent)
	OnMessage            func(msg *StreamMessage)
	OnError              func(err error)
	OnConnect            func()
	OnDisconnect         func()
}

// StreamClient follows the settlement event stream of an API server
type StreamClient struct {
	config          StreamConfig
	conn            *websocket.Conn
	mu              sync.RWMutex
	isConnected     bool
	subscriptions   map[common.Address]struct{} // replayed after reconnecting
	subMu           sync.RWMutex
	root            context.Context // lives until Disconnect
	cancelRoot      context.CancelFunc
	cancelConn      context.CancelFunc
	heartbeatTicker *time.Ticker
}

// NewStreamClient creates a new stream client
func NewStreamClient(config StreamConfig) *StreamClient {
	if config.ReconnectInterval == 0 {
		config.ReconnectInterval = DefaultReconnectInterval
	}
	if config.MaxReconnectAttempts == 0 {
		config.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	return &StreamClient{
		config:        config,
		subscriptions: make(map[common.Address]struct{}),
	}
}

// Connect establishes the websocket connection
func (sc *StreamClient) Connect(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.isConnected {
		return nil
	}

	sc.root, sc.cancelRoot = context.WithCancel(ctx)
	if err := sc.connect(); err != nil {
		sc.cancelRoot()
		return err
	}
	return nil
}

// connect dials under the root context; must be called with the lock held
func (sc *StreamClient) connect() error {
	connCtx, cancel := context.WithCancel(sc.root)

	conn, _, err := websocket.DefaultDialer.DialContext(connCtx, sc.config.Endpoint, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to connect to stream: %w", err)
	}

	sc.conn = conn
	sc.cancelConn = cancel
	sc.isConnected = true

	sc.startHeartbeat(connCtx)
	go sc.readLoop(connCtx, conn)

	if sc.config.OnConnect != nil {
		go sc.config.OnConnect()
	}

	return nil
}

// Disconnect closes the connection and stops reconnecting
func (sc *StreamClient) Disconnect() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.disconnect()
}

// disconnect must be called with the lock held
func (sc *StreamClient) disconnect() error {
	if sc.cancelRoot != nil {
		sc.cancelRoot()
	}
	if !sc.isConnected {
		return nil
	}

	sc.isConnected = false

	if sc.heartbeatTicker != nil {
		sc.heartbeatTicker.Stop()
	}

	var err error
	if sc.conn != nil {
		err = sc.conn.Close()
		sc.conn = nil
	}

	if sc.config.OnDisconnect != nil {
		go sc.config.OnDisconnect()
	}

	return err
}

// IsConnected returns the current connection status
func (sc *StreamClient) IsConnected() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.isConnected
}

// Subscribe narrows the stream to settlements of collection
func (sc *StreamClient) Subscribe(collection common.Address) error {
	sc.subMu.Lock()
	sc.subscriptions[collection] = struct{}{}
	sc.subMu.Unlock()

	return sc.sendMessage(StreamRequest{Action: ActionSubscribe, Collection: collection.Hex()})
}

// Unsubscribe removes collection from the stream filter
func (sc *StreamClient) Unsubscribe(collection common.Address) error {
	sc.subMu.Lock()
	delete(sc.subscriptions, collection)
	sc.subMu.Unlock()

	return sc.sendMessage(StreamRequest{Action: ActionUnsubscribe, Collection: collection.Hex()})
}

// Subscriptions returns the collections currently subscribed to
func (sc *StreamClient) Subscriptions() []common.Address {
	sc.subMu.RLock()
	defer sc.subMu.RUnlock()

	subs := make([]common.Address, 0, len(sc.subscriptions))
	for collection := range sc.subscriptions {
		subs = append(subs, collection)
	}
	return subs
}

func (sc *StreamClient) sendMessage(msg StreamRequest) error {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if !sc.isConnected || sc.conn == nil {
		return fmt.Errorf("stream not connected")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := sc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// startHeartbeat must be called with the lock held
func (sc *StreamClient) startHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	sc.heartbeatTicker = ticker

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := sc.sendMessage(StreamRequest{Action: ActionHeartbeat}); err != nil {
					sc.reportError(fmt.Errorf("heartbeat failed: %w", err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (sc *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sc.reportError(fmt.Errorf("read error: %w", err))
			}
			sc.handleDisconnect()
			return
		}

		if sc.config.OnMessage != nil {
			sc.config.OnMessage(&msg)
		}
		if msg.MsgType == MsgTypeSettled && msg.Event != nil && sc.config.OnEvent != nil {
			sc.config.OnEvent(msg.Event)
		}
	}
}

func (sc *StreamClient) reportError(err error) {
	if sc.config.OnError != nil {
		sc.config.OnError(err)
	}
}

// handleDisconnect handles a dropped connection and attempts reconnection
func (sc *StreamClient) handleDisconnect() {
	sc.mu.Lock()
	wasConnected := sc.isConnected
	sc.isConnected = false
	if sc.cancelConn != nil {
		sc.cancelConn()
	}
	if sc.heartbeatTicker != nil {
		sc.heartbeatTicker.Stop()
	}
	if sc.conn != nil {
		_ = sc.conn.Close()
		sc.conn = nil
	}
	root := sc.root
	sc.mu.Unlock()

	if wasConnected && sc.config.OnDisconnect != nil {
		sc.config.OnDisconnect()
	}

	go sc.attemptReconnect(root)
}

func (sc *StreamClient) attemptReconnect(root context.Context) {
	for attempt := 1; attempt <= sc.config.MaxReconnectAttempts; attempt++ {
		select {
		case <-root.Done():
			return
		case <-time.After(sc.config.ReconnectInterval):
		}

		sc.mu.Lock()
		err := root.Err()
		if err == nil && !sc.isConnected {
			err = sc.connect()
		}
		sc.mu.Unlock()
		if root.Err() != nil {
			return
		}
		if err != nil {
			sc.reportError(fmt.Errorf("reconnect attempt %d failed: %w", attempt, err))
			continue
		}

		sc.resubscribe()
		return
	}

	sc.reportError(fmt.Errorf("max reconnect attempts (%d) reached", sc.config.MaxReconnectAttempts))
}

func (sc *StreamClient) resubscribe() {
	for _, collection := range sc.Subscriptions() {
		if err := sc.sendMessage(StreamRequest{Action: ActionSubscribe, Collection: collection.Hex()}); err != nil {
			sc.reportError(fmt.Errorf("resubscribe failed: %w", err))
		}
	}
}
