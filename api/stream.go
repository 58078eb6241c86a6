package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	settlement "github.com/kaifufi/nft-settlement-sdk-go"
	"go.uber.org/zap"
)

// Stream action types
const (
	ActionHeartbeat   = "HEARTBEAT"
	ActionSubscribe   = "SUBSCRIBE"
	ActionUnsubscribe = "UNSUBSCRIBE"
)

// Stream message types
const (
	MsgTypeSettled      = "settled"
	MsgTypeSubscribed   = "subscribed"
	MsgTypeUnsubscribed = "unsubscribed"
	MsgTypeError        = "error"
)

const writeWait = 10 * time.Second

// StreamRequest is sent by stream clients. A connection without
// subscriptions receives every settlement.
type StreamRequest struct {
	Action     string `json:"action"`
	Collection string `json:"collection,omitempty"`
}

// StreamMessage is pushed to stream clients
type StreamMessage struct {
	MsgType    string                   `json:"msgType"`
	Collection string                   `json:"collection,omitempty"`
	Event      *settlement.SettledEvent `json:"event,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// Hub fans settlement events out to websocket clients
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu    sync.RWMutex
	conns map[*streamConn]struct{}
}

type streamConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu          sync.RWMutex
	collections map[common.Address]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.L()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		conns:  make(map[*streamConn]struct{}),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish sends ev to every client subscribed to its collection
func (h *Hub) Publish(ev *settlement.SettledEvent) {
	h.mu.RLock()
	conns := make([]*streamConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	msg := StreamMessage{MsgType: MsgTypeSettled, Event: ev}
	for _, c := range conns {
		if !c.wants(ev.AssetContract) {
			continue
		}
		if err := c.write(msg); err != nil {
			h.logger.With(zap.Error(err)).Debug("Stream: write failed, dropping client")
			h.remove(c)
		}
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.With(zap.Error(err)).Warn("Stream: upgrade failed")
		return
	}

	c := &streamConn{ws: ws, collections: make(map[common.Address]struct{})}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	defer h.remove(c)

	for {
		var req StreamRequest
		if err := ws.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.With(zap.Error(err)).Debug("Stream: read failed")
			}
			return
		}
		if err := c.handle(req); err != nil {
			return
		}
	}
}

func (h *Hub) remove(c *streamConn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		_ = c.ws.Close()
	}
}

func (c *streamConn) handle(req StreamRequest) error {
	switch req.Action {
	case ActionHeartbeat:
		return nil
	case ActionSubscribe, ActionUnsubscribe:
		if !common.IsHexAddress(req.Collection) {
			return c.write(StreamMessage{MsgType: MsgTypeError, Error: "invalid collection address"})
		}
		collection := common.HexToAddress(req.Collection)

		c.mu.Lock()
		msgType := MsgTypeSubscribed
		if req.Action == ActionSubscribe {
			c.collections[collection] = struct{}{}
		} else {
			delete(c.collections, collection)
			msgType = MsgTypeUnsubscribed
		}
		c.mu.Unlock()

		return c.write(StreamMessage{MsgType: msgType, Collection: collection.Hex()})
	default:
		return c.write(StreamMessage{MsgType: MsgTypeError, Error: "unknown action " + req.Action})
	}
}

func (c *streamConn) wants(collection common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.collections) == 0 {
		return true
	}
	_, ok := c.collections[collection]
	return ok
}

func (c *streamConn) write(msg StreamMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}
