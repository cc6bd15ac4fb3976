package signal

import (
	"encoding/json"
	"sync"
	"time"

	"streamgrid/internal/core/domain"
	"streamgrid/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConn serializes writes to a single websocket connection. gorilla
// connections allow only one concurrent writer, and both the request
// loop and the notifier write here.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Hub maps live sessions to their connections and implements the
// notification fan-out. Delivery failures are logged and skipped; one
// dead subscriber never blocks the rest.
type Hub struct {
	connections map[domain.SessionID]*wsConn
	mu          sync.RWMutex

	logger *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		connections: make(map[domain.SessionID]*wsConn),
		logger:      logger,
	}
}

func (h *Hub) register(id domain.SessionID, conn *wsConn) {
	h.mu.Lock()
	h.connections[id] = conn
	h.mu.Unlock()
}

func (h *Hub) unregister(id domain.SessionID) {
	h.mu.Lock()
	delete(h.connections, id)
	h.mu.Unlock()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func eventMessage(event domain.Event) (SignalMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return SignalMessage{}, err
	}
	return SignalMessage{Type: string(event.Type), Payload: payload}, nil
}

func (h *Hub) Broadcast(event domain.Event) {
	msg, err := eventMessage(event)
	if err != nil {
		h.logger.Errorw("failed to encode event", "event", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	conns := make(map[domain.SessionID]*wsConn, len(h.connections))
	for id, conn := range h.connections {
		conns[id] = conn
	}
	h.mu.RUnlock()

	for id, conn := range conns {
		if err := conn.writeJSON(msg); err != nil {
			h.logger.Warnw("event delivery failed",
				"session_id", id,
				"event", event.Type,
				"error", err,
			)
		}
	}
}

func (h *Hub) Send(sessions []domain.SessionID, event domain.Event) {
	if len(sessions) == 0 {
		return
	}

	msg, err := eventMessage(event)
	if err != nil {
		h.logger.Errorw("failed to encode event", "event", event.Type, "error", err)
		return
	}

	for _, id := range sessions {
		h.mu.RLock()
		conn, ok := h.connections[id]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		if err := conn.writeJSON(msg); err != nil {
			h.logger.Warnw("event delivery failed",
				"session_id", id,
				"event", event.Type,
				"error", err,
			)
		}
	}
}

var _ ports.Notifier = (*Hub)(nil)
