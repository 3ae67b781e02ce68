// Package wsbus carries session broadcast messages between processes over
// websockets: a Hub fans every received message out to all connected
// clients, and Client implements broadcast.Bus by dialing a hub.
package wsbus

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub accepts websocket connections and relays every message received on
// one connection to all connections, sender included. The hub does not
// inspect payloads; own-tab filtering happens at the subscriber.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	lock   sync.Mutex
	conns  map[*hubConn]struct{}
	closed bool
}

type hubConn struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
}

func (hc *hubConn) write(messageType int, data []byte) error {
	hc.writeLock.Lock()
	defer hc.writeLock.Unlock()
	return hc.conn.WriteMessage(messageType, data)
}

type HubOption func(*Hub)

func WithHubLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

func NewHub(options ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The hub is same-origin infrastructure behind the gateway.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: zerolog.Nop(),
		conns:  make(map[*hubConn]struct{}),
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and relays messages until the peer
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("wsbus upgrade failed")
		return
	}

	hc := &hubConn{conn: conn}
	h.lock.Lock()
	if h.closed {
		h.lock.Unlock()
		_ = conn.Close()
		return
	}
	h.conns[hc] = struct{}{}
	h.lock.Unlock()

	defer func() {
		h.lock.Lock()
		delete(h.conns, hc)
		h.lock.Unlock()
		_ = conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("wsbus read error")
			}
			return
		}
		h.fanOut(payload)
	}
}

func (h *Hub) fanOut(payload []byte) {
	h.lock.Lock()
	conns := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.lock.Unlock()

	for _, c := range conns {
		if err := c.write(websocket.TextMessage, payload); err != nil {
			h.logger.Warn().Err(err).Msg("wsbus write error")
		}
	}
}

// Close disconnects every client and rejects new connections.
func (h *Hub) Close() error {
	h.lock.Lock()
	h.closed = true
	conns := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[*hubConn]struct{})
	h.lock.Unlock()

	for _, c := range conns {
		_ = c.conn.Close()
	}
	return nil
}
