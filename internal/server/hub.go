package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jonathan/apply-engine/internal/engine"
	"github.com/jonathan/apply-engine/internal/logging"
)

// WebSocket timeout constants following Gorilla best practices
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer; the feed is one-way, clients
	// only send control frames
	maxMessageSize = 512

	// maxClients caps concurrent status consumers
	maxClients = 32
)

// stateEvent is the JSON frame pushed to WebSocket clients.
type stateEvent struct {
	Type  string           `json:"type"`
	State *engine.Snapshot `json:"state"`
}

// Hub fans engine snapshots out to WebSocket clients. A single goroutine
// (Run) owns the client set, so registration and broadcast never race.
type Hub struct {
	control       Control
	allowedOrigin string
	log           *zap.SugaredLogger

	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
}

// NewHub creates a status hub over the given engine control surface. Clients
// cannot attach until Run starts.
func NewHub(control Control, allowedOrigin string) *Hub {
	return &Hub{
		control:       control,
		allowedOrigin: allowedOrigin,
		log:           logging.Named("server"),
		register:      make(chan *wsClient),
		unregister:    make(chan *wsClient),
		done:          make(chan struct{}),
	}
}

// Run subscribes to the engine feed and services clients until ctx is done
// or the feed closes. All clients are torn down on exit.
func (h *Hub) Run(ctx context.Context) {
	snapshots, cancel := h.control.Subscribe()
	defer cancel()

	clients := make(map[*wsClient]bool)
	defer func() {
		close(h.done)
		for client := range clients {
			client.close()
		}
	}()

	var last *engine.Snapshot
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			if len(clients) >= maxClients {
				h.log.Warnw("max clients reached, rejecting connection",
					"client_id", client.id,
					"max_clients", maxClients,
				)
				client.close()
				continue
			}
			clients[client] = true
			h.log.Infow("status client connected",
				"client_id", client.id,
				"total_clients", len(clients),
			)
			// A client connecting mid-run sees current state immediately.
			if last != nil {
				select {
				case client.send <- last:
				default:
				}
			}

		case client := <-h.unregister:
			if _, ok := clients[client]; ok {
				delete(clients, client)
				client.close()
				h.log.Infow("status client disconnected",
					"client_id", client.id,
					"total_clients", len(clients),
				)
			}

		case snap, ok := <-snapshots:
			if !ok {
				// Engine loop exited; nothing further will be broadcast.
				return
			}
			last = snap
			for client := range clients {
				select {
				case client.send <- snap:
				default:
					delete(clients, client)
					client.close()
					h.log.Warnw("client send channel full, removing client",
						"client_id", client.id,
					)
				}
			}
		}
	}
}

// ServeWS upgrades the request and attaches the client to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorw("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan *engine.Snapshot, 8),
		id:   uuid.NewString(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// checkOrigin validates the WebSocket origin against the configured origin.
// Requests without an Origin header come from non-browser clients and pass.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	return strings.HasPrefix(origin, h.allowedOrigin)
}

// wsClient is one WebSocket status consumer.
type wsClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan *engine.Snapshot
	id        string
	closeOnce sync.Once
}

// readPump drains the connection so pong and close frames are processed.
// Inbound payloads are discarded.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.hub.log.Warnw("websocket read error",
					"client_id", c.id,
					"error", err,
				)
			}
			return
		}
	}
}

// writePump pushes snapshots and keepalive pings to the peer.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case snap, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(stateEvent{Type: "state", State: snap}); err != nil {
				c.hub.log.Debugw("snapshot write error",
					"client_id", c.id,
					"error", err,
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close closes the send channel exactly once; writePump sees the close and
// sends the WebSocket close frame.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
