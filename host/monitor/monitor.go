// Package monitor streams panel presence and runtime events to websocket
// clients as JSON.
package monitor

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"panelbus/host/bridge"
)

const (
	sendQueueLen = 64
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	maxReadSize  = 4096
)

// Notification types
const (
	TypeSnapshot = "snapshot"
	TypePanel    = "panel"
	TypeEvent    = "event"
	TypeReset    = "reset"
)

// Notification is one JSON message sent to clients
type Notification struct {
	Type    string             `json:"type"`
	Time    time.Time          `json:"time"`
	Panels  []bridge.PanelInfo `json:"panels,omitempty"`
	ShortID uint8              `json:"short_id,omitempty"`
	Opcode  string             `json:"opcode,omitempty"`
	Payload []byte             `json:"payload,omitempty"`
}

// Hub fans notifications out to every connected client
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader
	snapshot func() []bridge.PanelInfo

	nextID  atomic.Int64
	mu      sync.Mutex
	clients map[int64]*client
	dropped atomic.Uint64
}

// NewHub creates a hub. snapshot, when set, supplies the panel list sent
// to each client on connect.
func NewHub(snapshot func() []bridge.PanelInfo, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:      logger.With("component", "monitor"),
		snapshot: snapshot,
		clients:  make(map[int64]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Attach forwards a bridge's callbacks to the hub
func (h *Hub) Attach(b *bridge.Bridge) {
	b.OnPanelInfo(func(p bridge.PanelInfo) {
		h.Broadcast(Notification{Type: TypePanel, Time: time.Now(), Panels: []bridge.PanelInfo{p}})
	})
	b.OnPanelEvent(func(e bridge.PanelEvent) {
		h.Broadcast(Notification{
			Type:    TypeEvent,
			Time:    e.Time,
			ShortID: e.ShortID,
			Opcode:  e.Opcode.String(),
			Payload: e.Payload,
		})
	})
	b.OnReset(func() {
		h.Broadcast(Notification{Type: TypeReset, Time: time.Now()})
	})
}

// Broadcast queues n for every client. Slow clients drop messages.
func (h *Hub) Broadcast(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		if !c.send(n) {
			h.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many notifications were discarded for slow clients
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ServeHTTP upgrades the request and serves the client until it leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:     h.nextID.Add(1),
		conn:   conn,
		sendCh: make(chan Notification, sendQueueLen),
		done:   make(chan struct{}),
	}
	if h.snapshot != nil {
		c.send(Notification{Type: TypeSnapshot, Time: time.Now(), Panels: h.snapshot()})
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Debug("client connected", "client", c.id, "remote", r.RemoteAddr)

	go c.writePump(h.log)
	c.readPump(h.log)

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	h.log.Debug("client disconnected", "client", c.id)
}

type client struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan Notification
	done   chan struct{}
	once   sync.Once
}

func (c *client) send(n Notification) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.sendCh <- n:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump discards client input and keeps the read deadline alive
func (c *client) readPump(log *slog.Logger) {
	defer c.close()

	c.conn.SetReadLimit(maxReadSize)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read failed", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump(log *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case n := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(n); err != nil {
				log.Debug("websocket write failed", "client", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
