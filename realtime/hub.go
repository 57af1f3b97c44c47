package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/travelhub/travelhub/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
	sendBuffer     = 64
)

// Event types delivered to subscribers.
const (
	EventSubscribed = "subscribed"
	EventMessage    = "message"
)

var chatConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "travelhub_chat_connections",
	Help: "Open chat websocket connections on this instance.",
})

// Event is the JSON frame sent to websocket clients.
type Event struct {
	Type    string      `json:"type"`
	Room    string      `json:"room"`
	Message interface{} `json:"message,omitempty"`
}

// Hub tracks local websocket subscribers per room and relays broker payloads to them.
// A room holds one broker subscription while it has at least one local client.
type Hub struct {
	broker   Broker
	upgrader websocket.Upgrader

	mu     sync.Mutex
	rooms  map[string]*roomState
	closed bool
}

type roomState struct {
	clients map[*client]struct{}
	sub     Subscription
}

type client struct {
	hub    *Hub
	room   string
	userID uint
	conn   *websocket.Conn
	send   chan []byte
}

// NewHub creates a hub on top of broker. checkOrigin may be nil to accept any origin.
func NewHub(broker Broker, checkOrigin func(*http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		rooms: make(map[string]*roomState),
	}
}

// Publish broadcasts an event of type EventMessage carrying msg to every subscriber of room.
func (h *Hub) Publish(ctx context.Context, room string, msg interface{}) error {
	payload, err := json.Marshal(Event{Type: EventMessage, Room: room, Message: msg})
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, room, payload)
}

// Serve upgrades the request and subscribes the connection to room until it closes.
// userID is zero for anonymous readers.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, room string, userID uint) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return err
	}
	c := &client{hub: h, room: room, userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	ready, _ := json.Marshal(Event{Type: EventSubscribed, Room: room})
	c.send <- ready
	if err := h.join(c); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return err
	}

	go c.writePump()
	go c.readPump()
	return nil
}

// Subscribers returns the number of local clients in room.
func (h *Hub) Subscribers(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rs, ok := h.rooms[room]; ok {
		return len(rs.clients)
	}
	return 0
}

// Close disconnects every client and closes the broker.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[string]*roomState)
	for _, rs := range rooms {
		for c := range rs.clients {
			close(c.send)
			chatConnections.Dec()
		}
		if rs.sub != nil {
			_ = rs.sub.Unsubscribe()
		}
	}
	h.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- h.broker.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) join(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("hub closed")
	}
	rs, ok := h.rooms[c.room]
	if !ok {
		room := c.room
		sub, err := h.broker.Subscribe(room, func(payload []byte) { h.deliver(room, payload) })
		if err != nil {
			return fmt.Errorf("subscribe room %s: %w", room, err)
		}
		rs = &roomState{clients: make(map[*client]struct{}), sub: sub}
		h.rooms[room] = rs
	}
	rs.clients[c] = struct{}{}
	chatConnections.Inc()
	return nil
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, member := rs.clients[c]; !member {
		return
	}
	h.removeLocked(rs, c)
}

// removeLocked drops c from rs and releases the room subscription when it empties.
func (h *Hub) removeLocked(rs *roomState, c *client) {
	delete(rs.clients, c)
	close(c.send)
	chatConnections.Dec()
	if len(rs.clients) == 0 {
		if rs.sub != nil {
			if err := rs.sub.Unsubscribe(); err != nil {
				utils.Sugar.Warnf("chat unsubscribe failed room=%s err=%v", c.room, err)
			}
		}
		delete(h.rooms, c.room)
	}
}

func (h *Hub) deliver(room string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.rooms[room]
	if !ok {
		return
	}
	for c := range rs.clients {
		select {
		case c.send <- payload:
		default:
			// slow consumer; the client reconnects and reloads history
			utils.Sugar.Infof("dropping slow chat client room=%s user=%d", room, c.userID)
			h.removeLocked(rs, c)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// inbound frames are ignored; messages are posted over HTTP
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				utils.Sugar.Debugf("chat read error room=%s err=%v", c.room, err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
