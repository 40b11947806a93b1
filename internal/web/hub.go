package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blockedby/tgparser/internal/auth"
	"github.com/blockedby/tgparser/internal/logger"
	"github.com/blockedby/tgparser/internal/parser"
	"github.com/blockedby/tgparser/internal/progress"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
	outboxSize     = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the API is token-authenticated; origin checks belong to CORS
	CheckOrigin: func(*http.Request) bool { return true },
}

// userMessage is a message addressed to one user's connections.
type userMessage struct {
	userID uint
	data   []byte
}

// Hub maintains the set of active clients and routes messages to them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	direct     chan userMessage
	quit       chan struct{}
	stopOnce   sync.Once
	log        *logger.Logger
}

// NewHub creates a hub. Run must be started before it delivers anything.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte),
		direct:     make(chan userMessage, outboxSize),
		quit:       make(chan struct{}),
		log:        logger.Get().Component("ws_hub"),
	}
}

// Run serves the hub until Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			h.remove(client)
		case message := <-h.broadcast:
			for client := range h.clients {
				h.deliver(client, message)
			}
		case m := <-h.direct:
			for client := range h.clients {
				if client.userID == m.userID {
					h.deliver(client, m.data)
				}
			}
		case <-h.quit:
			for client := range h.clients {
				h.remove(client)
			}
			return
		}
	}
}

// RunContext runs the hub until ctx is done.
func (h *Hub) RunContext(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		h.Stop()
	}()
	h.Run()
	return nil
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		h.log.Warn().Uint("user_id", client.userID).Msg("client too slow, dropping")
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast sends message to every client.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.quit:
	}
}

// SendToUser queues message for userID's clients. It never blocks: when the
// outbox is full the message is dropped.
func (h *Hub) SendToUser(userID uint, message []byte) {
	select {
	case h.direct <- userMessage{userID: userID, data: message}:
	default:
		h.log.Warn().Uint("user_id", userID).Msg("hub outbox full, dropping message")
	}
}

// ProgressChanged implements progress.Observer.
func (h *Hub) ProgressChanged(s progress.State) {
	h.SendToUser(s.UserID, ProgressEvent(s))
}

// PublishParseEvent implements parser.EventPublisher.
func (h *Hub) PublishParseEvent(_ context.Context, ev parser.ParseEvent) error {
	h.SendToUser(ev.UserID, ParseEventMessage(ev))
	return nil
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uint
}

// readPump drains the connection so pongs and close frames are processed.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// ServeWs upgrades the request and registers the authenticated user's
// connection. Requests without a user in context are rejected.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Debug().Err(err).Msg("websocket upgrade")
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, sendBuffer), userID: u.ID}
	select {
	case hub.register <- client:
	case <-hub.quit:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
