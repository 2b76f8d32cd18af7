// Package notify delivers fire-and-forget real-time events to tenant-scoped
// subscriber rooms over websockets. Clients reconcile state idempotently;
// the engine never assumes a notification was received.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Room names within a tenant.
const (
	RoomNotification = "notification"
)

// TicketRoom is the room carrying updates for one ticket.
func TicketRoom(ticketID int64) string {
	return fmt.Sprintf("ticket:%d", ticketID)
}

// StatusRoom is the room carrying updates for one ticket-status list.
func StatusRoom(status string) string {
	return fmt.Sprintf("status:%s", status)
}

// Notifier is the emission contract services depend on.
type Notifier interface {
	Broadcast(tenantID int64, room, event string, payload interface{})
}

type envelope struct {
	Event   string      `json:"event"`
	Room    string      `json:"room"`
	Payload interface{} `json:"payload"`
}

type client struct {
	conn     *websocket.Conn
	tenantID int64
	rooms    map[string]bool
}

func (c *client) subscribed(room string) bool {
	return len(c.rooms) == 0 || c.rooms[room]
}

// Hub tracks websocket subscribers and broadcasts tenant-scoped events.
type Hub struct {
	logger *logrus.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the subscriber. The tenant id
// is mandatory; rooms is an optional comma-separated filter (empty means all
// rooms of the tenant).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenantId"), 10, 64)
	if err != nil || tenantID <= 0 {
		http.Error(w, "tenantId query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to accept websocket connection")
		return
	}

	c := &client{conn: conn, tenantID: tenantID, rooms: map[string]bool{}}
	if rooms := r.URL.Query().Get("rooms"); rooms != "" {
		for _, room := range strings.Split(rooms, ",") {
			c.rooms[strings.TrimSpace(room)] = true
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"tenantId": tenantID,
		"rooms":    len(c.rooms),
	}).Debug("Websocket subscriber registered")

	// Hold the connection open; subscribers only receive.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// Broadcast sends the event to every subscriber of the tenant's room.
// Delivery is best effort: write failures drop the subscriber.
func (h *Hub) Broadcast(tenantID int64, room, event string, payload interface{}) {
	data, err := json.Marshal(envelope{Event: event, Room: room, Payload: payload})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to marshal notification payload")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.tenantID == tenantID && c.subscribed(room) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			_ = c.conn.Close(websocket.StatusAbnormalClosure, "write failed")
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
