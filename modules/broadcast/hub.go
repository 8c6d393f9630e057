package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Elpepit0/site-tchat-visio/events"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
)

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a websocket connection held by this process.
type Client struct {
	ID   string
	Conn Conn
}

// Frame is the JSON envelope written to clients.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Hub owns the local websocket clients and performs every write to them,
// so a connection is never written concurrently.
type Hub struct {
	clients    map[string]*Client // clientID -> Client
	register   chan *Client
	unregister chan *Client
	deliveries chan events.DeliveryEvent
	done       chan struct{}
	mu         sync.RWMutex
	logger     types.Logger
}

// NewHub creates a new Hub.
func NewHub(logger types.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliveries: make(chan events.DeliveryEvent, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop. It accepts a context for graceful shutdown.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Hub shutting down", "clients", h.ClientCount())
			h.closeAllClients()
			close(h.done)
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		case d := <-h.deliveries:
			h.handleDelivery(d)
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		_ = client.Conn.Close()
	}
	h.clients = make(map[string]*Client)
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	h.logger.Debug("Client registered", "clientID", client.ID)
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		h.logger.Debug("Client unregistered", "clientID", client.ID)
	}
}

func (h *Hub) handleDelivery(d events.DeliveryEvent) {
	data, err := json.Marshal(Frame{Event: d.Event, Data: d.Payload})
	if err != nil {
		h.logger.Error("Failed to encode frame", "event", d.Event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if d.Broadcast {
		for id, client := range h.clients {
			if id != d.Except {
				h.sendToClient(client, data)
			}
		}
		return
	}
	for _, id := range d.To {
		if id == d.Except {
			continue
		}
		if client, ok := h.clients[id]; ok {
			h.sendToClient(client, data)
		}
	}
}

// sendToClient closes connections that cannot be written to; their read
// loop then runs the normal disconnect cleanup.
func (h *Hub) sendToClient(client *Client, data []byte) {
	if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn("Failed to send to client", "clientID", client.ID, "error", err)
		_ = client.Conn.Close()
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Dispatch queues a delivery for the locally held clients it targets.
func (h *Hub) Dispatch(d events.DeliveryEvent) {
	select {
	case h.deliveries <- d:
	case <-h.done:
	}
}

// GetClient returns a client by ID.
func (h *Hub) GetClient(clientID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[clientID]
}

// ClientCount returns the number of connected clients on this process.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
