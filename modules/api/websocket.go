package api

import (
	"context"
	"encoding/json"

	"github.com/Elpepit0/site-tchat-visio/modules/broadcast"
	"github.com/Elpepit0/site-tchat-visio/modules/relay"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// authLocalKey carries the relay.AuthContext from the upgrade request to
// the websocket handler.
const authLocalKey = "relay_auth"

// upgradeMiddleware rejects plain HTTP requests to /ws and resolves the
// session of the upgrading client. Invalid or missing tokens connect as an
// unauthenticated user.
func (m *APIModule) upgradeMiddleware(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	auth := relay.AuthContext{}
	if claims, ok := currentUser(c, m.profile); ok {
		auth = relay.AuthContext{Username: claims.Username, Authenticated: true}
	}
	c.Locals(authLocalKey, auth)
	return c.Next()
}

// handleWebSocket handles WebSocket connections at /ws. Writes go through
// the hub; this goroutine only reads.
func (m *APIModule) handleWebSocket(c *websocket.Conn) {
	connID := uuid.New().String()
	auth, _ := c.Locals(authLocalKey).(relay.AuthContext)
	if m.cfg.MaxFrameBytes > 0 {
		c.SetReadLimit(m.cfg.MaxFrameBytes)
	}

	client := &broadcast.Client{ID: connID, Conn: c}
	m.clients.Register(client)
	defer func() {
		m.clients.Unregister(client)
		ctx, cancel := m.opContext()
		defer cancel()
		m.relay.Disconnect(ctx, connID)
		m.logger.Info("WebSocket client disconnected", "conn", connID, "user", auth.Username)
	}()

	ctx, cancel := m.opContext()
	err := m.relay.Connect(ctx, connID, auth)
	cancel()
	if err != nil {
		m.logger.Error("Failed to connect client", "conn", connID, "error", err)
		return
	}
	m.logger.Info("WebSocket client connected", "conn", connID, "user", auth.Username)

	limiter := m.frameLimiter()
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("Client closed connection", "conn", connID)
			} else {
				m.logger.Debug("Read error", "conn", connID, "error", err)
			}
			return
		}
		if !limiter.Allow() {
			m.logger.Warn("Dropping frame over rate limit", "conn", connID)
			continue
		}

		var frame broadcast.Frame
		if err := json.Unmarshal(msg, &frame); err != nil || frame.Event == "" {
			m.logger.Debug("Ignoring malformed frame", "conn", connID)
			continue
		}

		ctx, cancel := m.opContext()
		err = m.relay.Handle(ctx, connID, frame.Event, frame.Data)
		cancel()
		if err != nil {
			m.logger.Error("Closing connection after failed event",
				"conn", connID,
				"event", frame.Event,
				"error", err)
			return
		}
	}
}

func (m *APIModule) frameLimiter() *rate.Limiter {
	if m.cfg.MessageRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := m.cfg.MessageBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(m.cfg.MessageRate), burst)
}

func (m *APIModule) opContext() (context.Context, context.CancelFunc) {
	if m.cfg.HandleTimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), m.cfg.HandleTimeout)
}
