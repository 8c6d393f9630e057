// Package api serves the HTTP surface of the relay: accounts, avatars,
// visitor pings, the websocket endpoint and the single page application.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/Elpepit0/site-tchat-visio/modules/avatar"
	"github.com/Elpepit0/site-tchat-visio/modules/broadcast"
	"github.com/Elpepit0/site-tchat-visio/modules/profile"
	"github.com/Elpepit0/site-tchat-visio/modules/relay"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Config holds the HTTP server settings.
type Config struct {
	Port           int
	StaticDir      string
	AllowOrigins   string
	CookieSecure   bool
	LoginPerMinute int
	// MessageRate and MessageBurst bound inbound websocket frames per
	// connection. A zero rate disables the limit.
	MessageRate   float64
	MessageBurst  int
	MaxFrameBytes int64
	HandleTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Port:           3000,
		StaticDir:      "static",
		AllowOrigins:   "*",
		LoginPerMinute: 10,
		MessageRate:    20,
		MessageBurst:   40,
		MaxFrameBytes:  64 * 1024,
		HandleTimeout:  5 * time.Second,
	}
}

// Relay is the event router driven by the websocket endpoint.
type Relay interface {
	Connect(ctx context.Context, conn string, auth relay.AuthContext) error
	Handle(ctx context.Context, conn, event string, data json.RawMessage) error
	Disconnect(ctx context.Context, conn string)
	AvatarChanged(ctx context.Context, username string) error
}

// Clients tracks the websocket connections held by this process.
type Clients interface {
	Register(client *broadcast.Client)
	Unregister(client *broadcast.Client)
	ClientCount() int
}

// AvatarStore keeps uploaded avatar images.
type AvatarStore interface {
	Upload(ctx context.Context, owner string, data []byte) (*avatar.Avatar, error)
	Get(ctx context.Context, id string) ([]byte, string, error)
	Delete(ctx context.Context, id, owner string) error
}

// VisitorTracker records visitor pings.
type VisitorTracker interface {
	Ping(ctx context.Context, session string) error
	Active(ctx context.Context) (int, error)
}

// HealthSource is a module reported by /health.
type HealthSource interface {
	Name() string
	Health(ctx context.Context) mono.HealthStatus
}

// APIModule is the HTTP API module with WebSocket support.
type APIModule struct {
	cfg            Config
	app            *fiber.App
	profile        profile.ProfilePort
	relay          Relay
	clients        Clients
	avatars        AvatarStore
	visitors       VisitorTracker
	limiterStorage fiber.Storage
	healthSources  []HealthSource
	logger         types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule.
func NewModule(cfg Config, logger types.Logger) *APIModule {
	return &APIModule{
		cfg:    cfg,
		logger: logger,
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"profile"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "profile":
		m.profile = profile.NewProfileAdapter(container)
	}
}

// SetProfile replaces the profile port.
func (m *APIModule) SetProfile(port profile.ProfilePort) {
	m.profile = port
}

// SetRelay sets the event router (called from main.go).
func (m *APIModule) SetRelay(r Relay) {
	m.relay = r
}

// SetHub sets the broadcast hub (called from main.go).
func (m *APIModule) SetHub(clients Clients) {
	m.clients = clients
}

// SetAvatarStore sets the avatar image store.
func (m *APIModule) SetAvatarStore(store AvatarStore) {
	m.avatars = store
}

// SetVisitors sets the visitor tracker.
func (m *APIModule) SetVisitors(tracker VisitorTracker) {
	m.visitors = tracker
}

// SetLimiterStorage makes the login limiter share its counters through
// storage.
func (m *APIModule) SetLimiterStorage(storage fiber.Storage) {
	m.limiterStorage = storage
}

// SetHealthSources sets the modules reported by /health.
func (m *APIModule) SetHealthSources(sources ...HealthSource) {
	m.healthSources = sources
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if err := m.checkDependencies(); err != nil {
		return err
	}

	m.app = m.newApp()
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", m.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", m.cfg.Port, err)
	}

	go func() {
		if err := m.app.Listener(ln); err != nil {
			m.logger.Error("HTTP server error", "error", err)
		}
	}()

	m.logger.Info("HTTP server started", "port", m.cfg.Port)
	return nil
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server")
	return m.app.ShutdownWithContext(ctx)
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	details := map[string]any{"port": m.cfg.Port}
	if m.clients != nil {
		details["connected_clients"] = m.clients.ClientCount()
	}
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: details,
	}
}

func (m *APIModule) checkDependencies() error {
	switch {
	case m.profile == nil:
		return fmt.Errorf("profile dependency not set")
	case m.relay == nil:
		return fmt.Errorf("relay not set")
	case m.clients == nil:
		return fmt.Errorf("broadcast hub not set")
	case m.avatars == nil:
		return fmt.Errorf("avatar store not set")
	case m.visitors == nil:
		return fmt.Errorf("visitor tracker not set")
	}
	return nil
}

// newApp builds the Fiber application with all middleware and routes.
func (m *APIModule) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		BodyLimit:             avatar.MaxAvatarBytes + 64*1024,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Next: func(c *fiber.Ctx) bool {
			return websocket.IsWebSocketUpgrade(c)
		},
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(m.corsConfig()))

	m.setupRoutes(app)
	return app
}

func (m *APIModule) corsConfig() cors.Config {
	origins := m.cfg.AllowOrigins
	if origins == "" || origins == "*" {
		return cors.Config{AllowOrigins: "*"}
	}
	return cors.Config{AllowOrigins: origins, AllowCredentials: true}
}

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	app.Get("/health", m.healthHandler)

	// WebSocket endpoint
	app.Use("/ws", m.upgradeMiddleware)
	app.Get("/ws", websocket.New(m.handleWebSocket))

	// Accounts
	limit := credentialLimiter(m.cfg.LoginPerMinute, m.limiterStorage)
	app.Post("/register", limit, m.register)
	app.Post("/login", limit, m.login)
	app.Post("/logout", m.logout)
	app.Get("/user/:username", m.findUser)

	authed := AuthMiddleware(m.profile)
	app.Get("/me", authed, m.me)
	app.Post("/set_avatar", authed, m.setAvatar)
	app.Post("/avatar", authed, m.uploadAvatar)
	app.Get("/avatars/:id", m.serveAvatar)

	// Visitors
	app.Post("/ping", m.ping)
	app.Get("/active_visitors", m.activeVisitors)

	// Single page application
	if m.cfg.StaticDir != "" {
		app.Static("/", m.cfg.StaticDir)
		app.Get("/*", m.spaFallback)
	}
}

// customErrorHandler handles Fiber errors.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}
