package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Elpepit0/site-tchat-visio/domain/presence"
	"github.com/Elpepit0/site-tchat-visio/domain/state"
	"github.com/Elpepit0/site-tchat-visio/modules/profile"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
)

// Module hosts the event router. It depends on the profile module for
// avatar lookups in user_list.
type Module struct {
	router    *Router
	directory *profile.CachedDirectory
	cache     fiber.Storage
	cacheTTL  time.Duration
	logger    types.Logger

	liveness      presence.Liveness
	sweepInterval time.Duration
	stopSweep     context.CancelFunc
	sweepWG       sync.WaitGroup
}

// DefaultSweepInterval is how often connections of stopped processes are
// looked for.
const DefaultSweepInterval = 15 * time.Second

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the relay module over the shared store.
func NewModule(store state.Store, publisher Publisher, logger types.Logger) *Module {
	m := &Module{
		cacheTTL:      profile.DefaultLookupTTL,
		logger:        logger,
		sweepInterval: DefaultSweepInterval,
	}
	m.router = NewRouter(store, publisher, m, logger)
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return "relay"
}

// Dependencies declares the profile module dependency.
func (m *Module) Dependencies() []string {
	return []string{"profile"}
}

// SetLookupCache makes avatar lookups go through storage. Call before Start.
func (m *Module) SetLookupCache(storage fiber.Storage, ttl time.Duration) {
	m.cache = storage
	if ttl > 0 {
		m.cacheTTL = ttl
	}
}

// SetLiveness tags presence entries with this process and periodically
// prunes the connections of processes that stopped without cleaning up.
// Call before Start.
func (m *Module) SetLiveness(l presence.Liveness, interval time.Duration) {
	m.liveness = l
	m.router.SetLiveness(l)
	if interval > 0 {
		m.sweepInterval = interval
	}
}

// SetDependencyServiceContainer receives the profile service container.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "profile" {
		m.directory = profile.NewCachedDirectory(profile.NewProfileAdapter(container), m.cache, m.cacheTTL, m.logger)
	}
}

// Start starts the stale connection sweeper when liveness is set.
func (m *Module) Start(_ context.Context) error {
	if m.liveness != nil {
		ctx, cancel := context.WithCancel(context.Background())
		m.stopSweep = cancel
		m.sweepWG.Add(1)
		go m.sweepLoop(ctx)
	}
	m.logger.Info("Relay module started", "lookup_cache", m.cache != nil, "stale_sweep", m.liveness != nil)
	return nil
}

// Stop stops the sweeper.
func (m *Module) Stop(_ context.Context) error {
	if m.stopSweep != nil {
		m.stopSweep()
		m.sweepWG.Wait()
	}
	m.logger.Info("Relay module stopped", "open_connections", m.openConnections())
	return nil
}

// sweepLoop prunes once right away, which clears what a crashed
// predecessor left, then on every tick.
func (m *Module) sweepLoop(ctx context.Context) {
	defer m.sweepWG.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		m.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Module) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.sweepInterval)
	defer cancel()
	if err := m.router.PruneStale(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("Failed to prune stale connections", "error", err)
	}
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"open_connections": m.openConnections(),
		},
	}
}

// LookupAvatar resolves avatar URLs through the profile directory.
func (m *Module) LookupAvatar(ctx context.Context, username string) (string, error) {
	if m.directory == nil {
		return "", nil
	}
	return m.directory.LookupAvatar(ctx, username)
}

// Connect registers a new websocket connection.
func (m *Module) Connect(ctx context.Context, conn string, auth AuthContext) error {
	return m.router.Connect(ctx, conn, auth)
}

// Handle applies an inbound client event.
func (m *Module) Handle(ctx context.Context, conn, event string, data json.RawMessage) error {
	return m.router.Handle(ctx, conn, event, data)
}

// Disconnect cleans up after a closed connection.
func (m *Module) Disconnect(ctx context.Context, conn string) {
	m.router.Disconnect(ctx, conn)
}

// AvatarChanged drops the cached avatar of username and re-sends user_list.
func (m *Module) AvatarChanged(ctx context.Context, username string) error {
	if m.directory != nil {
		m.directory.Invalidate(ctx, username)
	}
	return m.router.BroadcastUserList(ctx)
}

func (m *Module) openConnections() int {
	m.router.mu.Lock()
	defer m.router.mu.Unlock()
	return len(m.router.open)
}
