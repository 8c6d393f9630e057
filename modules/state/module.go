// Package state provides the shared state store backends (in-memory and
// Redis) and the mono module that owns the store's lifecycle.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Elpepit0/site-tchat-visio/domain/instances"
	domain "github.com/Elpepit0/site-tchat-visio/domain/state"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
)

// Supported backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const pingTimeout = 5 * time.Second

// HeartbeatTTL is how long a process counts as alive after its last
// heartbeat. Heartbeats are refreshed three times per TTL.
const HeartbeatTTL = 30 * time.Second

// Module owns the shared state store and this process's heartbeat in it.
type Module struct {
	backend   string
	redis     RedisConfig
	store     domain.Store
	instances *instances.Registry
	logger    types.Logger

	stopBeat context.CancelFunc
	beatWG   sync.WaitGroup
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the state module. The store is created immediately so
// other modules can be wired to it before Start; Redis connects lazily.
func NewModule(backend string, redisCfg RedisConfig, logger types.Logger) (*Module, error) {
	m := &Module{
		backend: backend,
		redis:   redisCfg,
		logger:  logger,
	}
	switch backend {
	case BackendMemory, "":
		m.backend = BackendMemory
		m.store = NewMemoryStore()
	case BackendRedis:
		m.store = NewRedisStore(redisCfg)
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
	m.instances = instances.NewRegistry(m.store, uuid.New().String(), HeartbeatTTL)
	return m, nil
}

// Name returns the module name.
func (m *Module) Name() string {
	return "state"
}

// Start verifies the store is reachable.
func (m *Module) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := m.store.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach %s state store: %w", m.backend, err)
	}
	if err := m.instances.Beat(ctx); err != nil {
		return err
	}

	beatCtx, stop := context.WithCancel(context.Background())
	m.stopBeat = stop
	m.beatWG.Add(1)
	go m.heartbeatLoop(beatCtx)

	if m.backend == BackendRedis {
		m.logger.Info("State store connected", "backend", m.backend, "addr", m.redis.Addr, "instance", m.instances.ID())
	} else {
		m.logger.Info("State store ready", "backend", m.backend, "instance", m.instances.ID())
	}
	return nil
}

func (m *Module) heartbeatLoop(ctx context.Context) {
	defer m.beatWG.Done()

	ticker := time.NewTicker(m.instances.TTL() / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beatCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			if err := m.instances.Beat(beatCtx); err != nil && ctx.Err() == nil {
				m.logger.Warn("Failed to refresh heartbeat", "instance", m.instances.ID(), "error", err)
			}
			cancel()
		}
	}
}

// Stop retires the heartbeat and closes the store.
func (m *Module) Stop(ctx context.Context) error {
	if m.stopBeat != nil {
		m.stopBeat()
		m.beatWG.Wait()
		if err := m.instances.Retire(ctx); err != nil {
			m.logger.Warn("Failed to retire heartbeat", "instance", m.instances.ID(), "error", err)
		}
	}
	if err := m.store.Close(); err != nil {
		m.logger.Error("Error closing state store", "error", err)
		return fmt.Errorf("failed to close state store: %w", err)
	}
	m.logger.Info("State store closed")
	return nil
}

// Health pings the store.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := m.store.Ping(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("state store ping failed: %v", err),
			Details: map[string]any{"backend": m.backend},
		}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"backend": m.backend},
	}
}

// Store returns the shared state store.
func (m *Module) Store() domain.Store {
	return m.store
}

// Instances returns the liveness registry of this process.
func (m *Module) Instances() *instances.Registry {
	return m.instances
}

// Backend returns the configured backend name.
func (m *Module) Backend() string {
	return m.backend
}
