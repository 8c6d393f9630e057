// Package fanout publishes outbound relay deliveries so that every relay
// process can write them to the websocket clients it holds.
//
// The eventbus backend keeps deliveries on the mono EventBus of a single
// process. The redis and nats backends send them over a shared channel; each
// process re-publishes what it receives onto its local EventBus, where the
// broadcast module consumes it.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Elpepit0/site-tchat-visio/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
)

// Supported backends.
const (
	BackendEventBus = "eventbus"
	BackendRedis    = "redis"
	BackendNATS     = "nats"
)

// DefaultSubject is the Redis channel / NATS subject deliveries travel on.
const DefaultSubject = "tchat.deliveries"

var (
	ErrNotStarted    = errors.New("fanout not started")
	ErrPublishFailed = errors.New("failed to publish delivery")
)

// Config selects and configures the backend.
type Config struct {
	Backend string
	Subject string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NATSURL string
}

// Module is an EventEmitterModule that owns Delivery publishing.
type Module struct {
	cfg      Config
	eventBus mono.EventBus
	remote   remote
	logger   types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule validates cfg and creates the module.
func NewModule(cfg Config, logger types.Logger) (*Module, error) {
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	m := &Module{cfg: cfg, logger: logger}
	switch cfg.Backend {
	case BackendEventBus, "":
		m.cfg.Backend = BackendEventBus
	case BackendRedis:
		m.remote = newRedisRemote(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), cfg.Subject)
	case BackendNATS:
		if cfg.NATSURL == "" {
			return nil, errors.New("nats fanout backend requires a NATS URL")
		}
		m.remote = newNATSRemote(cfg.NATSURL, cfg.Subject)
	default:
		return nil, fmt.Errorf("unknown fanout backend %q", cfg.Backend)
	}
	return m, nil
}

// Name returns the module name.
func (m *Module) Name() string {
	return "fanout"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.DeliveryV1.ToBase(),
	}
}

// Start subscribes to the shared channel when a remote backend is used.
func (m *Module) Start(ctx context.Context) error {
	if m.eventBus == nil {
		return fmt.Errorf("fanout module requires an event bus")
	}
	if m.remote != nil {
		if err := m.remote.Subscribe(ctx, m.relay); err != nil {
			return err
		}
	}
	m.logger.Info("Fanout module started", "backend", m.cfg.Backend, "subject", m.cfg.Subject)
	return nil
}

// Stop closes the remote connection.
func (m *Module) Stop(_ context.Context) error {
	if m.remote != nil {
		if err := m.remote.Close(); err != nil {
			m.logger.Warn("Error closing fanout backend", "error", err)
		}
	}
	m.logger.Info("Fanout module stopped")
	return nil
}

// Health reports the configured backend.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.eventBus != nil,
		Message: "operational",
		Details: map[string]any{"backend": m.cfg.Backend},
	}
}

// Publish sends d to every process.
func (m *Module) Publish(ctx context.Context, d events.DeliveryEvent) error {
	if m.eventBus == nil {
		return ErrNotStarted
	}
	if m.remote == nil {
		if err := events.DeliveryV1.Publish(m.eventBus, d, nil); err != nil {
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}
	return m.remote.Publish(ctx, data)
}

// relay puts a delivery received from another process (or this one) onto
// the local EventBus.
func (m *Module) relay(data []byte) {
	var d events.DeliveryEvent
	if err := json.Unmarshal(data, &d); err != nil {
		m.logger.Warn("Dropping malformed delivery", "error", err)
		return
	}
	if err := events.DeliveryV1.Publish(m.eventBus, d, nil); err != nil {
		m.logger.Error("Failed to relay delivery", "event", d.Event, "error", err)
	}
}
