// Package broadcast writes relay deliveries to the websocket clients held by
// this process.
package broadcast

import (
	"context"
	"fmt"

	"github.com/Elpepit0/site-tchat-visio/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
)

// BroadcastModule is an EventConsumerModule that hands Delivery events to the hub.
type BroadcastModule struct {
	hub       *Hub
	cancelHub context.CancelFunc
	logger    types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*BroadcastModule)(nil)
var _ mono.EventConsumerModule = (*BroadcastModule)(nil)
var _ mono.HealthCheckableModule = (*BroadcastModule)(nil)

// NewModule creates a new BroadcastModule.
func NewModule(logger types.Logger) *BroadcastModule {
	return &BroadcastModule{
		hub:    NewHub(logger),
		logger: logger,
	}
}

// Name returns the module name.
func (m *BroadcastModule) Name() string {
	return "broadcast"
}

// Start starts the hub loop.
func (m *BroadcastModule) Start(_ context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelHub = cancel
	go m.hub.Run(ctx)
	m.logger.Info("Broadcast module started - websocket hub running")
	return nil
}

// Stop shuts the hub down and closes every local connection.
func (m *BroadcastModule) Stop(_ context.Context) error {
	clientCount := m.hub.ClientCount()
	if m.cancelHub != nil {
		m.cancelHub()
		m.hub.Wait()
	}
	m.logger.Info("Broadcast module stopped", "clients", clientCount)
	return nil
}

// Health returns the health status.
func (m *BroadcastModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connected_clients": m.hub.ClientCount(),
		},
	}
}

// RegisterEventConsumers subscribes to Delivery events.
func (m *BroadcastModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.DeliveryV1, m.handleDelivery, m,
	); err != nil {
		return fmt.Errorf("failed to register Delivery consumer: %w", err)
	}
	m.logger.Info("Registered event consumers", "events", "Delivery")
	return nil
}

func (m *BroadcastModule) handleDelivery(_ context.Context, event events.DeliveryEvent, _ *mono.Msg) error {
	m.hub.Dispatch(event)
	return nil
}

// GetHub returns the websocket hub for the API module to register clients.
func (m *BroadcastModule) GetHub() *Hub {
	return m.hub
}
