// Package avatar stores user avatar images in the fs-jetstream object store.
package avatar

import (
	"context"
	"fmt"

	"github.com/go-monolith/mono"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
	"github.com/go-monolith/mono/pkg/types"
)

// BucketName is the fs-jetstream bucket holding avatars.
const BucketName = "avatars"

// Module implements the avatar module using the fs-jetstream plugin.
type Module struct {
	storage *fsjetstream.PluginModule
	bucket  fsjetstream.FileStoragePort
	service *Service
	logger  types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.UsePluginModule       = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new avatar module.
func NewModule(logger types.Logger) *Module {
	return &Module{
		logger: logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "avatar"
}

// SetPlugin receives the storage plugin from the framework.
// This is called before Start() when the module implements UsePluginModule.
func (m *Module) SetPlugin(alias string, plugin mono.PluginModule) {
	if alias == "storage" {
		storage, ok := plugin.(*fsjetstream.PluginModule)
		if !ok {
			m.logger.Error("Invalid plugin type for storage",
				"alias", alias,
				"expected", "*fsjetstream.PluginModule")
			return
		}
		m.storage = storage
		m.logger.Info("Received storage plugin", "alias", alias)
	}
}

// Start resolves the avatars bucket.
func (m *Module) Start(_ context.Context) error {
	if m.storage == nil {
		return fmt.Errorf("required plugin 'storage' not registered")
	}

	m.bucket = m.storage.Bucket(BucketName)
	if m.bucket == nil {
		return fmt.Errorf("bucket '%s' not found in storage plugin", BucketName)
	}

	m.service = NewService(m.bucket)
	m.logger.Info("Avatar module started", "bucket", BucketName)
	return nil
}

// Stop gracefully shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("Avatar module stopped")
	return nil
}

// Health reports whether the bucket is available.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{Healthy: false, Message: "avatar bucket not initialized"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"bucket": BucketName},
	}
}

// Service returns the avatar service instance.
func (m *Module) Service() *Service {
	return m.service
}

// Upload stores data as owner's avatar.
func (m *Module) Upload(ctx context.Context, owner string, data []byte) (*Avatar, error) {
	if m.service == nil {
		return nil, ErrNotStarted
	}
	return m.service.Upload(ctx, owner, data)
}

// Get returns the image bytes and content type of the avatar id.
func (m *Module) Get(ctx context.Context, id string) ([]byte, string, error) {
	if m.service == nil {
		return nil, "", ErrNotStarted
	}
	return m.service.Get(ctx, id)
}

// Delete removes the avatar id if owner uploaded it.
func (m *Module) Delete(ctx context.Context, id, owner string) error {
	if m.service == nil {
		return ErrNotStarted
	}
	return m.service.Delete(ctx, id, owner)
}
