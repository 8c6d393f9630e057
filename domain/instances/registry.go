// Package instances tracks which relay processes are alive. Each process
// refreshes a heartbeat key; connections recorded by a process whose
// heartbeat has expired are stale.
package instances

import (
	"context"
	"fmt"
	"time"

	"github.com/Elpepit0/site-tchat-visio/domain/state"
)

// KeyPrefix prefixes the heartbeat key of every process.
const KeyPrefix = "tchat:instance:"

// Registry is the view one process has of the set of live processes.
type Registry struct {
	store state.Store
	id    string
	ttl   time.Duration
	now   func() time.Time
}

// NewRegistry creates the registry of the process identified by id. A
// heartbeat is considered lost ttl after it was last refreshed.
func NewRegistry(store state.Store, id string, ttl time.Duration) *Registry {
	return &Registry{store: store, id: id, ttl: ttl, now: time.Now}
}

// ID returns the id of this process.
func (r *Registry) ID() string {
	return r.id
}

// TTL returns how long a heartbeat stays valid.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Beat refreshes the heartbeat of this process.
func (r *Registry) Beat(ctx context.Context) error {
	stamp := []byte(r.now().UTC().Format(time.RFC3339))
	if err := r.store.Put(ctx, KeyPrefix+r.id, stamp, r.ttl); err != nil {
		return fmt.Errorf("failed to refresh heartbeat: %w", err)
	}
	return nil
}

// Alive reports whether the process id still has a heartbeat. This process
// and records without a process id always count as alive.
func (r *Registry) Alive(ctx context.Context, id string) (bool, error) {
	if id == "" || id == r.id {
		return true, nil
	}
	ok, err := r.store.Exists(ctx, KeyPrefix+id)
	if err != nil {
		return false, fmt.Errorf("failed to check heartbeat of %s: %w", id, err)
	}
	return ok, nil
}

// Retire removes the heartbeat of this process so others stop waiting for
// it to expire.
func (r *Registry) Retire(ctx context.Context) error {
	if err := r.store.Delete(ctx, KeyPrefix+r.id); err != nil {
		return fmt.Errorf("failed to remove heartbeat: %w", err)
	}
	return nil
}
