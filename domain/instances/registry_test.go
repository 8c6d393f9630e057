package instances_test

import (
	"context"
	"testing"
	"time"

	"github.com/Elpepit0/site-tchat-visio/domain/instances"
	"github.com/Elpepit0/site-tchat-visio/domain/state"
	statemod "github.com/Elpepit0/site-tchat-visio/modules/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Heartbeats(t *testing.T) {
	ctx := context.Background()
	store := statemod.NewMemoryStore()
	a := instances.NewRegistry(store, "a", time.Minute)
	b := instances.NewRegistry(store, "b", time.Minute)

	ok, err := a.Alive(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok, "b has never beaten")

	require.NoError(t, b.Beat(ctx))
	ok, err = a.Alive(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Retire(ctx))
	ok, err = a.Alive(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_SelfAndUnownedAlwaysAlive(t *testing.T) {
	ctx := context.Background()
	r := instances.NewRegistry(statemod.NewMemoryStore(), "a", time.Minute)

	for _, id := range []string{"a", ""} {
		ok, err := r.Alive(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok, "Alive(%q)", id)
	}
}

// downStore fails every heartbeat check.
type downStore struct {
	state.Store
}

func (downStore) Exists(context.Context, string) (bool, error) {
	return false, state.ErrUnavailable
}

func TestRegistry_AliveStoreFailure(t *testing.T) {
	r := instances.NewRegistry(downStore{Store: statemod.NewMemoryStore()}, "a", time.Minute)
	_, err := r.Alive(context.Background(), "b")
	assert.ErrorIs(t, err, state.ErrUnavailable)
}
