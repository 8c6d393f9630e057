package relay

import (
	"context"
	"testing"
	"time"

	"github.com/Elpepit0/site-tchat-visio/domain/chat"
	"github.com/Elpepit0/site-tchat-visio/domain/presence"
	"github.com/Elpepit0/site-tchat-visio/events"
	statemod "github.com/Elpepit0/site-tchat-visio/modules/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModule_SweepsStaleConnections(t *testing.T) {
	ctx := context.Background()
	store := statemod.NewMemoryStore()

	// A process that stopped without running its disconnect cleanup.
	ghosts := presence.NewRegistry(store)
	ghosts.SetLiveness(&fakeLiveness{id: "gone"})
	require.NoError(t, ghosts.Add(ctx, "ghost", "bob"))

	pub := &capturePublisher{}
	m := NewModule(store, pub, &mockLogger{})
	m.SetLiveness(&fakeLiveness{id: "self"}, 10*time.Millisecond)
	require.NoError(t, m.Start(ctx))
	defer func() { require.NoError(t, m.Stop(ctx)) }()

	require.Eventually(t, func() bool {
		return pub.count(events.UserList) > 0
	}, time.Second, 10*time.Millisecond)

	_, err := m.router.presence.Get(ctx, "ghost")
	assert.Error(t, err, "stale entry still stored")
	lists := only(pub.take(), events.UserList)
	require.NotEmpty(t, lists)
	assert.Empty(t, decode[[]chat.UserListEntry](t, lists[0]))
}

func TestModule_NoSweepWithoutLiveness(t *testing.T) {
	m := NewModule(statemod.NewMemoryStore(), &capturePublisher{}, &mockLogger{})
	require.NoError(t, m.Start(context.Background()))
	assert.Nil(t, m.stopSweep)
	require.NoError(t, m.Stop(context.Background()))
}
