package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Elpepit0/site-tchat-visio/domain/instances"
	domain "github.com/Elpepit0/site-tchat-visio/domain/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the Store contract against one backend.
// newStore must return an empty store; keys are namespaced by prefix.
func runStoreSuite(t *testing.T, prefix string, newStore func(t *testing.T) domain.Store) {
	ctx := context.Background()

	t.Run("hash round trip", func(t *testing.T) {
		s := newStore(t)
		key := prefix + "hash"

		require.NoError(t, s.HashSet(ctx, key, "a", []byte("1")))
		require.NoError(t, s.HashSet(ctx, key, "b", []byte("2")))

		v, err := s.HashGet(ctx, key, "a")
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)

		_, err = s.HashGet(ctx, key, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		all, err := s.HashGetAll(ctx, key)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		n, err := s.HashDelete(ctx, key, "a", "missing")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		all, err = s.HashGetAll(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, map[string][]byte{"b": []byte("2")}, all)
	})

	t.Run("list append trims to capacity", func(t *testing.T) {
		s := newStore(t)
		key := prefix + "list"

		for i := 0; i < 10; i++ {
			require.NoError(t, s.ListAppend(ctx, key, []byte(fmt.Sprint(i)), 3))
		}
		items, err := s.ListRange(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("7"), []byte("8"), []byte("9")}, items)
	})

	t.Run("list update rewrites atomically", func(t *testing.T) {
		s := newStore(t)
		key := prefix + "update"

		require.NoError(t, s.ListAppend(ctx, key, []byte("a"), 0))
		require.NoError(t, s.ListAppend(ctx, key, []byte("b"), 0))

		err := s.ListUpdate(ctx, key, func(items [][]byte) ([][]byte, error) {
			return items[1:], nil
		})
		require.NoError(t, err)

		items, err := s.ListRange(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("b")}, items)
	})

	t.Run("list update propagates callback error", func(t *testing.T) {
		s := newStore(t)
		key := prefix + "abort"
		require.NoError(t, s.ListAppend(ctx, key, []byte("a"), 0))

		errStop := errors.New("stop")
		err := s.ListUpdate(ctx, key, func([][]byte) ([][]byte, error) {
			return nil, errStop
		})
		assert.ErrorIs(t, err, errStop)

		items, err := s.ListRange(ctx, key)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})

	t.Run("concurrent list updates lose nothing", func(t *testing.T) {
		s := newStore(t)
		key := prefix + "counter"
		require.NoError(t, s.ListAppend(ctx, key, []byte("0"), 0))

		const workers = 8
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.ListUpdate(ctx, key, func(items [][]byte) ([][]byte, error) {
					var n int
					fmt.Sscan(string(items[0]), &n)
					return [][]byte{[]byte(fmt.Sprint(n + 1))}, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		items, err := s.ListRange(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte(fmt.Sprint(workers))}, items)
	})

	t.Run("set remove deletes empty set", func(t *testing.T) {
		s := newStore(t)
		key := prefix + "room:R"

		_, err := s.SetAdd(ctx, key, "c1")
		require.NoError(t, err)
		_, err = s.SetAdd(ctx, key, "c2")
		require.NoError(t, err)

		left, err := s.SetRemove(ctx, key, "c1")
		require.NoError(t, err)
		assert.Equal(t, []string{"c2"}, left)

		left, err = s.SetRemove(ctx, key, "c2")
		require.NoError(t, err)
		assert.Empty(t, left)

		keys, err := s.Keys(ctx, prefix+"room:")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("set add returns previous members", func(t *testing.T) {
		s := newStore(t)
		key := prefix + "room:join"

		before, err := s.SetAdd(ctx, key, "c1")
		require.NoError(t, err)
		assert.Empty(t, before)

		before, err = s.SetAdd(ctx, key, "c2")
		require.NoError(t, err)
		assert.Equal(t, []string{"c1"}, before)

		members, err := s.SetMembers(ctx, key)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"c1", "c2"}, members)
	})

	t.Run("concurrent set adds see each other", func(t *testing.T) {
		s := newStore(t)
		key := prefix + "room:race"

		const workers = 8
		seen := make([][]string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				before, err := s.SetAdd(ctx, key, fmt.Sprintf("c%d", i))
				assert.NoError(t, err)
				seen[i] = before
			}(i)
		}
		wg.Wait()

		// Every pair must be ordered: one of the two saw the other.
		for i := 0; i < workers; i++ {
			for j := i + 1; j < workers; j++ {
				ci, cj := fmt.Sprintf("c%d", i), fmt.Sprintf("c%d", j)
				if !containsString(seen[i], cj) && !containsString(seen[j], ci) {
					t.Errorf("%s and %s never saw each other", ci, cj)
				}
			}
		}
	})

	t.Run("expiring values", func(t *testing.T) {
		s := newStore(t)
		key := prefix + "instance:a"

		ok, err := s.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Put(ctx, key, []byte("x"), time.Minute))
		ok, err = s.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.Delete(ctx, key))
		ok, err = s.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("keys by prefix", func(t *testing.T) {
		s := newStore(t)
		_, err := s.SetAdd(ctx, prefix+"room:a", "c1")
		require.NoError(t, err)
		_, err = s.SetAdd(ctx, prefix+"room:b", "c1")
		require.NoError(t, err)
		require.NoError(t, s.HashSet(ctx, prefix+"other", "f", []byte("v")))

		keys, err := s.Keys(ctx, prefix+"room:")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{prefix + "room:a", prefix + "room:b"}, keys)

		require.NoError(t, s.Delete(ctx, keys...))
		keys, err = s.Keys(ctx, prefix+"room:")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, "", func(*testing.T) domain.Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_ValuesExpire(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "tchat:instance:a", []byte("x"), 30*time.Second))

	now = now.Add(29 * time.Second)
	ok, err := s.Exists(ctx, "tchat:instance:a")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, err = s.Exists(ctx, "tchat:instance:a")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := s.Keys(ctx, "tchat:instance:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestNewModule_UnknownBackend(t *testing.T) {
	_, err := NewModule("etcd", DefaultRedisConfig(), &mockLogger{})
	assert.Error(t, err)
}

func TestModule_MemoryLifecycle(t *testing.T) {
	m, err := NewModule("", DefaultRedisConfig(), &mockLogger{})
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, m.Backend())

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.True(t, m.Health(ctx).Healthy)

	observer := instances.NewRegistry(m.Store(), "observer", HeartbeatTTL)
	alive, err := observer.Alive(ctx, m.Instances().ID())
	require.NoError(t, err)
	assert.True(t, alive, "heartbeat written on Start")

	require.NoError(t, m.Stop(ctx))
	alive, err = observer.Alive(ctx, m.Instances().ID())
	require.NoError(t, err)
	assert.False(t, alive, "heartbeat retired on Stop")
}
