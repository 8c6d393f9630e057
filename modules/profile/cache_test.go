package profile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/Elpepit0/site-tchat-visio/domain/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFinder struct {
	calls   atomic.Int32
	avatars map[string]string
	err     error
	release chan struct{}
}

func (f *countingFinder) FindUser(_ context.Context, username string) (*domain.Profile, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	url, ok := f.avatars[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &domain.Profile{Username: username, AvatarURL: url}, nil
}

// mapStorage is an in-memory fiber.Storage.
type mapStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapStorage() *mapStorage {
	return &mapStorage{data: make(map[string][]byte)}
}

func (s *mapStorage) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *mapStorage) Set(key string, val []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = val
	return nil
}

func (s *mapStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *mapStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}

func (s *mapStorage) Close() error { return nil }

func TestCachedDirectory_CachesHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	finder := &countingFinder{avatars: map[string]string{"alice": "/avatars/a"}}
	dir := NewCachedDirectory(finder, newMapStorage(), time.Minute, &mockLogger{})

	for i := 0; i < 3; i++ {
		url, err := dir.LookupAvatar(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "/avatars/a", url)

		url, err = dir.LookupAvatar(ctx, "ghost")
		require.NoError(t, err)
		assert.Empty(t, url)
	}
	assert.Equal(t, int32(2), finder.calls.Load())

	finder.avatars["alice"] = "/avatars/b"
	dir.Invalidate(ctx, "alice")
	url, err := dir.LookupAvatar(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "/avatars/b", url)
}

func TestCachedDirectory_WithoutStorage(t *testing.T) {
	ctx := context.Background()
	finder := &countingFinder{avatars: map[string]string{"alice": "/avatars/a"}}
	dir := NewCachedDirectory(finder, nil, 0, &mockLogger{})

	_, _ = dir.LookupAvatar(ctx, "alice")
	_, _ = dir.LookupAvatar(ctx, "alice")
	assert.Equal(t, int32(2), finder.calls.Load())
}

func TestCachedDirectory_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	finder := &countingFinder{err: errors.New("timeout")}
	storage := newMapStorage()
	dir := NewCachedDirectory(finder, storage, time.Minute, &mockLogger{})

	_, err := dir.LookupAvatar(ctx, "alice")
	assert.Error(t, err)
	assert.Empty(t, storage.data)
}

func TestCachedDirectory_ConcurrentLookupsShareOneCall(t *testing.T) {
	finder := &countingFinder{
		avatars: map[string]string{"alice": "/avatars/a"},
		release: make(chan struct{}),
	}
	dir := NewCachedDirectory(finder, nil, time.Minute, &mockLogger{})

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = dir.LookupAvatar(context.Background(), "alice")
		}(i)
	}

	require.Eventually(t, func() bool { return finder.calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the remaining goroutines time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(finder.release)
	wg.Wait()

	assert.Equal(t, int32(1), finder.calls.Load())
	for _, r := range results {
		assert.Equal(t, "/avatars/a", r)
	}
}
