package state

import (
	"context"
	"testing"

	domain "github.com/Elpepit0/site-tchat-visio/domain/state"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
)

const testRedisAddr = "localhost:6379"

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)          {}
func (m *mockLogger) Info(msg string, args ...any)           {}
func (m *mockLogger) Warn(msg string, args ...any)           {}
func (m *mockLogger) Error(msg string, args ...any)          {}
func (m *mockLogger) With(args ...any) types.Logger          { return m }
func (m *mockLogger) WithError(err error) types.Logger       { return m }
func (m *mockLogger) WithModule(module string) types.Logger { return m }

// setupTestRedis returns a client on a scratch database, skipping the test
// when Redis is not running.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: testRedisAddr,
		DB:   15,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	return client
}

func TestRedisStore(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	const prefix = "tchat-test:"
	runStoreSuite(t, prefix, func(t *testing.T) domain.Store {
		cleanup := func() {
			s := NewRedisStoreFromClient(client)
			keys, _ := s.Keys(context.Background(), prefix)
			_ = s.Delete(context.Background(), keys...)
		}
		cleanup()
		t.Cleanup(cleanup)
		return NewRedisStoreFromClient(client)
	})
}
