package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Elpepit0/site-tchat-visio/domain/state"
	"github.com/redis/go-redis/v9"
)

// maxUpdateRetries bounds optimistic transaction retries in ListUpdate.
const maxUpdateRetries = 16

// RedisConfig holds connection settings for the Redis store.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults for a local Redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     20,
		MinIdleConns: 4,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisStore is a Store backed by Redis. All relay processes pointing at the
// same Redis share one view of presence, messages and rooms.
type RedisStore struct {
	client *redis.Client
}

var _ domain.Store = (*RedisStore)(nil)

// NewRedisStore creates a store. No connection is made until first use.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}))
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) HashSet(ctx context.Context, key, field string, value []byte) error {
	return unavailable(s.client.HSet(ctx, key, field, value).Err())
}

func (s *RedisStore) HashGet(ctx context.Context, key, field string) ([]byte, error) {
	v, err := s.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return v, nil
}

func (s *RedisStore) HashGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	out := make(map[string][]byte, len(vals))
	for field, v := range vals {
		out[field] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) HashDelete(ctx context.Context, key string, fields ...string) (int, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	n, err := s.client.HDel(ctx, key, fields...).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// ListAppend runs RPUSH and LTRIM in one MULTI block.
func (s *RedisStore) ListAppend(ctx context.Context, key string, value []byte, capacity int) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, value)
		if capacity > 0 {
			pipe.LTrim(ctx, key, int64(-capacity), -1)
		}
		return nil
	})
	return unavailable(err)
}

func (s *RedisStore) ListRange(ctx context.Context, key string) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}
	return toBytes(vals), nil
}

// ListUpdate rewrites the list under WATCH, retrying when another writer
// touched the key in between.
func (s *RedisStore) ListUpdate(ctx context.Context, key string, fn domain.UpdateFunc) error {
	var fnErr error
	txf := func(tx *redis.Tx) error {
		vals, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		updated, err := fn(toBytes(vals))
		if err != nil {
			fnErr = err
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(updated) > 0 {
				pipe.RPush(ctx, key, toArgs(updated)...)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		fnErr = nil
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return unavailable(err)
	}
	return domain.ErrConflict
}

// SetAdd reads the members and adds the new one inside one MULTI, so two
// concurrent adds always see each other in one order or the other.
func (s *RedisStore) SetAdd(ctx context.Context, key, member string) ([]string, error) {
	var before *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		before = pipe.SMembers(ctx, key)
		pipe.SAdd(ctx, key, member)
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	out := before.Val()
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// SetRemove relies on Redis deleting a set once its last member is gone.
func (s *RedisStore) SetRemove(ctx context.Context, key, member string) ([]string, error) {
	var remaining *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, key, member)
		remaining = pipe.SMembers(ctx, key)
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	out := remaining.Val()
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	out, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return unavailable(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

// Keys walks the keyspace with SCAN so large keyspaces do not block Redis.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, unavailable(err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return unavailable(s.client.Del(ctx, keys...).Err())
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return unavailable(s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// unavailable tags transport errors so callers can tell them from domain misses.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
}

func toBytes(vals []string) [][]byte {
	if len(vals) == 0 {
		return nil
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out
}

func toArgs(items [][]byte) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
