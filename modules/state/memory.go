package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/Elpepit0/site-tchat-visio/domain/state"
)

// MemoryStore is an in-process Store. A single mutex guards every structure,
// so it only serves one relay process.
type MemoryStore struct {
	mu     sync.Mutex
	hashes map[string]map[string][]byte
	lists  map[string][][]byte
	sets   map[string]map[string]struct{}
	values map[string]expiring
	now    func() time.Time
}

type expiring struct {
	value     []byte
	expiresAt time.Time
}

var _ domain.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes: make(map[string]map[string][]byte),
		lists:  make(map[string][][]byte),
		sets:   make(map[string]map[string]struct{}),
		values: make(map[string]expiring),
		now:    time.Now,
	}
}

func (s *MemoryStore) HashSet(_ context.Context, key, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		s.hashes[key] = h
	}
	h[field] = clone(value)
	return nil
}

func (s *MemoryStore) HashGet(_ context.Context, key, field string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.hashes[key][field]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(v), nil
}

func (s *MemoryStore) HashGetAll(_ context.Context, key string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]byte, len(s.hashes[key]))
	for field, v := range s.hashes[key] {
		out[field] = clone(v)
	}
	return out, nil
}

func (s *MemoryStore) HashDelete(_ context.Context, key string, fields ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok {
		return 0, nil
	}
	removed := 0
	for _, field := range fields {
		if _, ok := h[field]; ok {
			delete(h, field)
			removed++
		}
	}
	if len(h) == 0 {
		delete(s.hashes, key)
	}
	return removed, nil
}

func (s *MemoryStore) ListAppend(_ context.Context, key string, value []byte, capacity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.lists[key], clone(value))
	if capacity > 0 && len(list) > capacity {
		list = append([][]byte(nil), list[len(list)-capacity:]...)
	}
	s.lists[key] = list
	return nil
}

func (s *MemoryStore) ListRange(_ context.Context, key string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return cloneAll(s.lists[key]), nil
}

// ListUpdate runs fn while holding the store lock.
func (s *MemoryStore) ListUpdate(_ context.Context, key string, fn domain.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := fn(cloneAll(s.lists[key]))
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		delete(s.lists, key)
		return nil
	}
	s.lists[key] = cloneAll(updated)
	return nil
}

func (s *MemoryStore) SetAdd(_ context.Context, key, member string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	before := members(set)
	set[member] = struct{}{}
	return before, nil
}

func (s *MemoryStore) SetRemove(_ context.Context, key, member string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		return nil, nil
	}
	delete(set, member)
	if len(set) == 0 {
		delete(s.sets, key)
		return nil, nil
	}
	return members(set), nil
}

func (s *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return members(s.sets[key]), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = expiring{value: clone(value), expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.liveValue(key), nil
}

// liveValue reports whether key holds an unexpired value, forgetting it once
// it has expired. Callers hold s.mu.
func (s *MemoryStore) liveValue(key string) bool {
	v, ok := s.values[key]
	if !ok {
		return false
	}
	if !s.now().Before(v.expiresAt) {
		delete(s.values, key)
		return false
	}
	return true
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k := range s.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range s.lists {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range s.sets {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for k := range s.values {
		if strings.HasPrefix(k, prefix) && s.liveValue(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.hashes, k)
		delete(s.lists, k)
		delete(s.sets, k)
		delete(s.values, k)
	}
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func members(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneAll(items [][]byte) [][]byte {
	if len(items) == 0 {
		return nil
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = clone(item)
	}
	return out
}
