// Package state defines the shared state store the relay keeps its
// presence, message and room data in.
package state

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a missing key or hash field.
	ErrNotFound = errors.New("state: not found")
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("state: store unavailable")
	// ErrConflict indicates an atomic update kept losing against concurrent writers.
	ErrConflict = errors.New("state: too many concurrent updates")
)

// UpdateFunc receives the current list and returns its replacement.
// Returning an error aborts the update without writing.
type UpdateFunc func(items [][]byte) ([][]byte, error)

// Store is the capability set the relay needs from its shared state:
// hashes, bounded lists, sets, expiring values and an atomic
// read-modify-write on lists.
// Every method is atomic with respect to other callers, including callers
// in other processes when the implementation is distributed.
type Store interface {
	HashSet(ctx context.Context, key, field string, value []byte) error
	HashGet(ctx context.Context, key, field string) ([]byte, error)
	HashGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HashDelete(ctx context.Context, key string, fields ...string) (int, error)

	// ListAppend pushes value to the tail and trims the list to its last
	// capacity entries in one step.
	ListAppend(ctx context.Context, key string, value []byte, capacity int) error
	ListRange(ctx context.Context, key string) ([][]byte, error)
	ListUpdate(ctx context.Context, key string, fn UpdateFunc) error

	// SetAdd adds member and returns the members the set held before, read
	// in the same step as the add.
	SetAdd(ctx context.Context, key, member string) ([]string, error)
	// SetRemove removes member and returns the members left. A set with no
	// members left no longer exists.
	SetRemove(ctx context.Context, key, member string) ([]string, error)
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Put stores value under key until ttl elapses.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Exists reports whether key holds an unexpired value.
	Exists(ctx context.Context, key string) (bool, error)

	// Keys returns every key starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
	Close() error
}
