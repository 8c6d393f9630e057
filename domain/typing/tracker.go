// Package typing keeps the set of users currently typing.
package typing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Elpepit0/site-tchat-visio/domain/chat"
	"github.com/Elpepit0/site-tchat-visio/domain/state"
)

// EntriesKey is the hash of display name -> last signal (unix ms).
const EntriesKey = "tchat:typing"

// Tracker records typing signals and evicts them lazily once stale.
type Tracker struct {
	store   state.Store
	timeout time.Duration
	now     func() time.Time
}

// NewTracker creates a tracker with the given staleness timeout.
func NewTracker(store state.Store, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = chat.TypingTimeout
	}
	return &Tracker{store: store, timeout: timeout, now: time.Now}
}

// Touch sweeps stale entries, refreshes name and returns who is typing.
func (t *Tracker) Touch(ctx context.Context, name string) ([]string, error) {
	active, err := t.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	stamp := strconv.FormatInt(t.now().UnixMilli(), 10)
	if err := t.store.HashSet(ctx, EntriesKey, name, []byte(stamp)); err != nil {
		return nil, fmt.Errorf("failed to record typing: %w", err)
	}
	for _, n := range active {
		if n == name {
			return active, nil
		}
	}
	active = append(active, name)
	sort.Strings(active)
	return active, nil
}

// Sweep evicts entries older than the timeout and returns the survivors.
func (t *Tracker) Sweep(ctx context.Context) ([]string, error) {
	entries, err := t.store.HashGetAll(ctx, EntriesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read typing entries: %w", err)
	}

	now := t.now()
	var stale, active []string
	for name, raw := range entries {
		ms, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil || now.Sub(time.UnixMilli(ms)) > t.timeout {
			stale = append(stale, name)
			continue
		}
		active = append(active, name)
	}
	if len(stale) > 0 {
		if _, err := t.store.HashDelete(ctx, EntriesKey, stale...); err != nil {
			return nil, fmt.Errorf("failed to evict typing entries: %w", err)
		}
	}
	sort.Strings(active)
	return active, nil
}

// Remove drops the entry of name.
func (t *Tracker) Remove(ctx context.Context, name string) error {
	if _, err := t.store.HashDelete(ctx, EntriesKey, name); err != nil {
		return fmt.Errorf("failed to remove typing entry: %w", err)
	}
	return nil
}
