// Package visitors counts recently active site visitors.
package visitors

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Elpepit0/site-tchat-visio/domain/chat"
	"github.com/Elpepit0/site-tchat-visio/domain/state"
)

// PingsKey is the hash of visitor session id -> last ping (unix ms).
const PingsKey = "tchat:visitors"

// Tracker records visitor pings.
type Tracker struct {
	store  state.Store
	window time.Duration
	now    func() time.Time
}

// NewTracker creates a tracker counting pings younger than window.
func NewTracker(store state.Store, window time.Duration) *Tracker {
	if window <= 0 {
		window = chat.VisitorTimeout
	}
	return &Tracker{store: store, window: window, now: time.Now}
}

// Ping marks session as active now.
func (t *Tracker) Ping(ctx context.Context, session string) error {
	stamp := strconv.FormatInt(t.now().UnixMilli(), 10)
	if err := t.store.HashSet(ctx, PingsKey, session, []byte(stamp)); err != nil {
		return fmt.Errorf("failed to record ping: %w", err)
	}
	return nil
}

// Active returns how many sessions pinged within the window and forgets the
// ones that did not.
func (t *Tracker) Active(ctx context.Context) (int, error) {
	pings, err := t.store.HashGetAll(ctx, PingsKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read pings: %w", err)
	}

	now := t.now()
	active := 0
	var expired []string
	for session, raw := range pings {
		ms, err := strconv.ParseInt(string(raw), 10, 64)
		if err == nil && now.Sub(time.UnixMilli(ms)) < t.window {
			active++
			continue
		}
		expired = append(expired, session)
	}
	if len(expired) > 0 {
		if _, err := t.store.HashDelete(ctx, PingsKey, expired...); err != nil {
			return active, fmt.Errorf("failed to forget expired pings: %w", err)
		}
	}
	return active, nil
}
