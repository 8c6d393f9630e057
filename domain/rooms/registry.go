// Package rooms tracks signaling room membership.
package rooms

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Elpepit0/site-tchat-visio/domain/state"
)

// KeyPrefix prefixes the per-room member sets.
const KeyPrefix = "tchat:room:"

// Departure describes a connection leaving a room.
type Departure struct {
	Room       string
	Connection string
	Remaining  []string
}

// ErrorFunc receives failures that cleanup skips over.
type ErrorFunc func(room string, err error)

// LiveFunc returns the set of connections that are still open somewhere.
type LiveFunc func(ctx context.Context) (map[string]struct{}, error)

// Registry maps room names to member connection ids. Rooms exist only while
// they have members.
type Registry struct {
	store state.Store
}

// NewRegistry creates a room registry on top of store.
func NewRegistry(store state.Store) *Registry {
	return &Registry{store: store}
}

// Join adds conn to room, creating the room if needed, and returns the other
// members that were already there. Two connections joining at once always
// find each other: whichever joins second sees the first.
func (r *Registry) Join(ctx context.Context, room, conn string) ([]string, error) {
	before, err := r.store.SetAdd(ctx, KeyPrefix+room, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to join room %q: %w", room, err)
	}
	others := make([]string, 0, len(before))
	for _, m := range before {
		if m != conn {
			others = append(others, m)
		}
	}
	sort.Strings(others)
	return others, nil
}

// Leave removes conn from room and returns the members left. A room left
// empty is gone.
func (r *Registry) Leave(ctx context.Context, room, conn string) ([]string, error) {
	remaining, err := r.store.SetRemove(ctx, KeyPrefix+room, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to leave room %q: %w", room, err)
	}
	return remaining, nil
}

// Members returns every member of room.
func (r *Registry) Members(ctx context.Context, room string) ([]string, error) {
	members, err := r.store.SetMembers(ctx, KeyPrefix+room)
	if err != nil {
		return nil, fmt.Errorf("failed to list room %q: %w", room, err)
	}
	sort.Strings(members)
	return members, nil
}

// MembersExcluding returns the members of room other than conn.
func (r *Registry) MembersExcluding(ctx context.Context, room, conn string) ([]string, error) {
	members, err := r.Members(ctx, room)
	if err != nil {
		return nil, err
	}
	others := make([]string, 0, len(members))
	for _, m := range members {
		if m != conn {
			others = append(others, m)
		}
	}
	return others, nil
}

// List returns the names of all rooms that currently have members.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	keys, err := r.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, KeyPrefix))
	}
	sort.Strings(names)
	return names, nil
}

// RemoveConnectionEverywhere drops conn from every room it belongs to and
// returns one Departure per affected room. A room that fails is reported to
// onError and skipped; the scan always runs to completion.
func (r *Registry) RemoveConnectionEverywhere(ctx context.Context, conn string, onError ErrorFunc) []Departure {
	names, err := r.List(ctx)
	if err != nil {
		if onError != nil {
			onError("", err)
		}
		return nil
	}

	var departures []Departure
	for _, room := range names {
		members, err := r.store.SetMembers(ctx, KeyPrefix+room)
		if err != nil {
			if onError != nil {
				onError(room, err)
			}
			continue
		}
		if !contains(members, conn) {
			continue
		}
		remaining, err := r.Leave(ctx, room, conn)
		if err != nil {
			if onError != nil {
				onError(room, err)
			}
			continue
		}
		departures = append(departures, Departure{Room: room, Connection: conn, Remaining: remaining})
	}
	return departures
}

// PruneStale removes every member that live does not report and returns one
// Departure per removal. Membership is read before live is called, so a
// connection that joins in between is never taken for a stale one. Rooms
// that fail are reported to onError and skipped.
func (r *Registry) PruneStale(ctx context.Context, live LiveFunc, onError ErrorFunc) ([]Departure, error) {
	names, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string][]string, len(names))
	for _, room := range names {
		members, err := r.store.SetMembers(ctx, KeyPrefix+room)
		if err != nil {
			if onError != nil {
				onError(room, err)
			}
			continue
		}
		snapshot[room] = members
	}
	if len(snapshot) == 0 {
		return nil, nil
	}

	alive, err := live(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve live connections: %w", err)
	}

	var departures []Departure
	for _, room := range names {
		for _, member := range snapshot[room] {
			if _, ok := alive[member]; ok {
				continue
			}
			remaining, err := r.Leave(ctx, room, member)
			if err != nil {
				if onError != nil {
					onError(room, err)
				}
				continue
			}
			departures = append(departures, Departure{Room: room, Connection: member, Remaining: remaining})
		}
	}
	return departures, nil
}

func contains(members []string, conn string) bool {
	for _, m := range members {
		if m == conn {
			return true
		}
	}
	return false
}
