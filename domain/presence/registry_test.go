package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Elpepit0/site-tchat-visio/domain/chat"
	"github.com/Elpepit0/site-tchat-visio/domain/state"
	statemod "github.com/Elpepit0/site-tchat-visio/modules/state"
)

type fakeLookup struct {
	avatars map[string]string
	calls   map[string]int
}

func (f *fakeLookup) LookupAvatar(_ context.Context, username string) (string, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[username]++
	url, ok := f.avatars[username]
	if !ok {
		return "", errors.New("user not found")
	}
	return url, nil
}

func newTestRegistry() *Registry {
	r := NewRegistry(statemod.NewMemoryStore())
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return r
}

func TestRegistry_AddRenameRemove(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	if err := r.Add(ctx, "c1", chat.DefaultDisplayName); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	first, err := r.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if err := r.Rename(ctx, "c1", "alice"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	renamed, _ := r.Get(ctx, "c1")
	if renamed.Username != "alice" {
		t.Errorf("Username = %q, want %q", renamed.Username, "alice")
	}
	if !renamed.ConnectedAt.After(first.ConnectedAt) {
		t.Errorf("Rename() should refresh the timestamp")
	}

	removed, err := r.Remove(ctx, "c1")
	if err != nil || !removed {
		t.Fatalf("Remove() = %v, %v, want true, nil", removed, err)
	}
	removed, err = r.Remove(ctx, "c1")
	if err != nil || removed {
		t.Errorf("second Remove() = %v, %v, want false, nil", removed, err)
	}
}

func TestRegistry_RenameUnknownAdds(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()

	if err := r.Rename(ctx, "ghost", "bob"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	name, err := r.DisplayName(ctx, "ghost")
	if err != nil || name != "bob" {
		t.Errorf("DisplayName() = %q, %v, want %q", name, err, "bob")
	}
}

func TestRegistry_DisplayNameFallback(t *testing.T) {
	r := newTestRegistry()
	name, err := r.DisplayName(context.Background(), "missing")
	if err != nil {
		t.Fatalf("DisplayName() error = %v", err)
	}
	if name != chat.DefaultDisplayName {
		t.Errorf("DisplayName() = %q, want %q", name, chat.DefaultDisplayName)
	}
}

func TestRegistry_ListSameNameDistinctConnections(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	lookup := &fakeLookup{avatars: map[string]string{"alice": "/avatars/a.png"}}

	_ = r.Add(ctx, "c1", "alice")
	_ = r.Add(ctx, "c2", "alice")
	_ = r.Add(ctx, "c3", "bob")

	list, err := r.List(ctx, lookup)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	if list[0].ConnectionID == list[1].ConnectionID {
		t.Errorf("same-name entries must keep distinct connection ids")
	}
	for _, e := range list {
		switch e.Username {
		case "alice":
			if e.AvatarURL == nil || *e.AvatarURL != "/avatars/a.png" {
				t.Errorf("alice avatar = %v, want /avatars/a.png", e.AvatarURL)
			}
		case "bob":
			if e.AvatarURL != nil {
				t.Errorf("bob avatar = %q, want nil on lookup miss", *e.AvatarURL)
			}
		}
	}
	if lookup.calls["alice"] != 1 {
		t.Errorf("alice looked up %d times, want 1", lookup.calls["alice"])
	}
}

func TestRegistry_ConnectionsNamed(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry()
	_ = r.Add(ctx, "c1", "alice")
	_ = r.Add(ctx, "c2", "bob")
	_ = r.Add(ctx, "c3", "alice")

	conns, err := r.ConnectionsNamed(ctx, "alice")
	if err != nil {
		t.Fatalf("ConnectionsNamed() error = %v", err)
	}
	if len(conns) != 2 || conns[0] != "c1" || conns[1] != "c3" {
		t.Errorf("ConnectionsNamed() = %v, want [c1 c3]", conns)
	}
}

// fakeLiveness reports the processes listed in alive as running.
type fakeLiveness struct {
	id    string
	alive map[string]bool
	err   error
}

func (f *fakeLiveness) ID() string { return f.id }

func (f *fakeLiveness) Alive(_ context.Context, instance string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if instance == "" || instance == f.id {
		return true, nil
	}
	return f.alive[instance], nil
}

func TestRegistry_EntriesDropStaleInstances(t *testing.T) {
	ctx := context.Background()
	store := statemod.NewMemoryStore()

	crashed := NewRegistry(store)
	crashed.SetLiveness(&fakeLiveness{id: "crashed"})
	_ = crashed.Add(ctx, "ghost", "bob")

	running := NewRegistry(store)
	running.SetLiveness(&fakeLiveness{id: "running", alive: map[string]bool{"peer": true}})
	_ = running.Add(ctx, "c1", "alice")

	peer := NewRegistry(store)
	peer.SetLiveness(&fakeLiveness{id: "peer"})
	_ = peer.Add(ctx, "c2", "carol")

	users, err := running.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("Entries() = %v, want c1 and c2 only", users)
	}
	for _, u := range users {
		if u.ConnectionID == "ghost" {
			t.Errorf("Entries() kept the entry of a stopped process")
		}
	}
	if u, _ := running.Get(ctx, "c1"); u.Instance != "running" {
		t.Errorf("entry instance = %q, want running", u.Instance)
	}

	// The stale entry is gone from the store, not only filtered.
	if _, err := running.Get(ctx, "ghost"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("Get(ghost) error = %v, want %v", err, state.ErrNotFound)
	}
	if stale, _ := running.Prune(ctx); len(stale) != 0 {
		t.Errorf("second Prune() = %v, want none", stale)
	}
}

func TestRegistry_PruneReportsStaleConnections(t *testing.T) {
	ctx := context.Background()
	store := statemod.NewMemoryStore()

	crashed := NewRegistry(store)
	crashed.SetLiveness(&fakeLiveness{id: "crashed"})
	_ = crashed.Add(ctx, "g1", "bob")
	_ = crashed.Add(ctx, "g2", "bob")

	running := NewRegistry(store)
	running.SetLiveness(&fakeLiveness{id: "running"})

	stale, err := running.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(stale) != 2 || stale[0] != "g1" || stale[1] != "g2" {
		t.Errorf("Prune() = %v, want [g1 g2]", stale)
	}
}

func TestRegistry_EntriesLivenessFailure(t *testing.T) {
	ctx := context.Background()
	store := statemod.NewMemoryStore()

	other := NewRegistry(store)
	other.SetLiveness(&fakeLiveness{id: "other"})
	_ = other.Add(ctx, "c1", "bob")

	r := NewRegistry(store)
	r.SetLiveness(&fakeLiveness{id: "self", err: state.ErrUnavailable})
	if _, err := r.Entries(ctx); !errors.Is(err, state.ErrUnavailable) {
		t.Errorf("Entries() error = %v, want %v", err, state.ErrUnavailable)
	}
	if _, err := r.Get(ctx, "c1"); err != nil {
		t.Errorf("entry removed although liveness was unknown: %v", err)
	}
}
