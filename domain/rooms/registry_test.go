package rooms

import (
	"context"
	"errors"
	"testing"

	"github.com/Elpepit0/site-tchat-visio/domain/state"
	statemod "github.com/Elpepit0/site-tchat-visio/modules/state"
)

func TestRegistry_JoinLeave(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(statemod.NewMemoryStore())

	_, _ = r.Join(ctx, "R", "c1")
	_, _ = r.Join(ctx, "R", "c2")

	others, err := r.MembersExcluding(ctx, "R", "c2")
	if err != nil {
		t.Fatalf("MembersExcluding() error = %v", err)
	}
	if len(others) != 1 || others[0] != "c1" {
		t.Errorf("MembersExcluding() = %v, want [c1]", others)
	}

	remaining, err := r.Leave(ctx, "R", "c1")
	if err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0] != "c2" {
		t.Errorf("Leave() remaining = %v, want [c2]", remaining)
	}

	remaining, _ = r.Leave(ctx, "R", "c2")
	if len(remaining) != 0 {
		t.Errorf("Leave() remaining = %v, want none", remaining)
	}
	names, _ := r.List(ctx)
	if len(names) != 0 {
		t.Errorf("List() = %v, empty rooms must not persist", names)
	}
}

func TestRegistry_JoinReturnsMembersAlreadyThere(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(statemod.NewMemoryStore())

	others, err := r.Join(ctx, "R", "c1")
	if err != nil || len(others) != 0 {
		t.Fatalf("first Join() = %v, %v, want none", others, err)
	}
	_, _ = r.Join(ctx, "R", "c2")

	others, err = r.Join(ctx, "R", "c3")
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if len(others) != 2 || others[0] != "c1" || others[1] != "c2" {
		t.Errorf("Join() = %v, want [c1 c2]", others)
	}

	others, _ = r.Join(ctx, "R", "c1")
	if len(others) != 2 || others[0] != "c2" || others[1] != "c3" {
		t.Errorf("rejoin Join() = %v, want [c2 c3] without the joiner", others)
	}
}

func TestRegistry_PruneStale(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(statemod.NewMemoryStore())

	_, _ = r.Join(ctx, "call", "live")
	_, _ = r.Join(ctx, "call", "ghost")
	_, _ = r.Join(ctx, "empty", "ghost")

	live := func(context.Context) (map[string]struct{}, error) {
		return map[string]struct{}{"live": {}}, nil
	}
	departures, err := r.PruneStale(ctx, live, nil)
	if err != nil {
		t.Fatalf("PruneStale() error = %v", err)
	}
	if len(departures) != 2 {
		t.Fatalf("PruneStale() = %v, want two departures", departures)
	}
	for _, d := range departures {
		if d.Connection != "ghost" {
			t.Errorf("departure %v, want only ghost removed", d)
		}
		if d.Room == "call" && (len(d.Remaining) != 1 || d.Remaining[0] != "live") {
			t.Errorf("call remaining = %v, want [live]", d.Remaining)
		}
	}

	names, _ := r.List(ctx)
	if len(names) != 1 || names[0] != "call" {
		t.Errorf("List() = %v, want [call]", names)
	}
}

func TestRegistry_PruneStaleLiveError(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(statemod.NewMemoryStore())
	_, _ = r.Join(ctx, "call", "c1")

	_, err := r.PruneStale(ctx, func(context.Context) (map[string]struct{}, error) {
		return nil, state.ErrUnavailable
	}, nil)
	if !errors.Is(err, state.ErrUnavailable) {
		t.Errorf("PruneStale() error = %v, want %v", err, state.ErrUnavailable)
	}
	members, _ := r.Members(ctx, "call")
	if len(members) != 1 {
		t.Errorf("Members() = %v, nothing may be pruned on error", members)
	}
}

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(statemod.NewMemoryStore())
	_, _ = r.Join(ctx, "R", "c1")
	_, _ = r.Join(ctx, "R", "c1")

	members, _ := r.Members(ctx, "R")
	if len(members) != 1 {
		t.Errorf("Members() = %v, want one entry", members)
	}
}

func TestRegistry_LeaveUnknownRoom(t *testing.T) {
	r := NewRegistry(statemod.NewMemoryStore())
	remaining, err := r.Leave(context.Background(), "nowhere", "c1")
	if err != nil || len(remaining) != 0 {
		t.Errorf("Leave() = %v, %v, want empty, nil", remaining, err)
	}
}

func TestRegistry_RemoveConnectionEverywhere(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(statemod.NewMemoryStore())

	_, _ = r.Join(ctx, "solo", "c1")
	_, _ = r.Join(ctx, "pair", "c1")
	_, _ = r.Join(ctx, "pair", "c2")
	_, _ = r.Join(ctx, "other", "c3")

	departures := r.RemoveConnectionEverywhere(ctx, "c1", nil)
	if len(departures) != 2 {
		t.Fatalf("departures = %v, want 2", departures)
	}

	byRoom := map[string][]string{}
	for _, d := range departures {
		byRoom[d.Room] = d.Remaining
	}
	if got := byRoom["pair"]; len(got) != 1 || got[0] != "c2" {
		t.Errorf("pair remaining = %v, want [c2]", got)
	}
	if got, ok := byRoom["solo"]; !ok || len(got) != 0 {
		t.Errorf("solo remaining = %v, want departure with no members", got)
	}

	names, _ := r.List(ctx)
	if len(names) != 2 || names[0] != "other" || names[1] != "pair" {
		t.Errorf("List() = %v, want [other pair]", names)
	}

	if again := r.RemoveConnectionEverywhere(ctx, "c1", nil); len(again) != 0 {
		t.Errorf("second RemoveConnectionEverywhere() = %v, want none", again)
	}
}

// failingStore makes membership reads fail for one room.
type failingStore struct {
	state.Store
	badKey string
}

func (f *failingStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	if key == f.badKey {
		return nil, state.ErrUnavailable
	}
	return f.Store.SetMembers(ctx, key)
}

func TestRegistry_RemoveConnectionEverywhereContinuesPastErrors(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: statemod.NewMemoryStore(), badKey: KeyPrefix + "a"}
	r := NewRegistry(store)

	_, _ = r.Join(ctx, "a", "c1")
	_, _ = r.Join(ctx, "b", "c1")

	var failed []string
	departures := r.RemoveConnectionEverywhere(ctx, "c1", func(room string, err error) {
		if !errors.Is(err, state.ErrUnavailable) {
			t.Errorf("onError err = %v", err)
		}
		failed = append(failed, room)
	})

	if len(failed) != 1 || failed[0] != "a" {
		t.Errorf("failed rooms = %v, want [a]", failed)
	}
	if len(departures) != 1 || departures[0].Room != "b" {
		t.Errorf("departures = %v, want room b", departures)
	}
}
