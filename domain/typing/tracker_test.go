package typing

import (
	"context"
	"reflect"
	"testing"
	"time"

	statemod "github.com/Elpepit0/site-tchat-visio/modules/state"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *clock) {
	c := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := NewTracker(statemod.NewMemoryStore(), 5*time.Second)
	tr.now = c.now
	return tr, c
}

func TestTracker_TouchAndExpire(t *testing.T) {
	ctx := context.Background()
	tr, c := newTestTracker()

	got, err := tr.Touch(ctx, "alice")
	if err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{"alice"}) {
		t.Errorf("Touch() = %v, want [alice]", got)
	}

	c.advance(3 * time.Second)
	got, _ = tr.Touch(ctx, "bob")
	if !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Errorf("Touch() = %v, want [alice bob]", got)
	}

	c.advance(3 * time.Second)
	got, _ = tr.Touch(ctx, "bob")
	if !reflect.DeepEqual(got, []string{"bob"}) {
		t.Errorf("Touch() = %v, want [bob] after alice went stale", got)
	}
}

func TestTracker_SweepNeverReturnsStale(t *testing.T) {
	ctx := context.Background()
	tr, c := newTestTracker()
	_, _ = tr.Touch(ctx, "alice")

	c.advance(5*time.Second + time.Millisecond)
	got, err := tr.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Sweep() = %v, want empty", got)
	}
}

func TestTracker_Remove(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker()
	_, _ = tr.Touch(ctx, "alice")

	if err := tr.Remove(ctx, "alice"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	got, _ := tr.Sweep(ctx)
	if len(got) != 0 {
		t.Errorf("Sweep() after Remove() = %v, want empty", got)
	}
}
