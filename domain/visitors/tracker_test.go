package visitors

import (
	"context"
	"testing"
	"time"

	statemod "github.com/Elpepit0/site-tchat-visio/modules/state"
)

func TestTracker_Active(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(statemod.NewMemoryStore(), 2*time.Second)
	tr.now = func() time.Time { return now }

	_ = tr.Ping(ctx, "s1")
	now = now.Add(1500 * time.Millisecond)
	_ = tr.Ping(ctx, "s2")

	got, err := tr.Active(ctx)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if got != 2 {
		t.Errorf("Active() = %d, want 2", got)
	}

	now = now.Add(time.Second)
	got, _ = tr.Active(ctx)
	if got != 1 {
		t.Errorf("Active() = %d, want 1 once s1 is older than the window", got)
	}

	now = now.Add(2 * time.Second)
	got, _ = tr.Active(ctx)
	if got != 0 {
		t.Errorf("Active() = %d, want 0", got)
	}
}
