package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Elpepit0/site-tchat-visio/events"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)          {}
func (m *mockLogger) Info(msg string, args ...any)           {}
func (m *mockLogger) Warn(msg string, args ...any)           {}
func (m *mockLogger) Error(msg string, args ...any)          {}
func (m *mockLogger) With(args ...any) types.Logger          { return m }
func (m *mockLogger) WithError(err error) types.Logger       { return m }
func (m *mockLogger) WithModule(module string) types.Logger { return m }

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	fail   bool
	closed bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Event)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(&mockLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		hub.Wait()
	})
	return hub
}

// flush waits until every queued delivery has been handled.
func flush(hub *Hub) {
	hub.Register(&Client{ID: "__flush", Conn: &fakeConn{}})
	hub.Unregister(&Client{ID: "__flush"})
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestHub_Delivery(t *testing.T) {
	hub := startHub(t)
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	hub.Register(&Client{ID: "a", Conn: a})
	hub.Register(&Client{ID: "b", Conn: b})
	hub.Register(&Client{ID: "c", Conn: c})

	hub.Dispatch(events.DeliveryEvent{Event: "all", Payload: payload(t, 1), Broadcast: true})
	hub.Dispatch(events.DeliveryEvent{Event: "others", Payload: payload(t, 2), Broadcast: true, Except: "a"})
	hub.Dispatch(events.DeliveryEvent{Event: "direct", Payload: payload(t, 3), To: []string{"a", "c", "remote"}})
	flush(hub)

	assert.Equal(t, []string{"all", "direct"}, a.events())
	assert.Equal(t, []string{"all", "others"}, b.events())
	assert.Equal(t, []string{"all", "others", "direct"}, c.events())
	assert.Equal(t, 3, hub.ClientCount())
}

func TestHub_FrameCarriesPayload(t *testing.T) {
	hub := startHub(t)
	a := &fakeConn{}
	hub.Register(&Client{ID: "a", Conn: a})

	hub.Dispatch(events.DeliveryEvent{Event: "new_message", Payload: payload(t, map[string]string{"text": "hi"}), To: []string{"a"}})
	flush(hub)

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.frames, 1)
	assert.JSONEq(t, `{"text":"hi"}`, string(a.frames[0].Data))
}

func TestHub_FailedWriteClosesConnection(t *testing.T) {
	hub := startHub(t)
	broken := &fakeConn{fail: true}
	hub.Register(&Client{ID: "x", Conn: broken})

	hub.Dispatch(events.DeliveryEvent{Event: "ping", Payload: payload(t, nil), Broadcast: true})
	flush(hub)

	assert.True(t, broken.isClosed())
}

func TestHub_StopClosesClients(t *testing.T) {
	hub := NewHub(&mockLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	conn := &fakeConn{}
	hub.Register(&Client{ID: "a", Conn: conn})
	cancel()

	done := make(chan struct{})
	go func() {
		hub.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.True(t, conn.isClosed())

	// Calls after shutdown must not block.
	hub.Dispatch(events.DeliveryEvent{Event: "late", Broadcast: true})
	hub.Unregister(&Client{ID: "a"})
}
