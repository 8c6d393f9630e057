// Package relay routes client events: it validates them, applies them to the
// shared state and computes who must hear about the result.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Elpepit0/site-tchat-visio/domain/chat"
	"github.com/Elpepit0/site-tchat-visio/domain/messagelog"
	"github.com/Elpepit0/site-tchat-visio/domain/presence"
	"github.com/Elpepit0/site-tchat-visio/domain/rooms"
	"github.com/Elpepit0/site-tchat-visio/domain/state"
	"github.com/Elpepit0/site-tchat-visio/domain/typing"
	"github.com/Elpepit0/site-tchat-visio/events"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
)

// Router handles the lifecycle and events of websocket connections.
// It never writes to sockets; every outbound event goes through the Publisher.
type Router struct {
	presence  *presence.Registry
	messages  *messagelog.Log
	rooms     *rooms.Registry
	typing    *typing.Tracker
	publisher Publisher
	avatars   presence.AvatarLookup
	logger    types.Logger
	newID     func() string

	mu      sync.Mutex
	open    map[string]struct{} // connections between Connect and Disconnect
	typists map[string]string   // connection -> last typing pseudo
}

// NewRouter creates a router over store. avatars may be nil.
func NewRouter(store state.Store, publisher Publisher, avatars presence.AvatarLookup, logger types.Logger) *Router {
	return &Router{
		presence:  presence.NewRegistry(store),
		messages:  messagelog.New(store, chat.MaxMessages),
		rooms:     rooms.NewRegistry(store),
		typing:    typing.NewTracker(store, chat.TypingTimeout),
		publisher: publisher,
		avatars:   avatars,
		logger:    logger,
		newID:     func() string { return uuid.New().String() },
		open:      make(map[string]struct{}),
		typists:   make(map[string]string),
	}
}

// SetLiveness makes presence entries carry this process's id so other
// processes can drop them if it stops without cleaning up.
func (r *Router) SetLiveness(l presence.Liveness) {
	r.presence.SetLiveness(l)
}

// Connect registers conn and sends it the message history.
func (r *Router) Connect(ctx context.Context, conn string, auth AuthContext) error {
	name := chat.DefaultDisplayName
	if auth.Authenticated {
		name = chat.DisplayName(auth.Username)
	}
	if err := r.presence.Add(ctx, conn, name); err != nil {
		return err
	}

	r.mu.Lock()
	r.open[conn] = struct{}{}
	r.mu.Unlock()

	history, err := r.messages.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := r.send(ctx, unicast(events.Messages, conn), messagelog.VisibleTo(history, name)); err != nil {
		return err
	}
	return r.BroadcastUserList(ctx)
}

// Handle applies one inbound event from conn. Invalid or unknown events are
// dropped; an error means the shared state or fan-out failed.
func (r *Router) Handle(ctx context.Context, conn, event string, data json.RawMessage) error {
	switch event {
	case events.SetUsername:
		return r.handleSetUsername(ctx, conn, data)
	case events.SendMessage:
		return r.handleSendMessage(ctx, conn, data)
	case events.SendPrivateMessage:
		return r.handleSendPrivateMessage(ctx, conn, data)
	case events.DeleteMessage:
		return r.handleDeleteMessage(ctx, data)
	case events.ReactMessage:
		return r.handleReactMessage(ctx, conn, data)
	case events.UserTyping:
		return r.handleUserTyping(ctx, conn, data)
	case events.JoinRoom:
		return r.handleJoinRoom(ctx, conn, data)
	case events.LeaveRoom:
		return r.handleLeaveRoom(ctx, conn, data)
	case events.Offer, events.Answer, events.ICECandidate:
		return r.handleSignal(ctx, conn, event, data)
	default:
		r.logger.Debug("Ignoring unknown event", "clientID", conn, "event", event)
		return nil
	}
}

// Disconnect removes every trace of conn and tells the others. It is safe to
// call more than once and never fails; cleanup errors are logged.
func (r *Router) Disconnect(ctx context.Context, conn string) {
	r.mu.Lock()
	_, open := r.open[conn]
	delete(r.open, conn)
	pseudo := r.typists[conn]
	delete(r.typists, conn)
	typingElsewhere := make(map[string]struct{}, len(r.typists))
	for _, p := range r.typists {
		typingElsewhere[p] = struct{}{}
	}
	r.mu.Unlock()
	if !open {
		return
	}

	departures := r.rooms.RemoveConnectionEverywhere(ctx, conn, func(room string, err error) {
		r.logger.Warn("Failed to remove connection from room", "clientID", conn, "room", room, "error", err)
	})
	for _, d := range departures {
		if len(d.Remaining) == 0 {
			continue
		}
		if err := r.send(ctx, unicast(events.UserLeft, d.Remaining...), PeerRoomPayload{ID: conn, Room: d.Room}); err != nil {
			r.logger.Warn("Failed to announce departure", "clientID", conn, "room", d.Room, "error", err)
		}
	}

	name, err := r.presence.DisplayName(ctx, conn)
	if err != nil {
		r.logger.Warn("Failed to resolve display name", "clientID", conn, "error", err)
	}
	if _, err := r.presence.Remove(ctx, conn); err != nil {
		r.logger.Warn("Failed to remove presence entry", "clientID", conn, "error", err)
	}

	for _, typist := range uniqueNonEmpty(pseudo, name) {
		// Another tab under the same name may still be typing.
		if _, ok := typingElsewhere[typist]; ok {
			continue
		}
		holders, err := r.presence.ConnectionsNamed(ctx, typist)
		if err != nil {
			r.logger.Warn("Failed to resolve connections by name", "clientID", conn, "name", typist, "error", err)
		}
		if len(holders) > 0 {
			continue
		}
		if err := r.typing.Remove(ctx, typist); err != nil {
			r.logger.Warn("Failed to clear typing entry", "clientID", conn, "error", err)
		}
	}

	if err := r.BroadcastUserList(ctx); err != nil {
		r.logger.Warn("Failed to broadcast user list", "clientID", conn, "error", err)
	}
}

// PruneStale forgets connections whose relay process stopped without
// cleaning up. Their presence entries and room memberships are removed and
// the remaining room members get user-left.
func (r *Router) PruneStale(ctx context.Context) error {
	stale, err := r.presence.Prune(ctx)
	if err != nil {
		return err
	}
	departures, err := r.rooms.PruneStale(ctx, r.liveConnections, func(room string, err error) {
		r.logger.Warn("Failed to prune room", "room", room, "error", err)
	})
	if err != nil {
		return err
	}

	for _, d := range departures {
		if len(d.Remaining) == 0 {
			continue
		}
		if err := r.send(ctx, unicast(events.UserLeft, d.Remaining...), PeerRoomPayload{ID: d.Connection, Room: d.Room}); err != nil {
			return err
		}
	}
	if len(stale) == 0 && len(departures) == 0 {
		return nil
	}
	r.logger.Info("Pruned stale connections", "connections", len(stale), "room_memberships", len(departures))
	if len(stale) == 0 {
		return nil
	}
	return r.BroadcastUserList(ctx)
}

func (r *Router) liveConnections(ctx context.Context) (map[string]struct{}, error) {
	users, err := r.presence.Entries(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]struct{}, len(users))
	for _, u := range users {
		live[u.ConnectionID] = struct{}{}
	}
	return live, nil
}

// BroadcastUserList sends the current user_list to every client.
func (r *Router) BroadcastUserList(ctx context.Context) error {
	users, err := r.presence.List(ctx, r.avatars)
	if err != nil {
		return err
	}
	return r.send(ctx, broadcast(events.UserList), users)
}

// broadcastSnapshots sends the messages snapshot to every connection, each
// filtered to what its display name may see. Names that take part in no
// direct message share one public delivery.
func (r *Router) broadcastSnapshots(ctx context.Context) error {
	history, err := r.messages.Snapshot(ctx)
	if err != nil {
		return err
	}
	users, err := r.presence.Entries(ctx)
	if err != nil {
		return err
	}

	participants := messagelog.Participants(history)
	var public []string
	private := make(map[string][]string)
	var names []string
	for _, u := range users {
		if _, ok := participants[u.Username]; !ok {
			public = append(public, u.ConnectionID)
			continue
		}
		if _, seen := private[u.Username]; !seen {
			names = append(names, u.Username)
		}
		private[u.Username] = append(private[u.Username], u.ConnectionID)
	}

	if len(public) > 0 {
		if err := r.send(ctx, unicast(events.Messages, public...), messagelog.VisibleTo(history, "")); err != nil {
			return err
		}
	}
	for _, name := range names {
		if err := r.send(ctx, unicast(events.Messages, private[name]...), messagelog.VisibleTo(history, name)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) send(ctx context.Context, d events.DeliveryEvent, payload any) error {
	if !d.Broadcast && len(d.To) == 0 {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", d.Event, err)
	}
	d.Payload = data
	return r.publisher.Publish(ctx, d)
}

func (r *Router) sendRaw(ctx context.Context, d events.DeliveryEvent, data json.RawMessage) error {
	if !d.Broadcast && len(d.To) == 0 {
		return nil
	}
	d.Payload = data
	return r.publisher.Publish(ctx, d)
}

func broadcast(event string) events.DeliveryEvent {
	return events.DeliveryEvent{Event: event, Broadcast: true}
}

func broadcastExcept(event, except string) events.DeliveryEvent {
	return events.DeliveryEvent{Event: event, Broadcast: true, Except: except}
}

func unicast(event string, conns ...string) events.DeliveryEvent {
	return events.DeliveryEvent{Event: event, To: conns}
}

func uniqueNonEmpty(values ...string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
