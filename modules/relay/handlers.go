package relay

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Elpepit0/site-tchat-visio/domain/chat"
	"github.com/Elpepit0/site-tchat-visio/domain/messagelog"
	"github.com/Elpepit0/site-tchat-visio/events"
)

func (r *Router) handleSetUsername(ctx context.Context, conn string, data json.RawMessage) error {
	requested, ok := decodeString(data)
	if !ok {
		return nil
	}
	name, err := chat.NormalizeName(requested)
	if err != nil {
		return nil
	}
	if err := r.presence.Rename(ctx, conn, name); err != nil {
		return err
	}
	return r.BroadcastUserList(ctx)
}

func (r *Router) handleSendMessage(ctx context.Context, conn string, data json.RawMessage) error {
	var p TextPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	text, err := chat.NormalizeText(p.Text)
	if err != nil {
		return nil
	}
	author, err := r.presence.DisplayName(ctx, conn)
	if err != nil {
		return err
	}

	msg := chat.ChatMessage{
		ID:        r.newID(),
		Pseudo:    author,
		Text:      text,
		Reactions: chat.Reactions{},
	}
	if err := r.messages.Append(ctx, msg); err != nil {
		return err
	}
	return r.send(ctx, broadcast(events.NewMessage), msg)
}

func (r *Router) handleSendPrivateMessage(ctx context.Context, conn string, data json.RawMessage) error {
	var p PrivateTextPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	text, err := chat.NormalizeText(p.Text)
	if err != nil {
		return nil
	}
	to, err := chat.NormalizeRecipient(p.To)
	if err != nil {
		return nil
	}
	author, err := r.presence.DisplayName(ctx, conn)
	if err != nil {
		return err
	}

	msg := chat.ChatMessage{
		ID:        r.newID(),
		Pseudo:    author,
		Text:      text,
		Reactions: chat.Reactions{},
		Recipient: to,
	}
	if err := r.messages.Append(ctx, msg); err != nil {
		return err
	}

	recipients, err := r.presence.ConnectionsNamed(ctx, to)
	if err != nil {
		return err
	}
	targets := uniqueNonEmpty(append([]string{conn}, recipients...)...)
	return r.send(ctx, unicast(events.NewPrivateMessage, targets...), msg)
}

func (r *Router) handleDeleteMessage(ctx context.Context, data json.RawMessage) error {
	var p DeletePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		return nil
	}

	if p.ID == chat.DeleteAllID {
		if err := r.messages.Clear(ctx); err != nil {
			return err
		}
		return r.broadcastSnapshots(ctx)
	}

	found, err := r.messages.Delete(ctx, p.ID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return r.broadcastSnapshots(ctx)
}

func (r *Router) handleReactMessage(ctx context.Context, conn string, data json.RawMessage) error {
	var p ReactPayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" || p.Emoji == "" {
		return nil
	}
	actor, err := r.presence.DisplayName(ctx, conn)
	if err != nil {
		return err
	}

	_, err = r.messages.ToggleReaction(ctx, p.MessageID, p.Emoji, actor)
	if errors.Is(err, messagelog.ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.broadcastSnapshots(ctx)
}

func (r *Router) handleUserTyping(ctx context.Context, conn string, data json.RawMessage) error {
	var p TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	pseudo, err := chat.NormalizeName(p.Pseudo)
	if err != nil {
		return nil
	}

	users, err := r.typing.Touch(ctx, pseudo)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.typists[conn] = pseudo
	r.mu.Unlock()

	return r.send(ctx, broadcastExcept(events.TypingUsers, conn), TypingUsersPayload{Pseudo: pseudo, Users: users})
}

func (r *Router) handleJoinRoom(ctx context.Context, conn string, data json.RawMessage) error {
	room, ok := decodeString(data)
	if !ok || !chat.ValidRoomName(room) {
		return nil
	}

	others, err := r.rooms.Join(ctx, room, conn)
	if err != nil {
		return err
	}

	if err := r.send(ctx, unicast(events.AllUsers, conn), others); err != nil {
		return err
	}
	if err := r.send(ctx, unicast(events.UserJoined, others...), PeerRoomPayload{ID: conn, Room: room}); err != nil {
		return err
	}
	everyone := append(others, conn)
	return r.send(ctx, unicast(events.UserConnected, everyone...), RoomPayload{Room: room})
}

func (r *Router) handleLeaveRoom(ctx context.Context, conn string, data json.RawMessage) error {
	room, ok := decodeString(data)
	if !ok && len(data) > 0 && string(data) != "null" {
		return nil
	}

	if room == "" {
		var failed error
		departures := r.rooms.RemoveConnectionEverywhere(ctx, conn, func(name string, err error) {
			r.logger.Warn("Failed to leave room", "clientID", conn, "room", name, "error", err)
			failed = err
		})
		for _, d := range departures {
			if err := r.send(ctx, unicast(events.UserLeft, d.Remaining...), PeerRoomPayload{ID: conn, Room: d.Room}); err != nil {
				return err
			}
		}
		return failed
	}

	if !chat.ValidRoomName(room) {
		return nil
	}
	members, err := r.rooms.Members(ctx, room)
	if err != nil {
		return err
	}
	if !containsString(members, conn) {
		return nil
	}
	remaining, err := r.rooms.Leave(ctx, room, conn)
	if err != nil {
		return err
	}
	return r.send(ctx, unicast(events.UserLeft, remaining...), PeerRoomPayload{ID: conn, Room: room})
}

// handleSignal forwards a WebRTC signaling object unchanged, adding the
// sender id as "from". A direct "to" takes precedence over "room".
func (r *Router) handleSignal(ctx context.Context, conn, event string, data json.RawMessage) error {
	var target signalTarget
	if err := json.Unmarshal(data, &target); err != nil {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil
	}
	from, err := json.Marshal(conn)
	if err != nil {
		return err
	}
	fields["from"] = from
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	switch {
	case target.To != "":
		d := unicast(event, target.To)
		d.Except = conn
		return r.sendRaw(ctx, d, payload)
	case target.Room != "":
		others, err := r.rooms.MembersExcluding(ctx, target.Room, conn)
		if err != nil {
			return err
		}
		return r.sendRaw(ctx, unicast(event, others...), payload)
	default:
		return nil
	}
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
