// Package messagelog keeps the bounded, ordered chat history.
package messagelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Elpepit0/site-tchat-visio/domain/chat"
	"github.com/Elpepit0/site-tchat-visio/domain/state"
)

// MessagesKey is the list holding the log, oldest message first.
const MessagesKey = "tchat:messages"

// ErrMessageNotFound is returned when a message id is not in the log.
var ErrMessageNotFound = errors.New("message not found")

// Log is the shared message log.
type Log struct {
	store    state.Store
	capacity int
}

// New creates a log retaining at most capacity messages.
func New(store state.Store, capacity int) *Log {
	if capacity <= 0 {
		capacity = chat.MaxMessages
	}
	return &Log{store: store, capacity: capacity}
}

// Append adds msg to the tail, evicting the oldest entries beyond capacity.
func (l *Log) Append(ctx context.Context, msg chat.ChatMessage) error {
	if msg.Reactions == nil {
		msg.Reactions = chat.Reactions{}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := l.store.ListAppend(ctx, MessagesKey, data, l.capacity); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// Snapshot returns the log, oldest first.
func (l *Log) Snapshot(ctx context.Context) ([]chat.ChatMessage, error) {
	items, err := l.store.ListRange(ctx, MessagesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	return decodeAll(items), nil
}

// Delete removes the message with id. It reports whether it was present.
func (l *Log) Delete(ctx context.Context, id string) (bool, error) {
	found := false
	err := l.store.ListUpdate(ctx, MessagesKey, func(items [][]byte) ([][]byte, error) {
		kept := make([][]byte, 0, len(items))
		for _, item := range items {
			var msg chat.ChatMessage
			if err := json.Unmarshal(item, &msg); err == nil && msg.ID == id {
				found = true
				continue
			}
			kept = append(kept, item)
		}
		if !found {
			return nil, ErrMessageNotFound
		}
		return kept, nil
	})
	if errors.Is(err, ErrMessageNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	return true, nil
}

// Clear removes every message.
func (l *Log) Clear(ctx context.Context) error {
	if err := l.store.Delete(ctx, MessagesKey); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	return nil
}

// ToggleReaction adds actor under emoji on message id, or removes them if
// already there. It returns the updated message or ErrMessageNotFound.
func (l *Log) ToggleReaction(ctx context.Context, id, emoji, actor string) (chat.ChatMessage, error) {
	var updated chat.ChatMessage
	err := l.store.ListUpdate(ctx, MessagesKey, func(items [][]byte) ([][]byte, error) {
		for i, item := range items {
			var msg chat.ChatMessage
			if err := json.Unmarshal(item, &msg); err != nil || msg.ID != id {
				continue
			}
			if msg.Reactions == nil {
				msg.Reactions = chat.Reactions{}
			}
			msg.Reactions.Toggle(emoji, actor)
			data, err := json.Marshal(msg)
			if err != nil {
				return nil, err
			}
			items[i] = data
			updated = msg
			return items, nil
		}
		return nil, ErrMessageNotFound
	})
	if errors.Is(err, ErrMessageNotFound) {
		return chat.ChatMessage{}, ErrMessageNotFound
	}
	if err != nil {
		return chat.ChatMessage{}, fmt.Errorf("failed to toggle reaction: %w", err)
	}
	return updated, nil
}

// VisibleTo filters a snapshot down to what a viewer may see: every public
// message and the direct messages the viewer sent or received.
func VisibleTo(messages []chat.ChatMessage, viewer string) []chat.ChatMessage {
	out := make([]chat.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.VisibleTo(viewer) {
			out = append(out, msg)
		}
	}
	return out
}

// Participants returns the display names involved in direct messages.
func Participants(messages []chat.ChatMessage) map[string]struct{} {
	names := make(map[string]struct{})
	for _, msg := range messages {
		if msg.IsPrivate() {
			names[msg.Pseudo] = struct{}{}
			names[msg.Recipient] = struct{}{}
		}
	}
	return names
}

func decodeAll(items [][]byte) []chat.ChatMessage {
	out := make([]chat.ChatMessage, 0, len(items))
	for _, item := range items {
		var msg chat.ChatMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			continue
		}
		if msg.Reactions == nil {
			msg.Reactions = chat.Reactions{}
		}
		out = append(out, msg)
	}
	return out
}
