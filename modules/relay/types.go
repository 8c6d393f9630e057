package relay

import (
	"context"
	"encoding/json"

	"github.com/Elpepit0/site-tchat-visio/events"
)

// AuthContext is the identity the transport resolved for a connection.
type AuthContext struct {
	Username      string
	Authenticated bool
}

// Publisher sends an outbound delivery to every relay process.
type Publisher interface {
	Publish(ctx context.Context, d events.DeliveryEvent) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, d events.DeliveryEvent) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, d events.DeliveryEvent) error {
	return f(ctx, d)
}

// Inbound payloads.

// TextPayload is the send_message payload.
type TextPayload struct {
	Text string `json:"text"`
}

// PrivateTextPayload is the send_private_message payload.
type PrivateTextPayload struct {
	Text string `json:"text"`
	To   string `json:"to"`
}

// DeletePayload is the delete_message payload.
type DeletePayload struct {
	ID string `json:"id"`
}

// ReactPayload is the react_message payload.
type ReactPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// TypingPayload is the user_typing payload.
type TypingPayload struct {
	Pseudo string `json:"pseudo"`
}

// Outbound payloads.

// TypingUsersPayload is sent when someone types.
type TypingUsersPayload struct {
	Pseudo string   `json:"pseudo"`
	Users  []string `json:"users"`
}

// PeerRoomPayload identifies a peer in a room.
type PeerRoomPayload struct {
	ID   string `json:"id"`
	Room string `json:"room"`
}

// RoomPayload names a room.
type RoomPayload struct {
	Room string `json:"room"`
}

// signalTarget holds the routing fields of offer/answer/ice-candidate.
type signalTarget struct {
	Room string `json:"room"`
	To   string `json:"to"`
}

// decodeString accepts a bare JSON string payload.
func decodeString(data json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", false
	}
	return s, true
}
