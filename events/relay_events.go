package events

import (
	"encoding/json"

	"github.com/go-monolith/mono/pkg/helper"
)

// Inbound client events.
const (
	SetUsername        = "set_username"
	SendMessage        = "send_message"
	SendPrivateMessage = "send_private_message"
	DeleteMessage      = "delete_message"
	ReactMessage       = "react_message"
	UserTyping         = "user_typing"
	JoinRoom           = "join-room"
	LeaveRoom          = "leave-room"
	Offer              = "offer"
	Answer             = "answer"
	ICECandidate       = "ice-candidate"
)

// Outbound client events.
const (
	Messages          = "messages"
	NewMessage        = "new_message"
	NewPrivateMessage = "new_private_message"
	UserList          = "user_list"
	TypingUsers       = "typing_users"
	UserJoined        = "user-joined"
	UserConnected     = "user-connected"
	UserLeft          = "user-left"
	AllUsers          = "all-users"
)

// DeliveryEvent is one outbound client event together with its audience.
// Exactly one of Broadcast or To selects the targets; Except is skipped
// in either case.
type DeliveryEvent struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	To        []string        `json:"to,omitempty"`
	Except    string          `json:"except,omitempty"`
	Broadcast bool            `json:"broadcast,omitempty"`
}

// Targets reports whether conn is in the audience of d.
func (d DeliveryEvent) Targets(conn string) bool {
	if conn == d.Except {
		return false
	}
	if d.Broadcast {
		return true
	}
	for _, id := range d.To {
		if id == conn {
			return true
		}
	}
	return false
}

// DeliveryV1 carries outbound client events from the relay to every
// process's websocket hub.
var DeliveryV1 = helper.EventDefinition[DeliveryEvent](
	"fanout",
	"Delivery",
	"v1",
)
