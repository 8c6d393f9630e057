package chat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxMessages is the number of most recent messages the log retains.
	MaxMessages = 500
	// MaxTextLength is the maximum message length in characters.
	MaxTextLength = 500
	// MaxNameLength bounds display names, recipients and room names, in
	// characters. It matches the longest account username.
	MaxNameLength = 80
	// DefaultDisplayName is used for connections without a known identity.
	DefaultDisplayName = "Anonyme"
	// DeleteAllID is the delete_message id that clears the whole log.
	DeleteAllID = "all"
	// TypingTimeout is how long a typing signal stays visible.
	TypingTimeout = 5 * time.Second
	// VisitorTimeout is the liveness window of a visitor ping.
	VisitorTimeout = 2 * time.Second
)

// Validation errors
var (
	ErrTextEmpty        = errors.New("message text cannot be empty")
	ErrTextTooLong      = errors.New("message text exceeds maximum length")
	ErrRecipientMissing = errors.New("private message requires a recipient")
	ErrNameEmpty        = errors.New("name cannot be empty")
	ErrNameTooLong      = errors.New("name exceeds maximum length")
)

// Reactions maps an emoji to the display names that reacted with it.
type Reactions map[string][]string

// ChatMessage is an entry of the shared message log.
type ChatMessage struct {
	ID        string    `json:"id"`
	Pseudo    string    `json:"pseudo"`
	Text      string    `json:"text"`
	Reactions Reactions `json:"reactions"`
	Recipient string    `json:"recipient,omitempty"`
}

// IsPrivate reports whether the message is a direct message.
func (m ChatMessage) IsPrivate() bool {
	return m.Recipient != ""
}

// VisibleTo reports whether a viewer with the given display name may see the message.
func (m ChatMessage) VisibleTo(name string) bool {
	if !m.IsPrivate() {
		return true
	}
	return m.Pseudo == name || m.Recipient == name
}

// Toggle adds actor under emoji, or removes it if already present.
// The emoji key is dropped once nobody reacts with it.
func (r Reactions) Toggle(emoji, actor string) {
	names := r[emoji]
	for i, name := range names {
		if name == actor {
			names = append(names[:i], names[i+1:]...)
			if len(names) == 0 {
				delete(r, emoji)
			} else {
				r[emoji] = names
			}
			return
		}
	}
	r[emoji] = append(names, actor)
}

// ConnectedUser is a presence entry for one live connection.
type ConnectedUser struct {
	ConnectionID string    `json:"connection_id"`
	Username     string    `json:"username"`
	ConnectedAt  time.Time `json:"connected_at"`
	// Instance is the relay process holding the socket, when known.
	Instance string `json:"instance,omitempty"`
}

// UserListEntry is the user_list representation of a connected user.
type UserListEntry struct {
	ConnectionID string    `json:"id"`
	Username     string    `json:"username"`
	ConnectedAt  time.Time `json:"connected_at"`
	AvatarURL    *string   `json:"avatar_url"`
}

// NormalizeText trims the text and validates its length.
func NormalizeText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrTextEmpty
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", ErrTextTooLong
	}
	return text, nil
}

// NormalizeRecipient trims a direct message recipient.
func NormalizeRecipient(to string) (string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return "", ErrRecipientMissing
	}
	if utf8.RuneCountInString(to) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return to, nil
}

// NormalizeName trims a display name chosen with set_username.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

// ValidRoomName reports whether room may name a signaling room. Room names
// are used as given, without trimming.
func ValidRoomName(room string) bool {
	return room != "" && utf8.RuneCountInString(room) <= MaxNameLength
}

// DisplayName returns name, or the default display name when name is blank.
func DisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultDisplayName
	}
	return name
}
