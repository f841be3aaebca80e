package wire

import "github.com/google/uuid"

// Message is a persisted conversation message. Immutable once created; the
// server assigns the authoritative ID and CreatedAt.
type Message struct {
	// ID is the server-assigned unique message id.
	ID string `json:"id"`
	// LocalID is the client idempotency key supplied on send; echoed on the
	// confirming event, null/empty for messages from other publishers.
	LocalID string `json:"localId,omitempty"`
	// ConversationID is the owning conversation.
	ConversationID string `json:"conversationId"`
	// SenderID is the authoring user id.
	SenderID string `json:"senderId"`
	// Content is the message body, opaque to the sync core.
	Content string `json:"content"`
	// CreatedAt is the server creation time in ms since epoch.
	CreatedAt int64 `json:"createdAt"`
}

// NewLocalID returns a fresh client correlation id for an optimistic send.
func NewLocalID() string {
	return "local-" + uuid.NewString()
}
