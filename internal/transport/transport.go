// Package transport defines the contract between the sync core and its
// backend collaborators: the real-time channel transport, the persistent
// store, and the auth session.
//
// The core is transport-agnostic over any publish/subscribe abstraction that
// delivers ordered-per-topic, at-least-once events and supports ephemeral
// broadcasts separate from persisted inserts.
package transport

import (
	"context"

	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

// Channel is one live subscription to a topic's event stream.
type Channel interface {
	// Events delivers the topic's events in transport order. The channel is
	// closed when the subscription drops or Close is called.
	Events() <-chan wire.Event

	// Err reports the terminal error after Events closes, or nil on a clean
	// Close.
	Err() error

	// Close releases the subscription. Idempotent.
	Close()
}

// Transport opens real-time channels and publishes ephemeral broadcasts.
type Transport interface {
	// SubscribeChannel opens a channel for topic. Returns a ConnectionError
	// when the channel cannot be established.
	SubscribeChannel(ctx context.Context, topic wire.Topic) (Channel, error)

	// SendBroadcast publishes an ephemeral payload to topic subscribers.
	// Fire-and-forget: delivery is best-effort and failures are not retried
	// by the core.
	SendBroadcast(ctx context.Context, topic wire.Topic, payload any) error
}

// Store is the persistent collaborator behind messages and profiles.
type Store interface {
	// FetchSnapshot returns the most recent limit messages for a messages
	// topic, ordered ascending by CreatedAt. limit <= 0 means all.
	FetchSnapshot(ctx context.Context, topic wire.Topic, limit int) ([]wire.Message, error)

	// InsertMessage persists a message and returns the server row with the
	// authoritative id and timestamp. localID is echoed back on the
	// confirming event for optimistic-send correlation.
	InsertMessage(ctx context.Context, conversationID, senderID, content, localID string) (wire.Message, error)

	// LookupProfiles resolves a batch of user ids. Missing ids are simply
	// absent from the result; the call does not fail for them.
	LookupProfiles(ctx context.Context, ids []string) (map[string]wire.Profile, error)
}

// Auth exposes the minimal session surface the core needs.
type Auth interface {
	// CurrentUserID returns the authenticated user id, or "" when signed out.
	CurrentUserID() string
}

// StaticAuth is an Auth with a fixed user id.
type StaticAuth string

// CurrentUserID implements Auth.
func (a StaticAuth) CurrentUserID() string { return string(a) }
