// Package wsproto defines the JSON frames exchanged on the realtime
// WebSocket endpoint, shared by the client transport and the reference
// backend hub.
package wsproto

import (
	"encoding/json"

	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

// Client-to-server frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameBroadcast   = "broadcast"
)

// Server-to-client frame types.
const (
	FrameEvent = "event"
	FrameError = "error"
)

// ClientFrame is a client-to-server control frame.
type ClientFrame struct {
	// Type is one of the FrameSubscribe/FrameUnsubscribe/FrameBroadcast
	// constants.
	Type string `json:"type"`
	// Topic is the subscription or broadcast target.
	Topic wire.Topic `json:"topic"`
	// Payload carries the broadcast body for FrameBroadcast.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerFrame is a server-to-client frame.
type ServerFrame struct {
	// Type is FrameEvent or FrameError.
	Type string `json:"type"`
	// Event is set for FrameEvent.
	Event *wire.Event `json:"event,omitempty"`
	// Error is a human-readable message for FrameError.
	Error string `json:"error,omitempty"`
}
