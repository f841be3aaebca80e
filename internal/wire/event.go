package wire

import (
	"encoding/json"
	"fmt"
)

// EventKind is the change type carried by an Event.
type EventKind string

const (
	// EventInsert is a newly persisted row.
	EventInsert EventKind = "insert"
	// EventUpdate is a mutation of a persisted row.
	EventUpdate EventKind = "update"
	// EventDelete is a removal of a persisted row.
	EventDelete EventKind = "delete"
	// EventBroadcast is an ephemeral, unpersisted signal.
	EventBroadcast EventKind = "broadcast"
)

// Event is a single change notification delivered by the transport.
//
// Delivery is at-least-once; ordering is guaranteed only within a single
// topic's stream.
type Event struct {
	// Topic is the subscription target this event belongs to.
	Topic Topic `json:"topic"`
	// Kind is the change type.
	Kind EventKind `json:"kind"`
	// Payload is the typed payload, decoded per topic kind.
	Payload json.RawMessage `json:"payload"`
	// ServerTime is the server wall-clock timestamp in ms since epoch.
	ServerTime int64 `json:"serverTime"`
}

// ProtocolError reports a malformed event payload. The offending event is
// discarded; the subscription stays up.
type ProtocolError struct {
	Topic  Topic
	Reason string
}

// Error implements error.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on %q: %s", string(e.Topic), e.Reason)
}

func protocolErr(topic Topic, format string, args ...any) *ProtocolError {
	return &ProtocolError{Topic: topic, Reason: fmt.Sprintf(format, args...)}
}

// DecodeMessage decodes an insert/update/delete payload on a messages topic.
func (e Event) DecodeMessage() (Message, error) {
	var msg Message
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return Message{}, protocolErr(e.Topic, "bad message payload: %v", err)
	}
	if msg.ID == "" {
		return Message{}, protocolErr(e.Topic, "message missing id")
	}
	if msg.CreatedAt <= 0 {
		return Message{}, protocolErr(e.Topic, "message %s missing createdAt", msg.ID)
	}
	return msg, nil
}

// DecodeTyping decodes a broadcast payload on a typing topic.
func (e Event) DecodeTyping() (TypingSignal, error) {
	var sig TypingSignal
	if err := json.Unmarshal(e.Payload, &sig); err != nil {
		return TypingSignal{}, protocolErr(e.Topic, "bad typing payload: %v", err)
	}
	if sig.UserID == "" {
		return TypingSignal{}, protocolErr(e.Topic, "typing signal missing userId")
	}
	return sig, nil
}

// DecodePresence decodes a broadcast payload on a presence topic.
func (e Event) DecodePresence() (PresenceSignal, error) {
	var sig PresenceSignal
	if err := json.Unmarshal(e.Payload, &sig); err != nil {
		return PresenceSignal{}, protocolErr(e.Topic, "bad presence payload: %v", err)
	}
	if sig.UserID == "" {
		return PresenceSignal{}, protocolErr(e.Topic, "presence signal missing userId")
	}
	if !sig.Status.Valid() {
		return PresenceSignal{}, protocolErr(e.Topic, "unknown presence status %q", string(sig.Status))
	}
	return sig, nil
}
