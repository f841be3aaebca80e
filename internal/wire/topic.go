// Package wire defines the data model shared between the sync core and its
// transport: topics, event envelopes, and the typed payloads they carry.
package wire

import (
	"fmt"
	"strings"
)

// TopicKind discriminates what a topic's event stream carries.
type TopicKind string

const (
	// TopicMessages carries persisted conversation messages.
	TopicMessages TopicKind = "messages"
	// TopicTyping carries ephemeral typing signals for a conversation.
	TopicTyping TopicKind = "typing"
	// TopicPresence carries ephemeral presence signals for a scope.
	TopicPresence TopicKind = "presence"
)

// Topic identifies a subscription target, formatted as "kind:scope"
// (e.g. "messages:c42", "typing:c42", "presence:global").
//
// A client session holds at most one active channel per topic.
type Topic string

// MessagesTopic returns the messages topic for a conversation.
func MessagesTopic(conversationID string) Topic {
	return Topic(string(TopicMessages) + ":" + conversationID)
}

// TypingTopic returns the typing topic for a conversation.
func TypingTopic(conversationID string) Topic {
	return Topic(string(TopicTyping) + ":" + conversationID)
}

// PresenceTopic returns the presence topic for a scope. "global" is the
// app-wide scope.
func PresenceTopic(scope string) Topic {
	return Topic(string(TopicPresence) + ":" + scope)
}

// Kind returns the topic kind, or "" for a malformed topic.
func (t Topic) Kind() TopicKind {
	kind, _, ok := strings.Cut(string(t), ":")
	if !ok {
		return ""
	}
	switch TopicKind(kind) {
	case TopicMessages, TopicTyping, TopicPresence:
		return TopicKind(kind)
	default:
		return ""
	}
}

// Scope returns the topic scope (conversation id or presence scope).
func (t Topic) Scope() string {
	_, scope, _ := strings.Cut(string(t), ":")
	return scope
}

// Validate checks that the topic has a known kind and a non-empty scope.
func (t Topic) Validate() error {
	if t.Kind() == "" || t.Scope() == "" {
		return fmt.Errorf("invalid topic %q", string(t))
	}
	return nil
}
