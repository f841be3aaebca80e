// Package reconcile merges a fetched message snapshot with a live append-only
// event stream into a single ordered, deduplicated timeline.
//
// The merge logic is a pure reducer over the actor scaffold: snapshot
// arrivals, channel events, send commands, and timer ticks are inputs; store
// fetches, inserts, and retry timers are declarative effects interpreted by
// the owning view.
package reconcile

import (
	"time"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

// Phase is the per-topic reconciler state.
type Phase string

const (
	// PhaseUninitialized: nothing fetched, no subscription yet.
	PhaseUninitialized Phase = "uninitialized"
	// PhaseLoading: initial snapshot fetch in flight; live events buffer.
	PhaseLoading Phase = "loading"
	// PhaseLive: snapshot landed; events apply directly.
	PhaseLive Phase = "live"
	// PhaseResyncing: re-fetch after a reconnect; events apply directly and
	// the fresh snapshot merges by union.
	PhaseResyncing Phase = "resyncing"
)

const (
	// MaxFetchAttempts bounds snapshot retries before the stale flag raises.
	MaxFetchAttempts = 5
	// PendingTimeout bounds how long an optimistic entry may stay
	// unconfirmed before it is marked failed.
	PendingTimeout = 30 * time.Second
	// CorrelationWindow bounds the fallback sender+content match for
	// confirmations that arrive without a local id.
	CorrelationWindow = 5 * time.Second
)

// Entry is one timeline element: a server-confirmed message or an optimistic
// local send awaiting confirmation.
type Entry struct {
	Msg wire.Message
	// Pending marks an optimistic send not yet confirmed by the server.
	Pending bool
	// Failed marks a send that was rejected or timed out unconfirmed. Kept
	// visible so the user can retry; never silently dropped.
	Failed bool
	// QueuedAt is when the optimistic send was issued, in ms.
	QueuedAt int64
}

// State is the loop-owned reconciler state for one messages topic.
type State struct {
	Topic  wire.Topic
	SelfID string

	Phase Phase
	// Stale is raised when fetch retries are exhausted. The timeline is kept
	// visible; it is cleared by the next successful fetch.
	Stale         bool
	FetchAttempts int
	// FetchLimit is the configured snapshot window, carried from the start or
	// resync command so every retried fetch requests the same bound.
	FetchLimit int

	// Timeline is sorted by CreatedAt, unique by Msg.ID.
	Timeline []Entry

	// Buffered holds inserts that arrived while the initial snapshot was in
	// flight; merged (deduplicated) once the snapshot lands.
	Buffered []wire.Message
}

// NewState returns an uninitialized reconciler state for topic.
func NewState(topic wire.Topic, selfID string) State {
	return State{Topic: topic, SelfID: selfID, Phase: PhaseUninitialized}
}

// Messages returns a copy of the materialized timeline.
func (s State) Messages() []Entry {
	return append([]Entry(nil), s.Timeline...)
}

// Inputs.

// CmdStart begins the initial snapshot load.
type CmdStart struct {
	actor.InputBase
	Limit int
}

// CmdResync re-fetches the snapshot after a reconnect. Events during the
// outage are not replayed, so the union merge restores anything missed.
type CmdResync struct {
	actor.InputBase
	Limit int
}

// CmdSend optimistically appends a local message and requests the insert.
type CmdSend struct {
	actor.InputBase
	LocalID string
	Content string
	NowMs   int64
}

// CmdRetrySend re-issues the insert for a failed entry.
type CmdRetrySend struct {
	actor.InputBase
	LocalID string
	NowMs   int64
}

// EvSnapshot delivers a fetched snapshot, ordered ascending by CreatedAt.
type EvSnapshot struct {
	actor.InputBase
	Messages []wire.Message
	NowMs    int64
}

// EvSnapshotFailed reports a failed snapshot fetch.
type EvSnapshotFailed struct {
	actor.InputBase
	Err   error
	NowMs int64
}

// EvRetryTimer fires when a scheduled fetch retry is due.
type EvRetryTimer struct {
	actor.InputBase
	Attempt int
}

// EvChannelEvent delivers one live transport event.
type EvChannelEvent struct {
	actor.InputBase
	Event wire.Event
	NowMs int64
}

// EvSendAccepted delivers the server row returned by the insert call.
type EvSendAccepted struct {
	actor.InputBase
	Message wire.Message
	NowMs   int64
}

// EvSendFailed reports a rejected insert.
type EvSendFailed struct {
	actor.InputBase
	LocalID string
	Err     error
	NowMs   int64
}

// EvTick drives the stuck-pending sweep.
type EvTick struct {
	actor.InputBase
	NowMs int64
}

// Effects.

// EffFetchSnapshot requests a snapshot fetch from the store.
type EffFetchSnapshot struct {
	actor.EffectBase
	Topic   wire.Topic
	Limit   int
	Attempt int
}

// EffScheduleRetry arms a one-shot timer that posts EvRetryTimer.
type EffScheduleRetry struct {
	actor.EffectBase
	After   time.Duration
	Attempt int
}

// EffInsert requests a message insert from the store.
type EffInsert struct {
	actor.EffectBase
	ConversationID string
	SenderID       string
	Content        string
	LocalID        string
}

// EffProtocolViolation reports a discarded malformed event for logging. The
// subscription stays up; only the one event is dropped.
type EffProtocolViolation struct {
	actor.EffectBase
	Err error
}
