// Package ephemeral implements the typing/presence broadcaster: debounced
// self announcements and a TTL-bounded table of peer liveness signals.
//
// Nothing here persists and nothing retries: a dropped broadcast self-heals
// via the next heartbeat, and a vanished peer expires out of the table. Loss
// is tolerated; staleness is bounded by the TTL.
package ephemeral

import (
	"time"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

const (
	// PeerTTL bounds how long a peer entry survives past its last signal.
	PeerTTL = 10 * time.Second
	// IdleTimeout is the debounce window for typing: activity within it
	// re-arms the timer without re-broadcasting.
	IdleTimeout = 7 * time.Second
	// HeartbeatInterval re-announces presence. Must stay well under PeerTTL
	// so a live peer's entry renews before it expires; at 5s every peer gets
	// two heartbeats inside the 10s TTL window.
	HeartbeatInterval = 5 * time.Second
	// SweepInterval paces the expiry sweep.
	SweepInterval = time.Second
)

// Timer names used in EffArmTimer. One timer per name; re-arming resets it.
const (
	TimerIdle      = "idle"
	TimerHeartbeat = "heartbeat"
	TimerSweep     = "sweep"
)

// Peer is one remote entry in the ephemeral table.
type Peer struct {
	UserID string
	// Status is set on presence topics; zero for typing peers.
	Status wire.PresenceStatus
	// LastSeenMs is the local receive time of the peer's last signal.
	LastSeenMs int64
	// ExpiresAtMs is when the entry lapses absent a fresh signal.
	ExpiresAtMs int64
}

// State is the loop-owned broadcaster state for one typing or presence topic.
type State struct {
	Topic  wire.Topic
	SelfID string

	// SelfActive tracks the local typing debounce (typing topics).
	SelfActive bool
	// SelfStatus is the currently advertised presence ("" until the first
	// SetStatus; presence topics only).
	SelfStatus wire.PresenceStatus

	// Peers is keyed by user id; cloned on write.
	Peers map[string]Peer
}

// NewState returns an empty broadcaster state for topic.
func NewState(topic wire.Topic, selfID string) State {
	return State{Topic: topic, SelfID: selfID, Peers: map[string]Peer{}}
}

// Typing returns the user ids of peers typing at nowMs, self excluded.
func (s State) Typing(nowMs int64) []string {
	var out []string
	for id, p := range s.Peers {
		if p.ExpiresAtMs > nowMs {
			out = append(out, id)
		}
	}
	return out
}

// Online returns the non-expired presence entries whose status is not
// offline, self excluded.
func (s State) Online(nowMs int64) []Peer {
	var out []Peer
	for _, p := range s.Peers {
		if p.ExpiresAtMs > nowMs && p.Status != wire.StatusOffline {
			out = append(out, p)
		}
	}
	return out
}

// Inputs.

// CmdStart arms the expiry sweep for the topic's lifetime.
type CmdStart struct {
	actor.InputBase
}

// CmdAnnounceTyping reports local composing activity. Repeated activations
// within the idle window refresh the timer without re-broadcasting.
type CmdAnnounceTyping struct {
	actor.InputBase
	Active bool
	NowMs  int64
}

// CmdSetStatus advertises local presence. A changed status broadcasts
// immediately; an unchanged one waits for the next heartbeat.
type CmdSetStatus struct {
	actor.InputBase
	Status wire.PresenceStatus
	NowMs  int64
}

// EvSignal delivers one broadcast event from the transport.
type EvSignal struct {
	actor.InputBase
	Event wire.Event
	NowMs int64
}

// EvIdleTimer fires when the typing debounce lapses.
type EvIdleTimer struct {
	actor.InputBase
	NowMs int64
}

// EvHeartbeatTimer fires when the presence heartbeat is due.
type EvHeartbeatTimer struct {
	actor.InputBase
	NowMs int64
}

// EvSweepTimer drives the expiry sweep.
type EvSweepTimer struct {
	actor.InputBase
	NowMs int64
}

// Effects.

// EffBroadcast publishes an ephemeral payload. Fire-and-forget.
type EffBroadcast struct {
	actor.EffectBase
	Topic   wire.Topic
	Payload any
}

// EffArmTimer (re)arms the named one-shot timer.
type EffArmTimer struct {
	actor.EffectBase
	Name  string
	After time.Duration
}

// EffProtocolViolation reports a discarded malformed signal for logging.
type EffProtocolViolation struct {
	actor.EffectBase
	Err error
}
