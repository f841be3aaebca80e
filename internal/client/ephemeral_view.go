package client

import (
	"sync"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/ephemeral"
	"github.com/cyb3rh3ad/auradesk/internal/subscription"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

// EphemeralView materializes one typing or presence topic: the local
// announce/debounce state plus the TTL-bounded peer table.
type EphemeralView struct {
	topic  wire.Topic
	client *Client
	act    *actor.Actor[ephemeral.State]
	handle *subscription.Handle

	updates   chan struct{}
	closeOnce sync.Once
}

// WatchTyping opens (or attaches to) a conversation's typing topic.
func (c *Client) WatchTyping(conversationID string) *EphemeralView {
	return c.watchEphemeral(wire.TypingTopic(conversationID))
}

// WatchPresence opens (or attaches to) a presence scope.
func (c *Client) WatchPresence(scope string) *EphemeralView {
	return c.watchEphemeral(wire.PresenceTopic(scope))
}

func (c *Client) watchEphemeral(topic wire.Topic) *EphemeralView {
	v := &EphemeralView{
		topic:   topic,
		client:  c,
		updates: make(chan struct{}, 1),
	}

	runtime := newBroadcastRuntime(c.tr, c.clock, c.log)
	initial := ephemeral.NewState(topic, c.auth.CurrentUserID())
	v.act = actor.New(initial, ephemeral.Reduce, runtime,
		actor.WithTransitionHook(func(prev, next ephemeral.State) { v.notify() }))
	v.act.Start()

	v.handle = c.subs.Subscribe(topic, v.onEvent, nil)
	v.act.Post(ephemeral.CmdStart{})

	return v
}

// Announce reports local composing activity (typing topics). Rate-limited:
// repeated calls while active only refresh the idle timer.
func (v *EphemeralView) Announce(active bool) {
	v.act.Post(ephemeral.CmdAnnounceTyping{Active: active, NowMs: actor.NowMs(v.client.clock)})
}

// SetStatus advertises local presence (presence topics).
func (v *EphemeralView) SetStatus(status wire.PresenceStatus) {
	v.act.Post(ephemeral.CmdSetStatus{Status: status, NowMs: actor.NowMs(v.client.clock)})
}

// Typing returns the peers currently typing. Never blocks.
func (v *EphemeralView) Typing() []string {
	return v.act.State().Typing(actor.NowMs(v.client.clock))
}

// Online returns the non-expired presence entries. Never blocks.
func (v *EphemeralView) Online() []ephemeral.Peer {
	return v.act.State().Online(actor.NowMs(v.client.clock))
}

// Updates signals (coalesced) that the peer table changed.
func (v *EphemeralView) Updates() <-chan struct{} { return v.updates }

// Close releases the subscription and cancels the view's timers. Idempotent.
func (v *EphemeralView) Close() {
	v.closeOnce.Do(func() {
		v.handle.Release()
		v.act.Stop()
	})
}

func (v *EphemeralView) onEvent(ev wire.Event) {
	v.act.Post(ephemeral.EvSignal{Event: ev, NowMs: actor.NowMs(v.client.clock)})
}

func (v *EphemeralView) notify() {
	select {
	case v.updates <- struct{}{}:
	default:
	}
}
