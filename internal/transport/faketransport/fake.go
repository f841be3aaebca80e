// Package faketransport provides an in-memory Transport/Store/Auth for unit
// and integration tests: scripted failures, injected events, and dropped
// channels to simulate outages.
package faketransport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/transport"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

// Broadcast records one SendBroadcast call.
type Broadcast struct {
	Topic   wire.Topic
	Payload any
}

// Fake is a scripted Transport + Store.
type Fake struct {
	Clock actor.Clock

	// Loopback, when true, relays broadcasts back to the topic's live
	// channel the way a real fan-out would.
	Loopback bool

	mu            sync.Mutex
	channels      map[wire.Topic]*fakeChannel
	subscribes    map[wire.Topic]int
	subscribeFail map[wire.Topic]int
	snapshots     map[wire.Topic][]wire.Message
	snapshotFail  map[wire.Topic]int
	insertFail    int
	insertHang    int
	hangCh        chan struct{}
	profiles      map[string]wire.Profile
	broadcasts    []Broadcast
	allChannels   []*fakeChannel
	nextID        int
}

var (
	_ transport.Transport = (*Fake)(nil)
	_ transport.Store     = (*Fake)(nil)
)

// New returns an empty Fake using the given clock for server timestamps.
func New(clock actor.Clock) *Fake {
	return &Fake{
		Clock:         clock,
		channels:      make(map[wire.Topic]*fakeChannel),
		subscribes:    make(map[wire.Topic]int),
		subscribeFail: make(map[wire.Topic]int),
		snapshots:     make(map[wire.Topic][]wire.Message),
		snapshotFail:  make(map[wire.Topic]int),
		profiles:      make(map[string]wire.Profile),
	}
}

// SetSnapshot seeds the store contents for a topic.
func (f *Fake) SetSnapshot(topic wire.Topic, msgs []wire.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[topic] = append([]wire.Message(nil), msgs...)
}

// AddProfile seeds a profile row.
func (f *Fake) AddProfile(p wire.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
}

// FailSubscribes makes the next n SubscribeChannel calls for topic fail.
func (f *Fake) FailSubscribes(topic wire.Topic, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeFail[topic] = n
}

// FailSnapshots makes the next n FetchSnapshot calls for topic fail.
func (f *Fake) FailSnapshots(topic wire.Topic, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshotFail[topic] = n
}

// FailInserts makes the next n InsertMessage calls fail.
func (f *Fake) FailInserts(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertFail = n
}

// HangInserts makes the next n InsertMessage calls block until ReleaseHung,
// simulating a send that never gets a reply.
func (f *Fake) HangInserts(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertHang = n
	if f.hangCh == nil {
		f.hangCh = make(chan struct{})
	}
}

// ReleaseHung unblocks calls parked by HangInserts; they fail on release.
func (f *Fake) ReleaseHung() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hangCh != nil {
		close(f.hangCh)
		f.hangCh = nil
	}
}

// SubscribeChannel implements transport.Transport.
func (f *Fake) SubscribeChannel(_ context.Context, topic wire.Topic) (transport.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribes[topic]++
	if f.subscribeFail[topic] > 0 {
		f.subscribeFail[topic]--
		return nil, transport.NewConnectionError("subscribe", fmt.Errorf("scripted failure for %s", topic))
	}

	ch := newFakeChannel()
	f.channels[topic] = ch
	f.allChannels = append(f.allChannels, ch)
	return ch, nil
}

// SendBroadcast implements transport.Transport.
func (f *Fake) SendBroadcast(_ context.Context, topic wire.Topic, payload any) error {
	f.mu.Lock()
	f.broadcasts = append(f.broadcasts, Broadcast{Topic: topic, Payload: payload})
	ch := f.channels[topic]
	loopback := f.Loopback
	now := actor.NowMs(f.Clock)
	f.mu.Unlock()

	if loopback && ch != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		ch.deliver(wire.Event{Topic: topic, Kind: wire.EventBroadcast, Payload: raw, ServerTime: now})
	}
	return nil
}

// FetchSnapshot implements transport.Store.
func (f *Fake) FetchSnapshot(_ context.Context, topic wire.Topic, limit int) ([]wire.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.snapshotFail[topic] > 0 {
		f.snapshotFail[topic]--
		return nil, transport.NewFetchError("snapshot", fmt.Errorf("scripted failure for %s", topic))
	}

	msgs := f.snapshots[topic]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]wire.Message(nil), msgs...), nil
}

// InsertMessage implements transport.Store. The inserted row is appended to
// the topic snapshot and delivered as an insert event to any live channel.
func (f *Fake) InsertMessage(_ context.Context, conversationID, senderID, content, localID string) (wire.Message, error) {
	f.mu.Lock()
	if f.insertHang > 0 {
		f.insertHang--
		hangCh := f.hangCh
		f.mu.Unlock()
		<-hangCh
		return wire.Message{}, &transport.SendFailure{LocalID: localID, Err: fmt.Errorf("hung insert released")}
	}
	if f.insertFail > 0 {
		f.insertFail--
		f.mu.Unlock()
		return wire.Message{}, &transport.SendFailure{LocalID: localID, Err: fmt.Errorf("scripted insert failure")}
	}

	f.nextID++
	msg := wire.Message{
		ID:             fmt.Sprintf("srv-%d", f.nextID),
		LocalID:        localID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      actor.NowMs(f.Clock),
	}
	topic := wire.MessagesTopic(conversationID)
	f.snapshots[topic] = append(f.snapshots[topic], msg)
	ch := f.channels[topic]
	f.mu.Unlock()

	if ch != nil {
		raw, _ := json.Marshal(msg)
		ch.deliver(wire.Event{Topic: topic, Kind: wire.EventInsert, Payload: raw, ServerTime: msg.CreatedAt})
	}
	return msg, nil
}

// LookupProfiles implements transport.Store.
func (f *Fake) LookupProfiles(_ context.Context, ids []string) (map[string]wire.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]wire.Profile)
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Deliver injects an event into topic's live channel. No-op when no channel
// is open.
func (f *Fake) Deliver(topic wire.Topic, kind wire.EventKind, payload any) {
	f.mu.Lock()
	ch := f.channels[topic]
	now := actor.NowMs(f.Clock)
	f.mu.Unlock()
	if ch == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	ch.deliver(wire.Event{Topic: topic, Kind: kind, Payload: raw, ServerTime: now})
}

// DeliverRaw injects a pre-encoded payload, for malformed-event tests.
func (f *Fake) DeliverRaw(topic wire.Topic, kind wire.EventKind, raw []byte) {
	f.mu.Lock()
	ch := f.channels[topic]
	now := actor.NowMs(f.Clock)
	f.mu.Unlock()
	if ch != nil {
		ch.deliver(wire.Event{Topic: topic, Kind: kind, Payload: raw, ServerTime: now})
	}
}

// DropChannel simulates a transport outage: the live channel for topic fails
// with a connection error.
func (f *Fake) DropChannel(topic wire.Topic) {
	f.mu.Lock()
	ch := f.channels[topic]
	delete(f.channels, topic)
	f.mu.Unlock()
	if ch != nil {
		ch.fail(transport.NewConnectionError("read", fmt.Errorf("channel dropped")))
	}
}

// SubscribeCount returns how many times topic was subscribed.
func (f *Fake) SubscribeCount(topic wire.Topic) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes[topic]
}

// OpenChannels returns the number of currently live channels.
func (f *Fake) OpenChannels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ch := range f.channels {
		if !ch.closed() {
			n++
		}
	}
	return n
}

// CloseCalls returns how many channels ever handed out had Close invoked,
// including channels that had already failed. Consumers own the release even
// after a failure.
func (f *Fake) CloseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ch := range f.allChannels {
		if ch.closeCalled() {
			n++
		}
	}
	return n
}

// Broadcasts returns a snapshot of recorded broadcasts.
func (f *Fake) Broadcasts() []Broadcast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Broadcast(nil), f.broadcasts...)
}

type fakeChannel struct {
	events chan wire.Event

	mu         sync.Mutex
	err        error
	done       bool
	closeCalls int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan wire.Event, 64)}
}

func (c *fakeChannel) Events() <-chan wire.Event { return c.events }

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if !c.done {
		c.done = true
		close(c.events)
	}
}

func (c *fakeChannel) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.done = true
		c.err = err
		close(c.events)
	}
}

func (c *fakeChannel) closeCalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls > 0
}

func (c *fakeChannel) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *fakeChannel) deliver(ev wire.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	select {
	case c.events <- ev:
	default:
		// Slow consumer; drop rather than block the test.
	}
}
