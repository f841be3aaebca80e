// Package subscription owns the lifecycle of real-time channels: one live
// channel per topic regardless of how many consumers watch it, reference
// counting, reconnect with exponential backoff, and resync signalling.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyb3rh3ad/auradesk/internal/transport"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

// Status is the connection state reported to consumers.
type Status string

const (
	// StatusConnecting is reported while the first establish is in flight.
	StatusConnecting Status = "connecting"
	// StatusLive is reported while the channel is established.
	StatusLive Status = "live"
	// StatusDegraded is reported during the retry window after a failure.
	// Previously delivered state stays valid; nothing is cleared.
	StatusDegraded Status = "degraded"
)

// StatusChange notifies a consumer of a connection state transition.
//
// Resync is set on the Live transition after an outage: events during the
// outage are not replayed, so message consumers must re-fetch their snapshot.
type StatusChange struct {
	Status Status
	Resync bool
}

// Config tunes the manager's retry behavior.
type Config struct {
	// InitialBackoff is the first retry delay. Doubles per attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration
}

// DefaultConfig matches the documented 1s..30s schedule.
func DefaultConfig() Config {
	return Config{InitialBackoff: time.Second, MaxBackoff: 30 * time.Second}
}

// Manager maintains at most one live channel per topic.
type Manager struct {
	tr  transport.Transport
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	topics map[wire.Topic]*topicSub
	nextID int
}

// NewManager creates a Manager over the given transport.
func NewManager(tr transport.Transport, cfg Config, log zerolog.Logger) *Manager {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Manager{
		tr:     tr,
		cfg:    cfg,
		log:    log,
		topics: make(map[wire.Topic]*topicSub),
	}
}

// Handle represents one consumer's attachment to a topic subscription.
type Handle struct {
	m        *Manager
	topic    wire.Topic
	id       int
	released bool
	mu       sync.Mutex
}

// Topic returns the handle's topic.
func (h *Handle) Topic() wire.Topic { return h.topic }

// Release detaches the consumer. The channel is torn down, and all backoff
// timers cancelled, when the last handle for the topic is released.
// Idempotent.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()
	h.m.detach(h.topic, h.id)
}

// Subscribe attaches a consumer to topic, opening the underlying channel if
// this is the first consumer. onEvent receives the topic's events in
// transport order; onStatus receives connection state transitions. Both are
// invoked from the subscription's pump goroutine and must not block.
func (m *Manager) Subscribe(topic wire.Topic, onEvent func(wire.Event), onStatus func(StatusChange)) *Handle {
	m.mu.Lock()
	sub, ok := m.topics[topic]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		sub = &topicSub{
			topic:      topic,
			consumers:  make(map[int]*consumer),
			cancel:     cancel,
			done:       make(chan struct{}),
			lastStatus: StatusChange{Status: StatusConnecting},
		}
		m.topics[topic] = sub
		go m.run(ctx, sub)
	}
	m.nextID++
	id := m.nextID
	// Attach before releasing m.mu: a concurrent Release of the topic's last
	// existing handle must see this consumer, or it would tear the sub down
	// underneath us.
	last := sub.attach(id, &consumer{onEvent: onEvent, onStatus: onStatus})
	m.mu.Unlock()

	// Late joiners see the current connection state immediately.
	if onStatus != nil {
		onStatus(last)
	}
	return &Handle{m: m, topic: topic, id: id}
}

// Outstanding returns the number of attached handles for topic. Zero means
// no channel, timers, or goroutines remain for it.
func (m *Manager) Outstanding(topic wire.Topic) int {
	m.mu.Lock()
	sub, ok := m.topics[topic]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return sub.refs()
}

// Close releases every topic. Used on client shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := make([]*topicSub, 0, len(m.topics))
	for _, sub := range m.topics {
		subs = append(subs, sub)
	}
	m.topics = make(map[wire.Topic]*topicSub)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
}

func (m *Manager) detach(topic wire.Topic, id int) {
	m.mu.Lock()
	sub, ok := m.topics[topic]
	if !ok {
		m.mu.Unlock()
		return
	}
	last := sub.detach(id)
	if last {
		delete(m.topics, topic)
	}
	m.mu.Unlock()

	if last {
		sub.cancel()
		<-sub.done
	}
}

// run is the per-topic connect/pump loop. It owns the channel object and is
// the only goroutine invoking consumer callbacks for its topic, preserving
// transport order end to end.
func (m *Manager) run(ctx context.Context, sub *topicSub) {
	defer close(sub.done)

	attempt := 0
	everLive := false

	for {
		if ctx.Err() != nil {
			return
		}

		ch, err := m.tr.SubscribeChannel(ctx, sub.topic)
		if err != nil {
			attempt++
			m.log.Warn().Str("topic", string(sub.topic)).Int("attempt", attempt).Err(err).
				Msg("channel establish failed, backing off")
			sub.setStatus(StatusChange{Status: StatusDegraded})
			if !m.sleep(ctx, m.backoff(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		sub.setStatus(StatusChange{Status: StatusLive, Resync: everLive})
		everLive = true
		m.log.Debug().Str("topic", string(sub.topic)).Msg("channel live")

		if !m.pump(ctx, sub, ch) {
			ch.Close()
			return
		}

		m.log.Warn().Str("topic", string(sub.topic)).Err(ch.Err()).Msg("channel lost, reconnecting")
		// Close is the release point of the Channel contract; the failed
		// channel may still hold transport resources.
		ch.Close()
		sub.setStatus(StatusChange{Status: StatusDegraded})
		attempt = 1
		if !m.sleep(ctx, m.backoff(attempt)) {
			return
		}
	}
}

// pump forwards channel events to consumers. Returns false when the context
// was cancelled, true when the channel itself failed and a reconnect is due.
func (m *Manager) pump(ctx context.Context, sub *topicSub, ch transport.Channel) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-ch.Events():
			if !ok {
				return true
			}
			sub.fanout(ev)
		}
	}
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.MaxBackoff {
			return m.cfg.MaxBackoff
		}
	}
	if d > m.cfg.MaxBackoff {
		d = m.cfg.MaxBackoff
	}
	return d
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type consumer struct {
	onEvent  func(wire.Event)
	onStatus func(StatusChange)
}

type topicSub struct {
	topic  wire.Topic
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	consumers  map[int]*consumer
	lastStatus StatusChange
}

// attach registers the consumer and returns the status it should replay.
// Callers hold m.mu.
func (s *topicSub) attach(id int, c *consumer) StatusChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers[id] = c
	return s.lastStatus
}

func (s *topicSub) detach(id int) (last bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.consumers, id)
	return len(s.consumers) == 0
}

func (s *topicSub) refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers)
}

func (s *topicSub) setStatus(st StatusChange) {
	s.mu.Lock()
	s.lastStatus = st
	consumers := make([]*consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	for _, c := range consumers {
		if c.onStatus != nil {
			c.onStatus(st)
		}
	}
}

func (s *topicSub) fanout(ev wire.Event) {
	s.mu.Lock()
	consumers := make([]*consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	for _, c := range consumers {
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	}
}
