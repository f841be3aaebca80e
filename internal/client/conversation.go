package client

import (
	"context"
	"sync"
	"time"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/enrich"
	"github.com/cyb3rh3ad/auradesk/internal/reconcile"
	"github.com/cyb3rh3ad/auradesk/internal/subscription"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

// pendingSweepInterval paces the stuck-pending check.
const pendingSweepInterval = time.Second

// EnrichedMessage is a timeline entry joined with its sender profile.
type EnrichedMessage struct {
	reconcile.Entry
	Sender wire.Profile
}

// ViewStatus is the user-visible state of a conversation view.
type ViewStatus struct {
	Phase reconcile.Phase
	// Stale is true when fetch retries exhausted; shown data may lag.
	Stale bool
	// Conn is the channel connection state.
	Conn subscription.Status
}

// ConversationView materializes one conversation: reconciled messages plus
// lazily joined sender profiles.
type ConversationView struct {
	topic    wire.Topic
	client   *Client
	act      *actor.Actor[reconcile.State]
	runtime  *storeRuntime
	resolver *enrich.Resolver
	handle   *subscription.Handle
	updates  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      subscription.Status
	resolving map[string]bool

	closeOnce sync.Once
}

// WatchConversation opens (or attaches to) the conversation's messages topic
// and begins reconciling.
func (c *Client) WatchConversation(conversationID string) *ConversationView {
	topic := wire.MessagesTopic(conversationID)
	ctx, cancel := context.WithCancel(context.Background())

	v := &ConversationView{
		topic:     topic,
		client:    c,
		runtime:   newStoreRuntime(c.store, c.clock, c.log),
		resolver:  enrich.NewResolver(c.store),
		updates:   make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		conn:      subscription.StatusConnecting,
		resolving: make(map[string]bool),
	}

	initial := reconcile.NewState(topic, c.auth.CurrentUserID())
	v.act = actor.New(initial, reconcile.Reduce, v.runtime,
		actor.WithTransitionHook(v.onTransition))
	v.act.Start()

	v.handle = c.subs.Subscribe(topic, v.onEvent, v.onStatus)
	v.act.Post(reconcile.CmdStart{Limit: c.opts.SnapshotLimit})

	go v.sweepPending()

	return v
}

// Messages returns the materialized timeline with sender profiles joined
// from the per-topic cache; senders not yet resolved appear as Unknown until
// the in-flight lookup lands and Updates fires.
func (v *ConversationView) Messages() []EnrichedMessage {
	entries := v.act.State().Messages()
	out := make([]EnrichedMessage, 0, len(entries))
	for _, e := range entries {
		p, ok := v.resolver.Cached(e.Msg.SenderID)
		if !ok {
			p = wire.UnknownProfile(e.Msg.SenderID)
		}
		out = append(out, EnrichedMessage{Entry: e, Sender: p})
	}
	return out
}

// Status returns the current view status.
func (v *ConversationView) Status() ViewStatus {
	s := v.act.State()
	v.mu.Lock()
	conn := v.conn
	v.mu.Unlock()
	return ViewStatus{Phase: s.Phase, Stale: s.Stale, Conn: conn}
}

// Updates signals (coalesced) that Messages or Status changed.
func (v *ConversationView) Updates() <-chan struct{} { return v.updates }

// Send optimistically appends content and issues the insert. Returns the
// local correlation id; a failed send surfaces on its entry for RetrySend.
func (v *ConversationView) Send(content string) string {
	localID := wire.NewLocalID()
	v.act.Post(reconcile.CmdSend{
		LocalID: localID,
		Content: content,
		NowMs:   actor.NowMs(v.client.clock),
	})
	return localID
}

// RetrySend re-issues a failed send.
func (v *ConversationView) RetrySend(localID string) {
	v.act.Post(reconcile.CmdRetrySend{LocalID: localID, NowMs: actor.NowMs(v.client.clock)})
}

// Close releases the subscription and cancels all retries and enrichment
// lookups scoped to this view. Idempotent.
func (v *ConversationView) Close() {
	v.closeOnce.Do(func() {
		v.handle.Release()
		v.cancel()
		v.act.Stop()
	})
}

func (v *ConversationView) onEvent(ev wire.Event) {
	v.act.Post(reconcile.EvChannelEvent{Event: ev, NowMs: actor.NowMs(v.client.clock)})
}

func (v *ConversationView) onStatus(st subscription.StatusChange) {
	v.mu.Lock()
	v.conn = st.Status
	v.mu.Unlock()

	if st.Resync {
		// Events during the outage were not replayed; re-fetch and merge.
		v.act.Post(reconcile.CmdResync{Limit: v.client.opts.SnapshotLimit})
	}
	v.notify()
}

func (v *ConversationView) onTransition(prev, next reconcile.State) {
	v.notify()
	v.enrichNew(next)
}

// enrichNew batches profile lookups for senders the cache has not seen.
func (v *ConversationView) enrichNew(s reconcile.State) {
	var missing []string
	v.mu.Lock()
	for _, e := range s.Timeline {
		id := e.Msg.SenderID
		if id == "" || v.resolving[id] {
			continue
		}
		if _, ok := v.resolver.Cached(id); ok {
			continue
		}
		v.resolving[id] = true
		missing = append(missing, id)
	}
	v.mu.Unlock()

	if len(missing) == 0 {
		return
	}

	go func() {
		_, err := v.resolver.Resolve(v.ctx, missing)
		v.mu.Lock()
		for _, id := range missing {
			// On failure the ids become eligible again; the next timeline
			// change retries the batch.
			delete(v.resolving, id)
		}
		v.mu.Unlock()
		if err != nil {
			if v.ctx.Err() == nil {
				v.client.log.Warn().Err(err).Msg("profile enrichment failed")
			}
			return
		}
		v.notify()
	}()
}

// sweepPending drives the stuck-pending timeout while the view is open.
func (v *ConversationView) sweepPending() {
	t := time.NewTicker(pendingSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-v.ctx.Done():
			return
		case <-t.C:
			v.act.Post(reconcile.EvTick{NowMs: actor.NowMs(v.client.clock)})
		}
	}
}

func (v *ConversationView) notify() {
	select {
	case v.updates <- struct{}{}:
	default:
	}
}
