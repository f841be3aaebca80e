package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/reconcile"
	"github.com/cyb3rh3ad/auradesk/internal/transport"
)

// storeRuntime interprets reconciler effects: snapshot fetches and message
// inserts run asynchronously against the store; retry timers are tracked so
// releasing the view cancels them.
type storeRuntime struct {
	store transport.Store
	clock actor.Clock
	log   zerolog.Logger

	mu     sync.Mutex
	timers []*time.Timer
}

var _ actor.Runtime = (*storeRuntime)(nil)

func newStoreRuntime(store transport.Store, clock actor.Clock, log zerolog.Logger) *storeRuntime {
	return &storeRuntime{store: store, clock: clock, log: log}
}

// HandleEffects implements actor.Runtime.
func (r *storeRuntime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case reconcile.EffFetchSnapshot:
			go r.fetchSnapshot(ctx, e, emit)
		case reconcile.EffScheduleRetry:
			r.armRetry(ctx, e, emit)
		case reconcile.EffInsert:
			go r.insert(ctx, e, emit)
		case reconcile.EffProtocolViolation:
			r.log.Warn().Err(e.Err).Msg("discarded malformed event")
		}
	}
}

// Stop implements actor.Runtime, cancelling pending retry timers.
func (r *storeRuntime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
}

func (r *storeRuntime) fetchSnapshot(ctx context.Context, e reconcile.EffFetchSnapshot, emit func(actor.Input)) {
	msgs, err := r.store.FetchSnapshot(ctx, e.Topic, e.Limit)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		r.log.Warn().Str("topic", string(e.Topic)).Int("attempt", e.Attempt).Err(err).
			Msg("snapshot fetch failed")
		emit(reconcile.EvSnapshotFailed{Err: err, NowMs: actor.NowMs(r.clock)})
		return
	}
	emit(reconcile.EvSnapshot{Messages: msgs, NowMs: actor.NowMs(r.clock)})
}

func (r *storeRuntime) armRetry(ctx context.Context, e reconcile.EffScheduleRetry, emit func(actor.Input)) {
	t := time.AfterFunc(e.After, func() {
		if ctx.Err() != nil {
			return
		}
		emit(reconcile.EvRetryTimer{Attempt: e.Attempt})
	})
	r.mu.Lock()
	r.timers = append(r.timers, t)
	r.mu.Unlock()
}

func (r *storeRuntime) insert(ctx context.Context, e reconcile.EffInsert, emit func(actor.Input)) {
	// Sends are fire-and-forget once issued: the insert itself is not
	// cancelled on view release, only its result delivery is.
	msg, err := r.store.InsertMessage(context.WithoutCancel(ctx), e.ConversationID, e.SenderID, e.Content, e.LocalID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		r.log.Warn().Str("localId", e.LocalID).Err(err).Msg("message insert rejected")
		emit(reconcile.EvSendFailed{LocalID: e.LocalID, Err: err, NowMs: actor.NowMs(r.clock)})
		return
	}
	emit(reconcile.EvSendAccepted{Message: msg, NowMs: actor.NowMs(r.clock)})
}
