package client

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/ephemeral"
	"github.com/cyb3rh3ad/auradesk/internal/transport"
)

// broadcastRuntime interprets broadcaster effects: fire-and-forget publishes
// and named one-shot timers (idle, heartbeat, sweep) scoped to the view.
type broadcastRuntime struct {
	tr    transport.Transport
	clock actor.Clock
	log   zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

var _ actor.Runtime = (*broadcastRuntime)(nil)

func newBroadcastRuntime(tr transport.Transport, clock actor.Clock, log zerolog.Logger) *broadcastRuntime {
	return &broadcastRuntime{tr: tr, clock: clock, log: log, timers: make(map[string]*time.Timer)}
}

// HandleEffects implements actor.Runtime.
func (r *broadcastRuntime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case ephemeral.EffBroadcast:
			go func(e ephemeral.EffBroadcast) {
				// Best-effort: a lost broadcast heals via the next
				// heartbeat or the peer-side TTL.
				if err := r.tr.SendBroadcast(ctx, e.Topic, e.Payload); err != nil {
					r.log.Debug().Str("topic", string(e.Topic)).Err(err).Msg("broadcast dropped")
				}
			}(e)
		case ephemeral.EffArmTimer:
			r.armTimer(ctx, e, emit)
		case ephemeral.EffProtocolViolation:
			r.log.Warn().Err(e.Err).Msg("discarded malformed signal")
		}
	}
}

// Stop implements actor.Runtime, cancelling all named timers.
func (r *broadcastRuntime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = make(map[string]*time.Timer)
}

func (r *broadcastRuntime) armTimer(ctx context.Context, e ephemeral.EffArmTimer, emit func(actor.Input)) {
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		now := actor.NowMs(r.clock)
		switch e.Name {
		case ephemeral.TimerIdle:
			emit(ephemeral.EvIdleTimer{NowMs: now})
		case ephemeral.TimerHeartbeat:
			emit(ephemeral.EvHeartbeatTimer{NowMs: now})
		case ephemeral.TimerSweep:
			emit(ephemeral.EvSweepTimer{NowMs: now})
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[e.Name]; ok {
		t.Stop()
	}
	r.timers[e.Name] = time.AfterFunc(e.After, fire)
}
