// Package actortest provides fakes for testing reducers and actor wiring:
// a runtime that records effects instead of interpreting them, and a manually
// driven clock.
package actortest

import (
	"context"
	"sync"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
)

// FakeRuntime captures every effect a reducer produces so tests can assert on
// the declared side-effects without any I/O happening.
//
// Effects are inert by default. Setting EmitFn turns selected effects into
// synchronous follow-up inputs, which is how tests script a store reply or a
// timer firing inline.
type FakeRuntime struct {
	mu sync.Mutex

	effects []actor.Effect

	// EmitFn, when non-nil, is invoked per effect during HandleEffects with
	// the actor's emit callback.
	EmitFn func(ctx context.Context, eff actor.Effect, emit func(actor.Input))
}

// HandleEffects implements actor.Runtime.
func (r *FakeRuntime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	r.mu.Lock()
	r.effects = append(r.effects, effects...)
	emitFn := r.EmitFn
	r.mu.Unlock()

	if emitFn != nil {
		for _, eff := range effects {
			emitFn(ctx, eff, emit)
		}
	}
}

// Stop implements actor.Runtime.
func (r *FakeRuntime) Stop() {}

// Effects returns a snapshot of the effects recorded so far.
func (r *FakeRuntime) Effects() []actor.Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]actor.Effect, len(r.effects))
	copy(out, r.effects)
	return out
}

// Reset clears recorded effects, typically between phases of one scenario.
func (r *FakeRuntime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects = nil
}
