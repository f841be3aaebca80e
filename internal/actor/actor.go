// Package actor provides a small actor-style event loop that supports pure
// state reducers and declarative side-effects.
//
// The core idea is:
//   - A single goroutine ("the loop") owns all mutable state for one topic.
//   - A pure reducer transforms state given an input and returns effects.
//   - A runtime interprets effects asynchronously and emits events back.
//
// Reducers never perform I/O and never read wall clocks; timestamps arrive on
// inputs. This keeps every state transition deterministic and directly
// testable with Step and a fake clock.
package actor

import (
	"context"
	"sync"
)

// Input is an item delivered to an actor mailbox. Inputs are either commands
// (requests from callers) or events (observations from the runtime).
type Input interface {
	isActorInput()
}

// Effect is a declarative side-effect produced by a reducer. Effects are data,
// not execution; the Runtime interprets them.
type Effect interface {
	isActorEffect()
}

// ReducerFunc is a pure state transition function.
//
// Reducers must be side-effect free: no I/O, no goroutine spawning, no
// time.Now or random IDs. Inject those through inputs instead.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime interprets effects and emits follow-up inputs back to the actor.
//
// HandleEffects must return quickly; blocking work runs asynchronously.
// Implementations must stop emitting once the context is canceled.
type Runtime interface {
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))
	Stop()
}

// Actor runs a single-threaded event loop that owns state of type S.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime

	// onTransition, when set, is called after every applied transition. Used
	// by owners to wake observers; must not block.
	onTransition func(prev, next S)

	mu     sync.Mutex
	state  S
	inbox  chan Input
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates an actor with initial state, reducer, and runtime.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, 256),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithTransitionHook registers a callback invoked after each transition.
func WithTransitionHook[S any](fn func(prev, next S)) Option[S] {
	return func(a *Actor[S]) { a.onTransition = fn }
}

// Start launches the actor loop. Start is idempotent.
func (a *Actor[S]) Start() {
	a.once.Do(func() { go a.loop() })
}

// Stop cancels the actor context and stops the runtime. Safe to call
// multiple times.
func (a *Actor[S]) Stop() {
	a.cancel()
	if a.runtime != nil {
		a.runtime.Stop()
	}
}

// Done returns a channel that closes when the actor loop exits.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Post delivers an input to the actor mailbox. Returns false if the actor is
// stopped or the mailbox is full.
func (a *Actor[S]) Post(input Input) bool {
	if input == nil {
		return false
	}
	select {
	case <-a.ctx.Done():
		return false
	default:
	}
	select {
	case a.inbox <- input:
		return true
	default:
		return false
	}
}

// PostWait delivers an input, blocking while the mailbox is full. Returns
// false once the actor is stopped. Runtime emits use this path so an effect
// result is never silently dropped under load.
func (a *Actor[S]) PostWait(input Input) bool {
	if input == nil {
		return false
	}
	select {
	case <-a.ctx.Done():
		return false
	default:
	}
	select {
	case a.inbox <- input:
		return true
	case <-a.ctx.Done():
		return false
	}
}

// State returns a snapshot of the current actor state. Intended for reads by
// the owning view and for tests; behavior should derive from reducer outputs.
func (a *Actor[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Actor[S]) loop() {
	defer close(a.done)

	// Emits come from runtime goroutines; HandleEffects itself must not
	// block, so waiting here cannot deadlock the loop.
	emit := func(in Input) {
		a.PostWait(in)
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			if in == nil {
				continue
			}

			a.mu.Lock()
			prev := a.state
			a.mu.Unlock()

			next, effects := a.reduce(prev, in)

			a.mu.Lock()
			a.state = next
			a.mu.Unlock()

			if a.onTransition != nil {
				a.onTransition(prev, next)
			}
			if a.runtime != nil && len(effects) > 0 {
				a.runtime.HandleEffects(a.ctx, effects, emit)
			}
		}
	}
}
