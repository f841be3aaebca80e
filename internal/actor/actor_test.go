package actor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/actor/actortest"
)

type testEvent struct {
	actor.InputBase
	n int
}

type testEffect struct {
	actor.EffectBase
	n int
}

func countingReducer(state int, input actor.Input) (int, []actor.Effect) {
	ev, ok := input.(testEvent)
	if !ok {
		return state, nil
	}
	return state + ev.n, []actor.Effect{testEffect{n: ev.n}}
}

func waitForState(t *testing.T, a *actor.Actor[int], want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state=%d, want %d", a.State(), want)
}

func TestActorProcessesInputsSequentially(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, countingReducer, rt)
	a.Start()
	defer a.Stop()

	for i := 1; i <= 5; i++ {
		if !a.Post(testEvent{n: i}) {
			t.Fatalf("failed to post %d", i)
		}
	}

	waitForState(t, a, 15)
	if effects := rt.Effects(); len(effects) != 5 {
		t.Fatalf("effects=%d, want 5", len(effects))
	}
}

func TestActorRuntimeFeedbackLoop(t *testing.T) {
	t.Parallel()

	// The runtime echoes each effect back as a follow-up input once,
	// exercising the emit path.
	rt := &actortest.FakeRuntime{}
	rt.EmitFn = func(_ context.Context, eff actor.Effect, emit func(actor.Input)) {
		if e, ok := eff.(testEffect); ok && e.n > 0 {
			emit(testEvent{n: -e.n})
		}
	}

	reducer := func(state int, input actor.Input) (int, []actor.Effect) {
		ev, ok := input.(testEvent)
		if !ok {
			return state, nil
		}
		next := state + ev.n
		if ev.n > 0 {
			return next, []actor.Effect{testEffect{n: ev.n}}
		}
		return next, nil
	}

	a := actor.New[int](0, reducer, rt)
	a.Start()
	defer a.Stop()

	a.Post(testEvent{n: 7})

	// 0 +7 (command) -7 (echo) settles back at 0.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.State() == 0 && len(rt.Effects()) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state=%d effects=%d, want 0/1", a.State(), len(rt.Effects()))
}

func TestActorTransitionHookSeesEveryTransition(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var transitions [][2]int

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, countingReducer, rt,
		actor.WithTransitionHook[int](func(prev, next int) {
			mu.Lock()
			transitions = append(transitions, [2]int{prev, next})
			mu.Unlock()
		}))
	a.Start()
	defer a.Stop()

	a.Post(testEvent{n: 1})
	a.Post(testEvent{n: 2})
	waitForState(t, a, 3)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 2 {
		t.Fatalf("transitions=%d, want 2", len(transitions))
	}
	if transitions[0] != [2]int{0, 1} || transitions[1] != [2]int{1, 3} {
		t.Fatalf("transitions=%v", transitions)
	}
}

func TestActorPostAfterStopReturnsFalse(t *testing.T) {
	t.Parallel()

	a := actor.New[int](0, countingReducer, &actortest.FakeRuntime{})
	a.Start()
	a.Stop()

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("actor did not stop")
	}

	if a.Post(testEvent{n: 1}) {
		t.Fatalf("Post accepted after Stop")
	}
	// Stop is idempotent.
	a.Stop()
}

func TestActorPostWaitBlocksUntilMailboxDrains(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, countingReducer, rt)

	// Fill the mailbox before the loop starts consuming.
	posted := 0
	sum := 0
	for a.Post(testEvent{n: 1}) {
		posted++
		sum++
	}
	if posted == 0 {
		t.Fatalf("mailbox accepted nothing")
	}

	delivered := make(chan bool, 1)
	go func() {
		delivered <- a.PostWait(testEvent{n: 2})
	}()

	select {
	case <-delivered:
		t.Fatalf("PostWait returned while the mailbox was full")
	case <-time.After(20 * time.Millisecond):
	}

	a.Start()
	defer a.Stop()

	select {
	case ok := <-delivered:
		if !ok {
			t.Fatalf("PostWait=false, want delivery once the loop drained")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("PostWait never delivered")
	}
	waitForState(t, a, sum+2)
}

func TestActorPostWaitAfterStopReturnsFalse(t *testing.T) {
	t.Parallel()

	a := actor.New[int](0, countingReducer, &actortest.FakeRuntime{})
	a.Start()
	a.Stop()
	<-a.Done()

	if a.PostWait(testEvent{n: 1}) {
		t.Fatalf("PostWait accepted after Stop")
	}
}

func TestStepAndDriveAreSynchronous(t *testing.T) {
	t.Parallel()

	state, effects := actor.Step(0, testEvent{n: 3}, countingReducer)
	if state != 3 || len(effects) != 1 {
		t.Fatalf("state=%d effects=%d, want 3/1", state, len(effects))
	}

	state, effects = actor.Drive(0, countingReducer,
		testEvent{n: 1}, testEvent{n: 2}, testEvent{n: 3})
	if state != 6 {
		t.Fatalf("state=%d, want 6", state)
	}
	if len(effects) != 3 {
		t.Fatalf("effects=%d, want 3", len(effects))
	}
}
