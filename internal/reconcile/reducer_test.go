package reconcile

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

const testTopic = wire.Topic("messages:c42")

func confirmed(id string, createdAt int64) wire.Message {
	return wire.Message{
		ID:             id,
		ConversationID: "c42",
		SenderID:       "alice",
		Content:        "msg " + id,
		CreatedAt:      createdAt,
	}
}

func insertEvent(t *testing.T, msg wire.Message) EvChannelEvent {
	t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return EvChannelEvent{
		Event: wire.Event{Topic: testTopic, Kind: wire.EventInsert, Payload: payload, ServerTime: msg.CreatedAt},
		NowMs: msg.CreatedAt,
	}
}

func ids(timeline []Entry) []string {
	out := make([]string, len(timeline))
	for i, e := range timeline {
		out[i] = e.Msg.ID
	}
	return out
}

func wantIDs(t *testing.T, timeline []Entry, want ...string) {
	t.Helper()
	got := ids(timeline)
	if len(got) != len(want) {
		t.Fatalf("timeline=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("timeline=%v, want %v", got, want)
		}
	}
}

func TestReduceStart_FetchesSnapshotOnce(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	next, effects := Reduce(state, CmdStart{Limit: 50})
	if next.Phase != PhaseLoading {
		t.Fatalf("Phase=%v, want %v", next.Phase, PhaseLoading)
	}
	if len(effects) != 1 {
		t.Fatalf("effects=%d, want 1", len(effects))
	}
	fetch, ok := effects[0].(EffFetchSnapshot)
	if !ok {
		t.Fatalf("effect=%T, want EffFetchSnapshot", effects[0])
	}
	if fetch.Topic != testTopic || fetch.Limit != 50 || fetch.Attempt != 1 {
		t.Fatalf("fetch=%+v", fetch)
	}

	// A second start is a no-op.
	again, effects := Reduce(next, CmdStart{Limit: 50})
	if again.Phase != PhaseLoading || len(effects) != 0 {
		t.Fatalf("restart: phase=%v effects=%d", again.Phase, len(effects))
	}
}

func TestReduceSnapshot_MergesBufferedEvents(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})

	// m2 and m3 race the snapshot fetch; m2 is also in the snapshot.
	state, _ = Reduce(state, insertEvent(t, confirmed("m2", 200)))
	state, _ = Reduce(state, insertEvent(t, confirmed("m3", 300)))
	if state.Phase != PhaseLoading || len(state.Buffered) != 2 {
		t.Fatalf("phase=%v buffered=%d, want loading/2", state.Phase, len(state.Buffered))
	}

	state, effects := Reduce(state, EvSnapshot{
		Messages: []wire.Message{confirmed("m1", 100), confirmed("m2", 200)},
		NowMs:    400,
	})
	if len(effects) != 0 {
		t.Fatalf("effects=%d, want 0", len(effects))
	}
	if state.Phase != PhaseLive {
		t.Fatalf("Phase=%v, want %v", state.Phase, PhaseLive)
	}
	if state.Buffered != nil {
		t.Fatalf("Buffered=%v, want nil", state.Buffered)
	}
	wantIDs(t, state.Timeline, "m1", "m2", "m3")
}

func TestReduceChannelEvent_RedeliveryIsAbsorbed(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{Messages: []wire.Message{confirmed("m1", 100)}})

	ev := insertEvent(t, confirmed("m2", 200))
	state, _ = Reduce(state, ev)
	state, _ = Reduce(state, ev)
	state, _ = Reduce(state, ev)
	wantIDs(t, state.Timeline, "m1", "m2")
}

func TestReduceChannelEvent_OutOfOrderInsertsSorted(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{Messages: []wire.Message{confirmed("m5", 500)}})

	state, _ = Reduce(state, insertEvent(t, confirmed("m2", 200)))
	state, _ = Reduce(state, insertEvent(t, confirmed("m7", 700)))
	wantIDs(t, state.Timeline, "m2", "m5", "m7")
}

func TestReduceChannelEvent_UpdateAndDelete(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{
		Messages: []wire.Message{confirmed("m1", 100), confirmed("m2", 200)},
	})

	edited := confirmed("m1", 100)
	edited.Content = "edited"
	payload, _ := json.Marshal(edited)
	state, _ = Reduce(state, EvChannelEvent{
		Event: wire.Event{Topic: testTopic, Kind: wire.EventUpdate, Payload: payload},
	})
	if got := state.Timeline[0].Msg.Content; got != "edited" {
		t.Fatalf("content=%q, want edited", got)
	}

	state, _ = Reduce(state, EvChannelEvent{
		Event: wire.Event{Topic: testTopic, Kind: wire.EventDelete, Payload: payload},
	})
	wantIDs(t, state.Timeline, "m2")
}

func TestReduceChannelEvent_MalformedPayloadReportsViolation(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{Messages: []wire.Message{confirmed("m1", 100)}})

	next, effects := Reduce(state, EvChannelEvent{
		Event: wire.Event{Topic: testTopic, Kind: wire.EventInsert, Payload: json.RawMessage(`{"id":""}`)},
	})
	if len(effects) != 1 {
		t.Fatalf("effects=%d, want 1", len(effects))
	}
	violation, ok := effects[0].(EffProtocolViolation)
	if !ok {
		t.Fatalf("effect=%T, want EffProtocolViolation", effects[0])
	}
	var perr *wire.ProtocolError
	if !errors.As(violation.Err, &perr) {
		t.Fatalf("err=%v, want ProtocolError", violation.Err)
	}
	wantIDs(t, next.Timeline, "m1")
}

func TestReduceChannelEvent_OtherTopicIgnored(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{Messages: nil})

	other := insertEvent(t, confirmed("m1", 100))
	other.Event.Topic = wire.Topic("messages:c99")
	state, effects := Reduce(state, other)
	if len(state.Timeline) != 0 || len(effects) != 0 {
		t.Fatalf("timeline=%d effects=%d, want 0/0", len(state.Timeline), len(effects))
	}
}

func TestReduceSend_OptimisticEntryAndConfirmation(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{Messages: []wire.Message{confirmed("m1", 100)}})

	state, effects := Reduce(state, CmdSend{LocalID: "local-1", Content: "hello", NowMs: 150})
	if len(effects) != 1 {
		t.Fatalf("effects=%d, want 1", len(effects))
	}
	ins, ok := effects[0].(EffInsert)
	if !ok || ins.LocalID != "local-1" || ins.ConversationID != "c42" || ins.SenderID != "me" {
		t.Fatalf("insert=%+v", effects[0])
	}
	wantIDs(t, state.Timeline, "m1", "local-1")
	if !state.Timeline[1].Pending {
		t.Fatalf("expected pending entry")
	}

	// Server row replaces the optimistic entry via the local id.
	server := wire.Message{
		ID: "srv-42", LocalID: "local-1", ConversationID: "c42",
		SenderID: "me", Content: "hello", CreatedAt: 160,
	}
	state, _ = Reduce(state, EvSendAccepted{Message: server, NowMs: 160})
	wantIDs(t, state.Timeline, "m1", "srv-42")
	if state.Timeline[1].Pending || state.Timeline[1].Failed {
		t.Fatalf("entry=%+v, want confirmed", state.Timeline[1])
	}

	// The channel echo of the same row is a duplicate.
	state, _ = Reduce(state, insertEvent(t, server))
	wantIDs(t, state.Timeline, "m1", "srv-42")
}

func TestReduceSend_ChannelConfirmationBeforeRPCReply(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{Messages: nil})
	state, _ = Reduce(state, CmdSend{LocalID: "local-1", Content: "hello", NowMs: 150})

	server := wire.Message{
		ID: "srv-42", LocalID: "local-1", ConversationID: "c42",
		SenderID: "me", Content: "hello", CreatedAt: 160,
	}
	state, _ = Reduce(state, insertEvent(t, server))
	wantIDs(t, state.Timeline, "srv-42")

	// The RPC reply lands second; still exactly one entry.
	state, _ = Reduce(state, EvSendAccepted{Message: server, NowMs: 170})
	wantIDs(t, state.Timeline, "srv-42")
}

func TestApplyConfirmed_FallbackSenderContentMatch(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{Messages: nil})
	state, _ = Reduce(state, CmdSend{LocalID: "local-1", Content: "hello", NowMs: 1000})

	// Confirmation without the local id echo: correlate by sender and
	// content inside the window.
	server := wire.Message{
		ID: "srv-9", ConversationID: "c42", SenderID: "me",
		Content: "hello", CreatedAt: 3000,
	}
	state, _ = Reduce(state, insertEvent(t, server))
	wantIDs(t, state.Timeline, "srv-9")
	if state.Timeline[0].Pending {
		t.Fatalf("entry still pending after fallback match")
	}
}

func TestApplyConfirmed_FallbackRespectsWindow(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{Messages: nil})
	state, _ = Reduce(state, CmdSend{LocalID: "local-1", Content: "hello", NowMs: 1000})

	// Same content but far outside the correlation window: a distinct
	// message, not a confirmation.
	server := wire.Message{
		ID: "srv-9", ConversationID: "c42", SenderID: "me",
		Content: "hello", CreatedAt: 1000 + CorrelationWindow.Milliseconds() + 1,
	}
	state, _ = Reduce(state, insertEvent(t, server))
	wantIDs(t, state.Timeline, "local-1", "srv-9")
	if !state.Timeline[0].Pending {
		t.Fatalf("optimistic entry lost")
	}
}

func TestReduceSendFailed_KeepsEntryVisibleAndRetryable(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{Messages: nil})
	state, _ = Reduce(state, CmdSend{LocalID: "local-1", Content: "hello", NowMs: 100})

	state, _ = Reduce(state, EvSendFailed{LocalID: "local-1", Err: errors.New("boom")})
	if !state.Timeline[0].Failed || state.Timeline[0].Pending {
		t.Fatalf("entry=%+v, want failed", state.Timeline[0])
	}

	state, effects := Reduce(state, CmdRetrySend{LocalID: "local-1", NowMs: 200})
	if !state.Timeline[0].Pending || state.Timeline[0].Failed {
		t.Fatalf("entry=%+v, want pending again", state.Timeline[0])
	}
	if len(effects) != 1 {
		t.Fatalf("effects=%d, want 1", len(effects))
	}
	if ins := effects[0].(EffInsert); ins.LocalID != "local-1" || ins.Content != "hello" {
		t.Fatalf("insert=%+v", ins)
	}
}

func TestReduceTick_TimesOutStuckPending(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{Messages: nil})
	state, _ = Reduce(state, CmdSend{LocalID: "local-1", Content: "hello", NowMs: 1000})

	before := 1000 + PendingTimeout.Milliseconds() - 1
	state, _ = Reduce(state, EvTick{NowMs: before})
	if state.Timeline[0].Failed {
		t.Fatalf("entry failed before the timeout")
	}

	state, _ = Reduce(state, EvTick{NowMs: 1000 + PendingTimeout.Milliseconds()})
	if !state.Timeline[0].Failed || state.Timeline[0].Pending {
		t.Fatalf("entry=%+v, want failed after timeout", state.Timeline[0])
	}
	wantIDs(t, state.Timeline, "local-1")
}

func TestReduceSnapshotFailed_BacksOffThenGoesStale(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})

	var last actor.Effect
	for attempt := 1; attempt < MaxFetchAttempts; attempt++ {
		var effects []actor.Effect
		state, effects = Reduce(state, EvSnapshotFailed{Err: errors.New("boom")})
		if len(effects) != 1 {
			t.Fatalf("attempt %d: effects=%d, want 1", attempt, len(effects))
		}
		last = effects[0]
		retry := last.(EffScheduleRetry)
		if retry.After != fetchBackoff(attempt) {
			t.Fatalf("attempt %d: backoff=%v, want %v", attempt, retry.After, fetchBackoff(attempt))
		}
		state, effects = Reduce(state, EvRetryTimer{Attempt: retry.Attempt})
		if len(effects) != 1 {
			t.Fatalf("attempt %d: retry fired no fetch", attempt)
		}
	}

	state, effects := Reduce(state, EvSnapshotFailed{Err: errors.New("boom")})
	if len(effects) != 0 {
		t.Fatalf("effects after ceiling=%d, want 0", len(effects))
	}
	if !state.Stale {
		t.Fatalf("Stale=false, want true")
	}
}

func TestReduceRetry_KeepsConfiguredSnapshotLimit(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, effects := Reduce(state, CmdStart{Limit: 100})
	if fetch := effects[0].(EffFetchSnapshot); fetch.Limit != 100 {
		t.Fatalf("initial fetch limit=%d, want 100", fetch.Limit)
	}

	state, effects = Reduce(state, EvSnapshotFailed{Err: errors.New("boom")})
	retry := effects[0].(EffScheduleRetry)

	// The retried fetch must request the same window, not the full history.
	_, effects = Reduce(state, EvRetryTimer{Attempt: retry.Attempt})
	if len(effects) != 1 {
		t.Fatalf("effects=%d, want the retried fetch", len(effects))
	}
	if fetch := effects[0].(EffFetchSnapshot); fetch.Limit != 100 {
		t.Fatalf("retried fetch limit=%d, want 100", fetch.Limit)
	}

	// Resync with a different window updates the carried bound too.
	state, _ = Reduce(state, EvSnapshot{Messages: nil})
	state, _ = Reduce(state, CmdResync{Limit: 25})
	state, _ = Reduce(state, EvSnapshotFailed{Err: errors.New("boom")})
	_, effects = Reduce(state, EvRetryTimer{Attempt: 2})
	if fetch := effects[0].(EffFetchSnapshot); fetch.Limit != 25 {
		t.Fatalf("resync retry limit=%d, want 25", fetch.Limit)
	}
}

func TestReduceSnapshotFailed_ResyncFailurePreservesTimeline(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{
		Messages: []wire.Message{confirmed("m1", 100), confirmed("m2", 200)},
	})

	state, _ = Reduce(state, CmdResync{Limit: 0})
	if state.Phase != PhaseResyncing {
		t.Fatalf("Phase=%v, want %v", state.Phase, PhaseResyncing)
	}

	for i := 0; i < MaxFetchAttempts; i++ {
		state, _ = Reduce(state, EvSnapshotFailed{Err: errors.New("boom")})
	}
	if !state.Stale {
		t.Fatalf("Stale=false, want true")
	}
	if state.Phase != PhaseLive {
		t.Fatalf("Phase=%v, want live with last-known-good timeline", state.Phase)
	}
	wantIDs(t, state.Timeline, "m1", "m2")
}

func TestReduceResync_UnionMerge(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	state, _ = Reduce(state, EvSnapshot{
		Messages: []wire.Message{confirmed("m1", 100), confirmed("m2", 200)},
	})

	// The fresh snapshot window no longer covers m1; the union keeps it.
	state, _ = Reduce(state, CmdResync{Limit: 2})
	state, _ = Reduce(state, EvSnapshot{
		Messages: []wire.Message{confirmed("m2", 200), confirmed("m3", 300)},
	})
	if state.Phase != PhaseLive {
		t.Fatalf("Phase=%v, want %v", state.Phase, PhaseLive)
	}
	wantIDs(t, state.Timeline, "m1", "m2", "m3")
}

func TestReduceResync_ClearsStaleOnSuccess(t *testing.T) {
	t.Parallel()

	state := NewState(testTopic, "me")
	state, _ = Reduce(state, CmdStart{Limit: 0})
	for i := 0; i < MaxFetchAttempts; i++ {
		state, _ = Reduce(state, EvSnapshotFailed{Err: errors.New("boom")})
	}
	if !state.Stale {
		t.Fatalf("Stale=false, want true")
	}

	state, effects := Reduce(state, CmdResync{Limit: 0})
	if len(effects) != 1 {
		t.Fatalf("effects=%d, want a fresh fetch", len(effects))
	}
	state, _ = Reduce(state, EvSnapshot{Messages: []wire.Message{confirmed("m1", 100)}})
	if state.Stale {
		t.Fatalf("Stale=true after successful fetch")
	}
	wantIDs(t, state.Timeline, "m1")
}

func TestFetchBackoff_DoublesWithCeiling(t *testing.T) {
	t.Parallel()

	want := []int64{1, 2, 4, 8, 16, 30, 30}
	for i, seconds := range want {
		if got := fetchBackoff(i + 1); got.Seconds() != float64(seconds) {
			t.Fatalf("attempt %d: backoff=%v, want %ds", i+1, got, seconds)
		}
	}
}
