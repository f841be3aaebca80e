package reconcile

import (
	"time"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

// Reduce is the message reconciler reducer.
//
// Invariants maintained: the timeline never contains two entries with the
// same message id, and is sorted non-decreasing by CreatedAt. Redelivered
// events are absorbed by dedup; snapshot/live races resolve to the union of
// both sources.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case CmdStart:
		return reduceStart(state, in)
	case CmdResync:
		return reduceResync(state, in)
	case CmdSend:
		return reduceSend(state, in)
	case CmdRetrySend:
		return reduceRetrySend(state, in)
	case EvSnapshot:
		return reduceSnapshot(state, in)
	case EvSnapshotFailed:
		return reduceSnapshotFailed(state, in)
	case EvRetryTimer:
		return reduceRetryTimer(state, in)
	case EvChannelEvent:
		return reduceChannelEvent(state, in)
	case EvSendAccepted:
		state.Timeline = applyConfirmed(clone(state.Timeline), in.Message, state.SelfID)
		return state, nil
	case EvSendFailed:
		return reduceSendFailed(state, in)
	case EvTick:
		return reduceTick(state, in)
	default:
		return state, nil
	}
}

func reduceStart(state State, cmd CmdStart) (State, []actor.Effect) {
	if state.Phase != PhaseUninitialized {
		return state, nil
	}
	state.Phase = PhaseLoading
	state.FetchAttempts = 0
	state.FetchLimit = cmd.Limit
	return state, []actor.Effect{
		EffFetchSnapshot{Topic: state.Topic, Limit: cmd.Limit, Attempt: 1},
	}
}

func reduceResync(state State, cmd CmdResync) (State, []actor.Effect) {
	switch state.Phase {
	case PhaseUninitialized:
		return state, nil
	case PhaseLoading:
		// Reconnect raced the initial load; restart the fetch schedule.
	default:
		state.Phase = PhaseResyncing
	}
	state.FetchAttempts = 0
	state.FetchLimit = cmd.Limit
	return state, []actor.Effect{
		EffFetchSnapshot{Topic: state.Topic, Limit: cmd.Limit, Attempt: 1},
	}
}

func reduceSnapshot(state State, ev EvSnapshot) (State, []actor.Effect) {
	if state.Phase != PhaseLoading && state.Phase != PhaseResyncing {
		return state, nil
	}

	tl := clone(state.Timeline)
	for _, m := range ev.Messages {
		tl = applyConfirmed(tl, m, state.SelfID)
	}
	// Events that raced the snapshot fetch merge after it; dedup by id
	// absorbs the overlap between the two sources.
	for _, m := range state.Buffered {
		tl = applyConfirmed(tl, m, state.SelfID)
	}

	state.Timeline = tl
	state.Buffered = nil
	state.Phase = PhaseLive
	state.Stale = false
	state.FetchAttempts = 0
	return state, nil
}

func reduceSnapshotFailed(state State, ev EvSnapshotFailed) (State, []actor.Effect) {
	if state.Phase != PhaseLoading && state.Phase != PhaseResyncing {
		return state, nil
	}

	state.FetchAttempts++
	if state.FetchAttempts >= MaxFetchAttempts {
		// Retry ceiling: surface staleness, keep the last-known-good
		// timeline, and stop the schedule until the next resync trigger.
		state.Stale = true
		if state.Phase == PhaseResyncing {
			state.Phase = PhaseLive
		}
		return state, nil
	}

	return state, []actor.Effect{
		EffScheduleRetry{
			After:   fetchBackoff(state.FetchAttempts),
			Attempt: state.FetchAttempts + 1,
		},
	}
}

func reduceRetryTimer(state State, ev EvRetryTimer) (State, []actor.Effect) {
	if state.Phase != PhaseLoading && state.Phase != PhaseResyncing {
		return state, nil
	}
	if state.Stale {
		return state, nil
	}
	return state, []actor.Effect{
		EffFetchSnapshot{Topic: state.Topic, Limit: state.FetchLimit, Attempt: ev.Attempt},
	}
}

func reduceChannelEvent(state State, ev EvChannelEvent) (State, []actor.Effect) {
	if ev.Event.Topic != state.Topic {
		return state, nil
	}

	switch ev.Event.Kind {
	case wire.EventInsert:
		msg, err := ev.Event.DecodeMessage()
		if err != nil {
			return state, []actor.Effect{EffProtocolViolation{Err: err}}
		}
		if state.Phase == PhaseLoading {
			// Snapshot still in flight; hold the event for the merge.
			for _, b := range state.Buffered {
				if b.ID == msg.ID {
					return state, nil
				}
			}
			state.Buffered = append(cloneMsgs(state.Buffered), msg)
			return state, nil
		}
		state.Timeline = applyConfirmed(clone(state.Timeline), msg, state.SelfID)
		return state, nil

	case wire.EventUpdate:
		msg, err := ev.Event.DecodeMessage()
		if err != nil {
			return state, []actor.Effect{EffProtocolViolation{Err: err}}
		}
		if i := indexByID(state.Timeline, msg.ID); i >= 0 {
			tl := clone(state.Timeline)
			tl[i].Msg.Content = msg.Content
			state.Timeline = tl
		}
		return state, nil

	case wire.EventDelete:
		msg, err := ev.Event.DecodeMessage()
		if err != nil {
			return state, []actor.Effect{EffProtocolViolation{Err: err}}
		}
		if i := indexByID(state.Timeline, msg.ID); i >= 0 {
			state.Timeline = removeAt(clone(state.Timeline), i)
		}
		return state, nil

	default:
		return state, nil
	}
}

func reduceSend(state State, cmd CmdSend) (State, []actor.Effect) {
	if cmd.LocalID == "" || cmd.Content == "" {
		return state, nil
	}
	if indexByLocalID(state.Timeline, cmd.LocalID) >= 0 {
		return state, nil
	}

	entry := Entry{
		Msg: wire.Message{
			// The local id doubles as the provisional message id until the
			// server row replaces it.
			ID:             cmd.LocalID,
			LocalID:        cmd.LocalID,
			ConversationID: state.Topic.Scope(),
			SenderID:       state.SelfID,
			Content:        cmd.Content,
			CreatedAt:      cmd.NowMs,
		},
		Pending:  true,
		QueuedAt: cmd.NowMs,
	}
	state.Timeline = insertOrdered(clone(state.Timeline), entry)

	return state, []actor.Effect{
		EffInsert{
			ConversationID: state.Topic.Scope(),
			SenderID:       state.SelfID,
			Content:        cmd.Content,
			LocalID:        cmd.LocalID,
		},
	}
}

func reduceRetrySend(state State, cmd CmdRetrySend) (State, []actor.Effect) {
	i := indexByLocalID(state.Timeline, cmd.LocalID)
	if i < 0 || !state.Timeline[i].Failed {
		return state, nil
	}

	tl := clone(state.Timeline)
	tl[i].Failed = false
	tl[i].Pending = true
	tl[i].QueuedAt = cmd.NowMs
	state.Timeline = tl

	e := tl[i]
	return state, []actor.Effect{
		EffInsert{
			ConversationID: e.Msg.ConversationID,
			SenderID:       e.Msg.SenderID,
			Content:        e.Msg.Content,
			LocalID:        cmd.LocalID,
		},
	}
}

func reduceSendFailed(state State, ev EvSendFailed) (State, []actor.Effect) {
	i := indexByLocalID(state.Timeline, ev.LocalID)
	if i < 0 || !state.Timeline[i].Pending {
		return state, nil
	}
	tl := clone(state.Timeline)
	tl[i].Pending = false
	tl[i].Failed = true
	state.Timeline = tl
	return state, nil
}

func reduceTick(state State, ev EvTick) (State, []actor.Effect) {
	cutoff := ev.NowMs - PendingTimeout.Milliseconds()
	var tl []Entry
	for i := range state.Timeline {
		e := state.Timeline[i]
		if e.Pending && e.QueuedAt <= cutoff {
			if tl == nil {
				tl = clone(state.Timeline)
			}
			tl[i].Pending = false
			tl[i].Failed = true
		}
	}
	if tl != nil {
		state.Timeline = tl
	}
	return state, nil
}

// applyConfirmed merges one server-confirmed message into the timeline:
// pending entries are replaced via local-id correlation (with a bounded
// sender+content fallback), duplicates are discarded, and new rows insert in
// CreatedAt order.
func applyConfirmed(timeline []Entry, msg wire.Message, selfID string) []Entry {
	if i := indexByID(timeline, msg.ID); i >= 0 {
		// Redelivery. Still clear any optimistic twin that raced it.
		if j := indexByLocalID(timeline, msg.LocalID); j >= 0 && j != i {
			timeline = removeAt(timeline, j)
		}
		return timeline
	}

	if j := indexByLocalID(timeline, msg.LocalID); j >= 0 {
		timeline = removeAt(timeline, j)
		return insertOrdered(timeline, Entry{Msg: msg})
	}

	// Fallback correlation for confirmations that arrive without the local
	// id: same sender, same content, within the matching window.
	if msg.LocalID == "" && selfID != "" && msg.SenderID == selfID {
		window := CorrelationWindow.Milliseconds()
		for j := range timeline {
			e := timeline[j]
			if e.Pending && e.Msg.Content == msg.Content &&
				absMs(msg.CreatedAt-e.QueuedAt) <= window {
				timeline = removeAt(timeline, j)
				return insertOrdered(timeline, Entry{Msg: msg})
			}
		}
	}

	return insertOrdered(timeline, Entry{Msg: msg})
}

func fetchBackoff(attempt int) time.Duration {
	d := time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 30*time.Second {
			return 30 * time.Second
		}
	}
	return d
}

func absMs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func cloneMsgs(msgs []wire.Message) []wire.Message {
	return append([]wire.Message(nil), msgs...)
}
