package ephemeral

import (
	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

// Reduce is the typing/presence broadcaster reducer. One reducer serves both
// topic kinds; the topic's kind selects which signals decode.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case CmdStart:
		return state, []actor.Effect{EffArmTimer{Name: TimerSweep, After: SweepInterval}}
	case CmdAnnounceTyping:
		return reduceAnnounceTyping(state, in)
	case CmdSetStatus:
		return reduceSetStatus(state, in)
	case EvSignal:
		return reduceSignal(state, in)
	case EvIdleTimer:
		return reduceIdleTimer(state, in)
	case EvHeartbeatTimer:
		return reduceHeartbeatTimer(state, in)
	case EvSweepTimer:
		return reduceSweepTimer(state, in)
	default:
		return state, nil
	}
}

func reduceAnnounceTyping(state State, cmd CmdAnnounceTyping) (State, []actor.Effect) {
	if state.Topic.Kind() != wire.TopicTyping {
		return state, nil
	}

	if !cmd.Active {
		if !state.SelfActive {
			return state, nil
		}
		state.SelfActive = false
		return state, []actor.Effect{stopTyping(state)}
	}

	if state.SelfActive {
		// Already announced; just push the idle deadline out.
		return state, []actor.Effect{EffArmTimer{Name: TimerIdle, After: IdleTimeout}}
	}

	state.SelfActive = true
	return state, []actor.Effect{
		EffBroadcast{Topic: state.Topic, Payload: wire.TypingSignal{UserID: state.SelfID, Active: true}},
		EffArmTimer{Name: TimerIdle, After: IdleTimeout},
	}
}

func reduceSetStatus(state State, cmd CmdSetStatus) (State, []actor.Effect) {
	if state.Topic.Kind() != wire.TopicPresence || !cmd.Status.Valid() {
		return state, nil
	}

	changed := state.SelfStatus != cmd.Status
	state.SelfStatus = cmd.Status

	effects := []actor.Effect{EffArmTimer{Name: TimerHeartbeat, After: HeartbeatInterval}}
	if changed {
		effects = append(effects, EffBroadcast{
			Topic:   state.Topic,
			Payload: wire.PresenceSignal{UserID: state.SelfID, Status: cmd.Status},
		})
	}
	return state, effects
}

func reduceSignal(state State, ev EvSignal) (State, []actor.Effect) {
	if ev.Event.Topic != state.Topic || ev.Event.Kind != wire.EventBroadcast {
		return state, nil
	}

	switch state.Topic.Kind() {
	case wire.TopicTyping:
		sig, err := ev.Event.DecodeTyping()
		if err != nil {
			return state, []actor.Effect{EffProtocolViolation{Err: err}}
		}
		if sig.UserID == state.SelfID {
			return state, nil
		}
		peers := clonePeers(state.Peers)
		if sig.Active {
			peers[sig.UserID] = Peer{
				UserID:      sig.UserID,
				LastSeenMs:  ev.NowMs,
				ExpiresAtMs: ev.NowMs + PeerTTL.Milliseconds(),
			}
		} else {
			delete(peers, sig.UserID)
		}
		state.Peers = peers
		return state, nil

	case wire.TopicPresence:
		sig, err := ev.Event.DecodePresence()
		if err != nil {
			return state, []actor.Effect{EffProtocolViolation{Err: err}}
		}
		if sig.UserID == state.SelfID {
			return state, nil
		}
		peers := clonePeers(state.Peers)
		peers[sig.UserID] = Peer{
			UserID:      sig.UserID,
			Status:      sig.Status,
			LastSeenMs:  ev.NowMs,
			ExpiresAtMs: ev.NowMs + PeerTTL.Milliseconds(),
		}
		state.Peers = peers
		return state, nil

	default:
		return state, nil
	}
}

func reduceIdleTimer(state State, ev EvIdleTimer) (State, []actor.Effect) {
	if !state.SelfActive {
		return state, nil
	}
	state.SelfActive = false
	return state, []actor.Effect{stopTyping(state)}
}

func reduceHeartbeatTimer(state State, ev EvHeartbeatTimer) (State, []actor.Effect) {
	if state.SelfStatus == "" || state.SelfStatus == wire.StatusOffline {
		return state, nil
	}
	return state, []actor.Effect{
		EffBroadcast{
			Topic:   state.Topic,
			Payload: wire.PresenceSignal{UserID: state.SelfID, Status: state.SelfStatus},
		},
		EffArmTimer{Name: TimerHeartbeat, After: HeartbeatInterval},
	}
}

func reduceSweepTimer(state State, ev EvSweepTimer) (State, []actor.Effect) {
	var peers map[string]Peer
	for id, p := range state.Peers {
		if p.ExpiresAtMs <= ev.NowMs {
			if peers == nil {
				peers = clonePeers(state.Peers)
			}
			delete(peers, id)
		}
	}
	if peers != nil {
		state.Peers = peers
	}
	return state, []actor.Effect{EffArmTimer{Name: TimerSweep, After: SweepInterval}}
}

func stopTyping(state State) actor.Effect {
	return EffBroadcast{
		Topic:   state.Topic,
		Payload: wire.TypingSignal{UserID: state.SelfID, Active: false},
	}
}

func clonePeers(peers map[string]Peer) map[string]Peer {
	out := make(map[string]Peer, len(peers))
	for id, p := range peers {
		out[id] = p
	}
	return out
}
