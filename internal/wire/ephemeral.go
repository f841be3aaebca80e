package wire

// TypingSignal is the broadcast payload on a typing topic.
type TypingSignal struct {
	// UserID is the peer that is (or stopped) typing.
	UserID string `json:"userId"`
	// Active is true while the peer is composing.
	Active bool `json:"active"`
}

// PresenceStatus is a user's advertised availability.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusIdle    PresenceStatus = "idle"
	StatusInCall  PresenceStatus = "in_call"
	StatusOffline PresenceStatus = "offline"
)

// Valid reports whether s is a known status.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusInCall, StatusOffline:
		return true
	default:
		return false
	}
}

// PresenceSignal is the broadcast payload on a presence topic.
type PresenceSignal struct {
	// UserID is the peer the signal describes.
	UserID string `json:"userId"`
	// Status is the advertised availability.
	Status PresenceStatus `json:"status"`
}
