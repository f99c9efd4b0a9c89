package connectivity

import "time"

// State is the last reported network status.
type State struct {
	IsOnline         bool
	LastTransitionAt time.Time
}

// Transition describes a change of State.
type Transition struct {
	From State
	To   State
}

// CameOnline reports whether the transition is offline -> online.
func (t Transition) CameOnline() bool {
	return !t.From.IsOnline && t.To.IsOnline
}

// WentOffline reports whether the transition is online -> offline.
func (t Transition) WentOffline() bool {
	return t.From.IsOnline && !t.To.IsOnline
}

// String returns "online" or "offline".
func (s State) String() string {
	if s.IsOnline {
		return "online"
	}
	return "offline"
}
