package permission

import (
	"sync"
)

type State int

const (
	Unknown State = iota
	Granted
	Denied
	Unavailable
)

func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// CanTransition reports whether a permission may move from one state to
// another. Unknown resolves to anything, Denied may later become Granted and
// Granted may be revoked to Denied. Unavailable never changes.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	switch from {
	case Unknown:
		return true
	case Denied:
		return to == Granted
	case Granted:
		return to == Denied
	default:
		return false
	}
}

// Tracker holds a permission state and enforces CanTransition.
type Tracker struct {
	mu    sync.Mutex
	state State
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set moves to the given state and reports whether the move was allowed.
func (t *Tracker) Set(to State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !CanTransition(t.state, to) {
		return false
	}
	t.state = to
	return true
}
