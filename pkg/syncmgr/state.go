package syncmgr

import "fmt"

// State is the sync manager's lifecycle state. All changes go through a
// single transition function so every state change is total and
// auditable instead of being inferred from flag combinations.
type State int

const (
	StateUninitialized State = iota
	// StateOfflineOnly means no remote backend is configured; ops are
	// journaled but never uploaded.
	StateOfflineOnly
	// StateAuthPending means the remote client exists but the feed
	// subscription has not come up yet.
	StateAuthPending
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOfflineOnly:
		return "offline_only"
	case StateAuthPending:
		return "auth_pending"
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var validTransitions = map[State][]State{
	StateUninitialized: {StateOfflineOnly, StateAuthPending},
	StateAuthPending:   {StateOnline, StateOffline},
	StateOnline:        {StateOffline},
	StateOffline:       {StateOnline},
}

func canTransition(from, to State) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
