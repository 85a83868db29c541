// Package tunnel runs tunnel sessions: it authenticates a stream, attaches a
// TUN device and forwards packets between the two until either side fails
// or the session is stopped.
package tunnel

import "sync/atomic"

// State is a lifecycle stage of a client, server or session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAccepting
	StateAuthenticating
	StateForwarding
	StateStopping
	StateStopped
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateConnecting:     "connecting",
	StateAccepting:      "accepting",
	StateAuthenticating: "authenticating",
	StateForwarding:     "forwarding",
	StateStopping:       "stopping",
	StateStopped:        "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// stateVar is a State safe for concurrent reads.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) Load() State   { return State(s.v.Load()) }
func (s *stateVar) Store(v State) { s.v.Store(int32(v)) }
