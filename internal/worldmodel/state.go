package worldmodel

import "github.com/cockroachdb/errors"

// State represents the lifecycle state of a tracked object.
type State string

const (
	StatePending   State = "pending"   // Newly created, not yet verified
	StateConfirmed State = "confirmed" // Verified or sufficiently supported
	StateDiscarded State = "discarded" // Rejected by a verifier; still fused
	StateLocked    State = "locked"    // Fixed externally; immune to fusion
)

// IsFixed reports whether automatic fusion must leave the object untouched.
func (s State) IsFixed() bool {
	return s == StateLocked
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateConfirmed, StateDiscarded, StateLocked:
		return true
	}
	return false
}

// ParseState parses a state name.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", errors.Newf("unknown object state %q", s)
	}
	return st, nil
}
