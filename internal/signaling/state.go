package signaling

// State is the lifecycle position of one call room
type State string

// ARCHITECTURAL DISCOVERY: Idle is never stored; a room absent from the engine is Idle
const (
	StateIdle     State = "idle"
	StateRinging  State = "ringing"
	StateActive   State = "active"
	StateRejected State = "rejected"
	StateTimedOut State = "timed_out"
	StateEnded    State = "ended"
)

// transitions lists every legal move; anything else is ErrInvalidTransition
// FUNCTIONAL DISCOVERY: Ringing -> Ended covers a caller hanging up before an answer
var transitions = map[State]map[State]bool{
	StateIdle:    {StateRinging: true},
	StateRinging: {StateActive: true, StateRejected: true, StateTimedOut: true, StateEnded: true},
	StateActive:  {StateEnded: true},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to State) bool {
	return transitions[from][to]
}

// IsTerminal reports whether a room in s is discarded
func (s State) IsTerminal() bool {
	return s == StateRejected || s == StateTimedOut || s == StateEnded
}

// allowsSignal reports whether SDP/ICE may flow in s
func (s State) allowsSignal() bool {
	return s == StateRinging || s == StateActive
}
