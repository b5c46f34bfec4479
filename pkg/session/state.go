package session

// State is a step of the per-query state machine.
type State int

const (
	StateInit State = iota
	StateStreaming
	StateNeedsClarification
	StateCollectAnswers
	StateStreamingContinuation
	StateDone
	StatePersist
	StateErrorReported
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateStreaming:
		return "STREAMING"
	case StateNeedsClarification:
		return "NEEDS_CLARIFICATION"
	case StateCollectAnswers:
		return "COLLECT_ANSWERS"
	case StateStreamingContinuation:
		return "STREAMING_CONTINUATION"
	case StateDone:
		return "DONE"
	case StatePersist:
		return "PERSIST"
	case StateErrorReported:
		return "ERROR_REPORTED"
	default:
		return "UNKNOWN"
	}
}

// validTransitions lists the allowed successors of each state. Any state may
// move to StateErrorReported.
var validTransitions = map[State][]State{
	StateInit:                  {StateStreaming},
	StateStreaming:             {StateDone, StateNeedsClarification},
	StateNeedsClarification:    {StateCollectAnswers},
	StateCollectAnswers:        {StateStreamingContinuation},
	StateStreamingContinuation: {StateDone, StateNeedsClarification},
	StateDone:                  {StatePersist, StateInit},
	StatePersist:               {StateInit},
	StateErrorReported:         {StateInit},
}

func canTransition(from, to State) bool {
	if to == StateErrorReported {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
