package pipeline

// State is the pipeline session state.
type State string

const (
	StateIdle                State = "idle"
	StateAwaitingParticipant State = "awaiting_participant"
	StateListening           State = "listening"
	StateProcessing          State = "processing"
	StateSpeaking            State = "speaking"
	StateInterrupted         State = "interrupted"
	StateEnding              State = "ending"
	StateTerminated          State = "terminated"
)

// canTransition encodes the legal state machine edges. Ending and
// Terminated are reachable from anywhere (participant loss and fatal
// errors respectively).
func canTransition(from, to State) bool {
	if from == StateTerminated {
		return false
	}
	if to == StateTerminated {
		return true
	}
	if to == StateEnding {
		return from != StateEnding
	}
	switch from {
	case StateIdle:
		return to == StateAwaitingParticipant
	case StateAwaitingParticipant:
		return to == StateListening
	case StateListening:
		return to == StateProcessing
	case StateProcessing:
		return to == StateSpeaking || to == StateInterrupted || to == StateListening
	case StateSpeaking:
		return to == StateInterrupted || to == StateListening
	case StateInterrupted:
		return to == StateListening
	case StateEnding:
		return false
	}
	return false
}
