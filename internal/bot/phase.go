package bot

// Phase is the externally visible bot state. Exactly one phase is active
// per bot instance; transitions are strictly sequential except
// Reconfiguring, which is reachable only from Recording and returns to
// Recording. Ended is absorbing.
type Phase int

const (
	PhaseJoining Phase = iota
	PhaseAwaitingAdmission
	PhasePreparing
	PhaseRecording
	PhaseReconfiguring
	PhaseLeaving
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseJoining:
		return "joining"
	case PhaseAwaitingAdmission:
		return "awaiting_admission"
	case PhasePreparing:
		return "preparing"
	case PhaseRecording:
		return "recording"
	case PhaseReconfiguring:
		return "reconfiguring"
	case PhaseLeaving:
		return "leaving"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}
