package entities

// Phase represents the user-visible phase of the wager session
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseApproving Phase = "approving"
	PhaseFlipping  Phase = "flipping"
	PhaseSettled   Phase = "settled"
	PhaseError     Phase = "error"
)

// InProgress checks if a wager is in flight
func (p Phase) InProgress() bool {
	return p == PhaseApproving || p == PhaseFlipping
}

// AcceptsNewWager checks if a new wager may be started from this phase
func (p Phase) AcceptsNewWager() bool {
	return p == PhaseIdle || p == PhaseSettled || p == PhaseError
}

// CanDismiss checks if the phase holds a result or error the player can acknowledge
func (p Phase) CanDismiss() bool {
	return p == PhaseSettled || p == PhaseError
}

// ProgressMessage returns the in-progress message shown while a wager is in flight
func (p Phase) ProgressMessage() string {
	switch p {
	case PhaseApproving:
		return "Approving..."
	case PhaseFlipping:
		return "Flipping..."
	default:
		return ""
	}
}

// WagerState is the single source of truth for the session. Only the session's
// fact loop writes it.
type WagerState struct {
	Phase     Phase
	Request   *WagerRequest
	RequestID RequestID
	Result    *FlipResult
	Error     string
	Success   string
}

// Reset returns the state to idle, clearing the request identifier and any result
func (s *WagerState) Reset() {
	*s = WagerState{Phase: PhaseIdle}
}
