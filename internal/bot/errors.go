package bot

import (
	"errors"
	"fmt"
)

// Sentinel errors for the admission and capture taxonomy. Rejection and
// timeout are distinct, reportable kinds.
var (
	ErrJoinBudgetExceeded = errors.New("join budget exceeded")
	ErrAdmissionRejected  = errors.New("admission rejected")
	ErrAdmissionTimeout   = errors.New("admission timed out")
	ErrCaptureFailed      = errors.New("audio capture failed")
)

// PhaseError tags an error with the phase in which it occurred.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func phaseErr(phase Phase, err error) error {
	return &PhaseError{Phase: phase, Err: err}
}
