package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrStepIncomplete is returned when polling a blocking step ran out of
	// attempts without reaching a terminal state. Rerun to resume polling.
	ErrStepIncomplete = errors.New("step did not reach a terminal state")

	// ErrAwaitingApproval is returned when a cut proposal was submitted but
	// not executed yet and the strategy does not wait for execution.
	// Nothing is persisted; rerun once the proposal has executed.
	ErrAwaitingApproval = errors.New("cut proposal awaiting approval")

	// ErrUnknownRef is wrapped by Broker.Status when the service has no
	// record of a ref. The Remote strategy resubmits the step.
	ErrUnknownRef = errors.New("unknown request ref")
)

// StepFailedError reports a step the execution service marked failed.
// The ledger entry is marked failed before this is returned.
type StepFailedError struct {
	// StepName is the stable ledger key of the step.
	StepName string

	// ExternalRef is the service's reference for the submitted request.
	ExternalRef string

	// Reason is the service's failure description, if any.
	Reason string
}

// Error implements the error interface.
func (e *StepFailedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("step %s failed (ref=%s): %s", e.StepName, e.ExternalRef, e.Reason)
	}
	return fmt.Sprintf("step %s failed (ref=%s)", e.StepName, e.ExternalRef)
}

// IsStepFailed returns true if err wraps a StepFailedError.
func IsStepFailed(err error) bool {
	var sf *StepFailedError
	return errors.As(err, &sf)
}

// PhaseError identifies the pipeline phase a run aborted in.
type PhaseError struct {
	Phase        Phase
	DeploymentID string
	Err          error
}

// Error implements the error interface.
func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s (deployment=%s): %v", e.Phase, e.DeploymentID, e.Err)
}

// Unwrap returns the underlying phase error.
func (e *PhaseError) Unwrap() error {
	return e.Err
}

// FailedPhase returns the phase err aborted in, if err wraps a PhaseError.
func FailedPhase(err error) (Phase, bool) {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase, true
	}
	return "", false
}
