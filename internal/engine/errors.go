package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPhase is matched by errors for actions attempted in the wrong phase.
	ErrInvalidPhase = errors.New("action not allowed in current phase")
	// ErrGameOver is returned when a crisis is requested after the final turn.
	ErrGameOver = errors.New("the reign has ended")
	// ErrEmptyMessage is returned when the ruler sends a blank message.
	ErrEmptyMessage = errors.New("message is empty")
)

// PhaseError reports an action rejected by the state machine.
type PhaseError struct {
	Action string
	Phase  Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: not allowed while %s", e.Action, e.Phase)
}

func (e *PhaseError) Is(target error) bool {
	return target == ErrInvalidPhase
}
