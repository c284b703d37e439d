package recovery

import (
	"errors"
	"time"

	"github.com/vietddude/activitywatch/internal/core/domain"
)

// State is an alias for domain.EngineState for internal use.
type State = domain.EngineState

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	domain.EngineStateRunning: {domain.EngineStateBackoff},
	domain.EngineStateBackoff: {
		domain.EngineStateBackoff,
		domain.EngineStateRunning,
		domain.EngineStateHalted,
	},
	domain.EngineStateHalted: {domain.EngineStateRunning},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}

	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Attempt   int
	Reason    string
	Timestamp time.Time
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.EngineStateIdle:
		return "Idle - no accounts watched"
	case domain.EngineStateRunning:
		return "Running - polling on schedule"
	case domain.EngineStateBackoff:
		return "Backoff - retrying after a failed tick"
	case domain.EngineStateHalted:
		return "Halted - reconnect attempts exhausted, restart required"
	default:
		return "Unknown state"
	}
}

// StateValue maps a state to the value exported by the engine state gauge.
func StateValue(s State) float64 {
	switch s {
	case domain.EngineStateRunning:
		return 1
	case domain.EngineStateBackoff:
		return 2
	case domain.EngineStateHalted:
		return 3
	default:
		return 0
	}
}
