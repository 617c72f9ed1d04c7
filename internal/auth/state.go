package auth

import (
	"errors"
	"time"

	"github.com/vietddude/apiclient/internal/core/domain"
)

// State is an alias for domain.TokenState for internal use.
type State = domain.TokenState

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid token state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	domain.TokenStateNone: {domain.TokenStateValid},
	domain.TokenStateValid: {
		domain.TokenStateValid,
		domain.TokenStateRefreshing,
		domain.TokenStateInvalid,
		domain.TokenStateNone,
	},
	domain.TokenStateRefreshing: {
		domain.TokenStateValid,
		domain.TokenStateInvalid,
		domain.TokenStateNone,
	},
	domain.TokenStateInvalid: {domain.TokenStateValid, domain.TokenStateNone},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Transition represents a state change with metadata.
type Transition struct {
	From       State
	To         State
	Generation uint64
	Reason     string
	Timestamp  time.Time
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.TokenStateNone:
		return "No credential - login required"
	case domain.TokenStateValid:
		return "Valid - requests are authenticated"
	case domain.TokenStateRefreshing:
		return "Refreshing - requests wait for the new token"
	case domain.TokenStateInvalid:
		return "Invalid - refresh rejected, login required"
	default:
		return "Unknown state"
	}
}
