package gateway

import "strings"

// State is the engine's view of a registry status code
type State string

const (
	StateUnknown       State = "unknown"
	StateSent          State = "sent"
	StateRegistered    State = "registered"
	StateRegisteredRCF State = "registered_rcf"
	StateAccounted     State = "accounted"
	StatePaid          State = "paid"
	StateRejected      State = "rejected"
	StateCancelled     State = "cancelled"
	StateFailed        State = "failed"

	// StateAccepted is only reported by the stub registry
	StateAccepted State = "accepted"
)

// Registry status codes
const (
	StatusRegistered    = "1200"
	StatusRegisteredRCF = "1300"
	StatusAccounted     = "2400"
	StatusPaid          = "2500"
	StatusRejected      = "2600"
	StatusCancelled     = "3100"
)

var statusTable = map[string]State{
	StatusRegistered:    StateRegistered,
	StatusRegisteredRCF: StateRegisteredRCF,
	StatusAccounted:     StateAccounted,
	StatusPaid:          StatePaid,
}

// MapStatus maps a registry status code onto an internal state. Codes not in
// the table map to StateSent.
func MapStatus(code string) State {
	if s, ok := statusTable[strings.TrimSpace(code)]; ok {
		return s
	}
	return StateSent
}

// SubmissionState is MapStatus extended with the terminal rejection and
// cancellation codes.
func SubmissionState(code string) State {
	switch strings.TrimSpace(code) {
	case StatusRejected:
		return StateRejected
	case StatusCancelled:
		return StateCancelled
	}
	return MapStatus(code)
}

// HasCancellation is true when the registry reports any cancellation code,
// whatever the primary status.
func HasCancellation(s *Status) bool {
	return s != nil && strings.TrimSpace(s.CancellationCode) != ""
}

// Terminal reports whether no further status change is expected
func (s State) Terminal() bool {
	switch s {
	case StatePaid, StateRejected, StateCancelled, StateUnknown:
		return true
	}
	return false
}
