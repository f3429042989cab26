package session

// State is the session manager's lifecycle position. Transitions are owned
// exclusively by the Manager; readers get snapshots via Status.
//
//	Idle -> Validating -> Starting -> Running -> Stopping -> Idle
//
// RollingBack is an excursion from Validating/Starting back to Idle taken
// when a start-phase failure forces reverse teardown.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateStarting
	StateRunning
	StateRollingBack
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRollingBack:
		return "rolling_back"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
