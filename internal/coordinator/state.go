package coordinator

// State is a coordinator lifecycle phase.
type State int32

const (
	StateInit State = iota
	StateWorkersLaunching
	StatePrimaryRunning
	StateJoining
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateWorkersLaunching:
		return "workers_launching"
	case StatePrimaryRunning:
		return "primary_running"
	case StateJoining:
		return "joining"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}
