package pipeline

// State is the lifecycle state of a Driver.
type State int32

const (
	StateStarting State = iota
	StateProvisioning
	StateConsuming
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateProvisioning:
		return "PROVISIONING"
	case StateConsuming:
		return "CONSUMING"
	case StateStopped:
		return "STOPPED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}
