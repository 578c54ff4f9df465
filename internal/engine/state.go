package engine

// State is the engine goroutine's lifecycle position.
type State int32

const (
	StateNew State = iota
	StateInitializing
	StateReady       // pumping microtasks and timers
	StateIdle        // waiting for a task
	StateDispatching // running a request handler
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateShuttingDown:
		return "shutting-down"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}
