package process

// State is the lifecycle state of a supervised service.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether the state has a live OS process behind it.
func (s State) Active() bool {
	return s == Starting || s == Running || s == Stopping
}
