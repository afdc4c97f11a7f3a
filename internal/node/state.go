package node

import "fmt"

// State is the execution state of a node.
type State int32

const (
	// Idle means no work is pending.
	Idle State = iota
	// Ready means the node is queued for dispatch.
	Ready
	// Running means one worker is executing the node.
	Running
	// Failed means the processor reported an error; the node is excluded
	// from dispatch until reset.
	Failed
	// Stopped is terminal for the current run.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Failed:
		return "Failed"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
