package schema

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPlaying  RunStatus = "playing"
	RunStatusSuccess  RunStatus = "success"
	RunStatusStopped  RunStatus = "stopped"
	RunStatusFiltered RunStatus = "filtered"
)

// Terminal reports whether s ends a run invocation.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusStopped || s == RunStatusFiltered
}

// Run event types published on the streaming hub.
const (
	EventRunCreated  = "run_created"
	EventRunUpdated  = "run_updated"
	EventRunFinished = "run_finished"
)
