package domain

import "time"

// ProvisionStatus is the lifecycle status of a provisioning run.
type ProvisionStatus string

// Provisioning run states. REVIEWING is entered manually from any terminal
// state by a human review action, never by the orchestrator itself.
const (
	ProvisionNotStarted ProvisionStatus = "NOT_STARTED"
	ProvisionRunning    ProvisionStatus = "RUNNING"
	ProvisionFinished   ProvisionStatus = "FINISHED"
	ProvisionFailed     ProvisionStatus = "FAILED"
	ProvisionAborted    ProvisionStatus = "ABORTED"
	ProvisionReviewing  ProvisionStatus = "REVIEWING"
)

// Label returns the human-readable display label.
func (s ProvisionStatus) Label() string {
	switch s {
	case ProvisionNotStarted:
		return "Not started"
	case ProvisionRunning:
		return "Running"
	case ProvisionFinished:
		return "Finished"
	case ProvisionFailed:
		return "Failed"
	case ProvisionAborted:
		return "Aborted"
	case ProvisionReviewing:
		return "In review"
	default:
		return string(s)
	}
}

// Terminal reports whether the run has stopped executing.
func (s ProvisionStatus) Terminal() bool {
	switch s {
	case ProvisionFinished, ProvisionFailed, ProvisionAborted, ProvisionReviewing:
		return true
	default:
		return false
	}
}

// ProvisionSet is one execution of the deployment pipeline covering a batch
// of accepted change sessions.
type ProvisionSet struct {
	ID       int64
	Username *string
	Status   ProvisionStatus

	// OutputLog holds the persisted pipeline output once the run reached a
	// terminal state. While the run is live the output accrues in LogFile.
	OutputLog *string
	LogFile   *string

	Reverted  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User returns the initiating username, or an empty string if unknown.
func (ps *ProvisionSet) User() string {
	if ps.Username == nil {
		return ""
	}
	return *ps.Username
}
