package model

import "time"

// JobStatus enumerates the lifecycle states of a processing job.
type JobStatus string

// Job states. Transitions form a DAG: pending -> processing -> done|failed.
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// Job is an event-scoped work item created as a side effect of event
// insertion. Attempts increments on every claim.
type Job struct {
	ID        string
	EventID   string
	Status    JobStatus
	CreatedAt time.Time
	PickedAt  *time.Time
	DoneAt    *time.Time
	Attempts  int
	Error     string
}

// Terminal reports whether the job reached a final state.
func (j Job) Terminal() bool {
	return j.Status == JobDone || j.Status == JobFailed
}
