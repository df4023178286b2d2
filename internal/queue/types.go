// Package queue implements the async job abstraction export/retrain/drift
// work runs through: a priority-ordered in-memory Queue plus a WorkerPool
// that dispatches to per-JobType handlers. Generalized from the teacher's
// much larger trading job-type enum (internal/queue/types.go) down to the
// handful of job classes this domain needs.
package queue

import "time"

// JobType is the closed set of async job classes this engine runs.
type JobType string

const (
	JobTypeExport     JobType = "export"
	JobTypeRetrain    JobType = "retrain"
	JobTypeDriftCheck JobType = "drift_check"
	JobTypePromote    JobType = "promote"
)

// Priority mirrors the teacher's four-level scheme.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Job is a queued unit of work.
type Job struct {
	ID          string
	TenantID    string
	Type        JobType
	Priority    Priority
	Payload     map[string]interface{}
	CreatedAt   time.Time
	AvailableAt time.Time
	Retries     int
	MaxRetries  int
}

// Queue is the job queue abstraction; MemQueue is the only implementation,
// kept as an interface so WorkerPool never depends on the concrete type.
type Queue interface {
	Enqueue(job *Job) error
	Dequeue() (*Job, bool)
	Size() int
}

var jobDescriptions = map[JobType]string{
	JobTypeExport:     "Exporting posted journal entries",
	JobTypeRetrain:    "Retraining the classifier",
	JobTypeDriftCheck: "Checking for model drift",
	JobTypePromote:    "Evaluating rule candidates for promotion",
}

// GetJobDescription returns a human-readable description for a job type,
// falling back to the raw type string for anything unregistered.
func GetJobDescription(jobType JobType) string {
	if desc, ok := jobDescriptions[jobType]; ok {
		return desc
	}
	return string(jobType)
}
