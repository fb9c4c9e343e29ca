package model

import "github.com/google/uuid"

// Scan job statuses. Transitions: PENDING -> RUNNING -> DONE|FAILED,
// or PENDING -> SKIPPED when a gate rejects the scan.
const (
	JobPending = "PENDING"
	JobRunning = "RUNNING"
	JobDone    = "DONE"
	JobFailed  = "FAILED"
	JobSkipped = "SKIPPED"
)

// Scan job priorities, drained HIGH before NORMAL before LOW.
const (
	PriorityHigh   = "HIGH"
	PriorityNormal = "NORMAL"
	PriorityLow    = "LOW"
)

// ScanJob is one queued drift scan for a user.
type ScanJob struct {
	JobID        string `json:"job_id"`
	UserID       string `json:"user_id"`
	TriggerEvent string `json:"trigger_event"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
	ScheduledAt  int64  `json:"scheduled_at"`
	StartedAt    *int64 `json:"started_at,omitempty"`
	CompletedAt  *int64 `json:"completed_at,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewJobID returns a fresh scan job identifier.
func NewJobID() string {
	return uuid.New().String()
}

// Terminal reports whether the job has reached a final status.
func (j *ScanJob) Terminal() bool {
	return j.Status == JobDone || j.Status == JobFailed || j.Status == JobSkipped
}
