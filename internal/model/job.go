package model

import "time"

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Done reports whether the job reached a terminal status.
func (s JobStatus) Done() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// Job represents a background render job
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	ProjectID   string     `json:"projectId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Result      []byte     `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RetryCount  int        `json:"retryCount"`
}

// Job types
const (
	JobTypeRender = "render"
)

// RenderJobPayload contains the data for a render job
type RenderJobPayload struct {
	Plan        RenderPlan        `json:"plan"`
	Attachments map[string][]byte `json:"attachments,omitempty"`
}
