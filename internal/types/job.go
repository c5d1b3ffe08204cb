package types

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusRunning    JobStatus = "running"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed, other than
// spawning a retry child.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type JobProgress struct {
	At      time.Time      `json:"at"`
	Message string         `json:"message"`
	Step    string         `json:"step,omitempty"`
	Percent *float64       `json:"percent,omitempty"`
	Phase   string         `json:"phase,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Job is the durable unit of asynchronous work. Lower Priority is more
// urgent; ties are broken by CreatedAt ascending.
type Job struct {
	ID             uuid.UUID      `json:"id"`
	Type           string         `json:"type"`
	Payload        map[string]any `json:"payload"`
	Priority       int            `json:"priority"`
	Status         JobStatus      `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	EndedAt        *time.Time     `json:"endedAt,omitempty"`
	WorkerID       string         `json:"workerId,omitempty"`
	RetryOf        *uuid.UUID     `json:"retryOf,omitempty"`
	RequestedSkill string         `json:"requestedSkill,omitempty"`
	Progress       *JobProgress   `json:"progress,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Error          *JobError      `json:"error,omitempty"`
}

// PayloadString probes the free-form payload for a string field.
func (j *Job) PayloadString(key string) string {
	if j == nil || j.Payload == nil {
		return ""
	}
	if s, ok := j.Payload[key].(string); ok {
		return s
	}
	return ""
}

// PayloadInt probes the free-form payload for an integer field. JSON decodes
// numbers as float64, so both are accepted.
func (j *Job) PayloadInt(key string) int {
	if j == nil || j.Payload == nil {
		return 0
	}
	switch v := j.Payload[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func (j *Job) SessionID() string { return j.PayloadString("sessionId") }
