package types

import (
	"time"

	"github.com/google/uuid"
)

type ReceiptStatus string

const (
	ReceiptStatusSuccess   ReceiptStatus = "success"
	ReceiptStatusPartial   ReceiptStatus = "partial"
	ReceiptStatusFailed    ReceiptStatus = "failed"
	ReceiptStatusCancelled ReceiptStatus = "cancelled"
)

type ReceiptAction struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// Receipt is the audit record written once per terminal job transition.
type Receipt struct {
	ID         uuid.UUID       `json:"id"`
	JobID      uuid.UUID       `json:"jobId"`
	JobType    string          `json:"jobType"`
	Status     ReceiptStatus   `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	EndedAt    *time.Time      `json:"endedAt,omitempty"`
	DurationMs int64           `json:"durationMs"`
	Actions    []ReceiptAction `json:"actions"`
	Error      *JobError       `json:"error,omitempty"`
}
