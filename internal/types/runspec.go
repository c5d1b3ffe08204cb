package types

import "time"

type RunStatus string

const (
	RunStatusQueued           RunStatus = "queued"
	RunStatusAwaitingApproval RunStatus = "awaiting_approval"
	RunStatusRunning          RunStatus = "running"
	RunStatusCompleted        RunStatus = "completed"
	RunStatusFailed           RunStatus = "failed"
	RunStatusCancelled        RunStatus = "cancelled"
)

type StepStatus string

const (
	StepStatusPending          StepStatus = "pending"
	StepStatusApprovalRequired StepStatus = "approval_required"
	StepStatusApproved         StepStatus = "approved"
	StepStatusRunning          StepStatus = "running"
	StepStatusCompleted        StepStatus = "completed"
	StepStatusFailed           StepStatus = "failed"
	StepStatusCancelled        StepStatus = "cancelled"
	StepStatusSkipped          StepStatus = "skipped"
)

func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusCancelled, StepStatusSkipped:
		return true
	default:
		return false
	}
}

type StepApproval struct {
	Required   bool   `json:"required"`
	Capability string `json:"capability,omitempty"`
}

type RunStep struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	TimeoutMs int            `json:"timeoutMs,omitempty"`
	Retries   int            `json:"retries,omitempty"`
	Approval  *StepApproval  `json:"approval,omitempty"`
}

type RunSpec struct {
	Steps []RunStep `json:"steps"`
}

type StepState struct {
	Status    StepStatus     `json:"status"`
	Attempts  int            `json:"attempts"`
	StartedAt *time.Time     `json:"startedAt,omitempty"`
	EndedAt   *time.Time     `json:"endedAt,omitempty"`
	Message   string         `json:"message,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
}

type RunEventType string

const (
	RunEventStarted           RunEventType = "started"
	RunEventStepStatus        RunEventType = "step_status"
	RunEventNote              RunEventType = "note"
	RunEventApprovalRequested RunEventType = "approval_requested"
	RunEventApprovalGranted   RunEventType = "approval_granted"
	RunEventCompleted         RunEventType = "completed"
	RunEventFailed            RunEventType = "failed"
	RunEventCancelled         RunEventType = "cancelled"
)

// RunEvent is one entry of a run's append-only timeline. Seq is 1-based and
// gap-free per run.
type RunEvent struct {
	Seq     int            `json:"seq"`
	At      time.Time      `json:"at"`
	Type    RunEventType   `json:"type"`
	StepID  string         `json:"stepId,omitempty"`
	Message string         `json:"message,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// RunSpecRecord is the durable multi-step plan. Spec is immutable after the
// first put; everything else evolves through store operations.
type RunSpecRecord struct {
	RunID           string                `json:"runId"`
	SessionID       string                `json:"sessionId"`
	JobID           string                `json:"jobId,omitempty"`
	Status          RunStatus             `json:"status"`
	Spec            RunSpec               `json:"spec"`
	ApprovedStepIDs []string              `json:"approvedStepIds"`
	StepStates      map[string]*StepState `json:"stepStates"`
	Events          []RunEvent            `json:"events"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

func (r *RunSpecRecord) StepApproved(stepID string) bool {
	for _, id := range r.ApprovedStepIDs {
		if id == stepID {
			return true
		}
	}
	return false
}
