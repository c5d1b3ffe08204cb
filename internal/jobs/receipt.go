package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/assistant-gateway/internal/state"
	"github.com/yungbote/assistant-gateway/internal/types"
)

// receiptStatus maps a job status onto the audit view: anything still in
// flight reads as partial, succeeded reads as success, the rest carry over.
func receiptStatus(s types.JobStatus) types.ReceiptStatus {
	switch s {
	case types.JobStatusSucceeded:
		return types.ReceiptStatusSuccess
	case types.JobStatusFailed:
		return types.ReceiptStatusFailed
	case types.JobStatusCancelled:
		return types.ReceiptStatusCancelled
	default:
		return types.ReceiptStatusPartial
	}
}

func (s *Store) writeReceipt(job *types.Job) error {
	now := time.Now().UTC()
	receipt := &types.Receipt{
		ID:        job.ID,
		JobID:     job.ID,
		JobType:   job.Type,
		Status:    receiptStatus(job.Status),
		CreatedAt: now,
		StartedAt: job.StartedAt,
		EndedAt:   job.EndedAt,
		Error:     job.Error,
	}
	if job.StartedAt != nil && job.EndedAt != nil {
		d := job.EndedAt.Sub(*job.StartedAt).Milliseconds()
		if d < 0 {
			d = 0
		}
		receipt.DurationMs = d
	}
	actions := []types.ReceiptAction{{At: job.CreatedAt, Kind: "queued"}}
	if job.StartedAt != nil {
		actions = append(actions, types.ReceiptAction{At: *job.StartedAt, Kind: "started"})
	}
	terminal := types.ReceiptAction{At: now, Kind: string(job.Status)}
	if job.EndedAt != nil {
		terminal.At = *job.EndedAt
	}
	if job.Error != nil {
		terminal.Message = job.Error.Message
	}
	actions = append(actions, terminal)
	receipt.Actions = actions
	return s.dir.WriteJSONAtomic(s.dir.Path("receipts", job.ID.String()+".json"), receipt)
}

// GetReceipt returns the receipt for a terminal job, or ErrNotFound.
func (s *Store) GetReceipt(id uuid.UUID) (*types.Receipt, error) {
	var receipt types.Receipt
	if err := s.dir.ReadJSON(s.dir.Path("receipts", id.String()+".json"), &receipt); err != nil {
		if errors.Is(err, state.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &receipt, nil
}
