package services

import (
	"context"
	"fmt"

	"github.com/yungbote/assistant-gateway/internal/convo"
	"github.com/yungbote/assistant-gateway/internal/jobs/worker"
	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/metrics"
	"github.com/yungbote/assistant-gateway/internal/notify"
	"github.com/yungbote/assistant-gateway/internal/types"
)

// StatusRelay turns worker status events into outbound notifications and
// conversation events. Terminal transitions also bump the job counters.
type StatusRelay struct {
	outbound *notify.Store
	convoLog *convo.Log
	metrics  *metrics.Set
	log      *logger.Logger
}

func NewStatusRelay(outbound *notify.Store, convoLog *convo.Log, set *metrics.Set, baseLog *logger.Logger) *StatusRelay {
	return &StatusRelay{
		outbound: outbound,
		convoLog: convoLog,
		metrics:  set,
		log:      baseLog.With("component", "StatusRelay"),
	}
}

// Hook adapts the relay to the worker pool's status callback.
func (r *StatusRelay) Hook() worker.StatusFunc {
	return func(evt worker.StatusEvent) {
		ctx := context.Background()
		text := r.describe(evt)

		if r.convoLog != nil && evt.SessionID != "" {
			if _, err := r.convoLog.Add(ctx, evt.SessionID, "outbound", text, convo.AddInput{
				Source:  "jobs",
				Channel: "worker",
				Kind:    "status",
				Metadata: map[string]any{
					"jobId":  evt.JobID.String(),
					"status": evt.Status,
				},
			}); err != nil {
				r.log.Warn("Failed to record status event", "job_id", evt.JobID, "error", err)
			}
		}

		switch evt.Status {
		case worker.StatusSucceeded, worker.StatusFailed, worker.StatusCancelled:
			if r.metrics != nil {
				r.metrics.JobsTerminal.WithLabelValues(evt.Status).Inc()
			}
			if evt.SessionID == "" {
				return
			}
			if _, err := r.outbound.Enqueue(ctx, &types.Notification{
				SessionID: evt.SessionID,
				Kind:      types.NotificationKindText,
				Text:      text,
			}); err != nil {
				r.log.Warn("Failed to enqueue status notification", "job_id", evt.JobID, "error", err)
			}
		}
	}
}

func (r *StatusRelay) describe(evt worker.StatusEvent) string {
	switch evt.Status {
	case worker.StatusSucceeded:
		if evt.ResponseText != "" {
			return evt.ResponseText
		}
		if evt.Summary != "" {
			return evt.Summary
		}
		return fmt.Sprintf("Job %s succeeded", evt.JobID)
	case worker.StatusFailed:
		msg := fmt.Sprintf("Job %s failed", evt.JobID)
		if evt.Summary != "" {
			msg += ": " + evt.Summary
		}
		if evt.RetryJobID != "" {
			msg += fmt.Sprintf(" (retrying as %s)", evt.RetryJobID)
		}
		return msg
	case worker.StatusCancelled:
		return fmt.Sprintf("Job %s cancelled", evt.JobID)
	case worker.StatusRunning:
		return fmt.Sprintf("Job %s started", evt.JobID)
	default:
		if evt.Summary != "" {
			return evt.Summary
		}
		return fmt.Sprintf("Job %s: %s", evt.JobID, evt.Status)
	}
}
