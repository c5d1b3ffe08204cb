package services

import (
	"github.com/yungbote/assistant-gateway/internal/jobs/worker"
	"github.com/yungbote/assistant-gateway/internal/types"
)

// StubTaskProcessor handles stub_task jobs: it echoes the payload text back
// as both summary and response. It stands in for real task executors and
// keeps the whole job pipeline exercisable end to end.
func StubTaskProcessor() worker.ProcessorFunc {
	return func(jc *worker.Context) (map[string]any, error) {
		text := jc.Job.PayloadString("text")
		jc.ReportProgress(types.JobProgress{Message: "processing", Step: "stub", Phase: "work"})
		out := "processed:" + text
		return map[string]any{"summary": out, "responseText": out}, nil
	}
}
