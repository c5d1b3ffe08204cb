package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/assistant-gateway/internal/http/response"
	"github.com/yungbote/assistant-gateway/internal/jobs"
)

type JobHandler struct {
	jobs *jobs.Store
}

func NewJobHandler(store *jobs.Store) *JobHandler {
	return &JobHandler{jobs: store}
}

type createJobRequest struct {
	Type           string         `json:"type"`
	Payload        map[string]any `json:"payload"`
	Priority       *int           `json:"priority"`
	RequestedSkill string         `json:"requestedSkill"`
}

// POST /v1/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_request", err)
		return
	}
	if req.Type == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_request", fmt.Errorf("type is required"))
		return
	}
	priority := 5
	if req.Priority != nil {
		priority = *req.Priority
	}
	job, err := h.jobs.Create(c.Request.Context(), req.Type, req.Payload, priority, req.RequestedSkill)
	if err != nil {
		response.RespondAPIError(c, http.StatusInternalServerError, "create_job_failed", err)
		return
	}
	response.RespondAccepted(c, gin.H{"jobId": job.ID, "status": job.Status})
}

// GET /v1/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		response.RespondAPIError(c, http.StatusInternalServerError, "get_job_failed", err)
		return
	}
	response.RespondOK(c, job)
}

// GET /v1/jobs?status=&limit=
func (h *JobHandler) ListJobs(c *gin.Context) {
	all, err := h.jobs.List(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, http.StatusInternalServerError, "list_jobs_failed", err)
		return
	}
	if status := c.Query("status"); status != "" {
		filtered := all[:0]
		for _, job := range all {
			if string(job.Status) == status {
				filtered = append(filtered, job)
			}
		}
		all = filtered
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	response.RespondOK(c, gin.H{"count": len(all), "jobs": all})
}

// POST /v1/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_cancel_request", err)
		return
	}
	job, err := h.jobs.Cancel(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		response.RespondAPIError(c, http.StatusInternalServerError, "cancel_job_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobId": job.ID, "status": job.Status})
}

// POST /v1/jobs/:id/retry
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_retry_request", err)
		return
	}
	child, err := h.jobs.Retry(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
		case errors.Is(err, jobs.ErrRetryUnavailable):
			response.RespondError(c, http.StatusConflict, "job_retry_unavailable", err)
		default:
			response.RespondAPIError(c, http.StatusInternalServerError, "retry_job_failed", err)
		}
		return
	}
	response.RespondAccepted(c, gin.H{"jobId": child.ID, "status": child.Status, "retryOf": child.RetryOf})
}
