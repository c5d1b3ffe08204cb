package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/assistant-gateway/internal/http/response"
	"github.com/yungbote/assistant-gateway/internal/jobs"
)

type HealthHandler struct {
	service string
	jobs    *jobs.Store
}

func NewHealthHandler(service string, store *jobs.Store) *HealthHandler {
	return &HealthHandler{service: service, jobs: store}
}

// GET /health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	counts, err := h.jobs.StatusCounts(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, http.StatusInternalServerError, "health_check_failed", err)
		return
	}
	response.RespondOK(c, gin.H{
		"service": h.service,
		"status":  "ok",
		"queue":   counts,
	})
}
