package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/assistant-gateway/internal/http/response"
	"github.com/yungbote/assistant-gateway/internal/runspec"
)

type RunHandler struct {
	runs *runspec.Store
}

func NewRunHandler(store *runspec.Store) *RunHandler {
	return &RunHandler{runs: store}
}

// GET /v1/runs/:runId
func (h *RunHandler) GetRun(c *gin.Context) {
	rec, err := h.runs.Get(c.Request.Context(), c.Param("runId"))
	if err != nil {
		if errors.Is(err, runspec.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "run_not_found", err)
			return
		}
		response.RespondAPIError(c, http.StatusInternalServerError, "get_run_failed", err)
		return
	}
	response.RespondOK(c, rec)
}

// GET /v1/runs?sessionKey=&limit=
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.runs.ListBySession(c.Request.Context(), c.Query("sessionKey"), limit)
	if err != nil {
		response.RespondAPIError(c, http.StatusInternalServerError, "list_runs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"count": len(runs), "runs": runs})
}
