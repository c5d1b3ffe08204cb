package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/assistant-gateway/internal/convo"
	"github.com/yungbote/assistant-gateway/internal/http/response"
	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/sse"
	"github.com/yungbote/assistant-gateway/internal/types"
)

type StreamHandler struct {
	convoLog  *convo.Log
	keepalive time.Duration
	log       *logger.Logger
}

func NewStreamHandler(convoLog *convo.Log, keepalive time.Duration, baseLog *logger.Logger) *StreamHandler {
	return &StreamHandler{
		convoLog:  convoLog,
		keepalive: keepalive,
		log:       baseLog.With("component", "StreamHandler"),
	}
}

func csv(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func filterFromQuery(c *gin.Context) (convo.QueryFilter, error) {
	f := convo.QueryFilter{
		SessionID:  c.Query("sessionId"),
		Kinds:      csv(c.Query("kind")),
		Sources:    csv(c.Query("source")),
		Channels:   csv(c.Query("channel")),
		Directions: csv(c.Query("direction")),
		Text:       c.Query("text"),
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return f, err
		}
		f.Limit = limit
	}
	if v := c.Query("since"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, err
		}
		f.Since = &at
	}
	if v := c.Query("until"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, err
		}
		f.Until = &at
	}
	return f, nil
}

// GET /v1/stream/events
func (h *StreamHandler) QueryEvents(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_stream_query", err)
		return
	}
	events, err := h.convoLog.Query(c.Request.Context(), filter)
	if err != nil {
		response.RespondAPIError(c, http.StatusInternalServerError, "query_events_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"count": len(events), "events": events})
}

// GET /v1/stream/events/subscribe
func (h *StreamHandler) Subscribe(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_stream_query", err)
		return
	}

	// Buffered so a slow client sheds events instead of stalling Add.
	events := make(chan any, 64)
	unsubscribe := h.convoLog.Subscribe(func(evt *types.ConversationEvent) {
		if filter.SessionID != "" && evt.SessionID != filter.SessionID {
			return
		}
		select {
		case events <- evt:
		default:
			h.log.Warn("Dropping stream event; subscriber buffer full", "session_id", evt.SessionID)
		}
	})
	defer unsubscribe()

	sse.Stream(c.Writer, c.Request, events, h.keepalive, h.log)
}
