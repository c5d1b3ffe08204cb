package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/assistant-gateway/internal/http/handlers"
	"github.com/yungbote/assistant-gateway/internal/metrics"
)

type RouterConfig struct {
	HealthHandler   *handlers.HealthHandler
	MessageHandler  *handlers.MessageHandler
	BaileysHandler  *handlers.BaileysHandler
	JobHandler      *handlers.JobHandler
	ApprovalHandler *handlers.ApprovalHandler
	RunHandler      *handlers.RunHandler
	StreamHandler   *handlers.StreamHandler
	Metrics         *metrics.Set
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", "x-baileys-inbound-token"},
		AllowCredentials: false,
	}))

	router.GET("/health", cfg.HealthHandler.HealthCheck)
	if cfg.Metrics != nil {
		router.GET("/metrics", cfg.Metrics.Handler())
	}

	v1 := router.Group("/v1")
	{
		// Messages
		v1.POST("/messages/inbound", cfg.MessageHandler.Inbound)
		v1.POST("/whatsapp/baileys/inbound", cfg.BaileysHandler.Inbound)
		// Jobs
		v1.POST("/jobs", cfg.JobHandler.CreateJob)
		v1.GET("/jobs", cfg.JobHandler.ListJobs)
		v1.GET("/jobs/:id", cfg.JobHandler.GetJob)
		v1.POST("/jobs/:id/cancel", cfg.JobHandler.CancelJob)
		v1.POST("/jobs/:id/retry", cfg.JobHandler.RetryJob)
		// Approvals
		v1.GET("/approvals/pending", cfg.ApprovalHandler.ListPending)
		v1.POST("/approvals/resolve", cfg.ApprovalHandler.Resolve)
		// Runs
		v1.GET("/runs", cfg.RunHandler.ListRuns)
		v1.GET("/runs/:runId", cfg.RunHandler.GetRun)
		// Event stream
		v1.GET("/stream/events", cfg.StreamHandler.QueryEvents)
		v1.GET("/stream/events/subscribe", cfg.StreamHandler.Subscribe)
	}

	return router
}
