package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/assistant-gateway/internal/approvals"
	"github.com/yungbote/assistant-gateway/internal/channels"
	"github.com/yungbote/assistant-gateway/internal/config"
	"github.com/yungbote/assistant-gateway/internal/convo"
	"github.com/yungbote/assistant-gateway/internal/dedupe"
	"github.com/yungbote/assistant-gateway/internal/http/handlers"
	"github.com/yungbote/assistant-gateway/internal/jobs"
	"github.com/yungbote/assistant-gateway/internal/jobs/worker"
	"github.com/yungbote/assistant-gateway/internal/logger"
	"github.com/yungbote/assistant-gateway/internal/metrics"
	"github.com/yungbote/assistant-gateway/internal/notify"
	"github.com/yungbote/assistant-gateway/internal/reminders"
	"github.com/yungbote/assistant-gateway/internal/runspec"
	"github.com/yungbote/assistant-gateway/internal/server"
	"github.com/yungbote/assistant-gateway/internal/services"
	"github.com/yungbote/assistant-gateway/internal/state"
	"github.com/yungbote/assistant-gateway/internal/types"
)

const serviceName = "assistant-gateway"

func main() {
	// Env
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logger
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// State directory
	log.Info("Opening state directory...", "state_dir", cfg.StateDir)
	dir, err := state.NewDir(cfg.StateDir)
	if err != nil {
		log.Error("Could not open state directory", "state_dir", cfg.StateDir, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores
	log.Info("Setting up stores from main...")
	jobStore := jobs.NewStore(dir, log)
	outbound := notify.NewStore(dir, log)
	reminderStore := reminders.NewStore(dir, log)
	dedupeStore := dedupe.NewStore(dir, log, 0)
	approvalStore := approvals.NewStore(dir, log)
	runStore := runspec.NewStore(dir, log)
	convoLog, err := convo.NewLog(dir, log, convo.Config{
		MaxEvents:     cfg.StreamMaxEvents,
		RetentionDays: cfg.StreamRetentionDays,
		DedupeWindow:  cfg.StreamDedupeWindow,
	})
	if err != nil {
		log.Error("Could not load conversation log", "error", err)
		os.Exit(1)
	}
	convoLog.StartPruner(ctx, time.Minute)

	// Metrics
	set := metrics.NewSet()

	// Recover jobs orphaned by an unclean shutdown before workers start.
	if recovered, err := jobStore.RecoverStuck(ctx, cfg.RunningTimeout, cfg.CancellingTimeout); err != nil {
		log.Warn("Startup stuck-job sweep failed", "error", err)
	} else if len(recovered) > 0 {
		log.Info("Recovered stuck jobs on boot", "count", len(recovered))
	}

	// Workers
	log.Info("Setting up worker pool from main...")
	relay := services.NewStatusRelay(outbound, convoLog, set, log)
	executor := runspec.NewExecutor(runStore, outbound, dir, log)
	registry := worker.NewRegistry()
	registry.Register("stub_task", services.StubTaskProcessor())
	registry.Register("run_spec", executor.Processor())
	pool := worker.NewPool(jobStore, registry, log, worker.PoolConfig{
		Concurrency:       cfg.WorkerConcurrency,
		PollInterval:      cfg.WorkerPoll,
		RunningTimeout:    cfg.RunningTimeout,
		CancellingTimeout: cfg.CancellingTimeout,
		OnStatus:          relay.Hook(),
	})
	pool.Start(ctx)

	// Dispatchers
	log.Info("Setting up dispatchers from main...")
	adapter := channels.NewLogAdapter(log)
	notifyDispatcher := notify.NewDispatcher(outbound, adapter, log, cfg.NotificationPoll, func(n *types.Notification) {
		set.NotificationsDelivered.Inc()
	})
	notifyDispatcher.Start(ctx)
	reminderDispatcher := reminders.NewDispatcher(reminderStore, outbound, log, cfg.ReminderPoll)
	reminderDispatcher.OnTriggered(func(r *types.Reminder) {
		set.RemindersTriggered.Inc()
	})
	reminderDispatcher.Start(ctx)

	// Gateway
	gateway := services.NewGatewayService(services.GatewayDeps{
		Jobs:      jobStore,
		Approvals: approvalStore,
		Runs:      runStore,
		Outbound:  outbound,
		Dedupe:    dedupeStore,
		ConvoLog:  convoLog,
		Metrics:   set,
	}, log)

	// HTTP
	log.Info("Setting up HTTP server from main...", "port", cfg.Port)
	router := server.NewRouter(server.RouterConfig{
		HealthHandler:   handlers.NewHealthHandler(serviceName, jobStore),
		MessageHandler:  handlers.NewMessageHandler(gateway),
		BaileysHandler:  handlers.NewBaileysHandler(gateway, cfg.BaileysInboundToken),
		JobHandler:      handlers.NewJobHandler(jobStore),
		ApprovalHandler: handlers.NewApprovalHandler(approvalStore, gateway),
		RunHandler:      handlers.NewRunHandler(runStore),
		StreamHandler:   handlers.NewStreamHandler(convoLog, 15*time.Second, log),
		Metrics:         set,
	})
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Error("HTTP server failed", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown did not finish cleanly", "error", err)
	}
	pool.Wait()
	log.Info("Shutdown complete")
}
