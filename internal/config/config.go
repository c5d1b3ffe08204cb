package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"

	"github.com/yungbote/assistant-gateway/internal/jobs"
	"github.com/yungbote/assistant-gateway/internal/platform/envutil"
)

// Config is everything the process reads from the environment, parsed and
// clamped once at startup.
type Config struct {
	Port          int
	StateDir      string
	LogMode       string
	PublicBaseURL string

	WorkerConcurrency int
	WorkerPoll        time.Duration
	NotificationPoll  time.Duration
	ReminderPoll      time.Duration
	RunningTimeout    time.Duration
	CancellingTimeout time.Duration

	StreamMaxEvents     int
	StreamRetentionDays int
	StreamDedupeWindow  time.Duration

	BaileysInboundToken string
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:          envutil.Int("PORT", 3000),
		StateDir:      envutil.String("STATE_DIR", "./state"),
		LogMode:       envutil.String("LOG_MODE", "production"),
		PublicBaseURL: envutil.String("PUBLIC_BASE_URL", ""),

		WorkerConcurrency: envutil.IntClamped("WORKER_CONCURRENCY", 2, 1, 64),
		WorkerPoll:        envutil.MillisDuration("WORKER_POLL_MS", 250*time.Millisecond, 25*time.Millisecond, time.Minute),
		NotificationPoll:  envutil.MillisDuration("NOTIFICATION_POLL_MS", time.Second, 25*time.Millisecond, time.Minute),
		ReminderPoll:      envutil.MillisDuration("REMINDER_POLL_MS", 5*time.Second, 25*time.Millisecond, time.Minute),
		RunningTimeout:    envutil.MillisDuration("JOB_RUNNING_TIMEOUT_MS", jobs.DefaultRunningTimeout, jobs.MinRunningTimeout, jobs.MaxWatchdogTimeout),
		CancellingTimeout: envutil.MillisDuration("JOB_CANCELLING_TIMEOUT_MS", jobs.DefaultCancellingTimeout, jobs.MinCancellingTimeout, jobs.MaxWatchdogTimeout),

		StreamMaxEvents:     envutil.IntClamped("STREAM_MAX_EVENTS", 5000, 100, 100000),
		StreamRetentionDays: envutil.IntClamped("STREAM_RETENTION_DAYS", 14, 1, 365),
		StreamDedupeWindow:  envutil.MillisDuration("STREAM_DEDUPE_WINDOW_MS", 2500*time.Millisecond, time.Millisecond, time.Minute),

		BaileysInboundToken: envutil.String("WHATSAPP_BAILEYS_INBOUND_TOKEN", ""),
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT %d out of range", cfg.Port)
	}
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("STATE_DIR must not be empty")
	}
	return cfg, nil
}
