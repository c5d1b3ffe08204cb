package channels

import (
	"context"

	"github.com/yungbote/assistant-gateway/internal/logger"
)

type FileOptions struct {
	FileName string
	MimeType string
	Caption  string
}

// Adapter delivers outbound messages to a chat channel. Implementations live
// outside the core (WhatsApp bridge, test doubles); the dispatcher only needs
// these two calls.
type Adapter interface {
	SendText(ctx context.Context, sessionID, text string) error
	SendFile(ctx context.Context, sessionID, filePath string, opts FileOptions) error
}

// LogAdapter is the development fallback: outbound traffic goes to the log
// instead of a real channel.
type LogAdapter struct {
	log *logger.Logger
}

func NewLogAdapter(baseLog *logger.Logger) *LogAdapter {
	return &LogAdapter{log: baseLog.With("component", "LogAdapter")}
}

func (a *LogAdapter) SendText(ctx context.Context, sessionID, text string) error {
	a.log.Info("Outbound text", "session_id", sessionID, "text", text)
	return nil
}

func (a *LogAdapter) SendFile(ctx context.Context, sessionID, filePath string, opts FileOptions) error {
	a.log.Info("Outbound file", "session_id", sessionID, "file_path", filePath, "file_name", opts.FileName, "mime_type", opts.MimeType)
	return nil
}
