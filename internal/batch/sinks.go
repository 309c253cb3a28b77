package batch

import (
	"context"
	"log/slog"
)

// ProgressSink receives best-effort progress updates. Errors are logged and
// never abort the run.
type ProgressSink interface {
	ReportProgress(ctx context.Context, percent int, message string) error
}

// LogSink receives best-effort diagnostic messages.
type LogSink interface {
	LogMessage(ctx context.Context, text string)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ctx context.Context, percent int, message string) error

// ReportProgress calls f.
func (f ProgressFunc) ReportProgress(ctx context.Context, percent int, message string) error {
	return f(ctx, percent, message)
}

// NopProgress discards progress updates.
type NopProgress struct{}

// ReportProgress does nothing.
func (NopProgress) ReportProgress(context.Context, int, string) error { return nil }

// NopLog discards diagnostic messages.
type NopLog struct{}

// LogMessage does nothing.
func (NopLog) LogMessage(context.Context, string) {}

// SlogProgress forwards progress updates to a structured logger.
type SlogProgress struct {
	Logger *slog.Logger
}

// ReportProgress logs the update at info level.
func (s SlogProgress) ReportProgress(ctx context.Context, percent int, message string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, message, slog.Int("percent", percent))
	return nil
}

// SlogLog forwards diagnostic messages to a structured logger.
type SlogLog struct {
	Logger *slog.Logger
}

// LogMessage logs text at info level.
func (s SlogLog) LogMessage(ctx context.Context, text string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, text)
}
