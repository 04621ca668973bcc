package notify

import (
	"context"
	"log/slog"
)

// LogSink writes notifications through structured logging. Used standalone
// in environments without Slack configured, and always alongside SlackSink
// so notifications are never silent in server logs.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink builds a LogSink. A nil logger falls back to slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "notify-log-sink")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(msg Message) error {
	level := slog.LevelInfo
	if msg.Topic == TopicError || msg.Topic == TopicNeedsHuman || msg.Topic == TopicVerifyFailed {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "task notification",
		"topic", msg.Topic,
		"task_id", msg.TaskID,
		"repo_id", msg.RepoID,
		"summary", msg.Summary,
	)
	return nil
}
