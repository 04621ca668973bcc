package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var topicEmoji = map[Topic]string{
	TopicVerifyFailed:    ":x:",
	TopicReadyReached:    ":white_check_mark:",
	TopicNeedsHuman:      ":raised_hand:",
	TopicSubmitCompleted: ":rocket:",
	TopicError:           ":boom:",
}

var topicLabel = map[Topic]string{
	TopicVerifyFailed:    "Verification failed",
	TopicReadyReached:    "Ready to submit",
	TopicNeedsHuman:      "Needs a human",
	TopicSubmitCompleted: "Submit completed",
	TopicError:           "Error",
}

// SlackSink posts whitelisted task notifications to a configured Slack
// channel using Block Kit messages.
type SlackSink struct {
	api          *goslack.Client
	channel      string
	dashboardURL string
	logger       *slog.Logger
}

// NewSlackSink builds a SlackSink. Returns nil if token or channel is
// empty, matching the nil-safe convention the rest of the dispatcher relies
// on for optional sinks.
func NewSlackSink(token, channel, dashboardURL string) *SlackSink {
	if token == "" || channel == "" {
		return nil
	}
	return &SlackSink{
		api:          goslack.New(token),
		channel:      channel,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "notify-slack-sink"),
	}
}

func (s *SlackSink) Name() string { return "slack" }

// Send posts msg to the configured channel. A Slack API failure is
// returned to the Dispatcher, which collects it and continues with other
// sinks — Slack outages must never roll back a task mutation.
func (s *SlackSink) Send(msg Message) error {
	if s == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	blocks := s.buildBlocks(msg)
	_, _, err := s.api.PostMessageContext(ctx, s.channel, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("notify: slack chat.postMessage failed: %w", err)
	}
	return nil
}

func (s *SlackSink) buildBlocks(msg Message) []goslack.Block {
	emoji := topicEmoji[msg.Topic]
	if emoji == "" {
		emoji = ":question:"
	}
	label := topicLabel[msg.Topic]
	if label == "" {
		label = string(msg.Topic)
	}

	headerText := fmt.Sprintf("%s *%s* (`%s`)", emoji, label, msg.TaskID)
	if msg.Summary != "" {
		headerText += fmt.Sprintf("\n%s", truncateForSlack(msg.Summary))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}

	if s.dashboardURL != "" {
		url := fmt.Sprintf("%s/tasks/%s", s.dashboardURL, msg.TaskID)
		btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View task", false, false))
		btn.URL = url
		blocks = append(blocks, goslack.NewActionBlock("", btn))
	}
	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
