// Package publisher announces finished runs to downstream consumers. The
// memory and pubsub subpackages provide summary.Publisher implementations.
package publisher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/processor"
	"github.com/JakeFAU/site-summarizer/internal/summary"
)

// EventRunCompleted is the event_type attribute of run notifications.
const EventRunCompleted = "run.completed"

// RunCompleted is the payload published when a run ends. Page bodies are
// left out; consumers read summaries from the cache.
type RunCompleted struct {
	RunID       string          `json:"run_id"`
	Site        string          `json:"site"`
	Model       string          `json:"model"`
	Provider    string          `json:"provider"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Stats       processor.Stats `json:"stats"`
	Description string          `json:"description,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NewRunCompleted builds the notification for result; runErr is the error
// returned by the run, if any.
func NewRunCompleted(result processor.Result, runErr error) RunCompleted {
	msg := RunCompleted{
		RunID:       result.RunID,
		Site:        result.Site,
		Model:       result.Model,
		Provider:    result.Provider,
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
		Stats:       result.Stats,
		Description: result.Description,
	}
	if runErr != nil {
		msg.Error = runErr.Error()
	}
	return msg
}

// Attributes returns the message attributes used for subscription filters.
func (m RunCompleted) Attributes() map[string]string {
	status := "success"
	if m.Error != "" {
		status = "error"
	}
	return map[string]string{
		"event_type": EventRunCompleted,
		"run_id":     m.RunID,
		"site":       m.Site,
		"model":      m.Model,
		"status":     status,
	}
}

// Notifier publishes run notifications to one topic. Publish failures are
// logged and never fail the run.
type Notifier struct {
	publisher summary.Publisher
	topic     string
	logger    *zap.Logger
}

// NewNotifier returns a Notifier; a nil publisher disables notifications.
func NewNotifier(publisher summary.Publisher, topic string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publisher: publisher, topic: topic, logger: logger.Named("publisher")}
}

// Notify publishes the completion of result and returns the message ID, or
// "" when nothing was published.
func (n *Notifier) Notify(ctx context.Context, result processor.Result, runErr error) string {
	if n == nil || n.publisher == nil {
		return ""
	}
	msg := NewRunCompleted(result, runErr)
	id, err := n.publisher.Publish(ctx, n.topic, msg)
	if err != nil {
		n.logger.Warn("run notification failed",
			zap.String("run_id", msg.RunID), zap.String("topic", n.topic), zap.Error(err))
		return ""
	}
	n.logger.Info("run notification published",
		zap.String("run_id", msg.RunID), zap.String("topic", n.topic), zap.String("message_id", id))
	return id
}
