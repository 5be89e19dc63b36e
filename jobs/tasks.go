package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
	"github.com/odyssey-erp/odyssey-iam/internal/mail"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(msg mail.Message) (*asynq.Task, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.MaxRetry(5)), nil
}

// EmailHandler delivers queued emails.
type EmailHandler struct {
	sender  mail.Dispatcher
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewEmailHandler constructs an EmailHandler around the synchronous sender.
func NewEmailHandler(sender mail.Dispatcher, metrics *jobmetrics.Metrics, logger *slog.Logger) *EmailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailHandler{sender: sender, metrics: metrics, logger: logger}
}

// ProcessTask implements asynq.Handler.
func (h *EmailHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	tracker := h.metrics.Track(TaskTypeSendEmail)
	var msg mail.Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return tracker.End(fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry))
	}
	err := h.sender.Dispatch(ctx, msg)
	h.metrics.MailDelivered(msg.Template, err)
	if err != nil {
		h.logger.Warn("send email", slog.String("template", msg.Template), slog.Any("error", err))
	}
	return tracker.End(err)
}
