// Package notify tells users that a batch finished: an in-app notification
// always, and an email trigger on the message bus when anything succeeded.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/davidkvd/nomnom-studio/internal/domain"
)

const EmailTriggerType = "batch_finished_email"

// EmailTrigger is the message consumed by the email collaborator.
type EmailTrigger struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	BatchID   string `json:"batch_id"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
	Locale    string `json:"locale"`
}

type Notifier struct {
	repo      domain.NotificationRepository
	publisher Publisher
	topic     string
	logger    zerolog.Logger
}

// NewNotifier builds a notifier. publisher may be nil, which disables email.
func NewNotifier(repo domain.NotificationRepository, publisher Publisher, topic string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		repo:      repo,
		publisher: publisher,
		topic:     topic,
		logger:    logger.With().Str("component", "notify").Logger(),
	}
}

// BatchFinished records the in-app notification and publishes the email
// trigger when at least one item succeeded. Callers guarantee it runs once
// per batch. An error means the in-app notification was not stored and the
// call may be retried; a failed publish is only logged because retrying
// would store the in-app notification twice.
func (n *Notifier) BatchFinished(ctx context.Context, b domain.Batch) error {
	title, body := batchFinishedText(b)
	note := &domain.Notification{
		UserID:  b.UserID,
		BatchID: b.ID,
		Kind:    domain.NotificationBatchFinished,
		Title:   title,
		Body:    body,
	}
	if err := n.repo.CreateNotification(ctx, note); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	n.logger.Info().Str("batch_id", b.ID).Int("completed", b.CompletedCount).Int("failed", b.FailedCount).Msg("notify: in-app notification stored")

	if b.CompletedCount == 0 || n.publisher == nil || n.topic == "" {
		return nil
	}
	payload, err := json.Marshal(EmailTrigger{
		Type:      EmailTriggerType,
		UserID:    b.UserID,
		BatchID:   b.ID,
		Completed: b.CompletedCount,
		Failed:    b.FailedCount,
		Total:     b.TotalItems,
		Locale:    b.Locale,
	})
	if err != nil {
		n.logger.Error().Err(err).Str("batch_id", b.ID).Msg("notify: encode email trigger failed")
		return nil
	}
	id, err := n.publisher.Publish(ctx, n.topic, payload)
	if err != nil {
		n.logger.Error().Err(err).Str("batch_id", b.ID).Str("user_id", b.UserID).Msg("notify: email trigger not published, replay required")
		return nil
	}
	n.logger.Info().Str("batch_id", b.ID).Str("message_id", id).Msg("notify: email trigger published")
	return nil
}

// List returns the user's newest notifications.
func (n *Notifier) List(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	return n.repo.ListNotifications(ctx, userID, limit)
}
