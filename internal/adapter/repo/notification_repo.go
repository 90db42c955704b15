package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/infra"
	"github.com/davidkvd/nomnom-studio/internal/sqlinline"
)

// NotificationRepositoryPG implements domain.NotificationRepository.
type NotificationRepositoryPG struct {
	db infra.SQLExecutor
}

func NewNotificationRepository(db infra.SQLExecutor) *NotificationRepositoryPG {
	return &NotificationRepositoryPG{db: db}
}

func (r *NotificationRepositoryPG) CreateNotification(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return r.db.QueryRow(ctx, sqlinline.QInsertNotification,
		n.ID,
		n.UserID,
		n.BatchID,
		string(n.Kind),
		n.Title,
		n.Body,
	).Scan(&n.CreatedAt)
}

func (r *NotificationRepositoryPG) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	rows, err := r.db.Query(ctx, sqlinline.QListNotifications, userID, clampLimit(limit, 20, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.BatchID, &n.Kind, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
