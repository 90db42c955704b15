package domain

import "time"

// NotificationKind enumerates in-app notification categories.
type NotificationKind string

const (
	NotificationBatchFinished NotificationKind = "batch_finished"
)

// Notification is an in-app message shown to a user.
type Notification struct {
	ID        string
	UserID    string
	BatchID   string
	Kind      NotificationKind
	Title     string
	Body      string
	CreatedAt time.Time
}
