package store

import (
	"time"
)

// Store is the persistence interface for chime's local notification log.
// Defined at the consumer side per Go conventions.
type Store interface {
	// Notifications
	RecordNotification(n *NotificationRecord) error
	ListNotifications(f NotificationFilter) ([]NotificationRecord, error)

	// Actions
	RecordAction(a *ActionRecord) error
	ListActions(limit int) ([]ActionRecord, error)

	// Maintenance
	Cleanup(retention time.Duration) error
	Close() error
}

// Notification outcomes.
const (
	StatusShown      = "shown"
	StatusFailed     = "failed"
	StatusSuppressed = "suppressed"
	StatusSkipped    = "skipped"
)

// NotificationRecord is one dispatch outcome.
type NotificationRecord struct {
	ID        int64
	MessageID string
	GroupID   string
	SenderID  string
	Title     string
	Body      string
	Channel   string // notifier that delivered it, empty if none did
	Status    string
	Reason    string
	CreatedAt time.Time
}

// NotificationFilter specifies criteria for listing notifications.
type NotificationFilter struct {
	Status  string
	GroupID string
	Limit   int
	Since   time.Time
}

// ActionRecord is a click on a notification, native or browser.
type ActionRecord struct {
	ID        int64
	GroupID   string
	Source    string
	CreatedAt time.Time
}
