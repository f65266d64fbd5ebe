package models

import "time"

// Notification is a single message, fanned out to recipients through
// user_notifications rows.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// UserNotification tracks per-user read state for one notification.
// Rows are created once per recipient and never deleted.
type UserNotification struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	NotificationID string     `db:"notification_id" json:"notification_id"`
	IsRead         bool       `db:"is_read" json:"is_read"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// UserNotificationView is the joined row returned by listings.
type UserNotificationView struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	NotificationID string     `db:"notification_id" json:"notification_id"`
	Message        string     `db:"message" json:"message"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	IsRead         bool       `db:"is_read" json:"is_read"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// NotificationFilter selects fan-out rows for a listing.
type NotificationFilter struct {
	UserID   string
	Role     UserRole
	Page     int
	PageSize int
}
