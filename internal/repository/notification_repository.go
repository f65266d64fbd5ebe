package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/device-inventory-api/internal/models"
)

// NotificationRepository persists notifications and their per-user
// fan-out rows.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// CreateForUser inserts a notification together with a single fan-out
// row for the target user.
func (r *NotificationRepository) CreateForUser(ctx context.Context, userID, message string) (*models.Notification, error) {
	notification := &models.Notification{
		ID:        uuid.NewString(),
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create notification: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO notifications (id, message, created_at) VALUES (:id, :message, :created_at)`,
		notification); err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_notifications (id, user_id, notification_id, is_read) VALUES ($1, $2, $3, FALSE)`,
		uuid.NewString(), userID, notification.ID); err != nil {
		return nil, fmt.Errorf("insert user notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create notification: %w", err)
	}
	return notification, nil
}

// BroadcastToAll inserts a notification plus one fan-out row per known
// user in a single transaction, so a broadcast either reaches every
// user or nobody.
func (r *NotificationRepository) BroadcastToAll(ctx context.Context, message string) (*models.Notification, error) {
	notification := &models.Notification{
		ID:        uuid.NewString(),
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin broadcast: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO notifications (id, message, created_at) VALUES (:id, :message, :created_at)`,
		notification); err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_notifications (id, user_id, notification_id, is_read) SELECT gen_random_uuid(), id, $1, FALSE FROM users`,
		notification.ID); err != nil {
		return nil, fmt.Errorf("insert broadcast rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit broadcast: %w", err)
	}
	return notification, nil
}

// MarkRead marks a single fan-out row as read. The update is guarded
// by is_read = FALSE so read_at keeps its first value; a repeat call
// still reports true as long as the row exists for the user.
func (r *NotificationRepository) MarkRead(ctx context.Context, userNotificationID, userID string, readAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE user_notifications SET is_read = TRUE, read_at = $3 WHERE id = $1 AND user_id = $2 AND is_read = FALSE`,
		userNotificationID, userID, readAt)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark read rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.GetContext(ctx,
		&exists,
		`SELECT EXISTS (SELECT 1 FROM user_notifications WHERE id = $1 AND user_id = $2)`,
		userNotificationID, userID); err != nil {
		return false, fmt.Errorf("check notification ownership: %w", err)
	}
	return exists, nil
}

// MarkAllRead marks every unread row for the user as read.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string, readAt time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE user_notifications SET is_read = TRUE, read_at = $2 WHERE user_id = $1 AND is_read = FALSE`,
		userID, readAt); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

// ListForUser returns fan-out rows joined to their notifications,
// newest first. Admins see the rows of every user.
func (r *NotificationRepository) ListForUser(ctx context.Context, filter models.NotificationFilter) ([]models.UserNotificationView, int, error) {
	base := `FROM user_notifications un JOIN notifications n ON n.id = un.notification_id`
	where := []string{}
	args := []interface{}{}
	if filter.Role != models.RoleAdmin {
		where = append(where, fmt.Sprintf("un.user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	whereClause := "1=1"
	if len(where) > 0 {
		whereClause = strings.Join(where, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT un.id, un.user_id, un.notification_id, un.is_read, un.read_at, n.message, n.created_at
%s WHERE %s
ORDER BY n.created_at DESC
LIMIT %d OFFSET %d`, base, whereClause, size, offset)
	var views []models.UserNotificationView
	if err := r.db.SelectContext(ctx, &views, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return views, total, nil
}

// Latest returns the newest rows for a user, capped at limit.
func (r *NotificationRepository) Latest(ctx context.Context, userID string, limit int) ([]models.UserNotificationView, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`SELECT un.id, un.user_id, un.notification_id, un.is_read, un.read_at, n.message, n.created_at
FROM user_notifications un JOIN notifications n ON n.id = un.notification_id
WHERE un.user_id = $1
ORDER BY n.created_at DESC
LIMIT %d`, limit)
	var views []models.UserNotificationView
	if err := r.db.SelectContext(ctx, &views, query, userID); err != nil {
		return nil, fmt.Errorf("latest notifications: %w", err)
	}
	return views, nil
}

// UnreadCount returns the number of unread rows for a user.
func (r *NotificationRepository) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx,
		&count,
		`SELECT COUNT(*) FROM user_notifications WHERE user_id = $1 AND is_read = FALSE`,
		userID); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}
