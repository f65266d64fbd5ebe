package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/device-inventory-api/internal/models"
	appErrors "github.com/noah-isme/device-inventory-api/pkg/errors"
	"github.com/noah-isme/device-inventory-api/pkg/jobs"
)

// Live event names pushed over the websocket hub.
const (
	EventNewNotification = "NewNotification"
	EventReceiveAverage  = "ReceiveAverage"
	EventDeviceAdded     = "DeviceAdded"
	EventDeviceUpdated   = "DeviceUpdated"
	EventDeviceDeleted   = "DeviceDeleted"
	EventDeviceRestored  = "DeviceRestored"
)

const unreadCountKeyPattern = "notifications:unread:*"

func unreadCountKey(userID string) string {
	return fmt.Sprintf("notifications:unread:%s", userID)
}

type notificationRepository interface {
	CreateForUser(ctx context.Context, userID, message string) (*models.Notification, error)
	BroadcastToAll(ctx context.Context, message string) (*models.Notification, error)
	MarkRead(ctx context.Context, userNotificationID, userID string, readAt time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, readAt time.Time) error
	ListForUser(ctx context.Context, filter models.NotificationFilter) ([]models.UserNotificationView, int, error)
	Latest(ctx context.Context, userID string, limit int) ([]models.UserNotificationView, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type unreadCountCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type liveDispatcher interface {
	Enqueue(job jobs.Job) error
}

// NotificationService manages the per-user notification fan-out and
// best-effort live push.
type NotificationService struct {
	repo     notificationRepository
	cache    unreadCountCache
	live     liveDispatcher
	logger   *zap.Logger
	cacheTTL time.Duration

	// observeCache is called with the outcome of each cache read;
	// used for metrics.
	observeCache func(hit bool)
}

// NewNotificationService constructs the service. The dispatcher may
// be nil; live push is then skipped entirely.
func NewNotificationService(repo notificationRepository, cache unreadCountCache, live liveDispatcher, logger *zap.Logger, cacheTTL time.Duration) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &NotificationService{repo: repo, cache: cache, live: live, logger: logger, cacheTTL: cacheTTL}
}

// SetCacheObserver installs a callback reporting cache read outcomes.
func (s *NotificationService) SetCacheObserver(fn func(hit bool)) {
	s.observeCache = fn
}

// NotifyUser stores a notification for a single user and pushes it
// live.
func (s *NotificationService) NotifyUser(ctx context.Context, userID, message string) (*models.Notification, error) {
	if message == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message must not be empty")
	}
	notification, err := s.repo.CreateForUser(ctx, userID, message)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
	}
	s.invalidateUnreadCount(ctx, userID)
	s.PushLive(EventNewNotification, map[string]interface{}{
		"id":         notification.ID,
		"message":    notification.Message,
		"created_at": notification.CreatedAt,
	})
	return notification, nil
}

// BroadcastToAll stores a notification with one fan-out row per user
// and pushes it live to every connected client.
func (s *NotificationService) BroadcastToAll(ctx context.Context, message string) (*models.Notification, error) {
	if message == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "message must not be empty")
	}
	notification, err := s.repo.BroadcastToAll(ctx, message)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to broadcast notification")
	}
	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, unreadCountKeyPattern); err != nil {
			s.logger.Warn("failed to invalidate unread count cache", zap.Error(err))
		}
	}
	s.PushLive(EventNewNotification, map[string]interface{}{
		"id":         notification.ID,
		"message":    notification.Message,
		"created_at": notification.CreatedAt,
	})
	return notification, nil
}

// MarkRead marks one fan-out row as read. Returns false when the row
// does not exist for the user. A repeat call succeeds without
// refreshing read_at.
func (s *NotificationService) MarkRead(ctx context.Context, userNotificationID, userID string) (bool, error) {
	ok, err := s.repo.MarkRead(ctx, userNotificationID, userID, time.Now().UTC())
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	if ok {
		s.invalidateUnreadCount(ctx, userID)
	}
	return ok, nil
}

// MarkAllRead marks every unread row for the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) error {
	if err := s.repo.MarkAllRead(ctx, userID, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	s.invalidateUnreadCount(ctx, userID)
	return nil
}

// List returns a page of fan-out rows, newest first. Admins see rows
// of every user.
func (s *NotificationService) List(ctx context.Context, filter models.NotificationFilter) ([]models.UserNotificationView, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	views, total, err := s.repo.ListForUser(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return views, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Latest returns the newest ten rows for the user.
func (s *NotificationService) Latest(ctx context.Context, userID string) ([]models.UserNotificationView, error) {
	views, err := s.repo.Latest(ctx, userID, 10)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notifications")
	}
	return views, nil
}

// UnreadCount returns the number of unread rows, served from Redis
// when a fresh value is cached.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	key := unreadCountKey(userID)
	if s.cache != nil {
		var cached int
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if s.observeCache != nil {
				s.observeCache(true)
			}
			return cached, nil
		}
		if s.observeCache != nil {
			s.observeCache(false)
		}
	}

	count, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, count, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache unread count", zap.Error(err))
		}
	}
	return count, nil
}

// BroadcastAverage pushes a computed metric average to all connected
// clients. Delivery is best effort and nothing is persisted.
func (s *NotificationService) BroadcastAverage(ctx context.Context, metric string, average float64) error {
	s.PushLive(EventReceiveAverage, map[string]interface{}{
		"column_name": metric,
		"average":     average,
	})
	return nil
}

// PushLive hands an event to the background dispatcher. Failures are
// logged, never surfaced; live push must not affect request handling.
func (s *NotificationService) PushLive(event string, payload map[string]interface{}) {
	if s.live == nil {
		return
	}
	if err := s.live.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    event,
		Payload: payload,
	}); err != nil {
		s.logger.Warn("failed to dispatch live event", zap.String("event", event), zap.Error(err))
	}
}

func (s *NotificationService) invalidateUnreadCount(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, unreadCountKey(userID)); err != nil {
		s.logger.Warn("failed to invalidate unread count cache", zap.String("user_id", userID), zap.Error(err))
	}
}
