package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/device-inventory-api/internal/models"
	appErrors "github.com/noah-isme/device-inventory-api/pkg/errors"
	"github.com/noah-isme/device-inventory-api/pkg/export"
)

type deviceRepository interface {
	List(ctx context.Context, filter models.DeviceFilter) ([]models.DeviceWithOwner, int, error)
	GetByID(ctx context.Context, id string) (*models.Device, error)
	Create(ctx context.Context, device *models.Device) error
	Update(ctx context.Context, device *models.Device) error
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	ExistsByName(ctx context.Context, name string) (bool, error)
}

// deviceNotifier covers the fan-out a device mutation triggers after
// it commits.
type deviceNotifier interface {
	BroadcastToAll(ctx context.Context, message string) (*models.Notification, error)
	PushLive(event string, payload map[string]interface{})
}

type metricEnqueuer interface {
	Enqueue(metric string)
}

// DeviceService implements the device inventory use cases.
type DeviceService struct {
	repo      deviceRepository
	notifier  deviceNotifier
	queue     metricEnqueuer
	validator *validator.Validate
	logger    *zap.Logger
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
}

// NewDeviceService constructs the service.
func NewDeviceService(repo deviceRepository, notifier deviceNotifier, queue metricEnqueuer, validate *validator.Validate, logger *zap.Logger) *DeviceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &DeviceService{
		repo:      repo,
		notifier:  notifier,
		queue:     queue,
		validator: validate,
		logger:    logger,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
	}
}

// List returns devices visible to the caller. Non-admins only see
// devices they created.
func (s *DeviceService) List(ctx context.Context, claims *models.JWTClaims, filter models.DeviceFilter) ([]models.DeviceWithOwner, *models.Pagination, error) {
	if claims.Role != models.RoleAdmin {
		filter.OwnerID = claims.UserID
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	devices, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list devices")
	}
	return devices, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a single device visible to the caller.
func (s *DeviceService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.Device, error) {
	device, err := s.getDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if claims.Role != models.RoleAdmin && device.UserID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "device belongs to another user")
	}
	return device, nil
}

// Create adds a device, then broadcasts a notification and pushes a
// live DeviceAdded event. Device names are unique across all rows,
// deleted ones included, ignoring case and surrounding whitespace.
func (s *DeviceService) Create(ctx context.Context, claims *models.JWTClaims, req models.CreateDeviceRequest) (*models.Device, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid device payload")
	}

	name := strings.TrimSpace(req.DeviceName)
	exists, err := s.repo.ExistsByName(ctx, name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check device name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "device name is already in use")
	}

	device := &models.Device{
		ID:          uuid.NewString(),
		DeviceName:  name,
		Description: req.Description,
		UserID:      claims.UserID,
	}
	if err := s.repo.Create(ctx, device); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create device")
	}

	s.announce(ctx, EventDeviceAdded, device, fmt.Sprintf("%s added device %q", claims.Username, device.DeviceName))
	return device, nil
}

// Update edits name and description of an existing device.
func (s *DeviceService) Update(ctx context.Context, claims *models.JWTClaims, id string, req models.UpdateDeviceRequest) (*models.Device, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid device payload")
	}

	device, err := s.getDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if device.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "device not found")
	}
	if claims.Role != models.RoleAdmin && device.UserID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "device belongs to another user")
	}

	name := strings.TrimSpace(req.DeviceName)
	if !strings.EqualFold(name, device.DeviceName) {
		exists, err := s.repo.ExistsByName(ctx, name)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check device name")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "device name is already in use")
		}
	}

	device.DeviceName = name
	device.Description = req.Description
	if err := s.repo.Update(ctx, device); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update device")
	}

	s.announce(ctx, EventDeviceUpdated, device, fmt.Sprintf("%s updated device %q", claims.Username, device.DeviceName))
	return device, nil
}

// Delete soft-deletes a device. Role enforcement happens at the
// route; the row survives and can be restored.
func (s *DeviceService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	device, err := s.getDevice(ctx, id)
	if err != nil {
		return err
	}
	if device.IsDeleted {
		return appErrors.Clone(appErrors.ErrNotFound, "device not found")
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete device")
	}

	device.IsDeleted = true
	s.announce(ctx, EventDeviceDeleted, device, fmt.Sprintf("%s deleted device %q", claims.Username, device.DeviceName))
	return nil
}

// Restore clears the deleted flag of a soft-deleted device.
func (s *DeviceService) Restore(ctx context.Context, claims *models.JWTClaims, id string) (*models.Device, error) {
	device, err := s.getDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if !device.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrValidation, "device is not deleted")
	}
	if err := s.repo.Restore(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore device")
	}

	device.IsDeleted = false
	s.announce(ctx, EventDeviceRestored, device, fmt.Sprintf("%s restored device %q", claims.Username, device.DeviceName))
	return device, nil
}

// EnqueueAverage accepts a metric-name calculation request. The call
// returns as soon as the name is queued; the worker validates it
// against its allow-list later.
func (s *DeviceService) EnqueueAverage(ctx context.Context, req models.CalculateAverageRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "column_name must not be empty")
	}
	s.queue.Enqueue(strings.TrimSpace(strings.ToLower(req.ColumnName)))
	return nil
}

const exportPageSize = 200

// Export renders the current inventory as CSV or PDF. The repository
// is paged through until every device has been collected.
func (s *DeviceService) Export(ctx context.Context, format string) ([]byte, string, string, error) {
	var devices []models.DeviceWithOwner
	filter := models.DeviceFilter{Page: 1, PageSize: exportPageSize}
	for {
		page, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load devices")
		}
		devices = append(devices, page...)
		if len(page) == 0 || len(devices) >= total {
			break
		}
		filter.Page++
	}

	dataset := export.Dataset{
		Headers: []string{"Device Name", "Description", "Created By", "Created At"},
	}
	for _, d := range devices {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Device Name": d.DeviceName,
			"Description": d.Description,
			"Created By":  d.CreatedBy,
			"Created At":  d.CreatedAt.Format(time.RFC3339),
		})
	}

	switch strings.ToLower(format) {
	case "csv", "":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, "text/csv", "devices.csv", nil
	case "pdf":
		payload, err := s.pdf.Render(dataset, "Device Inventory")
		if err != nil {
			return nil, "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, "application/pdf", "devices.pdf", nil
	default:
		return nil, "", "", appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func (s *DeviceService) getDevice(ctx context.Context, id string) (*models.Device, error) {
	device, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load device")
	}
	return device, nil
}

// announce broadcasts the stored fan-out notification and pushes the
// live event. Both run after the mutation committed; failures are
// logged and never unwind the request.
func (s *DeviceService) announce(ctx context.Context, event string, device *models.Device, message string) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.BroadcastToAll(ctx, message); err != nil {
		s.logger.Warn("failed to broadcast device notification", zap.String("event", event), zap.Error(err))
	}
	s.notifier.PushLive(event, map[string]interface{}{
		"id":          device.ID,
		"device_name": device.DeviceName,
		"description": device.Description,
		"is_deleted":  device.IsDeleted,
		"user_id":     device.UserID,
	})
}
