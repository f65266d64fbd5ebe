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

// deviceSortColumns allow-lists sortable columns so user input never
// reaches the ORDER BY clause directly.
var deviceSortColumns = map[string]string{
	"device_name": "d.device_name",
	"created_by":  "u.username",
}

// DeviceRepository provides persistence for the device inventory.
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository creates the repository.
func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// List returns devices matching the filter joined to their creator.
func (r *DeviceRepository) List(ctx context.Context, filter models.DeviceFilter) ([]models.DeviceWithOwner, int, error) {
	base := "FROM devices d JOIN users u ON u.id = d.user_id"
	where := []string{"d.is_deleted = $1"}
	args := []interface{}{filter.Deleted}

	if filter.OwnerID != "" {
		where = append(where, fmt.Sprintf("d.user_id = $%d", len(args)+1))
		args = append(args, filter.OwnerID)
	}
	if filter.CreatedByUserID != "" {
		where = append(where, fmt.Sprintf("d.user_id = $%d", len(args)+1))
		args = append(args, filter.CreatedByUserID)
	}
	if filter.SearchDescription != "" {
		where = append(where, fmt.Sprintf("d.description ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.SearchDescription+"%")
	}
	if filter.SearchUsername != "" {
		where = append(where, fmt.Sprintf("u.username ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.SearchUsername+"%")
	}
	whereClause := strings.Join(where, " AND ")

	orderBy := "d.created_at DESC"
	if column, ok := deviceSortColumns[filter.SortBy]; ok {
		orderBy = column + " ASC"
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

	query := fmt.Sprintf(`SELECT d.id, d.device_name, d.description, d.is_deleted, d.user_id, d.created_at, d.updated_at, u.username AS created_by
%s WHERE %s
ORDER BY %s
LIMIT %d OFFSET %d`, base, whereClause, orderBy, size, offset)
	var devices []models.DeviceWithOwner
	if err := r.db.SelectContext(ctx, &devices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list devices: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count devices: %w", err)
	}
	return devices, total, nil
}

// GetByID returns a device by identifier, deleted rows included.
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	const query = `SELECT id, device_name, description, is_deleted, user_id, created_at, updated_at FROM devices WHERE id = $1 LIMIT 1`
	var device models.Device
	if err := r.db.GetContext(ctx, &device, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find device by id: %w", err)
	}
	return &device, nil
}

// Create inserts a new device.
func (r *DeviceRepository) Create(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	const query = `INSERT INTO devices (id, device_name, description, is_deleted, user_id, created_at, updated_at) VALUES (:id, :device_name, :description, :is_deleted, :user_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, device); err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

// Update modifies name and description of an existing device.
func (r *DeviceRepository) Update(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now().UTC()
	const query = `UPDATE devices SET device_name = :device_name, description = :description, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, device); err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	return nil
}

// SoftDelete flags a device as deleted without removing the row.
func (r *DeviceRepository) SoftDelete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE devices SET is_deleted = TRUE, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC()); err != nil {
		return fmt.Errorf("soft delete device: %w", err)
	}
	return nil
}

// Restore clears the deleted flag.
func (r *DeviceRepository) Restore(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE devices SET is_deleted = FALSE, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC()); err != nil {
		return fmt.Errorf("restore device: %w", err)
	}
	return nil
}

// ExistsByName reports whether a device with the given name exists,
// case-insensitive and including soft-deleted rows.
func (r *DeviceRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx,
		&exists,
		`SELECT EXISTS (SELECT 1 FROM devices WHERE LOWER(device_name) = LOWER($1))`,
		strings.TrimSpace(name)); err != nil {
		return false, fmt.Errorf("check device name: %w", err)
	}
	return exists, nil
}
