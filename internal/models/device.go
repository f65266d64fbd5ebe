package models

import "time"

// Device represents an inventory record. Deletion is a soft flag so
// devices can be restored.
type Device struct {
	ID          string    `db:"id" json:"id"`
	DeviceName  string    `db:"device_name" json:"device_name"`
	Description string    `db:"description" json:"description"`
	IsDeleted   bool      `db:"is_deleted" json:"is_deleted"`
	UserID      string    `db:"user_id" json:"user_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DeviceWithOwner joins the creating user's username onto a device row.
type DeviceWithOwner struct {
	Device
	CreatedBy string `db:"created_by" json:"created_by"`
}

// DeviceFilter captures filtering criteria for listing devices.
type DeviceFilter struct {
	Deleted           bool
	SearchDescription string
	SearchUsername    string
	CreatedByUserID   string
	SortBy            string
	Page              int
	PageSize          int
	// Restrict results to a single owner (non-admin callers).
	OwnerID string
}

// CreateDeviceRequest is the payload for adding a device.
type CreateDeviceRequest struct {
	DeviceName  string `json:"device_name" validate:"required,min=1,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// UpdateDeviceRequest is the payload for editing a device.
type UpdateDeviceRequest struct {
	DeviceName  string `json:"device_name" validate:"required,min=1,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// CalculateAverageRequest asks the background worker to compute the
// average of a metric column.
type CalculateAverageRequest struct {
	ColumnName string `json:"column_name" validate:"required"`
}
