package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/device-inventory-api/internal/models"
)

func TestListDevicesAppliesFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "device_name", "description", "is_deleted", "user_id", "created_at", "updated_at", "created_by"}).
		AddRow("d1", "sensor-1", "roof sensor", false, "u1", now, now, "alice")
	mock.ExpectQuery(regexp.QuoteMeta("d.description ILIKE $")).
		WithArgs(false, "%roof%").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs(false, "%roof%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	devices, total, err := repo.List(context.Background(), models.DeviceFilter{SearchDescription: "roof", Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Len(t, devices, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "alice", devices[0].CreatedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDevicesRejectsUnknownSortColumn(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	rows := sqlmock.NewRows([]string{"id", "device_name", "description", "is_deleted", "user_id", "created_at", "updated_at", "created_by"})
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY d.created_at DESC")).
		WithArgs(false).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs(false).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, _, err := repo.List(context.Background(), models.DeviceFilter{SortBy: "created_at; DROP TABLE devices"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDevice(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	mock.ExpectExec("INSERT INTO devices").WillReturnResult(sqlmock.NewResult(1, 1))

	device := &models.Device{DeviceName: "sensor-1", Description: "roof sensor", UserID: "u1"}
	err := repo.Create(context.Background(), device)
	require.NoError(t, err)
	assert.NotEmpty(t, device.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsByNameIsCaseInsensitive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM devices WHERE LOWER(device_name) = LOWER($1))")).
		WithArgs("Sensor-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsByName(context.Background(), "  Sensor-1  ")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteAndRestore(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDeviceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE devices SET is_deleted = TRUE, updated_at = $2 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE devices SET is_deleted = FALSE, updated_at = $2 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SoftDelete(context.Background(), "d1"))
	require.NoError(t, repo.Restore(context.Background(), "d1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
