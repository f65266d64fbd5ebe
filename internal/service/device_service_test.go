package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/device-inventory-api/internal/models"
	appErrors "github.com/noah-isme/device-inventory-api/pkg/errors"
)

type mockDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*models.Device
	owners  map[string]string
}

func newMockDeviceRepo(devices ...*models.Device) *mockDeviceRepo {
	repo := &mockDeviceRepo{devices: make(map[string]*models.Device), owners: make(map[string]string)}
	for _, d := range devices {
		repo.devices[d.ID] = d
	}
	return repo
}

func (m *mockDeviceRepo) List(ctx context.Context, filter models.DeviceFilter) ([]models.DeviceWithOwner, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeviceWithOwner
	for _, d := range m.devices {
		if d.IsDeleted != filter.Deleted {
			continue
		}
		if filter.OwnerID != "" && d.UserID != filter.OwnerID {
			continue
		}
		out = append(out, models.DeviceWithOwner{Device: *d, CreatedBy: m.owners[d.UserID]})
	}
	return out, len(out), nil
}

func (m *mockDeviceRepo) GetByID(ctx context.Context, id string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockDeviceRepo) Create(ctx context.Context, device *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[device.ID] = device
	return nil
}

func (m *mockDeviceRepo) Update(ctx context.Context, device *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[device.ID] = device
	return nil
}

func (m *mockDeviceRepo) SoftDelete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[id].IsDeleted = true
	return nil
}

func (m *mockDeviceRepo) Restore(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[id].IsDeleted = false
	return nil
}

func (m *mockDeviceRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if strings.EqualFold(d.DeviceName, name) {
			return true, nil
		}
	}
	return false, nil
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
	events   []string
}

func (m *mockNotifier) BroadcastToAll(ctx context.Context, message string) (*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return &models.Notification{ID: "n1", Message: message}, nil
}

func (m *mockNotifier) PushLive(event string, payload map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

type mockEnqueuer struct {
	mu    sync.Mutex
	items []string
}

func (m *mockEnqueuer) Enqueue(metric string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, metric)
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin1", Username: "root", Role: models.RoleAdmin}
}

func userClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "u1", Username: "alice", Role: models.RoleUser}
}

func testDeviceService(repo *mockDeviceRepo, notifier *mockNotifier, queue *mockEnqueuer) *DeviceService {
	return NewDeviceService(repo, notifier, queue, validator.New(), zap.NewNop())
}

func TestCreateDeviceBroadcastsAndPushes(t *testing.T) {
	repo := newMockDeviceRepo()
	notifier := &mockNotifier{}
	svc := testDeviceService(repo, notifier, nil)

	device, err := svc.Create(context.Background(), userClaims(), models.CreateDeviceRequest{DeviceName: "sensor-1", Description: "roof"})
	require.NoError(t, err)
	assert.Equal(t, "sensor-1", device.DeviceName)
	assert.Equal(t, []string{`alice added device "sensor-1"`}, notifier.messages)
	assert.Equal(t, []string{EventDeviceAdded}, notifier.events)
}

func TestCreateDeviceDuplicateNameConflicts(t *testing.T) {
	repo := newMockDeviceRepo(&models.Device{ID: "d1", DeviceName: "sensor-1", UserID: "u1", IsDeleted: true})
	svc := testDeviceService(repo, &mockNotifier{}, nil)

	// Deleted rows still reserve their name, case-insensitively.
	_, err := svc.Create(context.Background(), userClaims(), models.CreateDeviceRequest{DeviceName: " SENSOR-1 "})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestListScopesNonAdminsToOwnDevices(t *testing.T) {
	repo := newMockDeviceRepo(
		&models.Device{ID: "d1", DeviceName: "a", UserID: "u1"},
		&models.Device{ID: "d2", DeviceName: "b", UserID: "u2"},
	)
	svc := testDeviceService(repo, &mockNotifier{}, nil)

	devices, _, err := svc.List(context.Background(), userClaims(), models.DeviceFilter{})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "d1", devices[0].ID)

	devices, _, err = svc.List(context.Background(), adminClaims(), models.DeviceFilter{})
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestUpdateForeignDeviceForbidden(t *testing.T) {
	repo := newMockDeviceRepo(&models.Device{ID: "d1", DeviceName: "a", UserID: "u2"})
	svc := testDeviceService(repo, &mockNotifier{}, nil)

	_, err := svc.Update(context.Background(), userClaims(), "d1", models.UpdateDeviceRequest{DeviceName: "a2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestDeleteThenRestore(t *testing.T) {
	repo := newMockDeviceRepo(&models.Device{ID: "d1", DeviceName: "a", UserID: "u1"})
	notifier := &mockNotifier{}
	svc := testDeviceService(repo, notifier, nil)

	require.NoError(t, svc.Delete(context.Background(), adminClaims(), "d1"))
	assert.True(t, repo.devices["d1"].IsDeleted)

	device, err := svc.Restore(context.Background(), adminClaims(), "d1")
	require.NoError(t, err)
	assert.False(t, device.IsDeleted)
	assert.Equal(t, []string{EventDeviceDeleted, EventDeviceRestored}, notifier.events)
}

func TestRestoreRejectsLiveDevice(t *testing.T) {
	repo := newMockDeviceRepo(&models.Device{ID: "d1", DeviceName: "a", UserID: "u1"})
	svc := testDeviceService(repo, &mockNotifier{}, nil)

	_, err := svc.Restore(context.Background(), adminClaims(), "d1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDeleteMissingDeviceNotFound(t *testing.T) {
	svc := testDeviceService(newMockDeviceRepo(), &mockNotifier{}, nil)

	err := svc.Delete(context.Background(), adminClaims(), "ghost")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestEnqueueAverageNormalizesName(t *testing.T) {
	queue := &mockEnqueuer{}
	svc := testDeviceService(newMockDeviceRepo(), &mockNotifier{}, queue)

	require.NoError(t, svc.EnqueueAverage(context.Background(), models.CalculateAverageRequest{ColumnName: " Temperature "}))
	assert.Equal(t, []string{"temperature"}, queue.items)
}

func TestEnqueueAverageRejectsEmptyName(t *testing.T) {
	svc := testDeviceService(newMockDeviceRepo(), &mockNotifier{}, &mockEnqueuer{})

	err := svc.EnqueueAverage(context.Background(), models.CalculateAverageRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportCSV(t *testing.T) {
	repo := newMockDeviceRepo(&models.Device{ID: "d1", DeviceName: "sensor-1", Description: "roof", UserID: "u1"})
	repo.owners["u1"] = "alice"
	svc := testDeviceService(repo, &mockNotifier{}, nil)

	payload, contentType, filename, err := svc.Export(context.Background(), "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Equal(t, "devices.csv", filename)
	assert.Contains(t, string(payload), "sensor-1")
	assert.Contains(t, string(payload), "alice")
}

// pagedDeviceRepo serves List from an ordered slice honoring
// page/page_size, the way the real repository applies LIMIT/OFFSET.
type pagedDeviceRepo struct {
	*mockDeviceRepo
	rows  []models.DeviceWithOwner
	calls int
}

func (p *pagedDeviceRepo) List(ctx context.Context, filter models.DeviceFilter) ([]models.DeviceWithOwner, int, error) {
	p.calls++
	start := (filter.Page - 1) * filter.PageSize
	if start > len(p.rows) {
		start = len(p.rows)
	}
	end := start + filter.PageSize
	if end > len(p.rows) {
		end = len(p.rows)
	}
	return p.rows[start:end], len(p.rows), nil
}

func TestExportCoversAllPages(t *testing.T) {
	repo := &pagedDeviceRepo{mockDeviceRepo: newMockDeviceRepo()}
	total := exportPageSize + 50
	for i := 0; i < total; i++ {
		repo.rows = append(repo.rows, models.DeviceWithOwner{
			Device:    models.Device{ID: fmt.Sprintf("d%d", i), DeviceName: fmt.Sprintf("sensor-%d", i), UserID: "u1"},
			CreatedBy: "alice",
		})
	}
	svc := NewDeviceService(repo, &mockNotifier{}, nil, validator.New(), zap.NewNop())

	payload, _, _, err := svc.Export(context.Background(), "csv")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	assert.Len(t, lines, total+1)
	assert.Equal(t, 2, repo.calls)
}

func TestExportUnknownFormat(t *testing.T) {
	svc := testDeviceService(newMockDeviceRepo(), &mockNotifier{}, nil)

	_, _, _, err := svc.Export(context.Background(), "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
