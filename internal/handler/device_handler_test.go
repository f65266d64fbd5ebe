package handler

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/noah-isme/device-inventory-api/internal/middleware"
	"github.com/noah-isme/device-inventory-api/internal/models"
	"github.com/noah-isme/device-inventory-api/internal/service"
)

type memDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*models.Device
}

func (m *memDeviceRepo) List(ctx context.Context, filter models.DeviceFilter) ([]models.DeviceWithOwner, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeviceWithOwner
	for _, d := range m.devices {
		if d.IsDeleted == filter.Deleted {
			out = append(out, models.DeviceWithOwner{Device: *d})
		}
	}
	return out, len(out), nil
}

func (m *memDeviceRepo) GetByID(ctx context.Context, id string) (*models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memDeviceRepo) Create(ctx context.Context, device *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[device.ID] = device
	return nil
}

func (m *memDeviceRepo) Update(ctx context.Context, device *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[device.ID] = device
	return nil
}

func (m *memDeviceRepo) SoftDelete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[id].IsDeleted = true
	return nil
}

func (m *memDeviceRepo) Restore(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[id].IsDeleted = false
	return nil
}

func (m *memDeviceRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	return false, nil
}

type nopNotifier struct{}

func (nopNotifier) BroadcastToAll(ctx context.Context, message string) (*models.Notification, error) {
	return &models.Notification{ID: "n1", Message: message}, nil
}

func (nopNotifier) PushLive(event string, payload map[string]interface{}) {}

type memEnqueuer struct {
	mu    sync.Mutex
	items []string
}

func (m *memEnqueuer) Enqueue(metric string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, metric)
}

func buildDeviceRouter(role models.UserRole) (*gin.Engine, *memDeviceRepo, *memEnqueuer) {
	gin.SetMode(gin.TestMode)

	repo := &memDeviceRepo{devices: make(map[string]*models.Device)}
	queue := &memEnqueuer{}
	svc := service.NewDeviceService(repo, nopNotifier{}, queue, validator.New(), zap.NewNop())
	h := NewDeviceHandler(svc)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u1", Username: "alice", Role: role})
	})
	devices := router.Group("/api/v1/devices")
	devices.GET("", h.List)
	devices.POST("", h.Create)
	devices.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), h.Delete)
	devices.PUT("/restore/:id", h.Restore)
	devices.POST("/calculate-average", h.CalculateAverage)
	devices.GET("/export", h.Export)
	return router, repo, queue
}

func TestCreateDeviceReturns201(t *testing.T) {
	router, repo, _ := buildDeviceRouter(models.RoleUser)

	resp := perform(router, jsonRequest(http.MethodPost, "/api/v1/devices", models.CreateDeviceRequest{DeviceName: "sensor-1"}))
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Len(t, repo.devices, 1)
}

func TestDeleteDeviceRequiresAdmin(t *testing.T) {
	router, repo, _ := buildDeviceRouter(models.RoleUser)
	repo.devices["d1"] = &models.Device{ID: "d1", DeviceName: "sensor-1", UserID: "u1"}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/devices/d1", nil)
	resp := perform(router, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.False(t, repo.devices["d1"].IsDeleted)
}

func TestDeleteDeviceAsAdmin(t *testing.T) {
	router, repo, _ := buildDeviceRouter(models.RoleAdmin)
	repo.devices["d1"] = &models.Device{ID: "d1", DeviceName: "sensor-1", UserID: "u1"}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/devices/d1", nil)
	resp := perform(router, req)
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.True(t, repo.devices["d1"].IsDeleted)
}

func TestCalculateAverageAccepted(t *testing.T) {
	router, _, queue := buildDeviceRouter(models.RoleUser)

	resp := perform(router, jsonRequest(http.MethodPost, "/api/v1/devices/calculate-average", models.CalculateAverageRequest{ColumnName: "temperature"}))
	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.Equal(t, []string{"temperature"}, queue.items)
}

func TestCalculateAverageEmptyNameRejected(t *testing.T) {
	router, _, queue := buildDeviceRouter(models.RoleUser)

	resp := perform(router, jsonRequest(http.MethodPost, "/api/v1/devices/calculate-average", gin.H{"column_name": ""}))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, queue.items)
}

func TestExportCSVDownload(t *testing.T) {
	router, repo, _ := buildDeviceRouter(models.RoleAdmin)
	repo.devices["d1"] = &models.Device{ID: "d1", DeviceName: "sensor-1", UserID: "u1"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/export?format=csv", nil)
	resp := perform(router, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/csv", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Body.String(), "sensor-1")
}
