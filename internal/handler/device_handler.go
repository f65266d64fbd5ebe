package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/device-inventory-api/internal/models"
	"github.com/noah-isme/device-inventory-api/internal/service"
	appErrors "github.com/noah-isme/device-inventory-api/pkg/errors"
	"github.com/noah-isme/device-inventory-api/pkg/response"
)

// DeviceHandler wires HTTP endpoints to the device service.
type DeviceHandler struct {
	service *service.DeviceService
}

// NewDeviceHandler creates a new handler.
func NewDeviceHandler(svc *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{service: svc}
}

// List godoc
// @Summary List devices
// @Description List devices with filtering, sorting and pagination. Non-admins only see their own devices.
// @Tags Devices
// @Produce json
// @Param deleted query bool false "Show deleted devices"
// @Param search_description query string false "Filter by description substring"
// @Param search_username query string false "Filter by creator username substring"
// @Param created_by query string false "Filter by creator user id"
// @Param sort_by query string false "Sort column (device_name or created_by)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /devices [get]
func (h *DeviceHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	deleted, _ := strconv.ParseBool(c.Query("deleted"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	filter := models.DeviceFilter{
		Deleted:           deleted,
		SearchDescription: c.Query("search_description"),
		SearchUsername:    c.Query("search_username"),
		CreatedByUserID:   c.Query("created_by"),
		SortBy:            c.Query("sort_by"),
		Page:              page,
		PageSize:          pageSize,
	}

	devices, pagination, err := h.service.List(c.Request.Context(), claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, devices, pagination)
}

// Get godoc
// @Summary Get device
// @Description Fetch a single device by id
// @Tags Devices
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /devices/{id} [get]
func (h *DeviceHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	device, err := h.service.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, device, nil)
}

// Create godoc
// @Summary Add a device
// @Description Create a device; name must be unique across all devices including deleted ones
// @Tags Devices
// @Accept json
// @Produce json
// @Param payload body models.CreateDeviceRequest true "Device payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /devices [post]
func (h *DeviceHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CreateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid device payload"))
		return
	}

	device, err := h.service.Create(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, device)
}

// Update godoc
// @Summary Update a device
// @Description Edit name and description of a device
// @Tags Devices
// @Accept json
// @Produce json
// @Param id path string true "Device ID"
// @Param payload body models.UpdateDeviceRequest true "Device payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /devices/{id} [put]
func (h *DeviceHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.UpdateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid device payload"))
		return
	}

	device, err := h.service.Update(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, device, nil)
}

// Delete godoc
// @Summary Delete a device
// @Description Soft-delete a device. Admin only.
// @Tags Devices
// @Produce json
// @Param id path string true "Device ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /devices/{id} [delete]
func (h *DeviceHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Restore godoc
// @Summary Restore a device
// @Description Clear the deleted flag of a soft-deleted device
// @Tags Devices
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /devices/restore/{id} [put]
func (h *DeviceHandler) Restore(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	device, err := h.service.Restore(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, device, nil)
}

// CalculateAverage godoc
// @Summary Queue an average calculation
// @Description Enqueue a metric name for the background aggregation worker. Returns immediately.
// @Tags Devices
// @Accept json
// @Produce json
// @Param payload body models.CalculateAverageRequest true "Metric name"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /devices/calculate-average [post]
func (h *DeviceHandler) CalculateAverage(c *gin.Context) {
	var req models.CalculateAverageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.service.EnqueueAverage(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusAccepted, gin.H{"message": "calculation queued"}, nil)
}

// Export godoc
// @Summary Export devices
// @Description Download the device inventory as CSV or PDF. Admin only.
// @Tags Devices
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} byte
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /devices/export [get]
func (h *DeviceHandler) Export(c *gin.Context) {
	payload, contentType, filename, err := h.service.Export(c.Request.Context(), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, contentType, payload)
}
