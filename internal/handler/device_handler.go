package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/mobile-supervisor-go/internal/models"
	"github.com/jengzang/mobile-supervisor-go/internal/service"
	"github.com/jengzang/mobile-supervisor-go/pkg/response"
)

// DeviceHandler handles HTTP requests for devices
type DeviceHandler struct {
	deviceService *service.DeviceService
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(deviceService *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
	}
}

// ListDevices handles GET /api/v1/devices
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices, err := h.deviceService.ListDevices(c.Request.Context())
	if err != nil {
		response.InternalError(c, err.Error())
		return
	}
	response.Success(c, devices)
}

// GetLatestCells handles GET /api/v1/devices/:id/cells
func (h *DeviceHandler) GetLatestCells(c *gin.Context) {
	snap, err := h.deviceService.LatestCells(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDeviceError(c, err)
		return
	}
	response.Success(c, snap)
}

// GetHistory handles GET /api/v1/devices/:id/history?start=&end=&limit=
func (h *DeviceHandler) GetHistory(c *gin.Context) {
	var filter models.HistoryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	entries, err := h.deviceService.History(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		writeDeviceError(c, err)
		return
	}
	response.Success(c, entries)
}

func writeDeviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrDeviceNotFound):
		response.NotFound(c, "Device not found")
	case models.IsClientError(err):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}
