package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bolo3547/kupemisa-cooking-sub000/api/middleware"
	"github.com/bolo3547/kupemisa-cooking-sub000/api/response"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DeviceHandler serves the endpoints devices call with their own credentials
type DeviceHandler struct {
	service service.Service
	log     *logrus.Logger
}

// NewDeviceHandler creates a new DeviceHandler instance
func NewDeviceHandler(svc service.Service, log *logrus.Logger) *DeviceHandler {
	return &DeviceHandler{
		service: svc,
		log:     log,
	}
}

// commandView is a pulled command as the device receives it
type commandView struct {
	ID        string             `json:"id"`
	Type      models.CommandType `json:"type"`
	Payload   json.RawMessage    `json:"payload,omitempty"`
	ExpiresAt int64              `json:"expiresAt"`
}

// device returns the authenticated device, or writes a 401 and returns nil
func (h *DeviceHandler) device(c *gin.Context) *models.Device {
	device, err := middleware.GetDeviceFromContext(c)
	if err != nil {
		h.log.WithError(err).Error("Device route reached without authentication")
		response.Unauthorized(c)
		return nil
	}
	return device
}

// bind decodes the JSON body. Field validation happens in the service.
func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.MalformedBody(c)
		return false
	}
	return true
}

// Telemetry handles POST /api/device/telemetry
func (h *DeviceHandler) Telemetry(c *gin.Context) {
	device := h.device(c)
	if device == nil {
		return
	}

	var in service.TelemetryInput
	if !bind(c, &in) {
		return
	}

	if err := h.service.IngestTelemetry(c.Request.Context(), device, in); err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, nil)
}

// Event handles POST /api/device/events
func (h *DeviceHandler) Event(c *gin.Context) {
	device := h.device(c)
	if device == nil {
		return
	}

	var in service.EventInput
	if !bind(c, &in) {
		return
	}

	if err := h.service.IngestEvent(c.Request.Context(), device, in); err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, nil)
}

// Receipt handles POST /api/device/receipts. A new session answers 201, a replay 200.
func (h *DeviceHandler) Receipt(c *gin.Context) {
	device := h.device(c)
	if device == nil {
		return
	}

	var in service.ReceiptInput
	if !bind(c, &in) {
		return
	}

	res, err := h.service.RecordReceipt(c.Request.Context(), device, in)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	response.JSON(c, status, gin.H{"transaction": res.Transaction})
}

// Heartbeat handles POST /api/device/heartbeat. The body is optional.
func (h *DeviceHandler) Heartbeat(c *gin.Context) {
	device := h.device(c)
	if device == nil {
		return
	}

	var in service.HeartbeatInput
	if err := c.ShouldBindJSON(&in); err != nil && !errors.Is(err, io.EOF) {
		response.MalformedBody(c)
		return
	}

	serverTime, err := h.service.Heartbeat(c.Request.Context(), device, in)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, gin.H{"serverTime": serverTime.UnixMilli()})
}

// PullCommand handles GET /api/device/commands/pull
func (h *DeviceHandler) PullCommand(c *gin.Context) {
	device := h.device(c)
	if device == nil {
		return
	}

	cmd, err := h.service.PullCommand(c.Request.Context(), device)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	if cmd == nil {
		response.OK(c, gin.H{"command": nil})
		return
	}

	view := commandView{
		ID:        cmd.ID,
		Type:      cmd.Type,
		ExpiresAt: cmd.ExpiresAt.UnixMilli(),
	}
	if cmd.Payload != "" {
		view.Payload = json.RawMessage(cmd.Payload)
	}
	response.OK(c, gin.H{"command": view})
}

// AckCommand handles POST /api/device/commands/ack
func (h *DeviceHandler) AckCommand(c *gin.Context) {
	device := h.device(c)
	if device == nil {
		return
	}

	var in service.CommandAckInput
	if !bind(c, &in) {
		return
	}

	if err := h.service.AckCommand(c.Request.Context(), device, in); err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, nil)
}

// VerifyPin handles POST /api/device/pin/verify
func (h *DeviceHandler) VerifyPin(c *gin.Context) {
	device := h.device(c)
	if device == nil {
		return
	}

	var in service.PinVerifyInput
	if !bind(c, &in) {
		return
	}

	op, err := h.service.VerifyPin(c.Request.Context(), device, in)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, gin.H{
		"operatorId": op.ID,
		"name":       op.Name,
		"role":       op.Role,
	})
}

// Operators handles GET /api/device/operators
func (h *DeviceHandler) Operators(c *gin.Context) {
	device := h.device(c)
	if device == nil {
		return
	}

	dir, err := h.service.SyncOperators(c.Request.Context(), device)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, gin.H{
		"salt":      dir.Salt,
		"operators": dir.Operators,
	})
}
