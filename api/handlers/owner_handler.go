package handlers

import (
	"net/http"
	"strconv"

	"github.com/bolo3547/kupemisa-cooking-sub000/api/middleware"
	"github.com/bolo3547/kupemisa-cooking-sub000/api/response"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// OwnerHandler serves the owner dashboard API
type OwnerHandler struct {
	service service.Service
	log     *logrus.Logger
}

// NewOwnerHandler creates a new OwnerHandler instance
func NewOwnerHandler(svc service.Service, log *logrus.Logger) *OwnerHandler {
	return &OwnerHandler{
		service: svc,
		log:     log,
	}
}

func (h *OwnerHandler) actor(c *gin.Context) (service.Actor, bool) {
	actor, err := middleware.GetActorFromContext(c)
	if err != nil {
		h.log.WithError(err).Error("Owner route reached without authentication")
		response.Unauthorized(c)
		return service.Actor{}, false
	}
	return actor, true
}

// ProvisionDevice handles POST /devices. The API key is only ever returned here.
func (h *OwnerHandler) ProvisionDevice(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var in service.ProvisionDeviceInput
	if !bind(c, &in) {
		return
	}

	p, err := h.service.ProvisionDevice(c.Request.Context(), actor, in)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"device": p.Device, "apiKey": p.APIKey})
}

// ListDevices handles GET /devices
func (h *OwnerHandler) ListDevices(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	devices, err := h.service.ListDevices(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, gin.H{"devices": devices})
}

// RotateDeviceKey handles POST /devices/:deviceId/rotate-key
func (h *OwnerHandler) RotateDeviceKey(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	p, err := h.service.RotateDeviceKey(c.Request.Context(), actor, c.Param("deviceId"))
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, gin.H{"device": p.Device, "apiKey": p.APIKey})
}

// CreateCommand handles POST /devices/:deviceId/commands
func (h *OwnerHandler) CreateCommand(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var in service.CreateCommandInput
	if !bind(c, &in) {
		return
	}

	cmd, err := h.service.CreateCommand(c.Request.Context(), actor, c.Param("deviceId"), in)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"command": cmd})
}

// ListCommands handles GET /devices/:deviceId/commands?limit=N
func (h *OwnerHandler) ListCommands(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.Invalid(c, map[string]string{"limit": "must be a number"})
			return
		}
		limit = n
	}

	cmds, err := h.service.ListCommands(c.Request.Context(), actor, c.Param("deviceId"), limit)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, gin.H{"commands": cmds})
}

// UpsertAlertRule handles PUT /alert-rules
func (h *OwnerHandler) UpsertAlertRule(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var in service.AlertRuleInput
	if !bind(c, &in) {
		return
	}

	rule, err := h.service.UpsertAlertRule(c.Request.Context(), actor, in)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, gin.H{"rule": rule})
}

// ListAlertRules handles GET /alert-rules
func (h *OwnerHandler) ListAlertRules(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	rules, err := h.service.ListAlertRules(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, gin.H{"rules": rules})
}

// CreateOperator handles POST /operators
func (h *OwnerHandler) CreateOperator(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var in service.OperatorInput
	if !bind(c, &in) {
		return
	}

	op, err := h.service.CreateOperator(c.Request.Context(), actor, in)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"operator": op})
}

// ListOperators handles GET /operators
func (h *OwnerHandler) ListOperators(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	ops, err := h.service.ListOperators(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, gin.H{"operators": ops})
}

// DeactivateOperator handles DELETE /operators/:id
func (h *OwnerHandler) DeactivateOperator(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Invalid(c, map[string]string{"id": "must be a number"})
		return
	}

	if err := h.service.DeactivateOperator(c.Request.Context(), actor, uint(id)); err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, nil)
}

// CreatePrice handles POST /prices
func (h *OwnerHandler) CreatePrice(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var in service.PriceInput
	if !bind(c, &in) {
		return
	}

	price, err := h.service.CreatePrice(c.Request.Context(), actor, in)
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"price": price})
}

// ShiftSummaries handles GET /shift-summaries?date=YYYY-MM-DD
func (h *OwnerHandler) ShiftSummaries(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	rows, err := h.service.ShiftSummaries(c.Request.Context(), actor, c.Query("date"))
	if err != nil {
		response.Error(c, h.log, err)
		return
	}
	response.OK(c, gin.H{"summaries": rows})
}
