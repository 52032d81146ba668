package routes

import (
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/api/handlers"
	"github.com/bolo3547/kupemisa-cooking-sub000/api/middleware"
	"github.com/bolo3547/kupemisa-cooking-sub000/config"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/ratelimit"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Dependencies are the collaborators the routes are built from
type Dependencies struct {
	Service service.Service
	Limiter ratelimit.Limiter
	Ready   map[string]handlers.Pinger
	Limits  config.RateLimitConfig
	Log     *logrus.Logger
}

// SetupRoutes sets up all the routes for the server
func SetupRoutes(r *gin.Engine, deps Dependencies) {
	log := deps.Log

	r.GET("/health", handlers.HealthCheck)
	r.GET("/ready", handlers.ReadyCheck(deps.Ready))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Device protocol
	deviceHandler := handlers.NewDeviceHandler(deps.Service, log)
	device := r.Group("/api/device")
	device.Use(middleware.DeviceAuth(deps.Service, log))
	{
		device.POST("/telemetry", deps.rateLimit("telemetry"), deviceHandler.Telemetry)
		device.POST("/events", deps.rateLimit("event"), deviceHandler.Event)
		device.POST("/receipts", deps.rateLimit("receipt"), deviceHandler.Receipt)
		device.POST("/heartbeat", deps.rateLimit("heartbeat"), deviceHandler.Heartbeat)
		device.GET("/commands/pull", deps.rateLimit("command-pull"), deviceHandler.PullCommand)
		device.POST("/commands/ack", deps.rateLimit("command-ack"), deviceHandler.AckCommand)
		device.POST("/pin/verify", deps.rateLimit("pin-verify"), deviceHandler.VerifyPin)
		device.GET("/operators", deps.rateLimit("operator-sync"), deviceHandler.Operators)
	}

	// Owner API. Writer is the floor for mutations, the global alert rule
	// additionally needs sudo and is checked by the service.
	ownerHandler := handlers.NewOwnerHandler(deps.Service, log)
	read := middleware.APIKeyAuth(deps.Service, log, models.ViewerAuthLevel)
	write := middleware.APIKeyAuth(deps.Service, log, models.WriterAuthLevel)

	owner := r.Group("/api/v1/owner")
	{
		owner.POST("/devices", write, ownerHandler.ProvisionDevice)
		owner.GET("/devices", read, ownerHandler.ListDevices)
		owner.POST("/devices/:deviceId/rotate-key", write, ownerHandler.RotateDeviceKey)
		owner.POST("/devices/:deviceId/commands", write, ownerHandler.CreateCommand)
		owner.GET("/devices/:deviceId/commands", read, ownerHandler.ListCommands)

		owner.PUT("/alert-rules", write, ownerHandler.UpsertAlertRule)
		owner.GET("/alert-rules", read, ownerHandler.ListAlertRules)

		owner.POST("/operators", write, ownerHandler.CreateOperator)
		owner.GET("/operators", read, ownerHandler.ListOperators)
		owner.DELETE("/operators/:id", write, ownerHandler.DeactivateOperator)

		owner.POST("/prices", write, ownerHandler.CreatePrice)
		owner.GET("/shift-summaries", read, ownerHandler.ShiftSummaries)
	}
}

// rateLimit returns the limiter for one device operation
func (d Dependencies) rateLimit(operation string) gin.HandlerFunc {
	return middleware.RateLimit(d.Limiter, operation, d.interval(operation), d.Log)
}

func (d Dependencies) interval(operation string) time.Duration {
	switch operation {
	case "telemetry":
		return d.Limits.Telemetry
	case "event":
		return d.Limits.Event
	case "receipt":
		return d.Limits.Receipt
	case "heartbeat":
		return d.Limits.Heartbeat
	case "command-pull":
		return d.Limits.CommandPull
	case "command-ack":
		return d.Limits.CommandAck
	case "pin-verify":
		return d.Limits.PinVerify
	case "operator-sync":
		return d.Limits.OperatorSync
	}
	return 0
}
