package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/bolo3547/kupemisa-cooking-sub000/api/response"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// contextKey is a type for context keys
type contextKey string

// Context keys
const (
	ActorContextKey  contextKey = "actor"
	DeviceContextKey contextKey = "device"
)

// Device credential headers
const (
	DeviceIDHeader = "x-device-id"
	APIKeyHeader   = "x-api-key"
)

// DeviceAuthenticator checks device credentials
type DeviceAuthenticator interface {
	AuthenticateDevice(ctx context.Context, deviceID, apiKey string) (*models.Device, error)
}

// APIKeyAuthenticator resolves owner API keys
type APIKeyAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, key string) (*models.APIKey, error)
}

// DeviceAuth authenticates a device by its id and API key headers. Every
// failure gets the same 401 so callers cannot probe which ids exist.
func DeviceAuth(auth DeviceAuthenticator, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.GetHeader(DeviceIDHeader)
		apiKey := c.GetHeader(APIKeyHeader)
		if deviceID == "" || apiKey == "" {
			response.Unauthorized(c)
			return
		}

		device, err := auth.AuthenticateDevice(c.Request.Context(), deviceID, apiKey)
		if err != nil {
			if !errors.Is(err, service.ErrUnauthorized) {
				response.Error(c, log, err)
				return
			}
			log.WithFields(logrus.Fields{
				"device_id": deviceID,
				"client_ip": c.ClientIP(),
			}).Warn("Device authentication failed")
			response.Unauthorized(c)
			return
		}

		c.Set(string(DeviceContextKey), device)
		c.Next()
	}
}

// APIKeyAuth validates owner API tokens from the Authorization header and
// requires at least the given level
func APIKeyAuth(auth APIKeyAuthenticator, log *logrus.Logger, requiredLevel models.AuthorizationLevel) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Unauthorized(c)
			return
		}

		apiKey, err := auth.AuthenticateAPIKey(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, service.ErrUnauthorized) {
				response.Error(c, log, err)
				return
			}
			log.WithField("client_ip", c.ClientIP()).Warn("Invalid API key")
			response.Unauthorized(c)
			return
		}

		if apiKey.AuthorizationLevel < requiredLevel {
			log.WithFields(logrus.Fields{
				"key":      apiKey.Name,
				"required": requiredLevel,
				"provided": apiKey.AuthorizationLevel,
			}).Warn("Insufficient permissions")
			response.Forbidden(c)
			return
		}

		c.Set(string(ActorContextKey), service.ActorFromKey(apiKey))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// GetDeviceFromContext retrieves the authenticated device
func GetDeviceFromContext(c *gin.Context) (*models.Device, error) {
	deviceVal, exists := c.Get(string(DeviceContextKey))
	if !exists {
		return nil, errors.New("device not found in context")
	}

	device, ok := deviceVal.(*models.Device)
	if !ok {
		return nil, errors.New("device in context has incorrect type")
	}

	return device, nil
}

// GetActorFromContext retrieves the authenticated owner key holder
func GetActorFromContext(c *gin.Context) (service.Actor, error) {
	actorVal, exists := c.Get(string(ActorContextKey))
	if !exists {
		return service.Actor{}, errors.New("actor not found in context")
	}

	actor, ok := actorVal.(service.Actor)
	if !ok {
		return service.Actor{}, errors.New("actor in context has incorrect type")
	}

	return actor, nil
}
