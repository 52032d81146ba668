package middleware

import (
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/api/response"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/metrics"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RateLimit allows one call per device and operation within minInterval.
// It must run after DeviceAuth.
func RateLimit(limiter ratelimit.Limiter, operation string, minInterval time.Duration, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		device, err := GetDeviceFromContext(c)
		if err != nil {
			log.WithError(err).Error("Rate limiter installed without device authentication")
			response.Unauthorized(c)
			return
		}

		decision := limiter.Allow(c.Request.Context(), ratelimit.Key(device.DeviceID, operation), minInterval)
		if !decision.Allowed {
			metrics.RateLimited.WithLabelValues(operation).Inc()
			log.WithFields(logrus.Fields{
				"device_id": device.DeviceID,
				"operation": operation,
				"wait_ms":   decision.WaitMs(),
			}).Debug("Rate limit exceeded for device")
			response.TooManyRequests(c, decision.WaitMs())
			return
		}

		c.Next()
	}
}
