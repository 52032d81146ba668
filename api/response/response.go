// Package response writes the JSON envelopes shared by every endpoint.
// Failures are always {ok:false,error:...}; handlers add their own success fields.
package response

import (
	"net/http"
	"strconv"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// OK writes 200 {ok:true} merged with fields
func OK(c *gin.Context, fields gin.H) {
	JSON(c, http.StatusOK, fields)
}

// JSON writes {ok:true} merged with fields under the given status
func JSON(c *gin.Context, status int, fields gin.H) {
	body := gin.H{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": msg})
}

// Unauthorized never says which credential was wrong
func Unauthorized(c *gin.Context) {
	fail(c, http.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *gin.Context) {
	fail(c, http.StatusForbidden, "Forbidden")
}

// TooManyRequests tells the device how long to back off
func TooManyRequests(c *gin.Context, waitMs int64) {
	secs := (waitMs + 999) / 1000
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.FormatInt(secs, 10))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"ok":     false,
		"error":  "Too many requests",
		"waitMs": waitMs,
	})
}

// Invalid reports field errors as a validation failure
func Invalid(c *gin.Context, details map[string]string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"ok":      false,
		"error":   "Validation failed",
		"details": details,
	})
}

// MalformedBody is a body that did not decode as JSON
func MalformedBody(c *gin.Context) {
	Invalid(c, map[string]string{"body": "must be a valid JSON object"})
}

// Error maps a service error onto its status code. Anything unrecognised is
// logged and reported as a bare 500.
func Error(c *gin.Context, log *logrus.Logger, err error) {
	var (
		verr *service.ValidationError
		rerr *service.RateLimitedError
	)

	switch {
	case errors.As(err, &verr):
		Invalid(c, verr.Fields)
	case errors.As(err, &rerr):
		ms := rerr.Wait.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		TooManyRequests(c, ms)
	case errors.Is(err, service.ErrUnauthorized):
		Unauthorized(c)
	case errors.Is(err, service.ErrInvalidPIN):
		fail(c, http.StatusForbidden, "Invalid PIN")
	case errors.Is(err, service.ErrForbidden):
		Forbidden(c)
	case errors.Is(err, service.ErrNotFound):
		fail(c, http.StatusNotFound, "Not found")
	default:
		entry := log.WithError(err).WithFields(logrus.Fields{
			"path":       c.FullPath(),
			"request_id": c.GetString("request_id"),
		})
		if errors.Is(err, service.ErrConflict) {
			entry.Warn("Request gave up after repeated conflicts")
		} else {
			entry.Error("Request failed")
		}
		fail(c, http.StatusInternalServerError, "Internal server error")
	}
}
