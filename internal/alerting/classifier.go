// Package alerting classifies tank health and raises alerts on status changes.
package alerting

import (
	"strings"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
)

// Classify maps an oil percentage onto OK, LOW or CRITICAL.
// A value equal to a threshold gets the better state.
func Classify(percent, low, critical float64) models.DeviceStatus {
	switch {
	case percent >= low:
		return models.StatusOK
	case percent >= critical:
		return models.StatusLow
	default:
		return models.StatusCritical
	}
}

// ClassifyWithRule classifies against a rule. Without a rule the device is OK.
func ClassifyWithRule(percent float64, rule *models.AlertRule) models.DeviceStatus {
	if rule == nil || !rule.Enabled {
		return models.StatusOK
	}
	return Classify(percent, rule.LowThreshold, rule.CriticalThreshold)
}

// SafetyKind enumerates the safety states a device can report
type SafetyKind int

const (
	SafetyOK SafetyKind = iota
	SafetyDryRunShutdown
	SafetySensorFail
	SafetyOther
)

// SafetyStatus is a parsed safety field. Raw keeps the reported text for SafetyOther.
type SafetyStatus struct {
	Kind SafetyKind
	Raw  string
}

// ParseSafetyStatus classifies the device's safety string
func ParseSafetyStatus(raw string) SafetyStatus {
	s := strings.TrimSpace(raw)
	switch strings.ToUpper(s) {
	case "", "OK":
		return SafetyStatus{Kind: SafetyOK, Raw: s}
	case "DRY_RUN_SHUTDOWN":
		return SafetyStatus{Kind: SafetyDryRunShutdown, Raw: s}
	case "SENSOR_FAIL":
		return SafetyStatus{Kind: SafetySensorFail, Raw: s}
	default:
		return SafetyStatus{Kind: SafetyOther, Raw: s}
	}
}

// Fault reports whether the status needs an alert
func (s SafetyStatus) Fault() bool {
	return s.Kind != SafetyOK
}
