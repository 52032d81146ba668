package alerting

import (
	"fmt"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
)

// AlertType names a kind of alert. It doubles as the audit event type.
type AlertType string

const (
	AlertLowOil          AlertType = "LOW_OIL"
	AlertCriticalOil     AlertType = "CRITICAL_OIL"
	AlertPartialRecovery AlertType = "OIL_PARTIAL_RECOVERY"
	AlertRecovered       AlertType = "OIL_RECOVERED"
	AlertDryRunShutdown  AlertType = "DRY_RUN_SHUTDOWN"
	AlertSensorFail      AlertType = "SENSOR_FAIL"
	AlertSafetyEvent     AlertType = "SAFETY_EVENT"
)

// Alert is one recognized condition for a device
type Alert struct {
	Type         AlertType           `json:"type"`
	DedupeKey    string              `json:"dedupe_key"`
	Severity     models.Severity     `json:"severity"`
	Degrading    bool                `json:"degrading"`
	DeviceID     string              `json:"device_id"`
	SiteName     string              `json:"site_name"`
	From         models.DeviceStatus `json:"from,omitempty"`
	To           models.DeviceStatus `json:"to,omitempty"`
	OilPercent   float64             `json:"oil_percent"`
	SafetyStatus string              `json:"safety_status,omitempty"`
	Message      string              `json:"message"`
	TS           time.Time           `json:"ts"`
}

// Subject is a short line for email subjects and SMS prefixes
func (a Alert) Subject() string {
	site := a.SiteName
	if site == "" {
		site = a.DeviceID
	}
	return fmt.Sprintf("[%s] %s at %s", a.Severity, a.Type, site)
}

type transition struct {
	from, to models.DeviceStatus
}

type transitionAlert struct {
	typ       AlertType
	severity  models.Severity
	degrading bool
}

// Direct jumps reuse the LOW-boundary alert types
var transitions = map[transition]transitionAlert{
	{models.StatusOK, models.StatusLow}:       {AlertLowOil, models.SeverityWarn, true},
	{models.StatusLow, models.StatusCritical}: {AlertCriticalOil, models.SeverityCritical, true},
	{models.StatusOK, models.StatusCritical}:  {AlertCriticalOil, models.SeverityCritical, true},
	{models.StatusCritical, models.StatusLow}: {AlertPartialRecovery, models.SeverityWarn, false},
	{models.StatusLow, models.StatusOK}:       {AlertRecovered, models.SeverityInfo, false},
	{models.StatusCritical, models.StatusOK}:  {AlertRecovered, models.SeverityInfo, false},
}

// ThresholdAlert returns the alert for a status change, if the change is a recognized one.
// An OFFLINE device coming back is judged as if it had been OK.
func ThresholdAlert(prev, curr models.DeviceStatus) (AlertType, models.Severity, bool, bool) {
	if prev == models.StatusOffline || prev == "" {
		prev = models.StatusOK
	}
	if prev == curr {
		return "", "", false, false
	}
	t, ok := transitions[transition{prev, curr}]
	if !ok {
		return "", "", false, false
	}
	return t.typ, t.severity, t.degrading, true
}

// SafetyAlert maps a safety fault to its alert type and dedupe key
func SafetyAlert(s SafetyStatus) (AlertType, string, bool) {
	switch s.Kind {
	case SafetyDryRunShutdown:
		return AlertDryRunShutdown, string(AlertDryRunShutdown), true
	case SafetySensorFail:
		return AlertSensorFail, string(AlertSensorFail), true
	case SafetyOther:
		return AlertSafetyEvent, "SAFETY_" + s.Raw, true
	default:
		return "", "", false
	}
}
