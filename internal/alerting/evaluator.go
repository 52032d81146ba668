package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/metrics"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// EventWriter persists audit events
type EventWriter interface {
	CreateEvent(ctx context.Context, e *models.Event) error
}

// Recipients are the addresses a notification goes to
type Recipients struct {
	Email string
	Phone string
}

// Notifier delivers an alert. SMS is only expected for degrading alerts.
type Notifier interface {
	Notify(ctx context.Context, alert Alert, to Recipients) error
}

// Publisher forwards alerts to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload interface{}) error
}

// Input is everything the evaluator needs about one applied sample
type Input struct {
	Device   *models.Device
	Rule     *models.AlertRule
	Previous models.DeviceStatus
	Current  models.DeviceStatus
	Sample   *models.Telemetry
}

// Evaluator turns status changes and safety faults into audit events and notifications
type Evaluator struct {
	events    EventWriter
	dedupe    DedupeCache
	notifier  Notifier
	publisher Publisher
	log       *logrus.Logger
}

// NewEvaluator creates an evaluator. The publisher may be nil.
func NewEvaluator(events EventWriter, dedupe DedupeCache, notifier Notifier, publisher Publisher, log *logrus.Logger) *Evaluator {
	return &Evaluator{
		events:    events,
		dedupe:    dedupe,
		notifier:  notifier,
		publisher: publisher,
		log:       log,
	}
}

// Evaluate raises every alert the sample triggers. The audit event is written for
// each alert; the notification is subject to dedupe. Returned alerts are those
// recognized, whether or not a notification went out.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) ([]Alert, error) {
	if in.Device == nil || in.Sample == nil {
		return nil, errors.New("evaluate: device and sample are required")
	}

	var alerts []Alert
	if typ, sev, degrading, ok := ThresholdAlert(in.Previous, in.Current); ok {
		alerts = append(alerts, e.thresholdAlert(in, typ, sev, degrading))
	}

	safety := ParseSafetyStatus(in.Sample.SafetyStatus)
	if typ, key, ok := SafetyAlert(safety); ok {
		alerts = append(alerts, e.safetyAlert(in, typ, key, safety))
	}

	var firstErr error
	for _, a := range alerts {
		if err := e.raise(ctx, in, a); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return alerts, firstErr
}

func (e *Evaluator) thresholdAlert(in Input, typ AlertType, sev models.Severity, degrading bool) Alert {
	a := e.baseAlert(in)
	a.Type = typ
	a.DedupeKey = string(typ)
	a.Severity = sev
	a.Degrading = degrading
	a.From = in.Previous
	a.To = in.Current

	var low, critical float64
	if in.Rule != nil {
		low, critical = in.Rule.LowThreshold, in.Rule.CriticalThreshold
	}

	site := siteLabel(in.Device)
	switch typ {
	case AlertLowOil:
		a.Message = fmt.Sprintf("Oil level low at %s: %.1f%% (low threshold %.0f%%)", site, a.OilPercent, low)
	case AlertCriticalOil:
		a.Message = fmt.Sprintf("Oil level critical at %s: %.1f%% (critical threshold %.0f%%)", site, a.OilPercent, critical)
	case AlertPartialRecovery:
		a.Message = fmt.Sprintf("Oil level at %s rose above critical: %.1f%%, still low", site, a.OilPercent)
	case AlertRecovered:
		a.Message = fmt.Sprintf("Oil level at %s back to normal: %.1f%%", site, a.OilPercent)
	}
	return a
}

func (e *Evaluator) safetyAlert(in Input, typ AlertType, key string, s SafetyStatus) Alert {
	a := e.baseAlert(in)
	a.Type = typ
	a.DedupeKey = key
	a.Degrading = true
	a.SafetyStatus = s.Raw

	site := siteLabel(in.Device)
	switch s.Kind {
	case SafetyDryRunShutdown:
		a.Severity = models.SeverityCritical
		a.Message = fmt.Sprintf("Pump at %s shut down to prevent a dry run", site)
	case SafetySensorFail:
		a.Severity = models.SeverityCritical
		a.Message = fmt.Sprintf("Level sensor failure reported at %s", site)
	default:
		a.Severity = models.SeverityWarn
		a.Message = fmt.Sprintf("Safety event %q reported at %s", s.Raw, site)
	}
	return a
}

func (e *Evaluator) baseAlert(in Input) Alert {
	return Alert{
		DeviceID:   in.Device.DeviceID,
		SiteName:   in.Device.SiteName,
		OilPercent: in.Sample.OilPercent,
		TS:         in.Sample.TS,
	}
}

func siteLabel(d *models.Device) string {
	if d.SiteName == "" {
		return d.DeviceID
	}
	return fmt.Sprintf("%s (%s)", d.SiteName, d.DeviceID)
}

func (e *Evaluator) raise(ctx context.Context, in Input, a Alert) error {
	logger := e.log.WithFields(logrus.Fields{
		"device_id":  a.DeviceID,
		"alert_type": a.Type,
		"dedupe_key": a.DedupeKey,
	})

	meta, _ := json.Marshal(map[string]interface{}{
		"from":              a.From,
		"to":                a.To,
		"oilPercent":        a.OilPercent,
		"safetyStatus":      a.SafetyStatus,
		"lowThreshold":      ruleValue(in.Rule, true),
		"criticalThreshold": ruleValue(in.Rule, false),
	})
	event := &models.Event{
		DeviceID: in.Device.ID,
		TS:       eventTime(a.TS),
		Type:     string(a.Type),
		Severity: a.Severity,
		Message:  a.Message,
		Meta:     string(meta),
	}
	var writeErr error
	if err := e.events.CreateEvent(ctx, event); err != nil {
		logger.WithError(err).Error("Failed to write alert event")
		writeErr = errors.Wrap(err, "write alert event")
	}

	// Notify even when the audit write failed
	e.notify(ctx, logger, in, a)
	return writeErr
}

func (e *Evaluator) notify(ctx context.Context, logger *logrus.Entry, in Input, a Alert) {
	key := a.DeviceID + ":" + a.DedupeKey
	if !e.dedupe.ShouldSend(ctx, key) {
		metrics.Alerts.WithLabelValues(string(a.Type), "suppressed").Inc()
		logger.Debug("Alert notification suppressed by dedupe window")
		return
	}
	e.dedupe.MarkSent(ctx, key)

	to := recipients(in)
	if !a.Degrading {
		to.Phone = ""
	}

	if err := e.notifier.Notify(ctx, a, to); err != nil {
		metrics.Alerts.WithLabelValues(string(a.Type), "failed").Inc()
		logger.WithError(err).Warn("Alert notification failed")
	} else {
		metrics.Alerts.WithLabelValues(string(a.Type), "sent").Inc()
		logger.Info("Alert notification sent")
	}

	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, "alert.raised", a.DeviceID, a); err != nil {
			logger.WithError(err).Warn("Failed to publish alert")
		}
	}
}

func recipients(in Input) Recipients {
	var to Recipients
	if in.Rule != nil {
		to.Email = in.Rule.NotifyEmail
		to.Phone = in.Rule.NotifyPhone
	}
	if to.Email == "" && in.Device.Owner != nil {
		to.Email = in.Device.Owner.Email
	}
	return to
}

func ruleValue(rule *models.AlertRule, low bool) interface{} {
	if rule == nil {
		return nil
	}
	if low {
		return rule.LowThreshold
	}
	return rule.CriticalThreshold
}

func eventTime(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts
}
