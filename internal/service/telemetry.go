package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/alerting"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/metrics"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/repository"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/tracing"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/utils"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TelemetryInput is one periodic sensor snapshot. TS is epoch milliseconds.
type TelemetryInput struct {
	TS           int64    `json:"ts" validate:"required,gt=0"`
	OilPercent   *float64 `json:"oilPercent" validate:"required,gte=0,lte=100"`
	OilLiters    float64  `json:"oilLiters" validate:"gte=0"`
	DistanceCm   float64  `json:"distanceCm" validate:"gte=0"`
	FlowLpm      float64  `json:"flowLpm" validate:"gte=0"`
	LitersTotal  float64  `json:"litersTotal" validate:"gte=0"`
	PumpState    bool     `json:"pumpState"`
	SafetyStatus string   `json:"safetyStatus" validate:"required,max=64"`
	WifiRssi     int      `json:"wifiRssi" validate:"gte=-127,lte=0"`
	UptimeSec    int64    `json:"uptimeSec" validate:"gte=0"`
}

// EventInput is a device-reported audit event
type EventInput struct {
	TS       int64  `json:"ts" validate:"required,gt=0"`
	Type     string `json:"type" validate:"required,max=64"`
	Severity string `json:"severity" validate:"required,oneof=INFO WARN CRITICAL"`
	Message  string `json:"message" validate:"max=1024"`
	MetaJSON string `json:"metaJson" validate:"omitempty,json"`
}

// HeartbeatInput carries optional self-reported device details
type HeartbeatInput struct {
	Status          string `json:"status" validate:"max=32"`
	UptimeSec       *int64 `json:"uptimeSec" validate:"omitempty,gte=0"`
	SiteName        string `json:"siteName" validate:"max=128"`
	FirmwareVersion string `json:"firmwareVersion" validate:"max=32"`
}

// IngestTelemetry stores the sample and moves the device to the status it implies.
// The pre-update status is read under the row lock so back-to-back samples each
// see the transition they caused. Alerts are evaluated after commit.
func (s *service) IngestTelemetry(ctx context.Context, device *models.Device, in TelemetryInput) error {
	defer tracing.Segment(ctx, "IngestTelemetry")()

	if err := validateInput(in); err != nil {
		return err
	}

	ts := time.UnixMilli(in.TS).UTC()
	now := s.now()
	sample := &models.Telemetry{
		TS:           ts,
		OilPercent:   *in.OilPercent,
		OilLiters:    in.OilLiters,
		DistanceCm:   in.DistanceCm,
		FlowLpm:      in.FlowLpm,
		LitersTotal:  in.LitersTotal,
		PumpState:    in.PumpState,
		SafetyStatus: in.SafetyStatus,
		WifiRssi:     in.WifiRssi,
		UptimeSec:    in.UptimeSec,
	}

	var (
		prev, curr models.DeviceStatus
		rule       *models.AlertRule
		applied    bool
	)

	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx repository.Repository) error {
		locked, err := tx.FindDeviceByDeviceIDForUpdate(ctx, device.DeviceID)
		if err != nil {
			return err
		}
		prev = locked.Status

		rule, err = activeRule(ctx, tx, locked.ID)
		if err != nil {
			return err
		}

		sample.DeviceID = locked.ID
		if err := tx.CreateTelemetry(ctx, sample); err != nil {
			return err
		}

		fields := map[string]interface{}{"last_seen_at": now}
		stale := locked.LastTelemetryAt != nil && ts.Before(*locked.LastTelemetryAt)
		switch {
		case !stale:
			curr = alerting.ClassifyWithRule(sample.OilPercent, rule)
			fields["status"] = curr
			fields["last_telemetry_at"] = ts
			applied = true
		case prev == models.StatusOffline:
			// An old sample still proves the device is back
			curr, err = restoredStatus(ctx, tx, locked.ID, rule)
			if err != nil {
				return err
			}
			fields["status"] = curr
		default:
			curr = prev
		}

		return tx.UpdateDeviceFields(ctx, locked.ID, fields)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnauthorized
		}
		return errors.Wrap(err, "ingest telemetry")
	}

	metrics.TelemetryAccepted.Inc()
	if prev != curr {
		metrics.StatusTransitions.WithLabelValues(string(prev), string(curr)).Inc()
	}

	input := alerting.Input{
		Device:   device,
		Rule:     rule,
		Previous: prev,
		Current:  curr,
		Sample:   sample,
	}
	if !applied {
		// Status is untouched; the sample's safety flags still count
		s.log.WithFields(logrus.Fields{"device_id": device.DeviceID, "status": curr, "ts": ts}).
			Debug("Out-of-order telemetry stored without status change")
		input.Previous = curr
	}
	if rule == nil {
		return nil
	}

	s.goBackground("alert-evaluation", func(ctx context.Context) error {
		_, err := s.evaluator.Evaluate(ctx, input)
		return err
	})
	return nil
}

// activeRule resolves the enabled rule for a device, or nil when none applies
func activeRule(ctx context.Context, repo repository.Repository, deviceID uint) (*models.AlertRule, error) {
	rule, err := repo.FindActiveAlertRule(ctx, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return rule, err
}

// restoredStatus recomputes a device's status from its newest sample
func restoredStatus(ctx context.Context, repo repository.Repository, deviceID uint, rule *models.AlertRule) (models.DeviceStatus, error) {
	latest, err := repo.LatestTelemetry(ctx, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.StatusOK, nil
	}
	if err != nil {
		return "", err
	}
	return alerting.ClassifyWithRule(latest.OilPercent, rule), nil
}

// IngestEvent stores a device-reported event. CRITICAL events are also published.
func (s *service) IngestEvent(ctx context.Context, device *models.Device, in EventInput) error {
	defer tracing.Segment(ctx, "IngestEvent")()

	if err := validateInput(in); err != nil {
		return err
	}

	event := &models.Event{
		DeviceID: device.ID,
		TS:       time.UnixMilli(in.TS).UTC(),
		Type:     in.Type,
		Severity: models.Severity(in.Severity),
		Message:  in.Message,
		Meta:     in.MetaJSON,
	}
	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return errors.Wrap(err, "store device event")
	}
	s.touch(ctx, device)

	if event.Severity == models.SeverityCritical {
		s.publish("device.event", device.DeviceID, event)
	}
	return nil
}

// Heartbeat refreshes liveness and returns the server time for clock sync.
// A device coming back from OFFLINE gets the status its newest sample implies.
func (s *service) Heartbeat(ctx context.Context, device *models.Device, in HeartbeatInput) (time.Time, error) {
	defer tracing.Segment(ctx, "Heartbeat")()

	if err := validateInput(in); err != nil {
		return time.Time{}, err
	}

	now := s.now()
	var previousFirmware string
	firmwareChanged := false

	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx repository.Repository) error {
		locked, err := tx.FindDeviceByDeviceIDForUpdate(ctx, device.DeviceID)
		if err != nil {
			return err
		}

		fields := map[string]interface{}{"last_seen_at": now}
		if in.SiteName != "" && in.SiteName != locked.SiteName {
			fields["site_name"] = in.SiteName
		}
		if in.FirmwareVersion != "" && in.FirmwareVersion != locked.FirmwareVersion {
			fields["firmware_version"] = in.FirmwareVersion
			previousFirmware = locked.FirmwareVersion
			firmwareChanged = true
		}

		if locked.Status == models.StatusOffline {
			rule, err := activeRule(ctx, tx, locked.ID)
			if err != nil {
				return err
			}
			status, err := restoredStatus(ctx, tx, locked.ID, rule)
			if err != nil {
				return err
			}
			fields["status"] = status
			s.log.WithFields(logrus.Fields{"device_id": device.DeviceID, "status": status}).Info("Device back online")
		}

		return tx.UpdateDeviceFields(ctx, locked.ID, fields)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return time.Time{}, ErrUnauthorized
		}
		return time.Time{}, errors.Wrap(err, "heartbeat")
	}

	if firmwareChanged {
		s.recordFirmwareChange(ctx, device, previousFirmware, in.FirmwareVersion, now)
	}
	return now, nil
}

// recordFirmwareChange audits a device reporting a different firmware build
func (s *service) recordFirmwareChange(ctx context.Context, device *models.Device, previous, current string, at time.Time) {
	change := utils.ClassifyFirmwareChange(previous, current)
	if previous == "" {
		change = utils.FirmwareUnknown
	}

	severity := models.SeverityInfo
	if change == utils.FirmwareDowngrade {
		severity = models.SeverityWarn
	}

	meta, _ := json.Marshal(map[string]string{
		"previous": previous,
		"current":  current,
		"change":   string(change),
	})
	event := &models.Event{
		DeviceID: device.ID,
		TS:       at,
		Type:     "FIRMWARE_CHANGED",
		Severity: severity,
		Message:  "Firmware " + current + " reported",
		Meta:     string(meta),
	}
	if err := s.repo.CreateEvent(ctx, event); err != nil {
		s.log.WithError(err).WithField("device_id", device.DeviceID).Warn("Failed to write firmware event")
	}
	s.log.WithFields(logrus.Fields{
		"device_id": device.DeviceID,
		"previous":  previous,
		"current":   current,
		"change":    change,
	}).Info("Device firmware changed")
}

// touch refreshes liveness outside a transaction. Failures only cost freshness.
func (s *service) touch(ctx context.Context, device *models.Device) {
	if err := s.repo.UpdateDeviceFields(ctx, device.ID, map[string]interface{}{"last_seen_at": s.now()}); err != nil {
		s.log.WithError(err).WithField("device_id", device.DeviceID).Warn("Failed to refresh device liveness")
	}
}

// DetectOffline marks devices that stopped calling in as OFFLINE
func (s *service) DetectOffline(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.Alerting.OfflineAfter)

	devices, err := s.repo.ListStaleDevices(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "list stale devices")
	}

	marked := 0
	for _, d := range devices {
		changed, err := s.repo.MarkDeviceOffline(ctx, d.ID, cutoff)
		if err != nil {
			s.log.WithError(err).WithField("device_id", d.DeviceID).Error("Failed to mark device offline")
			continue
		}
		if !changed {
			continue
		}
		marked++
		metrics.StatusTransitions.WithLabelValues(string(d.Status), string(models.StatusOffline)).Inc()

		meta, _ := json.Marshal(map[string]interface{}{
			"previousStatus": d.Status,
			"lastSeenAt":     d.LastSeenAt,
		})
		event := &models.Event{
			DeviceID: d.ID,
			TS:       s.now(),
			Type:     "DEVICE_OFFLINE",
			Severity: models.SeverityWarn,
			Message:  "No contact from " + d.DeviceID + " since " + d.LastSeenAt.UTC().Format(time.RFC3339),
			Meta:     string(meta),
		}
		if err := s.repo.CreateEvent(ctx, event); err != nil {
			s.log.WithError(err).WithField("device_id", d.DeviceID).Error("Failed to write offline event")
		}
		s.publish("device.offline", d.DeviceID, event)
	}

	if marked > 0 {
		s.log.WithField("count", marked).Info("Devices marked offline")
	}
	return marked, nil
}
