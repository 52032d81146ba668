package service

import (
	"testing"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) sample(device *models.Device, percent float64, safety string) {
	f.t.Helper()
	err := f.svc.IngestTelemetry(f.ctx, device, TelemetryInput{
		TS:           f.clock.Now().UnixMilli(),
		OilPercent:   f64(percent),
		OilLiters:    percent * 2,
		SafetyStatus: safety,
		WifiRssi:     -60,
	})
	require.NoError(f.t, err)
	f.svc.waitBackground()
}

func TestIngestTelemetry_DescendingLevelRaisesTwoAlerts(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")
	f.setRule(device, 30, 10)

	f.sample(device, 60, "OK")
	assert.Equal(t, models.StatusOK, f.reload(device).Status)

	f.clock.Advance(time.Minute)
	f.sample(device, 25, "OK")
	assert.Equal(t, models.StatusLow, f.reload(device).Status)

	f.clock.Advance(time.Minute)
	f.sample(device, 5, "OK")
	assert.Equal(t, models.StatusCritical, f.reload(device).Status)

	assert.Equal(t, []string{"LOW_OIL", "CRITICAL_OIL"}, f.eventTypes(device))
	require.Equal(t, 2, f.notifier.count())
	assert.Equal(t, "owner@example.com", f.notifier.sent[0].to.Email)
	assert.Equal(t, "+260970000000", f.notifier.sent[1].to.Phone)
}

func TestIngestTelemetry_RepeatWithinWindowIsNotResent(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")
	f.setRule(device, 30, 10)

	f.sample(device, 60, "OK")
	f.clock.Advance(time.Minute)
	f.sample(device, 25, "OK")
	f.clock.Advance(time.Minute)
	f.sample(device, 60, "OK")
	f.clock.Advance(time.Minute)
	f.sample(device, 25, "OK")

	assert.Equal(t, []string{"LOW_OIL", "OIL_RECOVERED", "LOW_OIL"}, f.eventTypes(device))
	assert.Equal(t, 2, f.notifier.count(), "second LOW_OIL is inside the dedupe window")

	f.clock.Advance(31 * time.Minute)
	f.sample(device, 60, "OK")
	f.clock.Advance(time.Minute)
	f.sample(device, 25, "OK")
	assert.Equal(t, 4, f.notifier.count())
}

func TestIngestTelemetry_WithoutRuleStaysOK(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")

	f.sample(device, 3, "DRY_RUN_SHUTDOWN")

	assert.Equal(t, models.StatusOK, f.reload(device).Status)
	assert.Empty(t, f.eventTypes(device))
	assert.Zero(t, f.notifier.count())
}

func TestIngestTelemetry_OutOfOrderSampleKeepsStatus(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")
	f.setRule(device, 30, 10)

	f.sample(device, 60, "OK")
	newest := f.clock.Now()

	f.clock.Advance(time.Minute)
	err := f.svc.IngestTelemetry(f.ctx, device, TelemetryInput{
		TS:           newest.Add(-10 * time.Minute).UnixMilli(),
		OilPercent:   f64(5),
		SafetyStatus: "OK",
	})
	require.NoError(t, err)
	f.svc.waitBackground()

	d := f.reload(device)
	assert.Equal(t, models.StatusOK, d.Status)
	require.NotNil(t, d.LastTelemetryAt)
	assert.True(t, d.LastTelemetryAt.Equal(newest))
	require.NotNil(t, d.LastSeenAt)
	assert.True(t, d.LastSeenAt.Equal(f.clock.Now()))
	assert.Empty(t, f.eventTypes(device))

	latest, err := f.repo.LatestTelemetry(f.ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, 60.0, latest.OilPercent)
}

func TestIngestTelemetry_SafetyFault(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")
	f.setRule(device, 30, 10)

	f.sample(device, 60, "DRY_RUN_SHUTDOWN")

	assert.Equal(t, []string{"DRY_RUN_SHUTDOWN"}, f.eventTypes(device))
	assert.Equal(t, 1, f.notifier.count())
}

func TestIngestTelemetry_OutOfOrderSafetyFaultStillAlerts(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")
	f.setRule(device, 30, 10)

	f.sample(device, 60, "OK")
	newest := f.clock.Now()

	f.clock.Advance(time.Minute)
	err := f.svc.IngestTelemetry(f.ctx, device, TelemetryInput{
		TS:           newest.Add(-10 * time.Minute).UnixMilli(),
		OilPercent:   f64(5),
		SafetyStatus: "DRY_RUN_SHUTDOWN",
	})
	require.NoError(t, err)
	f.svc.waitBackground()

	assert.Equal(t, models.StatusOK, f.reload(device).Status)
	assert.Equal(t, []string{"DRY_RUN_SHUTDOWN"}, f.eventTypes(device), "no threshold alert for the stale level")
	assert.Equal(t, 1, f.notifier.count())
}

func TestIngestTelemetry_Validation(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")

	err := f.svc.IngestTelemetry(f.ctx, device, TelemetryInput{TS: 1, OilPercent: f64(101), SafetyStatus: "OK"})
	requireValidation(t, err, "oilPercent")

	err = f.svc.IngestTelemetry(f.ctx, device, TelemetryInput{TS: 1, OilPercent: f64(50)})
	requireValidation(t, err, "safetyStatus")

	err = f.svc.IngestTelemetry(f.ctx, device, TelemetryInput{TS: 1, SafetyStatus: "OK"})
	requireValidation(t, err, "oilPercent")

	err = f.svc.IngestTelemetry(f.ctx, device, TelemetryInput{TS: 1, OilPercent: f64(50), SafetyStatus: "OK", WifiRssi: 10})
	requireValidation(t, err, "wifiRssi")
}

func TestIngestEvent(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")

	err := f.svc.IngestEvent(f.ctx, device, EventInput{
		TS:       f.clock.Now().UnixMilli(),
		Type:     "PUMP_STALL",
		Severity: "CRITICAL",
		Message:  "pump stalled",
		MetaJSON: `{"flowLpm":0}`,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"PUMP_STALL"}, f.eventTypes(device))

	err = f.svc.IngestEvent(f.ctx, device, EventInput{TS: 1, Type: "X", Severity: "LOUD"})
	requireValidation(t, err, "severity")

	err = f.svc.IngestEvent(f.ctx, device, EventInput{TS: 1, Type: "X", Severity: "INFO", MetaJSON: "{nope"})
	requireValidation(t, err, "metaJson")
}

func TestDetectOfflineAndHeartbeatRecovery(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")
	f.setRule(device, 30, 10)
	f.sample(device, 25, "OK")
	require.Equal(t, models.StatusLow, f.reload(device).Status)

	f.clock.Advance(5 * time.Minute)
	n, err := f.svc.DetectOffline(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(6 * time.Minute)
	n, err = f.svc.DetectOffline(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StatusOffline, f.reload(device).Status)
	assert.Contains(t, f.eventTypes(device), "DEVICE_OFFLINE")

	n, err = f.svc.DetectOffline(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already offline")

	serverTime, err := f.svc.Heartbeat(f.ctx, device, HeartbeatInput{})
	require.NoError(t, err)
	assert.True(t, serverTime.Equal(f.clock.Now()))
	assert.Equal(t, models.StatusLow, f.reload(device).Status, "restored from the latest sample")
}

func TestHeartbeat_RecordsFirmwareChange(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")

	_, err := f.svc.Heartbeat(f.ctx, device, HeartbeatInput{FirmwareVersion: "1.2.0", SiteName: "Chilenje Market"})
	require.NoError(t, err)
	_, err = f.svc.Heartbeat(f.ctx, device, HeartbeatInput{FirmwareVersion: "1.2.0"})
	require.NoError(t, err)
	_, err = f.svc.Heartbeat(f.ctx, device, HeartbeatInput{FirmwareVersion: "1.1.9"})
	require.NoError(t, err)

	d := f.reload(device)
	assert.Equal(t, "1.1.9", d.FirmwareVersion)
	assert.Equal(t, "Chilenje Market", d.SiteName)

	events, err := f.repo.ListEvents(f.ctx, device.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.SeverityInfo, events[0].Severity)
	assert.Equal(t, models.SeverityWarn, events[1].Severity)
	assert.Contains(t, events[1].Meta, "DOWNGRADE")
}
