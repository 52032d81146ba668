package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/bolo3547/kupemisa-cooking-sub000/config"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/alerting"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/auth"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/database"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/repository"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testClock is shared by the service, the dedupe cache and background tasks
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentAlert struct {
	alert alerting.Alert
	to    alerting.Recipients
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentAlert
}

func (n *recordingNotifier) Notify(ctx context.Context, a alerting.Alert, to alerting.Recipients) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentAlert{alert: a, to: to})
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// faultyRepo injects failures into an otherwise real repository, including
// inside transactions
type faultyRepo struct {
	repository.Repository
	faults *faults
}

type faults struct {
	mu               sync.Mutex
	createDeviceDups int
	priceErrors      int
	createTxDups     int
}

func (f *faults) take(counter *int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if *counter > 0 {
		*counter--
		return true
	}
	return false
}

func (r *faultyRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo repository.Repository) error) error {
	return r.Repository.WithTransaction(ctx, func(ctx context.Context, tx repository.Repository) error {
		return fn(ctx, &faultyRepo{Repository: tx, faults: r.faults})
	})
}

func (r *faultyRepo) CreateDevice(ctx context.Context, device *models.Device) error {
	if r.faults.take(&r.faults.createDeviceDups) {
		return errors.Wrap(repository.ErrDuplicateKey, "create device")
	}
	return r.Repository.CreateDevice(ctx, device)
}

func (r *faultyRepo) FindEffectivePrice(ctx context.Context, deviceID uint, ownerID *uint, at time.Time) (*models.Price, error) {
	if r.faults.take(&r.faults.priceErrors) {
		return nil, errors.New("connection reset")
	}
	return r.Repository.FindEffectivePrice(ctx, deviceID, ownerID, at)
}

// CreateTransaction simulates a concurrent replay that inserted the row first
func (r *faultyRepo) CreateTransaction(ctx context.Context, tx *models.DispenseTransaction) error {
	if r.faults.take(&r.faults.createTxDups) {
		racer := *tx
		racer.ID = "racer-" + tx.SessionID
		if err := r.Repository.CreateTransaction(ctx, &racer); err != nil {
			return err
		}
		return errors.Wrap(repository.ErrDuplicateKey, "create transaction")
	}
	return r.Repository.CreateTransaction(ctx, tx)
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	clock    *testClock
	repo     repository.Repository
	faults   *faults
	notifier *recordingNotifier
	svc      *service
	cfg      *config.Config
	owner    *models.Owner
	actor    Actor
}

func testConfig() *config.Config {
	return &config.Config{
		Device: config.DeviceConfig{
			IDPrefix:          "OIL",
			BcryptCost:        bcrypt.MinCost,
			AllocationRetries: 5,
		},
		Alerting: config.AlertingConfig{
			DedupeWindow: 30 * time.Minute,
			OfflineAfter: 10 * time.Minute,
		},
		Pricing: config.PricingConfig{
			DefaultPricePerLiter: 45,
			Currency:             "ZMW",
		},
		Shift:    config.ShiftConfig{Timezone: "Africa/Lusaka"},
		Commands: config.CommandConfig{TTL: 5 * time.Minute, RedeliverAfter: time.Minute},
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// One connection keeps the in-memory database alive and serializes transactions
	sqlDB.SetMaxOpenConns(1)

	db := database.Wrap(gdb)
	require.NoError(t, database.AutoMigrate(db))

	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		clock:    &testClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
		faults:   &faults{},
		notifier: &recordingNotifier{},
		cfg:      testConfig(),
	}
	f.repo = &faultyRepo{Repository: repository.NewRepository(db), faults: f.faults}

	log := quietLogger()
	verifier, err := auth.NewVerifier(f.repo, nil, 0, bcrypt.MinCost, log)
	require.NoError(t, err)

	dedupe := alerting.NewMemoryDedupe(f.cfg.Alerting.DedupeWindow, f.clock.Now)
	evaluator := alerting.NewEvaluator(f.repo, dedupe, f.notifier, nil, log)

	f.svc, err = newService(ServiceConfig{
		Repository: f.repo,
		Verifier:   verifier,
		Evaluator:  evaluator,
		Config:     f.cfg,
		Logger:     log,
		Workers:    2,
		QueueSize:  64,
		Clock:      f.clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = f.svc.Shutdown()
		_ = sqlDB.Close()
	})

	f.owner, err = f.svc.CreateOwner(f.ctx, OwnerInput{Name: "Kupemisa Ltd", Email: "owner@example.com"})
	require.NoError(t, err)
	f.actor = Actor{Name: "test-key", OwnerID: &f.owner.ID, Level: models.WriterAuthLevel}
	return f
}

// provision creates a device and returns it as the verifier sees it
func (f *fixture) provision(site string) (*models.Device, string) {
	f.t.Helper()
	p, err := f.svc.ProvisionDevice(f.ctx, f.actor, ProvisionDeviceInput{SiteName: site})
	require.NoError(f.t, err)
	device, err := f.svc.AuthenticateDevice(f.ctx, p.Device.DeviceID, p.APIKey)
	require.NoError(f.t, err)
	return device, p.APIKey
}

func (f *fixture) reload(device *models.Device) *models.Device {
	f.t.Helper()
	d, err := f.repo.FindDeviceByDeviceID(f.ctx, device.DeviceID)
	require.NoError(f.t, err)
	return d
}

func (f *fixture) setRule(device *models.Device, low, critical float64) {
	f.t.Helper()
	_, err := f.svc.UpsertAlertRule(f.ctx, f.actor, AlertRuleInput{
		DeviceID:          device.DeviceID,
		LowThreshold:      f64(low),
		CriticalThreshold: f64(critical),
		NotifyPhone:       "+260970000000",
	})
	require.NoError(f.t, err)
}

func (f *fixture) setPrice(price, cost float64) {
	f.t.Helper()
	from := f.clock.Now().Add(-24 * time.Hour)
	_, err := f.svc.CreatePrice(f.ctx, f.actor, PriceInput{
		PricePerLiter: price,
		CostPerLiter:  cost,
		EffectiveFrom: &from,
	})
	require.NoError(f.t, err)
}

func (f *fixture) eventTypes(device *models.Device) []string {
	f.t.Helper()
	events, err := f.repo.ListEvents(f.ctx, device.ID, 0)
	require.NoError(f.t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func requireValidation(t *testing.T, err error, field string) {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
	require.Contains(t, verr.Fields, field)
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int         { return &v }
func boolp(v bool) *bool      { return &v }
