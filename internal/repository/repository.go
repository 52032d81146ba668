package repository

import (
	"context"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/database"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides data access methods
type Repository interface {
	// Transaction support
	WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo Repository) error) error

	// Owner operations
	CreateOwner(ctx context.Context, owner *models.Owner) error
	FindOwnerByID(ctx context.Context, id uint) (*models.Owner, error)

	// Device operations
	CreateDevice(ctx context.Context, device *models.Device) error
	FindDeviceByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	FindDeviceByDeviceIDForUpdate(ctx context.Context, deviceID string) (*models.Device, error)
	ListDevices(ctx context.Context, ownerID *uint) ([]*models.Device, error)
	LastDeviceID(ctx context.Context, prefix string) (string, error)
	UpdateDeviceFields(ctx context.Context, id uint, fields map[string]interface{}) error
	ListStaleDevices(ctx context.Context, seenBefore time.Time) ([]*models.Device, error)
	MarkDeviceOffline(ctx context.Context, id uint, seenBefore time.Time) (bool, error)

	// Telemetry and audit events
	CreateTelemetry(ctx context.Context, t *models.Telemetry) error
	LatestTelemetry(ctx context.Context, deviceID uint) (*models.Telemetry, error)
	CreateEvent(ctx context.Context, e *models.Event) error
	ListEvents(ctx context.Context, deviceID uint, limit int) ([]*models.Event, error)

	// Alert rules
	FindActiveAlertRule(ctx context.Context, deviceID uint) (*models.AlertRule, error)
	FindAlertRuleByScope(ctx context.Context, deviceID *uint) (*models.AlertRule, error)
	SaveAlertRule(ctx context.Context, rule *models.AlertRule) error
	ListAlertRules(ctx context.Context) ([]*models.AlertRule, error)

	// Operators
	CreateOperator(ctx context.Context, op *models.Operator) error
	UpdateOperator(ctx context.Context, op *models.Operator) error
	FindOperatorByID(ctx context.Context, id uint) (*models.Operator, error)
	ListOperators(ctx context.Context, ownerID uint, activeOnly bool) ([]*models.Operator, error)

	// Prices
	CreatePrice(ctx context.Context, p *models.Price) error
	FindEffectivePrice(ctx context.Context, deviceID uint, ownerID *uint, at time.Time) (*models.Price, error)

	// Dispense ledger
	CreateTransaction(ctx context.Context, tx *models.DispenseTransaction) error
	UpdateTransaction(ctx context.Context, tx *models.DispenseTransaction) error
	FindTransactionBySessionID(ctx context.Context, sessionID string) (*models.DispenseTransaction, error)
	FindTransactionBySessionIDForUpdate(ctx context.Context, sessionID string) (*models.DispenseTransaction, error)
	IncrementShiftSummary(ctx context.Context, key ShiftKey, delta ShiftDelta) error
	FindShiftSummary(ctx context.Context, key ShiftKey) (*models.ShiftSummary, error)
	ListShiftSummaries(ctx context.Context, deviceIDs []uint, day time.Time) ([]*models.ShiftSummary, error)

	// Command relay
	CreateCommand(ctx context.Context, cmd *models.Command) error
	FindCommandByID(ctx context.Context, id string) (*models.Command, error)
	NextPendingCommand(ctx context.Context, deviceID uint, now, resendBefore time.Time) (*models.Command, error)
	MarkCommandSent(ctx context.Context, id string, now, resendBefore time.Time) (bool, error)
	UpdateCommandStatus(ctx context.Context, id string, status models.CommandStatus, at time.Time) error
	ListCommands(ctx context.Context, deviceID uint, limit int) ([]*models.Command, error)
	ExpireCommands(ctx context.Context, now time.Time) (int64, error)
	CreateCommandAck(ctx context.Context, ack *models.CommandAck) error

	// APIKey operations
	CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id uint, at time.Time) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	DeleteAPIKey(ctx context.Context, id uint) error
}

// repo implements Repository
type repo struct {
	db database.DB
}

// dbWrapper exposes a transaction handle through the database.DB interface
type dbWrapper struct {
	db *gorm.DB
}

func (w *dbWrapper) DB() (*gorm.DB, error) {
	return w.db, nil
}

func (w *dbWrapper) Close() error {
	return nil
}

// NewRepository creates a new repository instance
func NewRepository(db database.DB) Repository {
	return &repo{
		db: db,
	}
}

func (r *repo) conn(ctx context.Context) (*gorm.DB, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	return gormDB.WithContext(ctx), nil
}

// WithTransaction executes the given function within a database transaction
func (r *repo) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo Repository) error) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}

	return gormDB.Transaction(func(tx *gorm.DB) error {
		txRepo := &repo{
			db: &dbWrapper{db: tx},
		}
		return fn(ctx, txRepo)
	})
}

// Owner operations

func (r *repo) CreateOwner(ctx context.Context, owner *models.Owner) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Create(owner).Error, "create owner")
}

func (r *repo) FindOwnerByID(ctx context.Context, id uint) (*models.Owner, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var owner models.Owner
	if err := gormDB.First(&owner, id).Error; err != nil {
		return nil, translate(err, "find owner")
	}
	return &owner, nil
}

// Device operations

func (r *repo) CreateDevice(ctx context.Context, device *models.Device) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Create(device).Error, "create device")
}

func (r *repo) FindDeviceByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var device models.Device
	if err := gormDB.Preload("Owner").Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		return nil, translate(err, "find device")
	}
	return &device, nil
}

// FindDeviceByDeviceIDForUpdate reads the device row inside a transaction,
// locking it on databases that support row locks.
func (r *repo) FindDeviceByDeviceIDForUpdate(ctx context.Context, deviceID string) (*models.Device, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	q := gormDB.Where("device_id = ?", deviceID)
	if gormDB.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var device models.Device
	if err := q.First(&device).Error; err != nil {
		return nil, translate(err, "find device for update")
	}
	return &device, nil
}

func (r *repo) ListDevices(ctx context.Context, ownerID *uint) ([]*models.Device, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	q := gormDB.Order("device_id asc")
	if ownerID != nil {
		q = q.Where("owner_id = ?", *ownerID)
	}

	var devices []*models.Device
	if err := q.Find(&devices).Error; err != nil {
		return nil, translate(err, "list devices")
	}
	return devices, nil
}

// LastDeviceID returns the highest allocated id with the given prefix, or ""
// when none exists. Soft-deleted devices still hold their id.
func (r *repo) LastDeviceID(ctx context.Context, prefix string) (string, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return "", err
	}

	var ids []string
	err = gormDB.Unscoped().
		Model(&models.Device{}).
		Where("device_id LIKE ?", prefix+"-%").
		Order("LENGTH(device_id) DESC").
		Order("device_id DESC").
		Limit(1).
		Pluck("device_id", &ids).Error
	if err != nil {
		return "", translate(err, "last device id")
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

func (r *repo) UpdateDeviceFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}

	res := gormDB.Model(&models.Device{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return translate(res.Error, "update device")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) ListStaleDevices(ctx context.Context, seenBefore time.Time) ([]*models.Device, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var devices []*models.Device
	err = gormDB.
		Where("status <> ? AND last_seen_at IS NOT NULL AND last_seen_at < ?", models.StatusOffline, seenBefore).
		Find(&devices).Error
	if err != nil {
		return nil, translate(err, "list stale devices")
	}
	return devices, nil
}

// MarkDeviceOffline flips the device to OFFLINE only if it is still stale, so a
// heartbeat racing the sweep wins.
func (r *repo) MarkDeviceOffline(ctx context.Context, id uint, seenBefore time.Time) (bool, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return false, err
	}

	res := gormDB.Model(&models.Device{}).
		Where("id = ? AND status <> ? AND last_seen_at < ?", id, models.StatusOffline, seenBefore).
		Update("status", models.StatusOffline)
	if res.Error != nil {
		return false, translate(res.Error, "mark device offline")
	}
	return res.RowsAffected > 0, nil
}

// APIKey operations

func (r *repo) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Create(apiKey).Error, "create api key")
}

func (r *repo) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var apiKey models.APIKey
	if err := gormDB.Where("key_hash = ?", keyHash).First(&apiKey).Error; err != nil {
		return nil, translate(err, "find api key")
	}
	return &apiKey, nil
}

func (r *repo) TouchAPIKey(ctx context.Context, id uint, at time.Time) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	err = gormDB.Model(&models.APIKey{}).Where("id = ?", id).Update("last_used_at", at).Error
	return translate(err, "touch api key")
}

func (r *repo) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var keys []*models.APIKey
	if err := gormDB.Order("id asc").Find(&keys).Error; err != nil {
		return nil, translate(err, "list api keys")
	}
	return keys, nil
}

func (r *repo) DeleteAPIKey(ctx context.Context, id uint) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}

	res := gormDB.Delete(&models.APIKey{}, id)
	if res.Error != nil {
		return translate(res.Error, "delete api key")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
