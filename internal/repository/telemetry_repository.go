package repository

import (
	"context"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/pkg/errors"
)

func (r *repo) CreateTelemetry(ctx context.Context, t *models.Telemetry) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Create(t).Error, "create telemetry")
}

// LatestTelemetry returns the newest sample by device timestamp
func (r *repo) LatestTelemetry(ctx context.Context, deviceID uint) (*models.Telemetry, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var t models.Telemetry
	err = gormDB.Where("device_id = ?", deviceID).Order("ts desc").Order("id desc").First(&t).Error
	if err != nil {
		return nil, translate(err, "latest telemetry")
	}
	return &t, nil
}

func (r *repo) CreateEvent(ctx context.Context, e *models.Event) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Create(e).Error, "create event")
}

func (r *repo) ListEvents(ctx context.Context, deviceID uint, limit int) ([]*models.Event, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var events []*models.Event
	q := gormDB.Where("device_id = ?", deviceID).Order("ts asc").Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, translate(err, "list events")
	}
	return events, nil
}

// FindActiveAlertRule prefers an enabled device rule over the enabled global rule
func (r *repo) FindActiveAlertRule(ctx context.Context, deviceID uint) (*models.AlertRule, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rule models.AlertRule
	err = gormDB.Where("device_id = ? AND enabled = ?", deviceID, true).Order("updated_at desc").First(&rule).Error
	if err == nil {
		return &rule, nil
	}
	if terr := translate(err, "find device alert rule"); !errors.Is(terr, ErrNotFound) {
		return nil, terr
	}

	err = gormDB.Where("device_id IS NULL AND enabled = ?", true).Order("updated_at desc").First(&rule).Error
	if err != nil {
		return nil, translate(err, "find global alert rule")
	}
	return &rule, nil
}

// FindAlertRuleByScope returns the rule for a device, or the global rule when deviceID is nil
func (r *repo) FindAlertRuleByScope(ctx context.Context, deviceID *uint) (*models.AlertRule, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	q := gormDB.Where("device_id IS NULL")
	if deviceID != nil {
		q = gormDB.Where("device_id = ?", *deviceID)
	}

	var rule models.AlertRule
	if err := q.Order("id asc").First(&rule).Error; err != nil {
		return nil, translate(err, "find alert rule")
	}
	return &rule, nil
}

func (r *repo) SaveAlertRule(ctx context.Context, rule *models.AlertRule) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Save(rule).Error, "save alert rule")
}

func (r *repo) ListAlertRules(ctx context.Context) ([]*models.AlertRule, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rules []*models.AlertRule
	if err := gormDB.Order("id asc").Find(&rules).Error; err != nil {
		return nil, translate(err, "list alert rules")
	}
	return rules, nil
}
