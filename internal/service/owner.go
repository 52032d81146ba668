package service

import (
	"context"
	"strings"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/repository"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AlertRuleInput upserts the global rule, or a device rule when DeviceID is set
type AlertRuleInput struct {
	DeviceID          string   `json:"deviceId" validate:"max=32"`
	LowThreshold      *float64 `json:"lowThreshold" validate:"required,gte=0,lte=100"`
	CriticalThreshold *float64 `json:"criticalThreshold" validate:"required,gte=0,lte=100"`
	Enabled           *bool    `json:"enabled"`
	NotifyEmail       string   `json:"notifyEmail" validate:"omitempty,email"`
	NotifyPhone       string   `json:"notifyPhone" validate:"omitempty,e164"`
}

// PriceInput sets a price effective from a point in time
type PriceInput struct {
	DeviceID      string     `json:"deviceId" validate:"max=32"`
	OwnerID       *uint      `json:"ownerId"`
	PricePerLiter float64    `json:"pricePerLiter" validate:"gt=0"`
	CostPerLiter  float64    `json:"costPerLiter" validate:"gte=0"`
	Currency      string     `json:"currency" validate:"omitempty,len=3,alpha"`
	EffectiveFrom *time.Time `json:"effectiveFrom"`
}

// UpsertAlertRule creates or replaces the rule for its scope
func (s *service) UpsertAlertRule(ctx context.Context, actor Actor, in AlertRuleInput) (*models.AlertRule, error) {
	if err := actor.require(models.WriterAuthLevel); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if *in.CriticalThreshold >= *in.LowThreshold {
		return nil, invalidField("criticalThreshold", "must be below lowThreshold")
	}

	var scope *uint
	if in.DeviceID == "" {
		if err := actor.require(models.SudoAuthLevel); err != nil {
			return nil, err
		}
	} else {
		device, err := s.ownedDevice(ctx, actor, in.DeviceID)
		if err != nil {
			return nil, err
		}
		scope = &device.ID
	}

	rule, err := s.repo.FindAlertRuleByScope(ctx, scope)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		rule = &models.AlertRule{DeviceID: scope, Enabled: true}
	case err != nil:
		return nil, errors.Wrap(err, "find alert rule")
	}

	rule.LowThreshold = *in.LowThreshold
	rule.CriticalThreshold = *in.CriticalThreshold
	rule.NotifyEmail = in.NotifyEmail
	rule.NotifyPhone = in.NotifyPhone
	if in.Enabled != nil {
		rule.Enabled = *in.Enabled
	}

	if err := s.repo.SaveAlertRule(ctx, rule); err != nil {
		return nil, errors.Wrap(err, "save alert rule")
	}

	s.log.WithFields(logrus.Fields{
		"device_id": in.DeviceID,
		"low":       rule.LowThreshold,
		"critical":  rule.CriticalThreshold,
		"enabled":   rule.Enabled,
	}).Info("Alert rule saved")
	return rule, nil
}

// ListAlertRules returns the global rule and the rules of the actor's devices
func (s *service) ListAlertRules(ctx context.Context, actor Actor) ([]*models.AlertRule, error) {
	owner, err := actor.ownerScope()
	if err != nil {
		return nil, err
	}

	rules, err := s.repo.ListAlertRules(ctx)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return rules, nil
	}

	devices, err := s.repo.ListDevices(ctx, owner)
	if err != nil {
		return nil, err
	}
	owned := make(map[uint]bool, len(devices))
	for _, d := range devices {
		owned[d.ID] = true
	}

	visible := make([]*models.AlertRule, 0, len(rules))
	for _, r := range rules {
		if r.DeviceID == nil || owned[*r.DeviceID] {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

// CreatePrice records a device or owner-wide price. Prices are append-only;
// the newest effective row wins at lookup time.
func (s *service) CreatePrice(ctx context.Context, actor Actor, in PriceInput) (*models.Price, error) {
	if err := actor.require(models.WriterAuthLevel); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	price := &models.Price{
		PricePerLiter: in.PricePerLiter,
		CostPerLiter:  in.CostPerLiter,
		Currency:      strings.ToUpper(in.Currency),
		EffectiveFrom: s.now(),
	}
	if price.Currency == "" {
		price.Currency = s.cfg.Pricing.Currency
	}
	if in.EffectiveFrom != nil {
		price.EffectiveFrom = in.EffectiveFrom.UTC()
	}

	if in.DeviceID != "" {
		device, err := s.ownedDevice(ctx, actor, in.DeviceID)
		if err != nil {
			return nil, err
		}
		price.DeviceID = &device.ID
		price.OwnerID = device.OwnerID
	} else {
		ownerID, err := requireOwner(actor, in.OwnerID)
		if err != nil {
			return nil, err
		}
		price.OwnerID = &ownerID
	}

	if err := s.repo.CreatePrice(ctx, price); err != nil {
		return nil, errors.Wrap(err, "create price")
	}
	return price, nil
}

// ShiftSummaries returns the rollups of the actor's devices for one shift day
// (YYYY-MM-DD in the shift timezone). An empty date means today.
func (s *service) ShiftSummaries(ctx context.Context, actor Actor, date string) ([]*models.ShiftSummary, error) {
	owner, err := actor.ownerScope()
	if err != nil {
		return nil, err
	}

	day := s.shiftDate(s.now())
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, invalidField("date", "must be YYYY-MM-DD")
		}
		day = parsed.UTC()
	}

	devices, err := s.repo.ListDevices(ctx, owner)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	return s.repo.ListShiftSummaries(ctx, ids, day)
}
