package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/auth"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/metrics"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/pricing"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/repository"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ReceiptInput is the device's report of a finished dispense session.
// Timestamps are Unix seconds.
type ReceiptInput struct {
	SessionID       string   `json:"sessionId" validate:"required,max=64"`
	OperatorPin     string   `json:"operatorPin" validate:"max=64"`
	OperatorID      *uint    `json:"operatorId"`
	TargetLiters    float64  `json:"targetLiters" validate:"gte=0"`
	DispensedLiters *float64 `json:"dispensedLiters" validate:"required,gte=0"`
	DurationSec     *int     `json:"durationSec" validate:"required,gte=0"`
	Status          string   `json:"status" validate:"required,oneof=DONE ERROR CANCELED"`
	ErrorMessage    string   `json:"errorMessage" validate:"max=512"`
	StartedAtUnix   int64    `json:"startedAtUnix" validate:"required,gt=0"`
	EndedAtUnix     *int64   `json:"endedAtUnix" validate:"omitempty,gt=0"`
}

// ReceiptResult is the stored transaction and whether this call created it
type ReceiptResult struct {
	Transaction *models.DispenseTransaction
	Created     bool
}

// shiftContribution is what one transaction adds to its shift summary row
type shiftContribution struct {
	key   repository.ShiftKey
	delta repository.ShiftDelta
}

// RecordReceipt upserts the ledger entry for a session. Replays update the
// mutable fields only; a priced transaction keeps its price and totals.
func (s *service) RecordReceipt(ctx context.Context, device *models.Device, in ReceiptInput) (*ReceiptResult, error) {
	defer tracing.Segment(ctx, "RecordReceipt")()

	if err := validateInput(in); err != nil {
		return nil, err
	}

	startedAt := time.Unix(in.StartedAtUnix, 0).UTC()
	var endedAt *time.Time
	if in.EndedAtUnix != nil {
		t := time.Unix(*in.EndedAtUnix, 0).UTC()
		if t.Before(startedAt) {
			return nil, invalidField("endedAtUnix", "must not be before startedAtUnix")
		}
		endedAt = &t
	}

	operator, err := s.resolveOperator(ctx, device, in)
	if err != nil {
		return nil, err
	}

	tx := &models.DispenseTransaction{
		SessionID:       in.SessionID,
		DeviceID:        device.ID,
		StartedAt:       startedAt,
		EndedAt:         endedAt,
		Status:          models.TransactionStatus(in.Status),
		TargetLiters:    in.TargetLiters,
		DispensedLiters: *in.DispensedLiters,
		DurationSec:     *in.DurationSec,
		ErrorMessage:    in.ErrorMessage,
	}
	if operator != nil {
		tx.OperatorID = &operator.ID
	}

	logger := s.log.WithFields(logrus.Fields{"device_id": device.DeviceID, "session_id": in.SessionID})

	quote, err := s.prices.Resolve(ctx, device, startedAt)
	if err != nil {
		logger.WithError(err).Warn("Price lookup failed, recording receipt unpriced")
	} else {
		applyQuote(tx, quote)
	}

	_, err = s.repo.FindTransactionBySessionID(ctx, in.SessionID)
	switch {
	case err == nil:
		return s.updateReceipt(ctx, device, tx)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, errors.Wrap(err, "find transaction")
	}

	tx.ID = uuid.NewString()
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, errors.Wrap(err, "create transaction")
		}
		// Lost a race with a concurrent replay of the same session
		return s.updateReceipt(ctx, device, tx)
	}

	metrics.Receipts.WithLabelValues("created").Inc()
	logger.WithFields(logrus.Fields{"liters": tx.DispensedLiters, "status": tx.Status}).Info("Dispense recorded")

	s.writeDispenseEvent(ctx, device, tx)
	s.rollShift(tx.SessionID, nil, s.contribution(tx))
	s.publish("dispense.recorded", device.DeviceID, tx)

	indexed := *tx
	s.goBackground("index-transaction", func(ctx context.Context) error {
		return s.indexer.IndexTransaction(ctx, &indexed, device)
	})

	return &ReceiptResult{Transaction: tx, Created: true}, nil
}

// updateReceipt applies a replayed receipt onto the stored transaction.
// The row is read and written under lock so concurrent replays of one
// session see each other's writes; the shift delta is rolled after commit.
func (s *service) updateReceipt(ctx context.Context, device *models.Device, incoming *models.DispenseTransaction) (*ReceiptResult, error) {
	var (
		stored        *models.DispenseTransaction
		before, after *shiftContribution
	)

	err := s.repo.WithTransaction(ctx, func(ctx context.Context, txRepo repository.Repository) error {
		var err error
		stored, err = txRepo.FindTransactionBySessionIDForUpdate(ctx, incoming.SessionID)
		if err != nil {
			return errors.Wrap(err, "find transaction")
		}
		if stored.DeviceID != device.ID {
			return invalidField("sessionId", "belongs to another device")
		}

		before = s.contribution(stored)
		mergeReceipt(stored, incoming)

		if err := txRepo.UpdateTransaction(ctx, stored); err != nil {
			return errors.Wrap(err, "update transaction")
		}
		after = s.contribution(stored)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Receipts.WithLabelValues("updated").Inc()
	s.rollShift(stored.SessionID, before, after)

	return &ReceiptResult{Transaction: stored, Created: false}, nil
}

// mergeReceipt copies the fields a replay may change onto stored.
// Operator and price are only backfilled, never replaced.
func mergeReceipt(stored, incoming *models.DispenseTransaction) {
	stored.EndedAt = incoming.EndedAt
	stored.Status = incoming.Status
	stored.DispensedLiters = incoming.DispensedLiters
	stored.DurationSec = incoming.DurationSec
	stored.ErrorMessage = incoming.ErrorMessage
	if stored.OperatorID == nil && incoming.OperatorID != nil {
		stored.OperatorID = incoming.OperatorID
	}
	if !stored.Priced && incoming.Priced {
		stored.PricePerLiter = incoming.PricePerLiter
		stored.CostPerLiter = incoming.CostPerLiter
		stored.Currency = incoming.Currency
		stored.TotalCost = incoming.TotalCost
		stored.TotalProfit = incoming.TotalProfit
		stored.Priced = true
	}
}

func applyQuote(tx *models.DispenseTransaction, q pricing.Quote) {
	tx.PricePerLiter = q.PricePerLiter
	tx.CostPerLiter = q.CostPerLiter
	tx.Currency = q.Currency
	tx.TotalCost, tx.TotalProfit = q.Totals(tx.DispensedLiters)
	tx.Priced = true
}

// resolveOperator finds who ran the dispense: the explicit id first, then the
// PIN. The PIN match is a linear bcrypt scan over the owner's active operators
// and the first match wins, so it is bounded by the size of one owner's crew.
func (s *service) resolveOperator(ctx context.Context, device *models.Device, in ReceiptInput) (*models.Operator, error) {
	if device.OwnerID == nil {
		return nil, nil
	}

	if in.OperatorID != nil {
		op, err := s.repo.FindOperatorByID(ctx, *in.OperatorID)
		switch {
		case err == nil:
			if op.Active && op.OwnerID == *device.OwnerID {
				return op, nil
			}
		case !errors.Is(err, repository.ErrNotFound):
			return nil, errors.Wrap(err, "find operator")
		}
	}

	if in.OperatorPin == "" {
		return nil, nil
	}
	return s.matchPin(ctx, *device.OwnerID, in.OperatorPin)
}

func (s *service) matchPin(ctx context.Context, ownerID uint, pin string) (*models.Operator, error) {
	ops, err := s.repo.ListOperators(ctx, ownerID, true)
	if err != nil {
		return nil, errors.Wrap(err, "list operators")
	}
	for _, op := range ops {
		if op.PinHash != "" && auth.CheckSecret(op.PinHash, pin) {
			return op, nil
		}
	}
	return nil, nil
}

// contribution is the shift-summary share of a transaction. Only DONE counts.
func (s *service) contribution(tx *models.DispenseTransaction) *shiftContribution {
	opKey := models.UnassignedOperator
	if tx.OperatorID != nil {
		opKey = uintKey(*tx.OperatorID)
	}

	c := &shiftContribution{
		key: repository.ShiftKey{
			DeviceID:    tx.DeviceID,
			OperatorKey: opKey,
			ShiftDate:   s.shiftDate(tx.StartedAt),
		},
	}
	if tx.Status == models.TransactionDone {
		c.delta = repository.ShiftDelta{
			Count:  1,
			Liters: tx.DispensedLiters,
			Sales:  tx.TotalCost,
			Profit: tx.TotalProfit,
		}
	}
	return c
}

// shiftDate is the calendar day of t in the shift timezone, as UTC midnight
func (s *service) shiftDate(t time.Time) time.Time {
	local := t.In(s.shiftLoc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// rollShift moves a transaction's shift contribution from before to after
func (s *service) rollShift(sessionID string, before, after *shiftContribution) {
	type change struct {
		key   repository.ShiftKey
		delta repository.ShiftDelta
	}

	var changes []change
	if before != nil && before.key == after.key {
		changes = append(changes, change{after.key, repository.ShiftDelta{
			Count:  after.delta.Count - before.delta.Count,
			Liters: after.delta.Liters - before.delta.Liters,
			Sales:  pricing.Round(after.delta.Sales - before.delta.Sales),
			Profit: pricing.Round(after.delta.Profit - before.delta.Profit),
		}})
	} else {
		if before != nil {
			changes = append(changes, change{before.key, repository.ShiftDelta{
				Count:  -before.delta.Count,
				Liters: -before.delta.Liters,
				Sales:  -before.delta.Sales,
				Profit: -before.delta.Profit,
			}})
		}
		changes = append(changes, change{after.key, after.delta})
	}

	for _, c := range changes {
		if c.delta.IsZero() {
			continue
		}
		c := c
		s.goBackground("shift-rollup", func(ctx context.Context) error {
			if err := s.repo.IncrementShiftSummary(ctx, c.key, c.delta); err != nil {
				return errors.Wrapf(err, "roll shift for session %s", sessionID)
			}
			return nil
		})
	}
}

func (s *service) writeDispenseEvent(ctx context.Context, device *models.Device, tx *models.DispenseTransaction) {
	meta, _ := json.Marshal(map[string]interface{}{
		"sessionId":  tx.SessionID,
		"liters":     tx.DispensedLiters,
		"status":     tx.Status,
		"totalCost":  tx.TotalCost,
		"currency":   tx.Currency,
		"operatorId": tx.OperatorID,
	})

	severity := models.SeverityInfo
	if tx.Status == models.TransactionError {
		severity = models.SeverityWarn
	}

	event := &models.Event{
		DeviceID: device.ID,
		TS:       tx.StartedAt,
		Type:     "DISPENSE",
		Severity: severity,
		Message:  dispenseMessage(tx),
		Meta:     string(meta),
	}
	if err := s.repo.CreateEvent(ctx, event); err != nil {
		s.log.WithError(err).WithField("session_id", tx.SessionID).Warn("Failed to write dispense event")
	}
}

func dispenseMessage(tx *models.DispenseTransaction) string {
	msg := fmt.Sprintf("Dispensed %.2f L (%s)", tx.DispensedLiters, tx.Status)
	if tx.Priced {
		msg += fmt.Sprintf(", %.2f %s", tx.TotalCost, tx.Currency)
	}
	return msg
}

func uintKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
