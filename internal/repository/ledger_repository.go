package repository

import (
	"context"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ShiftKey identifies one shift summary row
type ShiftKey struct {
	DeviceID    uint
	OperatorKey string
	ShiftDate   time.Time
}

// ShiftDelta is added to a shift summary. Values may be negative when a replayed
// receipt withdraws a previous DONE contribution.
type ShiftDelta struct {
	Count  int64
	Liters float64
	Sales  float64
	Profit float64
}

// IsZero reports whether applying the delta would change nothing
func (d ShiftDelta) IsZero() bool {
	return d.Count == 0 && d.Liters == 0 && d.Sales == 0 && d.Profit == 0
}

// Operators

func (r *repo) CreateOperator(ctx context.Context, op *models.Operator) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Create(op).Error, "create operator")
}

func (r *repo) UpdateOperator(ctx context.Context, op *models.Operator) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Save(op).Error, "update operator")
}

func (r *repo) FindOperatorByID(ctx context.Context, id uint) (*models.Operator, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var op models.Operator
	if err := gormDB.First(&op, id).Error; err != nil {
		return nil, translate(err, "find operator")
	}
	return &op, nil
}

// ListOperators returns an owner's operators in creation order
func (r *repo) ListOperators(ctx context.Context, ownerID uint, activeOnly bool) ([]*models.Operator, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	q := gormDB.Where("owner_id = ?", ownerID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	var ops []*models.Operator
	if err := q.Order("id asc").Find(&ops).Error; err != nil {
		return nil, translate(err, "list operators")
	}
	return ops, nil
}

// Prices

func (r *repo) CreatePrice(ctx context.Context, p *models.Price) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Create(p).Error, "create price")
}

// FindEffectivePrice returns the latest price effective at the given time.
// A device-scoped price wins over an owner-wide one.
func (r *repo) FindEffectivePrice(ctx context.Context, deviceID uint, ownerID *uint, at time.Time) (*models.Price, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var p models.Price
	err = gormDB.Where("device_id = ? AND effective_from <= ?", deviceID, at).
		Order("effective_from desc").First(&p).Error
	if err == nil {
		return &p, nil
	}
	if terr := translate(err, "find device price"); !errors.Is(terr, ErrNotFound) || ownerID == nil {
		return nil, terr
	}

	err = gormDB.Where("device_id IS NULL AND owner_id = ? AND effective_from <= ?", *ownerID, at).
		Order("effective_from desc").First(&p).Error
	if err != nil {
		return nil, translate(err, "find owner price")
	}
	return &p, nil
}

// Dispense ledger

func (r *repo) CreateTransaction(ctx context.Context, tx *models.DispenseTransaction) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Create(tx).Error, "create transaction")
}

func (r *repo) UpdateTransaction(ctx context.Context, tx *models.DispenseTransaction) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Save(tx).Error, "update transaction")
}

func (r *repo) FindTransactionBySessionID(ctx context.Context, sessionID string) (*models.DispenseTransaction, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var tx models.DispenseTransaction
	if err := gormDB.Where("session_id = ?", sessionID).First(&tx).Error; err != nil {
		return nil, translate(err, "find transaction")
	}
	return &tx, nil
}

// FindTransactionBySessionIDForUpdate is FindTransactionBySessionID with a
// row lock, for use inside WithTransaction.
func (r *repo) FindTransactionBySessionIDForUpdate(ctx context.Context, sessionID string) (*models.DispenseTransaction, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	q := gormDB.Where("session_id = ?", sessionID)
	if gormDB.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var tx models.DispenseTransaction
	if err := q.First(&tx).Error; err != nil {
		return nil, translate(err, "find transaction for update")
	}
	return &tx, nil
}

// IncrementShiftSummary adds delta to the row for key, creating it if needed.
// The increment happens in the database so concurrent rollups never lose updates.
func (r *repo) IncrementShiftSummary(ctx context.Context, key ShiftKey, delta ShiftDelta) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	row := models.ShiftSummary{
		DeviceID:    key.DeviceID,
		OperatorKey: key.OperatorKey,
		ShiftDate:   key.ShiftDate,
		TxCount:     delta.Count,
		TotalLiters: delta.Liters,
		TotalSales:  delta.Sales,
		TotalProfit: delta.Profit,
		UpdatedAt:   now,
	}

	err = gormDB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_id"}, {Name: "operator_key"}, {Name: "shift_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"tx_count":     gorm.Expr("shift_summaries.tx_count + ?", delta.Count),
			"total_liters": gorm.Expr("shift_summaries.total_liters + ?", delta.Liters),
			"total_sales":  gorm.Expr("shift_summaries.total_sales + ?", delta.Sales),
			"total_profit": gorm.Expr("shift_summaries.total_profit + ?", delta.Profit),
			"updated_at":   now,
		}),
	}).Create(&row).Error

	return translate(err, "increment shift summary")
}

func (r *repo) FindShiftSummary(ctx context.Context, key ShiftKey) (*models.ShiftSummary, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var s models.ShiftSummary
	err = gormDB.Where("device_id = ? AND operator_key = ? AND shift_date = ?",
		key.DeviceID, key.OperatorKey, key.ShiftDate).First(&s).Error
	if err != nil {
		return nil, translate(err, "find shift summary")
	}
	return &s, nil
}

func (r *repo) ListShiftSummaries(ctx context.Context, deviceIDs []uint, day time.Time) ([]*models.ShiftSummary, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	if len(deviceIDs) == 0 {
		return []*models.ShiftSummary{}, nil
	}

	var rows []*models.ShiftSummary
	err = gormDB.Where("device_id IN ? AND shift_date = ?", deviceIDs, day).
		Order("device_id asc").Order("operator_key asc").Find(&rows).Error
	if err != nil {
		return nil, translate(err, "list shift summaries")
	}
	return rows, nil
}
