package repository

import (
	"context"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"

	"gorm.io/gorm"
)

func (r *repo) CreateCommand(ctx context.Context, cmd *models.Command) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Create(cmd).Error, "create command")
}

func (r *repo) FindCommandByID(ctx context.Context, id string) (*models.Command, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var cmd models.Command
	if err := gormDB.Where("id = ?", id).First(&cmd).Error; err != nil {
		return nil, translate(err, "find command")
	}
	return &cmd, nil
}

// deliverable matches commands a pull may hand out: PENDING ones, and SENT
// ones still unacked since before resendBefore.
func deliverable(q *gorm.DB, resendBefore time.Time) *gorm.DB {
	return q.Where("(status = ? OR (status = ? AND sent_at <= ?))",
		models.CommandPending, models.CommandSent, resendBefore)
}

// NextPendingCommand returns the oldest unexpired command the device may be
// served, PENDING or due for redelivery
func (r *repo) NextPendingCommand(ctx context.Context, deviceID uint, now, resendBefore time.Time) (*models.Command, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	var cmd models.Command
	err = deliverable(gormDB.Where("device_id = ? AND expires_at > ?", deviceID, now), resendBefore).
		Order("created_at asc").
		First(&cmd).Error
	if err != nil {
		return nil, translate(err, "next pending command")
	}
	return &cmd, nil
}

// MarkCommandSent moves a deliverable command to SENT and stamps sent_at.
// It reports false if another poll got there first.
func (r *repo) MarkCommandSent(ctx context.Context, id string, now, resendBefore time.Time) (bool, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return false, err
	}

	res := deliverable(gormDB.Model(&models.Command{}).Where("id = ?", id), resendBefore).
		Updates(map[string]interface{}{
			"status":     models.CommandSent,
			"sent_at":    now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, translate(res.Error, "mark command sent")
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateCommandStatus(ctx context.Context, id string, status models.CommandStatus, at time.Time) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		"status":     status,
		"updated_at": at,
	}
	if status == models.CommandAcked || status == models.CommandFailed {
		fields["acked_at"] = at
	}

	res := gormDB.Model(&models.Command{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return translate(res.Error, "update command status")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repo) ListCommands(ctx context.Context, deviceID uint, limit int) ([]*models.Command, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}

	q := gormDB.Where("device_id = ?", deviceID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var cmds []*models.Command
	if err := q.Find(&cmds).Error; err != nil {
		return nil, translate(err, "list commands")
	}
	return cmds, nil
}

// ExpireCommands marks unacknowledged commands past their expiry as EXPIRED
func (r *repo) ExpireCommands(ctx context.Context, now time.Time) (int64, error) {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return 0, err
	}

	res := gormDB.Model(&models.Command{}).
		Where("status IN ? AND expires_at <= ?", []models.CommandStatus{models.CommandPending, models.CommandSent}, now).
		Updates(map[string]interface{}{
			"status":     models.CommandExpired,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, translate(res.Error, "expire commands")
	}
	return res.RowsAffected, nil
}

func (r *repo) CreateCommandAck(ctx context.Context, ack *models.CommandAck) error {
	gormDB, err := r.conn(ctx)
	if err != nil {
		return err
	}
	return translate(gormDB.Create(ack).Error, "create command ack")
}
