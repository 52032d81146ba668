package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/repository"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	minDispenseLiters = 0.05
	maxDispenseLiters = 50.0

	// pullAttempts bounds the retries when two polls race for one command
	pullAttempts = 3
)

// CreateCommandInput is an owner instruction for a device
type CreateCommandInput struct {
	Type   string   `json:"type" validate:"required,command_type"`
	Liters *float64 `json:"liters"`
	Price  *float64 `json:"price"`
}

// CommandAckInput is the device's response to a pulled command.
// ExecutedAt is epoch milliseconds.
type CommandAckInput struct {
	CommandID  string `json:"commandId" validate:"required,uuid"`
	OK         *bool  `json:"ok" validate:"required"`
	ExecutedAt *int64 `json:"executedAt" validate:"omitempty,gt=0"`
	Message    string `json:"message" validate:"max=512"`
	MetaJSON   string `json:"metaJson" validate:"omitempty,json"`
}

// commandPayload is the JSON body relayed to the device
type commandPayload struct {
	Liters *float64 `json:"liters,omitempty"`
	Price  *float64 `json:"price,omitempty"`
}

// CreateCommand queues a PENDING command that expires after the configured TTL
func (s *service) CreateCommand(ctx context.Context, actor Actor, deviceID string, in CreateCommandInput) (*models.Command, error) {
	if err := actor.require(models.WriterAuthLevel); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	payload, err := buildPayload(in)
	if err != nil {
		return nil, err
	}

	device, err := s.ownedDevice(ctx, actor, deviceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cmd := &models.Command{
		ID:        uuid.NewString(),
		DeviceID:  device.ID,
		Type:      models.CommandType(in.Type),
		Payload:   payload,
		Status:    models.CommandPending,
		ExpiresAt: now.Add(s.cfg.Commands.TTL),
		CreatedBy: actor.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateCommand(ctx, cmd); err != nil {
		return nil, errors.Wrap(err, "create command")
	}

	s.log.WithFields(logrus.Fields{
		"device_id":  device.DeviceID,
		"command_id": cmd.ID,
		"type":       cmd.Type,
	}).Info("Command queued")
	return cmd, nil
}

func buildPayload(in CreateCommandInput) (string, error) {
	var p commandPayload
	switch models.CommandType(in.Type) {
	case models.CommandDispense:
		if in.Liters == nil {
			return "", invalidField("liters", "is required")
		}
		if *in.Liters < minDispenseLiters || *in.Liters > maxDispenseLiters {
			return "", invalidField("liters", "must be between 0.05 and 50")
		}
		p.Liters = in.Liters
	case models.CommandSetPrice:
		if in.Price == nil {
			return "", invalidField("price", "is required")
		}
		if *in.Price <= 0 {
			return "", invalidField("price", "must be greater than 0")
		}
		p.Price = in.Price
	default:
		return "", nil
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "encode command payload")
	}
	return string(raw), nil
}

// ListCommands returns a device's most recent commands, newest first
func (s *service) ListCommands(ctx context.Context, actor Actor, deviceID string, limit int) ([]*models.Command, error) {
	device, err := s.ownedDevice(ctx, actor, deviceID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListCommands(ctx, device.ID, limit)
}

// PullCommand hands the device its oldest pending command and marks it SENT.
// A SENT command with no ack after Commands.RedeliverAfter is served again
// until it expires. It returns nil when nothing is waiting.
func (s *service) PullCommand(ctx context.Context, device *models.Device) (*models.Command, error) {
	defer tracing.Segment(ctx, "PullCommand")()

	s.touch(ctx, device)

	for attempt := 0; attempt < pullAttempts; attempt++ {
		now := s.now()
		var resendBefore time.Time
		if s.cfg.Commands.RedeliverAfter > 0 {
			resendBefore = now.Add(-s.cfg.Commands.RedeliverAfter)
		}

		cmd, err := s.repo.NextPendingCommand(ctx, device.ID, now, resendBefore)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "next pending command")
		}

		sent, err := s.repo.MarkCommandSent(ctx, cmd.ID, now, resendBefore)
		if err != nil {
			return nil, errors.Wrap(err, "mark command sent")
		}
		if sent {
			cmd.Status = models.CommandSent
			cmd.SentAt = &now
			return cmd, nil
		}
	}
	return nil, nil
}

// AckCommand records the device's result and settles the command
func (s *service) AckCommand(ctx context.Context, device *models.Device, in CommandAckInput) error {
	defer tracing.Segment(ctx, "AckCommand")()

	if err := validateInput(in); err != nil {
		return err
	}

	now := s.now()
	var executedAt *time.Time
	if in.ExecutedAt != nil {
		t := time.UnixMilli(*in.ExecutedAt).UTC()
		executedAt = &t
	}

	status := models.CommandFailed
	if *in.OK {
		status = models.CommandAcked
	}

	err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx repository.Repository) error {
		cmd, err := tx.FindCommandByID(ctx, in.CommandID)
		if err != nil {
			return err
		}
		if cmd.DeviceID != device.ID {
			return repository.ErrNotFound
		}

		ack := &models.CommandAck{
			ID:         uuid.NewString(),
			CommandID:  cmd.ID,
			DeviceID:   device.ID,
			OK:         *in.OK,
			ExecutedAt: executedAt,
			Message:    in.Message,
			Meta:       in.MetaJSON,
			CreatedAt:  now,
		}
		if err := tx.CreateCommandAck(ctx, ack); err != nil {
			return err
		}
		return tx.UpdateCommandStatus(ctx, cmd.ID, status, now)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "ack command")
	}

	s.touch(ctx, device)
	s.log.WithFields(logrus.Fields{
		"device_id":  device.DeviceID,
		"command_id": in.CommandID,
		"status":     status,
	}).Info("Command acknowledged")
	return nil
}

// ExpireCommands marks commands nobody acknowledged in time as EXPIRED
func (s *service) ExpireCommands(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireCommands(ctx, s.now())
	if err != nil {
		return 0, errors.Wrap(err, "expire commands")
	}
	if n > 0 {
		s.log.WithField("count", n).Info("Commands expired")
	}
	return n, nil
}
