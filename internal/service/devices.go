package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/auth"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/metrics"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/repository"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/tracing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// deviceKeyBytes yields the 43 character keys flashed into firmware
const deviceKeyBytes = 32

// ProvisionDeviceInput describes a new device
type ProvisionDeviceInput struct {
	SiteName string `json:"siteName" validate:"required,max=128"`
	OwnerID  *uint  `json:"ownerId"`
}

// ProvisionedDevice carries the plaintext key. It is never retrievable again.
type ProvisionedDevice struct {
	Device *models.Device `json:"device"`
	APIKey string         `json:"apiKey"`
}

// NextDeviceID returns the id following last, e.g. OIL-0007 after OIL-0006.
// Numbers grow past four digits rather than wrapping.
func NextDeviceID(prefix, last string) (string, error) {
	if last == "" {
		return fmt.Sprintf("%s-%04d", prefix, 1), nil
	}
	num := strings.TrimPrefix(last, prefix+"-")
	n, err := strconv.Atoi(num)
	if err != nil || num == last {
		return "", errors.Errorf("malformed device id %q", last)
	}
	return fmt.Sprintf("%s-%04d", prefix, n+1), nil
}

// AuthenticateDevice checks the device credentials
func (s *service) AuthenticateDevice(ctx context.Context, deviceID, apiKey string) (*models.Device, error) {
	defer tracing.Segment(ctx, "AuthenticateDevice")()

	device, err := s.verifier.Verify(ctx, deviceID, apiKey)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			metrics.AuthFailures.Inc()
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return device, nil
}

// ProvisionDevice allocates the next sequential id and issues the device key.
// Concurrent provisioning may collide on the id; each retry recomputes it.
func (s *service) ProvisionDevice(ctx context.Context, actor Actor, in ProvisionDeviceInput) (*ProvisionedDevice, error) {
	if err := actor.require(models.WriterAuthLevel); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	owner, err := actor.ownerScope()
	if err != nil {
		return nil, err
	}
	if owner == nil && in.OwnerID != nil {
		if _, err := s.repo.FindOwnerByID(ctx, *in.OwnerID); err != nil {
			if errors.Is(notFound(err), ErrNotFound) {
				return nil, invalidField("ownerId", "does not exist")
			}
			return nil, err
		}
		owner = in.OwnerID
	}

	key, err := auth.GenerateKey(deviceKeyBytes)
	if err != nil {
		return nil, errors.Wrap(err, "generate device key")
	}
	hash, err := auth.HashSecret(key, s.cfg.Device.BcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash device key")
	}

	prefix := s.cfg.Device.IDPrefix
	for attempt := 1; attempt <= s.cfg.Device.AllocationRetries; attempt++ {
		device := &models.Device{
			SiteName:   in.SiteName,
			APIKeyHash: hash,
			Status:     models.StatusOK,
			OwnerID:    owner,
		}

		err := s.repo.WithTransaction(ctx, func(ctx context.Context, tx repository.Repository) error {
			last, err := tx.LastDeviceID(ctx, prefix)
			if err != nil {
				return err
			}
			device.DeviceID, err = NextDeviceID(prefix, last)
			if err != nil {
				return err
			}
			return tx.CreateDevice(ctx, device)
		})
		if err == nil {
			s.log.WithFields(logrus.Fields{"device_id": device.DeviceID, "site": device.SiteName}).Info("Device provisioned")
			return &ProvisionedDevice{Device: device, APIKey: key}, nil
		}
		if !errors.Is(err, repository.ErrDuplicateKey) {
			return nil, errors.Wrap(err, "provision device")
		}
		s.log.WithFields(logrus.Fields{"device_id": device.DeviceID, "attempt": attempt}).Debug("Device id taken, retrying")
	}

	return nil, errors.Wrapf(ErrConflict, "no free device id after %d attempts", s.cfg.Device.AllocationRetries)
}

// RotateDeviceKey replaces a device's key. The old key stops working at once.
func (s *service) RotateDeviceKey(ctx context.Context, actor Actor, deviceID string) (*ProvisionedDevice, error) {
	if err := actor.require(models.WriterAuthLevel); err != nil {
		return nil, err
	}

	device, err := s.ownedDevice(ctx, actor, deviceID)
	if err != nil {
		return nil, err
	}

	key, err := auth.GenerateKey(deviceKeyBytes)
	if err != nil {
		return nil, errors.Wrap(err, "generate device key")
	}
	hash, err := auth.HashSecret(key, s.cfg.Device.BcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash device key")
	}

	if err := s.repo.UpdateDeviceFields(ctx, device.ID, map[string]interface{}{"api_key_hash": hash}); err != nil {
		return nil, errors.Wrap(err, "rotate device key")
	}
	s.verifier.Invalidate(ctx, device.DeviceID)

	device.APIKeyHash = hash
	s.log.WithField("device_id", device.DeviceID).Info("Device key rotated")
	return &ProvisionedDevice{Device: device, APIKey: key}, nil
}

// ListDevices returns the actor's fleet. Sudo keys without an owner see every device.
func (s *service) ListDevices(ctx context.Context, actor Actor) ([]*models.Device, error) {
	owner, err := actor.ownerScope()
	if err != nil {
		return nil, err
	}
	return s.repo.ListDevices(ctx, owner)
}
