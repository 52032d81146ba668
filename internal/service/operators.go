package service

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/auth"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/tracing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	RoleOperator   = "OPERATOR"
	RoleSupervisor = "SUPERVISOR"
)

// PinVerifyInput carries either the plaintext PIN or the device-side digest
type PinVerifyInput struct {
	Pin     string `json:"pin" validate:"required_without=PinHash,omitempty,numeric,min=4,max=8"`
	PinHash string `json:"pinHash" validate:"required_without=Pin,omitempty,len=64,hexadecimal"`
}

// OperatorInput describes a new operator
type OperatorInput struct {
	Name    string `json:"name" validate:"required,max=128"`
	Role    string `json:"role" validate:"omitempty,oneof=OPERATOR SUPERVISOR"`
	Pin     string `json:"pin" validate:"required,numeric,min=4,max=8"`
	OwnerID *uint  `json:"ownerId"`
}

// OperatorDirectory lets a device verify PINs while offline
type OperatorDirectory struct {
	Salt      string          `json:"salt"`
	Operators []DirectoryEntry `json:"operators"`
}

// DirectoryEntry is one operator as the device sees it
type DirectoryEntry struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	PinHash string `json:"pinHash"`
}

// VerifyPin identifies the operator at the pump. A digest is compared against
// the stored digests; a plaintext PIN goes through the bcrypt scan.
func (s *service) VerifyPin(ctx context.Context, device *models.Device, in PinVerifyInput) (*models.Operator, error) {
	defer tracing.Segment(ctx, "VerifyPin")()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	if device.OwnerID == nil {
		return nil, ErrInvalidPIN
	}

	var (
		op  *models.Operator
		err error
	)
	if in.Pin != "" {
		op, err = s.matchPin(ctx, *device.OwnerID, in.Pin)
	} else {
		op, err = s.matchDigest(ctx, *device.OwnerID, strings.ToLower(in.PinHash))
	}
	if err != nil {
		return nil, err
	}

	s.touch(ctx, device)
	if op == nil {
		s.log.WithField("device_id", device.DeviceID).Warn("PIN verification failed")
		return nil, ErrInvalidPIN
	}
	return op, nil
}

func (s *service) matchDigest(ctx context.Context, ownerID uint, digest string) (*models.Operator, error) {
	ops, err := s.repo.ListOperators(ctx, ownerID, true)
	if err != nil {
		return nil, errors.Wrap(err, "list operators")
	}
	for _, op := range ops {
		if op.PinDigest != "" && subtle.ConstantTimeCompare([]byte(op.PinDigest), []byte(digest)) == 1 {
			return op, nil
		}
	}
	return nil, nil
}

// SyncOperators returns the owner's active operators with their PIN digests
func (s *service) SyncOperators(ctx context.Context, device *models.Device) (*OperatorDirectory, error) {
	defer tracing.Segment(ctx, "SyncOperators")()

	s.touch(ctx, device)
	if device.OwnerID == nil {
		return &OperatorDirectory{Operators: []DirectoryEntry{}}, nil
	}

	ops, err := s.repo.ListOperators(ctx, *device.OwnerID, true)
	if err != nil {
		return nil, errors.Wrap(err, "list operators")
	}

	dir := &OperatorDirectory{
		Salt:      auth.OwnerPinSalt(*device.OwnerID),
		Operators: make([]DirectoryEntry, 0, len(ops)),
	}
	for _, op := range ops {
		dir.Operators = append(dir.Operators, DirectoryEntry{
			ID:      op.ID,
			Name:    op.Name,
			Role:    op.Role,
			PinHash: op.PinDigest,
		})
	}
	return dir, nil
}

// CreateOperator adds an operator under the actor's owner. PINs are unique
// among an owner's active operators.
func (s *service) CreateOperator(ctx context.Context, actor Actor, in OperatorInput) (*models.Operator, error) {
	if err := actor.require(models.WriterAuthLevel); err != nil {
		return nil, err
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	ownerID, err := requireOwner(actor, in.OwnerID)
	if err != nil {
		return nil, err
	}

	digest := auth.PinDigest(auth.OwnerPinSalt(ownerID), in.Pin)
	existing, err := s.matchDigest(ctx, ownerID, digest)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, invalidField("pin", "is already in use")
	}

	hash, err := auth.HashSecret(in.Pin, s.cfg.Device.BcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash pin")
	}

	role := in.Role
	if role == "" {
		role = RoleOperator
	}

	op := &models.Operator{
		OwnerID:   ownerID,
		Name:      in.Name,
		Role:      role,
		PinHash:   hash,
		PinDigest: digest,
		Active:    true,
	}
	if err := s.repo.CreateOperator(ctx, op); err != nil {
		return nil, errors.Wrap(err, "create operator")
	}

	s.log.WithFields(logrus.Fields{"owner_id": ownerID, "operator_id": op.ID}).Info("Operator created")
	return op, nil
}

func (s *service) ListOperators(ctx context.Context, actor Actor) ([]*models.Operator, error) {
	owner, err := actor.ownerScope()
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, invalidField("ownerId", "sudo keys without an owner cannot list operators")
	}
	return s.repo.ListOperators(ctx, *owner, false)
}

// DeactivateOperator stops an operator from matching PINs. History keeps the id.
func (s *service) DeactivateOperator(ctx context.Context, actor Actor, id uint) error {
	if err := actor.require(models.WriterAuthLevel); err != nil {
		return err
	}
	owner, err := actor.ownerScope()
	if err != nil {
		return err
	}

	op, err := s.repo.FindOperatorByID(ctx, id)
	if err != nil {
		return notFound(err)
	}
	if owner != nil && op.OwnerID != *owner {
		return ErrNotFound
	}
	if !op.Active {
		return nil
	}

	op.Active = false
	if err := s.repo.UpdateOperator(ctx, op); err != nil {
		return errors.Wrap(err, "deactivate operator")
	}
	return nil
}
