package service

import (
	"context"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/auth"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"

	"github.com/pkg/errors"
)

// Actor is the authenticated caller of an owner endpoint
type Actor struct {
	Name    string
	OwnerID *uint
	Level   models.AuthorizationLevel
}

// ActorFromKey builds the actor for an authenticated owner API key
func ActorFromKey(k *models.APIKey) Actor {
	return Actor{Name: k.Name, OwnerID: k.OwnerID, Level: k.AuthorizationLevel}
}

func (a Actor) require(level models.AuthorizationLevel) error {
	if a.Level < level {
		return ErrForbidden
	}
	return nil
}

// ownerScope is the owner whose records the actor may touch. Sudo keys without
// an owner see every owner and get nil.
func (a Actor) ownerScope() (*uint, error) {
	if a.OwnerID != nil {
		return a.OwnerID, nil
	}
	if a.Level >= models.SudoAuthLevel {
		return nil, nil
	}
	return nil, ErrForbidden
}

// ownedDevice loads a device the actor is allowed to manage. Devices of other
// owners look exactly like missing ones.
func (s *service) ownedDevice(ctx context.Context, actor Actor, deviceID string) (*models.Device, error) {
	owner, err := actor.ownerScope()
	if err != nil {
		return nil, err
	}

	device, err := s.repo.FindDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, notFound(err)
	}
	if owner != nil && (device.OwnerID == nil || *device.OwnerID != *owner) {
		return nil, ErrNotFound
	}
	return device, nil
}

// requireOwner is the owner an owner-scoped record is created under. Sudo
// callers without an owner must name one.
func requireOwner(actor Actor, explicit *uint) (uint, error) {
	owner, err := actor.ownerScope()
	if err != nil {
		return 0, err
	}
	if owner != nil {
		return *owner, nil
	}
	if explicit == nil {
		return 0, invalidField("ownerId", "is required")
	}
	return *explicit, nil
}

// AuthenticateAPIKey resolves an owner API key. Unknown and expired keys are unauthorized.
func (s *service) AuthenticateAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}

	apiKey, err := s.repo.GetAPIKeyByHash(ctx, auth.LookupHash(key))
	if err != nil {
		if errors.Is(notFound(err), ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "authenticate api key")
	}

	now := s.now()
	if apiKey.ExpiresAt != nil && !now.Before(*apiKey.ExpiresAt) {
		return nil, ErrUnauthorized
	}

	id := apiKey.ID
	s.goBackground("touch-api-key", func(ctx context.Context) error {
		return s.repo.TouchAPIKey(ctx, id, now)
	})
	return apiKey, nil
}

// GenerateAPIKey issues a new owner key. The plaintext is only returned here.
func (s *service) GenerateAPIKey(ctx context.Context, in APIKeyInput) (string, *models.APIKey, error) {
	if err := validateInput(in); err != nil {
		return "", nil, err
	}
	if in.OwnerID == nil && models.AuthorizationLevel(in.Level) < models.SudoAuthLevel {
		return "", nil, invalidField("ownerId", "is required below sudo level")
	}

	key, err := auth.GenerateKey(32)
	if err != nil {
		return "", nil, errors.Wrap(err, "generate api key")
	}

	apiKey := &models.APIKey{
		KeyHash:            auth.LookupHash(key),
		Name:               in.Name,
		OwnerID:            in.OwnerID,
		AuthorizationLevel: models.AuthorizationLevel(in.Level),
	}
	if in.ExpiresIn > 0 {
		expires := s.now().Add(in.ExpiresIn)
		apiKey.ExpiresAt = &expires
	}

	if in.OwnerID != nil {
		if _, err := s.repo.FindOwnerByID(ctx, *in.OwnerID); err != nil {
			if errors.Is(notFound(err), ErrNotFound) {
				return "", nil, invalidField("ownerId", "does not exist")
			}
			return "", nil, err
		}
	}

	if err := s.repo.CreateAPIKey(ctx, apiKey); err != nil {
		return "", nil, errors.Wrap(err, "store api key")
	}
	return key, apiKey, nil
}

func (s *service) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	return s.repo.ListAPIKeys(ctx)
}

func (s *service) DeleteAPIKey(ctx context.Context, id uint) error {
	return notFound(s.repo.DeleteAPIKey(ctx, id))
}

// CreateOwner registers a new owner account
func (s *service) CreateOwner(ctx context.Context, in OwnerInput) (*models.Owner, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	owner := &models.Owner{Name: in.Name, Email: in.Email, Phone: in.Phone, Active: true}
	if err := s.repo.CreateOwner(ctx, owner); err != nil {
		return nil, errors.Wrap(err, "create owner")
	}
	return owner, nil
}

// APIKeyInput describes a key to issue
type APIKeyInput struct {
	Name      string        `json:"name" validate:"required,max=128"`
	OwnerID   *uint         `json:"ownerId"`
	Level     int           `json:"level" validate:"gte=1,lte=3"`
	ExpiresIn time.Duration `json:"expiresIn" validate:"gte=0"`
}

// OwnerInput describes a new owner account
type OwnerInput struct {
	Name  string `json:"name" validate:"required,max=128"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,e164"`
}
