package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/cache"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/repository"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUnauthorized is the only failure a device ever sees from Verify
var ErrUnauthorized = errors.New("unauthorized")

// DeviceFinder is the slice of the repository the verifier needs
type DeviceFinder interface {
	FindDeviceByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
}

// Verifier authenticates devices by id and shared API key
type Verifier struct {
	devices   DeviceFinder
	cache     cache.RedisClient
	cacheTTL  time.Duration
	dummyHash string
	log       *logrus.Logger
}

// cachedDevice keeps the key hash alongside the device, which hides it from JSON
type cachedDevice struct {
	Device  models.Device `json:"device"`
	KeyHash string        `json:"key_hash"`
}

// NewVerifier creates a verifier. The cache is optional.
func NewVerifier(devices DeviceFinder, c cache.RedisClient, cacheTTL time.Duration, cost int, log *logrus.Logger) (*Verifier, error) {
	// Unknown devices are compared against this hash so both failures cost the same
	dummy, err := HashSecret("unknown-device", cost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare verifier")
	}
	return &Verifier{
		devices:   devices,
		cache:     c,
		cacheTTL:  cacheTTL,
		dummyHash: dummy,
		log:       log,
	}, nil
}

func cacheKey(deviceID string) string {
	return "device:" + deviceID
}

// Verify returns the device only when the presented key matches its stored hash.
// Every failure, including lookup errors, is reported as ErrUnauthorized.
func (v *Verifier) Verify(ctx context.Context, deviceID, apiKey string) (*models.Device, error) {
	if deviceID == "" || apiKey == "" {
		return nil, ErrUnauthorized
	}

	device, err := v.lookup(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			v.log.WithError(err).WithField("device_id", deviceID).Error("Device lookup failed during authentication")
		}
		CheckSecret(v.dummyHash, apiKey)
		return nil, ErrUnauthorized
	}

	if !CheckSecret(device.APIKeyHash, apiKey) {
		return nil, ErrUnauthorized
	}
	return device, nil
}

// Invalidate drops the cached record, e.g. after a key rotation
func (v *Verifier) Invalidate(ctx context.Context, deviceID string) {
	if v.cache == nil {
		return
	}
	if err := v.cache.Delete(ctx, cacheKey(deviceID)); err != nil {
		v.log.WithError(err).WithField("device_id", deviceID).Warn("Failed to invalidate cached device")
	}
}

func (v *Verifier) lookup(ctx context.Context, deviceID string) (*models.Device, error) {
	if v.cache != nil {
		if raw, err := v.cache.Get(ctx, cacheKey(deviceID)); err == nil {
			var cd cachedDevice
			if jsonErr := json.Unmarshal([]byte(raw), &cd); jsonErr == nil {
				cd.Device.APIKeyHash = cd.KeyHash
				return &cd.Device, nil
			}
		}
	}

	device, err := v.devices.FindDeviceByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if v.cache != nil {
		data, err := json.Marshal(cachedDevice{Device: *device, KeyHash: device.APIKeyHash})
		if err == nil {
			if err := v.cache.Set(ctx, cacheKey(deviceID), string(data), v.cacheTTL); err != nil {
				v.log.WithError(err).Debug("Failed to cache device")
			}
		}
	}
	return device, nil
}
