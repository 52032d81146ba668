package auth

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/cache"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type stubDevices struct {
	devices map[string]*models.Device
	calls   int
	err     error
}

func (s *stubDevices) FindDeviceByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newStub(t *testing.T, key string) *stubDevices {
	t.Helper()
	hash, err := HashSecret(key, bcrypt.MinCost)
	require.NoError(t, err)
	owner := uint(7)
	return &stubDevices{devices: map[string]*models.Device{
		"OIL-0001": {DeviceID: "OIL-0001", APIKeyHash: hash, OwnerID: &owner, Status: models.StatusOK},
	}}
}

func TestVerify_ValidKey(t *testing.T) {
	store := newStub(t, "secret-key")
	v, err := NewVerifier(store, nil, 0, bcrypt.MinCost, quietLogger())
	require.NoError(t, err)

	device, err := v.Verify(context.Background(), "OIL-0001", "secret-key")
	require.NoError(t, err)
	assert.Equal(t, "OIL-0001", device.DeviceID)
	require.NotNil(t, device.OwnerID)
	assert.Equal(t, uint(7), *device.OwnerID)
}

func TestVerify_FailuresAreIndistinguishable(t *testing.T) {
	store := newStub(t, "secret-key")
	v, err := NewVerifier(store, nil, 0, bcrypt.MinCost, quietLogger())
	require.NoError(t, err)
	ctx := context.Background()

	d1, wrongSecret := v.Verify(ctx, "OIL-0001", "not-the-key")
	d2, unknownDevice := v.Verify(ctx, "OIL-9999", "secret-key")

	assert.Nil(t, d1)
	assert.Nil(t, d2)
	assert.Equal(t, wrongSecret, unknownDevice)
	assert.True(t, errors.Is(wrongSecret, ErrUnauthorized))
	assert.Equal(t, wrongSecret.Error(), unknownDevice.Error())
}

func TestVerify_MissingHeadersAndStoreErrors(t *testing.T) {
	store := newStub(t, "secret-key")
	v, err := NewVerifier(store, nil, 0, bcrypt.MinCost, quietLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = v.Verify(ctx, "", "secret-key")
	assert.Equal(t, ErrUnauthorized, err)
	_, err = v.Verify(ctx, "OIL-0001", "")
	assert.Equal(t, ErrUnauthorized, err)

	store.err = errors.New("connection refused")
	_, err = v.Verify(ctx, "OIL-0001", "secret-key")
	assert.Equal(t, ErrUnauthorized, err)
}

func TestVerify_UsesCacheButStillChecksKey(t *testing.T) {
	store := newStub(t, "secret-key")
	mem := cache.NewMemoryClient(nil)
	v, err := NewVerifier(store, mem, 0, bcrypt.MinCost, quietLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = v.Verify(ctx, "OIL-0001", "secret-key")
	require.NoError(t, err)
	_, err = v.Verify(ctx, "OIL-0001", "secret-key")
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)

	_, err = v.Verify(ctx, "OIL-0001", "wrong")
	assert.Equal(t, ErrUnauthorized, err)

	v.Invalidate(ctx, "OIL-0001")
	_, err = v.Verify(ctx, "OIL-0001", "secret-key")
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
}

func TestPinDigestAndKeys(t *testing.T) {
	salt := OwnerPinSalt(3)
	assert.Equal(t, "owner-3", salt)
	assert.Equal(t, PinDigest(salt, "1234"), PinDigest(salt, "1234"))
	assert.NotEqual(t, PinDigest(salt, "1234"), PinDigest(OwnerPinSalt(4), "1234"))
	assert.Len(t, PinDigest(salt, "1234"), 64)

	key, err := GenerateKey(32)
	require.NoError(t, err)
	assert.Len(t, key, 43)
	assert.Len(t, LookupHash(key), 64)
}
