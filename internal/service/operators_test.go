package service

import (
	"testing"

	"github.com/bolo3547/kupemisa-cooking-sub000/internal/auth"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyPin(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")

	op, err := f.svc.CreateOperator(f.ctx, f.actor, OperatorInput{Name: "Mwila", Role: RoleSupervisor, Pin: "4821"})
	require.NoError(t, err)
	assert.NotEqual(t, "4821", op.PinHash)

	got, err := f.svc.VerifyPin(f.ctx, device, PinVerifyInput{Pin: "4821"})
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, RoleSupervisor, got.Role)

	digest := auth.PinDigest(auth.OwnerPinSalt(f.owner.ID), "4821")
	got, err = f.svc.VerifyPin(f.ctx, device, PinVerifyInput{PinHash: digest})
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)

	_, err = f.svc.VerifyPin(f.ctx, device, PinVerifyInput{Pin: "1111"})
	assert.ErrorIs(t, err, ErrInvalidPIN)

	_, err = f.svc.VerifyPin(f.ctx, device, PinVerifyInput{})
	requireValidation(t, err, "pin")
}

func TestVerifyPin_DeactivatedOperator(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")

	op, err := f.svc.CreateOperator(f.ctx, f.actor, OperatorInput{Name: "Mwila", Pin: "4821"})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeactivateOperator(f.ctx, f.actor, op.ID))

	_, err = f.svc.VerifyPin(f.ctx, device, PinVerifyInput{Pin: "4821"})
	assert.ErrorIs(t, err, ErrInvalidPIN)

	// The PIN is free again once its holder is inactive
	_, err = f.svc.CreateOperator(f.ctx, f.actor, OperatorInput{Name: "Chanda", Pin: "4821"})
	assert.NoError(t, err)

	all, err := f.svc.ListOperators(f.ctx, f.actor)
	require.NoError(t, err)
	assert.Len(t, all, 2, "inactive operators stay listed")
}

func TestSyncOperators(t *testing.T) {
	f := newFixture(t)
	device, _ := f.provision("Chilenje")

	a, err := f.svc.CreateOperator(f.ctx, f.actor, OperatorInput{Name: "Mwila", Pin: "4821"})
	require.NoError(t, err)
	b, err := f.svc.CreateOperator(f.ctx, f.actor, OperatorInput{Name: "Chanda", Pin: "7300"})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeactivateOperator(f.ctx, f.actor, b.ID))

	dir, err := f.svc.SyncOperators(f.ctx, device)
	require.NoError(t, err)
	assert.Equal(t, auth.OwnerPinSalt(f.owner.ID), dir.Salt)
	require.Len(t, dir.Operators, 1)
	assert.Equal(t, a.ID, dir.Operators[0].ID)
	assert.Equal(t, RoleOperator, dir.Operators[0].Role)
	assert.Equal(t, auth.PinDigest(dir.Salt, "4821"), dir.Operators[0].PinHash)
}

func TestSyncOperators_UnownedDevice(t *testing.T) {
	f := newFixture(t)
	sudo := Actor{Name: "root", Level: models.SudoAuthLevel}
	p, err := f.svc.ProvisionDevice(f.ctx, sudo, ProvisionDeviceInput{SiteName: "Unclaimed"})
	require.NoError(t, err)

	dir, err := f.svc.SyncOperators(f.ctx, p.Device)
	require.NoError(t, err)
	assert.Empty(t, dir.Operators)

	_, err = f.svc.VerifyPin(f.ctx, p.Device, PinVerifyInput{Pin: "4821"})
	assert.ErrorIs(t, err, ErrInvalidPIN)
}

func TestCreateOperator_Rules(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOperator(f.ctx, f.actor, OperatorInput{Name: "Mwila", Pin: "4821"})
	require.NoError(t, err)

	_, err = f.svc.CreateOperator(f.ctx, f.actor, OperatorInput{Name: "Chanda", Pin: "4821"})
	requireValidation(t, err, "pin")

	_, err = f.svc.CreateOperator(f.ctx, f.actor, OperatorInput{Name: "Chanda", Pin: "12a4"})
	requireValidation(t, err, "pin")

	_, err = f.svc.CreateOperator(f.ctx, f.actor, OperatorInput{Name: "Chanda", Role: "MANAGER", Pin: "5555"})
	requireValidation(t, err, "role")

	// Another owner may reuse the PIN
	other, err := f.svc.CreateOwner(f.ctx, OwnerInput{Name: "Other Co"})
	require.NoError(t, err)
	otherActor := Actor{Name: "other", OwnerID: &other.ID, Level: models.WriterAuthLevel}
	_, err = f.svc.CreateOperator(f.ctx, otherActor, OperatorInput{Name: "Bwalya", Pin: "4821"})
	assert.NoError(t, err)

	sudo := Actor{Name: "root", Level: models.SudoAuthLevel}
	_, err = f.svc.CreateOperator(f.ctx, sudo, OperatorInput{Name: "Bwalya", Pin: "9999"})
	requireValidation(t, err, "ownerId")
	_, err = f.svc.ListOperators(f.ctx, sudo)
	requireValidation(t, err, "ownerId")
}

func TestDeactivateOperator_OtherOwner(t *testing.T) {
	f := newFixture(t)

	op, err := f.svc.CreateOperator(f.ctx, f.actor, OperatorInput{Name: "Mwila", Pin: "4821"})
	require.NoError(t, err)

	other, err := f.svc.CreateOwner(f.ctx, OwnerInput{Name: "Other Co"})
	require.NoError(t, err)
	stranger := Actor{Name: "other", OwnerID: &other.ID, Level: models.WriterAuthLevel}

	assert.ErrorIs(t, f.svc.DeactivateOperator(f.ctx, stranger, op.ID), ErrNotFound)
	assert.ErrorIs(t, f.svc.DeactivateOperator(f.ctx, f.actor, 999), ErrNotFound)
}
