package identity

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafs-project/dafs/internal/dafserr"
	"github.com/dafs-project/dafs/internal/kv"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := kv.Open(kv.Options{InMemory: true}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewRegistry(store, zerolog.Nop())
}

func TestRegisterAndAuthenticate(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	record, seed, err := r.Register(ctx, "alice", "Alice", "correct horse battery staple")
	require.NoError(t, err)
	assert.NotEmpty(t, record.User.UserID)
	assert.NotEqual(t, [32]byte{}, seed)

	authed, recoveredSeed, err := r.Authenticate(ctx, "alice", "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, record.User.UserID, authed.User.UserID)
	assert.Equal(t, seed, recoveredSeed)
}

func TestRegisterDuplicateUsernameConflicts(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, _, err := r.Register(ctx, "bob", "Bob", "password1")
	require.NoError(t, err)

	_, _, err = r.Register(ctx, "bob", "Bob Two", "password2")
	assert.Equal(t, dafserr.Conflict, dafserr.KindOf(err))
}

func TestAuthenticateWrongPassword(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, _, err := r.Register(ctx, "carol", "Carol", "right-password")
	require.NoError(t, err)

	_, _, err = r.Authenticate(ctx, "carol", "wrong-password")
	assert.Equal(t, dafserr.Unauthenticated, dafserr.KindOf(err))
}

func TestAuthenticateUnknownUser(t *testing.T) {
	r := newTestRegistry(t)
	_, _, err := r.Authenticate(context.Background(), "nobody", "whatever")
	assert.Equal(t, dafserr.Unauthenticated, dafserr.KindOf(err))
}

func TestRegisterDeviceMarksCurrentExclusively(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	record, _, err := r.Register(ctx, "dave", "Dave", "password")
	require.NoError(t, err)

	require.NoError(t, r.RegisterDevice(ctx, record.User.UserID, Device{DeviceID: "d1", DeviceType: DeviceDesktop}))
	require.NoError(t, r.RegisterDevice(ctx, record.User.UserID, Device{DeviceID: "d2", DeviceType: DeviceMobile}))

	updated, err := r.Get(ctx, record.User.UserID)
	require.NoError(t, err)
	require.Len(t, updated.User.Devices, 2)

	for _, d := range updated.User.Devices {
		if d.DeviceID == "d2" {
			assert.True(t, d.IsCurrent)
		} else {
			assert.False(t, d.IsCurrent)
		}
	}
}

func TestListReturnsOnlyUserRecords(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, _, err := r.Register(ctx, "erin", "Erin", "password")
	require.NoError(t, err)
	_, _, err = r.Register(ctx, "frank", "Frank", "password")
	require.NoError(t, err)

	users, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}
</content>
