package dafserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(NotFound, "kv", "get", nil))
}

func TestWrapIsMatchesKind(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Storage, "kv", "get", cause)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.False(t, errors.Is(err, ErrNetwork))
	assert.True(t, errors.Is(err, cause))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Storage, KindOf(Wrap(Storage, "kv", "get", errors.New("x"))))
	assert.Equal(t, Internal, KindOf(errors.New("untyped")))
}

func TestErrorMessage(t *testing.T) {
	err := New(AccessDenied, "files", "read")
	assert.Contains(t, err.Error(), "files")
	assert.Contains(t, err.Error(), "read")
}
</content>
