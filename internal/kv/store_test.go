package kv

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafs-project/dafs/internal/dafserr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, NamespaceFile, []byte("f1"), []byte("hello")))

	got, err := s.Get(ctx, NamespaceFile, []byte("f1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), NamespaceFile, []byte("missing"))
	assert.True(t, dafserr.KindOf(err) == dafserr.NotFound)
}

func TestDeleteThenGetNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, NamespaceSession, []byte("s1"), []byte("x")))
	require.NoError(t, s.Delete(ctx, NamespaceSession, []byte("s1")))

	_, err := s.Get(ctx, NamespaceSession, []byte("s1"))
	assert.True(t, dafserr.KindOf(err) == dafserr.NotFound)
}

func TestNamespacesDoNotCollide(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, NamespaceFile, []byte("id1"), []byte("file-value")))
	require.NoError(t, s.Put(ctx, NamespaceIdentity, []byte("id1"), []byte("identity-value")))

	fileVal, err := s.Get(ctx, NamespaceFile, []byte("id1"))
	require.NoError(t, err)
	assert.Equal(t, "file-value", string(fileVal))

	idVal, err := s.Get(ctx, NamespaceIdentity, []byte("id1"))
	require.NoError(t, err)
	assert.Equal(t, "identity-value", string(idVal))
}

func TestIterateOrdersByKeyAndStripsPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := []string{"b", "a", "c"}
	for _, k := range keys {
		require.NoError(t, s.Put(ctx, NamespaceRoom, []byte(k), []byte(k+"-value")))
	}

	var seen []string
	err := s.Iterate(ctx, NamespaceRoom, func(e Entry) (bool, error) {
		seen = append(seen, string(e.Key))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestIterateEarlyStop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, s.Put(ctx, NamespaceRoom, []byte(k), []byte("v")))
	}

	count := 0
	err := s.Iterate(ctx, NamespaceRoom, func(e Entry) (bool, error) {
		count++
		return count < 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestWithTransactionAtomicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTransaction(ctx, func(txn *Txn) error {
		if err := txn.Put(NamespaceIdentity, []byte("u1"), []byte("user")); err != nil {
			return err
		}
		return txn.Put(NamespaceACL, []byte("u1"), []byte("acl"))
	})
	require.NoError(t, err)

	userVal, err := s.Get(ctx, NamespaceIdentity, []byte("u1"))
	require.NoError(t, err)
	assert.Equal(t, "user", string(userVal))

	aclVal, err := s.Get(ctx, NamespaceACL, []byte("u1"))
	require.NoError(t, err)
	assert.Equal(t, "acl", string(aclVal))
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, NamespaceFile, []byte("nope"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, NamespaceFile, []byte("nope"), []byte("now it is")))
	ok, err = s.Exists(ctx, NamespaceFile, []byte("nope"))
	require.NoError(t, err)
	assert.True(t, ok)
}
</content>
