package files

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafs-project/dafs/internal/cache"
	"github.com/dafs-project/dafs/internal/dafserr"
	"github.com/dafs-project/dafs/internal/kv"
	"github.com/dafs-project/dafs/internal/store/sqlite"
	"github.com/dafs-project/dafs/pkg/crypto"
)

// fakeDirectory is a minimal PublicKeyResolver backed by an in-memory map,
// standing in for identity.Registry in tests so the file service's
// key-wrapping logic can be exercised without spinning up a real registry.
type fakeDirectory struct {
	keys map[string][crypto.KeySize]byte
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{keys: make(map[string][crypto.KeySize]byte)}
}

func (d *fakeDirectory) add(t *testing.T, userID string) [crypto.KeySize]byte {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	d.keys[userID] = kp.PublicKey
	return kp.PrivateKey
}

func (d *fakeDirectory) PublicKeyFor(ctx context.Context, userID string) ([crypto.KeySize]byte, error) {
	pub, ok := d.keys[userID]
	if !ok {
		return [crypto.KeySize]byte{}, dafserr.New(dafserr.NotFound, "files", "PublicKeyFor")
	}
	return pub, nil
}

func newTestService(t *testing.T) (*Service, *fakeDirectory) {
	t.Helper()
	store, err := kv.Open(kv.Options{InMemory: true}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	storage, err := NewLocalStorage(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	uploads, err := NewUploadStager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	dir := newFakeDirectory()
	repo := NewRepository(store, zerolog.Nop())
	return NewService(repo, storage, nil, uploads, dir, nil, zerolog.Nop()), dir
}

func newTestServiceWithIndex(t *testing.T) (*Service, *fakeDirectory) {
	t.Helper()
	store, err := kv.Open(kv.Options{InMemory: true}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	storage, err := NewLocalStorage(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	uploads, err := NewUploadStager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "search.db")
	index, err := NewSearchIndex(sqlite.Config{Path: dbPath, MaxOpenConns: 1, WALMode: true}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	dir := newFakeDirectory()
	repo := NewRepository(store, zerolog.Nop())
	return NewService(repo, storage, index, uploads, dir, cache.NewLRU(64), zerolog.Nop()), dir
}

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	ownerKey := dir.add(t, "owner-1")

	meta, err := s.Store(ctx, "owner-1", "note.txt", []byte("hello dafs"))
	require.NoError(t, err)
	assert.Equal(t, "note.txt", meta.Filename)
	assert.True(t, meta.AllowedPeers["owner-1"])

	plain, gotMeta, err := s.Retrieve(ctx, "owner-1", meta.FileID, ownerKey)
	require.NoError(t, err)
	assert.Equal(t, "hello dafs", string(plain))
	assert.Equal(t, meta.FileID, gotMeta.FileID)
}

func TestRetrieveDeniesNonOwnerWithoutGrant(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	dir.add(t, "owner-1")
	strangerKey := dir.add(t, "stranger")

	meta, err := s.Store(ctx, "owner-1", "secret.txt", []byte("top secret"))
	require.NoError(t, err)

	_, _, err = s.Retrieve(ctx, "stranger", meta.FileID, strangerKey)
	assert.Equal(t, dafserr.AccessDenied, dafserr.KindOf(err))
}

func TestShareGrantsAccess(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	ownerKey := dir.add(t, "owner-1")
	friendKey := dir.add(t, "friend")

	meta, err := s.Store(ctx, "owner-1", "shared.txt", []byte("shared content"))
	require.NoError(t, err)

	require.NoError(t, s.Share(ctx, "owner-1", meta.FileID, "friend", ownerKey))

	plain, _, err := s.Retrieve(ctx, "friend", meta.FileID, friendKey)
	require.NoError(t, err)
	assert.Equal(t, "shared content", string(plain))
}

func TestShareFailsForNonOwner(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	dir.add(t, "owner-1")
	friendKey := dir.add(t, "friend")
	dir.add(t, "carol")

	meta, err := s.Store(ctx, "owner-1", "shared.txt", []byte("shared content"))
	require.NoError(t, err)

	err = s.Share(ctx, "friend", meta.FileID, "carol", friendKey)
	assert.Equal(t, dafserr.AccessDenied, dafserr.KindOf(err))
}

func TestRevokeRemovesAccess(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	ownerKey := dir.add(t, "owner-1")
	friendKey := dir.add(t, "friend")

	meta, err := s.Store(ctx, "owner-1", "revoked.txt", []byte("data"))
	require.NoError(t, err)

	require.NoError(t, s.Share(ctx, "owner-1", meta.FileID, "friend", ownerKey))
	require.NoError(t, s.Revoke(ctx, "owner-1", meta.FileID, "friend"))

	_, _, err = s.Retrieve(ctx, "friend", meta.FileID, friendKey)
	assert.Equal(t, dafserr.AccessDenied, dafserr.KindOf(err))
}

func TestDeleteRequiresOwnership(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	ownerKey := dir.add(t, "owner-1")
	dir.add(t, "friend")

	meta, err := s.Store(ctx, "owner-1", "mine.txt", []byte("data"))
	require.NoError(t, err)

	require.NoError(t, s.Share(ctx, "owner-1", meta.FileID, "friend", ownerKey))
	err = s.Delete(ctx, "friend", meta.FileID)
	assert.Equal(t, dafserr.AccessDenied, dafserr.KindOf(err))

	require.NoError(t, s.Delete(ctx, "owner-1", meta.FileID))

	_, err = s.repo.GetByID(ctx, meta.FileID)
	assert.Equal(t, dafserr.NotFound, dafserr.KindOf(err))
}

func TestListOwned(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	dir.add(t, "owner-1")
	dir.add(t, "owner-2")

	_, err := s.Store(ctx, "owner-1", "a.txt", []byte("a"))
	require.NoError(t, err)
	_, err = s.Store(ctx, "owner-1", "b.txt", []byte("b"))
	require.NoError(t, err)
	_, err = s.Store(ctx, "owner-2", "c.txt", []byte("c"))
	require.NoError(t, err)

	owned, err := s.ListOwned(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, owned, 2)
}

func TestChunkAndReassembleForTransfer(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	ownerKey := dir.add(t, "owner-1")
	dir.add(t, "owner-2")

	meta, err := s.Store(ctx, "owner-1", "transfer.bin", []byte("data to transfer over the wire"))
	require.NoError(t, err)

	chunks, err := s.ChunkForTransfer(ctx, "owner-1", meta.FileID, ownerKey)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)

	// The receiver unwraps the file key itself (e.g. from a FileKeyExchange
	// envelope) before reassembling; here we simulate that by unwrapping
	// the owner's own envelope directly since no sharing was involved.
	fullMeta, err := s.repo.GetByID(ctx, meta.FileID)
	require.NoError(t, err)
	key, err := crypto.UnwrapFileKey(&fullMeta.WrappedFileKey, ownerKey)
	require.NoError(t, err)

	rebuilt, err := s.ReassembleFromTransfer(ctx, "owner-2", "transfer.bin", meta.Hash, chunks, key)
	require.NoError(t, err)
	assert.Equal(t, meta.Hash, rebuilt.Hash)
}

func TestUploadChunkResumesAcrossRestart(t *testing.T) {
	s, dir := newTestService(t)
	ctx := context.Background()
	ownerKey := dir.add(t, "owner-1")

	fileID := "resumable-upload-1"
	chunk0 := bytesOf('a', 1<<20)
	chunk1 := bytesOf('b', 1<<20)
	chunk2 := bytesOf('c', 500000)
	want := append(append(append([]byte{}, chunk0...), chunk1...), chunk2...)

	_, finalized, err := s.UploadChunk(ctx, "owner-1", fileID, "big.bin", 0, 3, chunk0)
	require.NoError(t, err)
	assert.False(t, finalized)

	_, finalized, err = s.UploadChunk(ctx, "owner-1", fileID, "big.bin", 2, 3, chunk2)
	require.NoError(t, err)
	assert.False(t, finalized)

	// Simulate a process restart: a fresh UploadStager and Service are
	// built over the same staging and storage directories, with no
	// in-memory state carried over from the calls above.
	freshUploads, err := NewUploadStager(s.uploads.baseDir, zerolog.Nop())
	require.NoError(t, err)
	restarted := NewService(s.repo, s.storage, s.index, freshUploads, dir, s.searchCache, zerolog.Nop())

	meta, finalized, err := restarted.UploadChunk(ctx, "owner-1", fileID, "big.bin", 1, 3, chunk1)
	require.NoError(t, err)
	require.True(t, finalized)
	require.NotNil(t, meta)
	assert.Equal(t, fileID, meta.FileID)
	assert.Equal(t, int64(len(want)), meta.SizeBytes)

	plain, _, err := restarted.Retrieve(ctx, "owner-1", fileID, ownerKey)
	require.NoError(t, err)
	assert.Equal(t, want, plain)
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestSearchServesFromCacheUntilInvalidated(t *testing.T) {
	s, dir := newTestServiceWithIndex(t)
	ctx := context.Background()
	dir.add(t, "owner-1")

	_, err := s.Store(ctx, "owner-1", "quarterly-report.pdf", []byte("q3 numbers"))
	require.NoError(t, err)

	first, err := s.Search(ctx, "owner-1", "quarterly", 10)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	cached, ok := s.searchCache.Get(searchCacheKey("owner-1", "quarterly", 10))
	require.True(t, ok)
	assert.Equal(t, first, cached)

	// A second store for the same owner must invalidate the cached result
	// rather than silently serving the stale one-result slice forever.
	_, err = s.Store(ctx, "owner-1", "quarterly-summary.pdf", []byte("q3 summary"))
	require.NoError(t, err)

	_, ok = s.searchCache.Get(searchCacheKey("owner-1", "quarterly", 10))
	assert.False(t, ok)

	second, err := s.Search(ctx, "owner-1", "quarterly", 10)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}
