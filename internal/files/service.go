package files

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dafs-project/dafs/internal/cache"
	"github.com/dafs-project/dafs/internal/dafserr"
	"github.com/dafs-project/dafs/pkg/crypto"
)

// searchCacheTTL bounds how long a cached search result may be served before
// it is re-queried, so a grant/revoke made on another node is only ever
// stale for this long rather than indefinitely.
const searchCacheTTL = 30 * time.Second

// PublicKeyResolver looks up a user's long-lived X25519 public key, so the
// file service can wrap a file key for them without needing any session or
// prior exchange with that user. *identity.Registry satisfies this.
type PublicKeyResolver interface {
	PublicKeyFor(ctx context.Context, userID string) ([crypto.KeySize]byte, error)
}

// Service orchestrates file ingestion, per-recipient key wrapping,
// access-checked retrieval, chunking for peer transfer, and search
// indexing.
type Service struct {
	repo        *Repository
	storage     Storage
	index       *SearchIndex
	scanner     *Scanner
	chunker     *Chunker
	uploads     *UploadStager
	identities  PublicKeyResolver
	searchCache *cache.LRU
	logger      zerolog.Logger
}

// NewService creates a file service. searchCache may be nil, in which case
// Search always queries the index directly.
func NewService(repo *Repository, storage Storage, index *SearchIndex, uploads *UploadStager, identities PublicKeyResolver, searchCache *cache.LRU, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		storage:     storage,
		index:       index,
		scanner:     NewScanner(),
		chunker:     NewChunker(DefaultChunkSize),
		uploads:     uploads,
		identities:  identities,
		searchCache: searchCache,
		logger:      logger.With().Str("component", "file_service").Logger(),
	}
}

// Store validates, encrypts, and persists a file on behalf of ownerID in a
// single call. The file key is generated, wrapped under ownerID's own
// public key, and never returned to the caller — later access goes through
// Retrieve/Share, which unwrap it from the metadata record.
func (s *Service) Store(ctx context.Context, ownerID, filename string, data []byte) (*FileMetadata, error) {
	return s.store(ctx, uuid.NewString(), ownerID, filename, data)
}

// store implements Store for a caller-chosen fileID, so UploadChunk's
// finalize step can reuse the identifier chunks were staged under instead
// of minting a second one.
func (s *Service) store(ctx context.Context, fileID, ownerID, filename string, data []byte) (*FileMetadata, error) {
	result := s.scanner.ScanBytes(data, filename)
	if !result.Valid {
		return nil, dafserr.New(dafserr.BadRequest, "files", "Store")
	}

	hash, err := hashBytes(data)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "files", "Store", err)
	}

	key, err := crypto.GenerateFileKey()
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "files", "Store", err)
	}

	ownerPub, err := s.identities.PublicKeyFor(ctx, ownerID)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "files", "Store", err)
	}
	wrapped, err := crypto.WrapFileKeyFor(key, ownerPub)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "files", "Store", err)
	}

	sealed, err := crypto.EncryptFile(key, data)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "files", "Store", err)
	}

	localPath, err := s.storage.Save(filepath.Base(filename), bytes.NewReader(sealed))
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Storage, "files", "Store", err)
	}

	meta := &FileMetadata{
		FileID:         fileID,
		OwnerID:        ownerID,
		Filename:       filepath.Base(filename),
		MimeType:       result.MimeType,
		SizeBytes:      int64(len(data)),
		Hash:           hash,
		ChunkSize:      DefaultChunkSize,
		ChunkCount:     s.chunker.ChunkCount(int64(len(data))),
		LocalPath:      localPath,
		CreatedAt:      time.Now().Unix(),
		WrappedFileKey: *wrapped,
		SharedKeys:     make(map[string]crypto.FileKeyEnvelope),
		AllowedPeers:   map[string]bool{ownerID: true},
	}

	if err := s.repo.Save(ctx, meta); err != nil {
		s.storage.Delete(localPath)
		return nil, err
	}
	if s.index != nil {
		if err := s.index.Index(ctx, meta); err != nil {
			s.logger.Warn().Err(err).Str("file_id", meta.FileID).Msg("search index update failed")
		}
	}

	s.invalidateSearchCache(ownerID)
	s.logger.Info().Str("file_id", meta.FileID).Str("filename", meta.Filename).Int64("size", meta.SizeBytes).Msg("file stored")
	return meta, nil
}

// UploadChunk stages one chunk of a resumable upload identified by
// (fileID, chunkIndex); fileID is chosen by the caller up front so every
// chunk of the same upload — and a retry after a restart — agrees on it.
// Once every chunk in [0, totalChunks) has been staged, the file is
// finalized (chunks concatenated in order, key generated and wrapped, and
// a normal FileMetadata record created) and finalized=true is returned
// along with the resulting metadata; otherwise meta is nil and finalized
// is false.
func (s *Service) UploadChunk(ctx context.Context, ownerID, fileID, filename string, chunkIndex, totalChunks int, data []byte) (meta *FileMetadata, finalized bool, err error) {
	if fileID == "" || totalChunks <= 0 || chunkIndex < 0 || chunkIndex >= totalChunks {
		return nil, false, dafserr.New(dafserr.BadRequest, "files", "UploadChunk")
	}

	if err := s.uploads.Open(fileID, ownerID, filename, totalChunks); err != nil {
		return nil, false, dafserr.Wrap(dafserr.BadRequest, "files", "UploadChunk", err)
	}
	if err := s.uploads.PutChunk(fileID, chunkIndex, data); err != nil {
		return nil, false, dafserr.Wrap(dafserr.Storage, "files", "UploadChunk", err)
	}

	if !s.uploads.Ready(fileID, totalChunks) {
		return nil, false, nil
	}

	full, err := s.uploads.Finalize(fileID, totalChunks)
	if err != nil {
		return nil, false, dafserr.Wrap(dafserr.Internal, "files", "UploadChunk", err)
	}
	meta, err = s.store(ctx, fileID, ownerID, filename, full)
	if err != nil {
		return nil, false, err
	}
	return meta, true, nil
}

// UploadProgress reports how many of totalChunks have been staged for an
// in-progress upload, so a caller resuming after a restart knows which
// indexes still need sending.
func (s *Service) UploadProgress(fileID string, totalChunks int) []bool {
	have := make([]bool, totalChunks)
	for i := range have {
		have[i] = s.uploads.chunkStaged(fileID, i)
	}
	return have
}

// Retrieve decrypts and returns a file's plaintext for requesterID. The
// file key is unwrapped server-side from requesterID's own envelope —
// WrappedFileKey if they are the owner, otherwise their entry in
// SharedKeys — using requesterPrivateKey; the caller never hands in a raw
// file key directly.
func (s *Service) Retrieve(ctx context.Context, requesterID, fileID string, requesterPrivateKey [crypto.KeySize]byte) ([]byte, *FileMetadata, error) {
	meta, err := s.requireAccess(ctx, requesterID, fileID)
	if err != nil {
		return nil, nil, err
	}

	key, err := s.unwrapFor(meta, requesterID, requesterPrivateKey)
	if err != nil {
		return nil, nil, err
	}

	sealed, err := os.ReadFile(meta.LocalPath)
	if err != nil {
		return nil, nil, dafserr.Wrap(dafserr.Storage, "files", "Retrieve", err)
	}

	plain, err := crypto.DecryptFile(key, sealed)
	if err != nil {
		return nil, nil, dafserr.Wrap(dafserr.BadCiphertext, "files", "Retrieve", err)
	}
	if meta.Hash != "" {
		if got, err := hashBytes(plain); err != nil || got != meta.Hash {
			return nil, nil, dafserr.New(dafserr.BadCiphertext, "files", "Retrieve")
		}
	}

	return plain, meta, nil
}

// unwrapFor recovers the plaintext file key for userID from meta, using
// whichever envelope (owner or shared) is theirs.
func (s *Service) unwrapFor(meta *FileMetadata, userID string, privateKey [crypto.KeySize]byte) ([]byte, error) {
	env, ok := meta.envelopeFor(userID)
	if !ok {
		return nil, dafserr.New(dafserr.AccessDenied, "files", "unwrapFor")
	}
	key, err := crypto.UnwrapFileKey(&env, privateKey)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.BadCiphertext, "files", "unwrapFor", err)
	}
	return key, nil
}

// ListOwned returns every file ownerID created.
func (s *Service) ListOwned(ctx context.Context, ownerID string) ([]*FileMetadata, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// ListSharedWith returns every file shared with userID.
func (s *Service) ListSharedWith(ctx context.Context, userID string) ([]*FileMetadata, error) {
	return s.repo.ListSharedWith(ctx, userID)
}

// Share unwraps fileID's key with the owner's private key and re-wraps it
// for recipientID's own public key, recording the new envelope in
// SharedKeys and adding recipientID to AllowedPeers. Only the owner may
// share; repeating a share for the same recipient just replaces their
// envelope (idempotent).
func (s *Service) Share(ctx context.Context, ownerID, fileID, recipientID string, ownerPrivateKey [crypto.KeySize]byte) error {
	meta, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if meta.OwnerID != ownerID {
		return dafserr.New(dafserr.AccessDenied, "files", "Share")
	}

	key, err := s.unwrapFor(meta, ownerID, ownerPrivateKey)
	if err != nil {
		return err
	}

	recipientPub, err := s.identities.PublicKeyFor(ctx, recipientID)
	if err != nil {
		return dafserr.Wrap(dafserr.BadRequest, "files", "Share", err)
	}
	envelope, err := crypto.WrapFileKeyFor(key, recipientPub)
	if err != nil {
		return dafserr.Wrap(dafserr.Internal, "files", "Share", err)
	}

	meta.grant(recipientID, *envelope)
	if err := s.repo.Save(ctx, meta); err != nil {
		return err
	}
	s.invalidateSearchCache(recipientID)
	return nil
}

// ReceiveKeyExchange records a file key wrapped for recipientID (this
// node's own user) that arrived over the FileKeyExchange protocol message
// from ownerID's node. If fileID isn't known locally yet — the common case,
// since the exchange is what first tells this node the file exists — a
// bare shadow record is created so the subsequent chunk fetch has
// somewhere to unwrap the key from; its LocalPath stays empty until the
// chunks are actually fetched and reassembled.
func (s *Service) ReceiveKeyExchange(ctx context.Context, fileID, ownerID, recipientID string, envelope crypto.FileKeyEnvelope) error {
	meta, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		if dafserr.KindOf(err) != dafserr.NotFound {
			return err
		}
		meta = &FileMetadata{
			FileID:       fileID,
			OwnerID:      ownerID,
			SharedKeys:   make(map[string]crypto.FileKeyEnvelope),
			AllowedPeers: map[string]bool{ownerID: true},
		}
	}
	meta.grant(recipientID, envelope)
	return s.repo.Save(ctx, meta)
}

// Revoke removes recipientID's access to fileID. Only the owner may
// revoke, and the owner can never revoke themselves.
func (s *Service) Revoke(ctx context.Context, ownerID, fileID, recipientID string) error {
	meta, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if meta.OwnerID != ownerID {
		return dafserr.New(dafserr.AccessDenied, "files", "Revoke")
	}
	if recipientID == meta.OwnerID {
		return dafserr.New(dafserr.BadRequest, "files", "Revoke")
	}

	meta.revoke(recipientID)
	if err := s.repo.Save(ctx, meta); err != nil {
		return err
	}
	s.invalidateSearchCache(recipientID)
	return nil
}

// Delete removes a file's record and its backing bytes. Only the owner may
// delete.
func (s *Service) Delete(ctx context.Context, requesterID, fileID string) error {
	meta, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if meta.OwnerID != requesterID {
		return dafserr.New(dafserr.AccessDenied, "files", "Delete")
	}

	if err := s.storage.Delete(meta.LocalPath); err != nil {
		s.logger.Warn().Err(err).Str("file_id", fileID).Msg("failed to delete file bytes")
	}
	if s.index != nil {
		if err := s.index.Remove(ctx, fileID); err != nil {
			s.logger.Warn().Err(err).Str("file_id", fileID).Msg("failed to remove from search index")
		}
	}
	if err := s.repo.Delete(ctx, fileID); err != nil {
		return err
	}
	for peer := range meta.AllowedPeers {
		s.invalidateSearchCache(peer)
	}
	return nil
}

// Search runs a full-text query over filenames the requester can see:
// files they own plus files explicitly shared with them. Results are
// cached per requester/query/limit for searchCacheTTL when a cache was
// configured, so a repeated query doesn't re-walk the owner's file list
// and hit the index on every keystroke of an interactive search box.
func (s *Service) Search(ctx context.Context, requesterID, query string, limit int) ([]SearchResult, error) {
	if s.index == nil {
		return nil, nil
	}

	cacheKey := searchCacheKey(requesterID, query, limit)
	if s.searchCache != nil {
		if cached, ok := s.searchCache.Get(cacheKey); ok {
			return cached.([]SearchResult), nil
		}
	}

	owned, err := s.repo.ListByOwner(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	shared, err := s.repo.ListSharedWith(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	visible := make([]string, 0, len(owned)+len(shared))
	for _, m := range owned {
		visible = append(visible, m.FileID)
	}
	for _, m := range shared {
		visible = append(visible, m.FileID)
	}

	results, err := s.index.Search(ctx, visible, query, limit)
	if err != nil {
		return nil, err
	}
	if s.searchCache != nil {
		s.searchCache.Set(cacheKey, results, searchCacheTTL)
	}
	return results, nil
}

// invalidateSearchCache drops every cached search result for userID, since
// a store/share/revoke/delete may change what that user's queries return.
func (s *Service) invalidateSearchCache(userID string) {
	if s.searchCache != nil {
		s.searchCache.DeletePrefix(userID + "\x00")
	}
}

func searchCacheKey(requesterID, query string, limit int) string {
	return requesterID + "\x00" + query + "\x00" + strconv.Itoa(limit)
}

// ChunkForTransfer splits fileID into encrypted chunks suitable for
// FileChunkResponse messages, for serving to requesterID. Serving always
// happens from the node that owns fileID — the only place its sealed bytes
// live on disk — so the key is unwrapped from the owner's own envelope
// using this node's own private key, after confirming requesterID is
// actually allowed to fetch it.
func (s *Service) ChunkForTransfer(ctx context.Context, requesterID, fileID string, ownerPrivateKey [crypto.KeySize]byte) ([]FileChunk, error) {
	meta, err := s.requireAccess(ctx, requesterID, fileID)
	if err != nil {
		return nil, err
	}
	key, err := s.unwrapFor(meta, meta.OwnerID, ownerPrivateKey)
	if err != nil {
		return nil, err
	}

	// The chunker expects to chunk plaintext directly from disk, but our
	// stored bytes are already sealed as one blob; decrypt once, then
	// re-chunk+reseal per chunk so each wire chunk carries its own nonce.
	sealed, err := os.ReadFile(meta.LocalPath)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Storage, "files", "ChunkForTransfer", err)
	}
	plain, err := crypto.DecryptFile(key, sealed)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.BadCiphertext, "files", "ChunkForTransfer", err)
	}

	tmpPath := filepath.Join(os.TempDir(), "dafs_chunk_src_"+uuid.NewString())
	if err := os.WriteFile(tmpPath, plain, 0o600); err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "files", "ChunkForTransfer", err)
	}
	defer os.Remove(tmpPath)

	chunks, _, err := s.chunker.ChunkFile(tmpPath, key)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "files", "ChunkForTransfer", err)
	}
	for i := range chunks {
		chunks[i].FileID = fileID
	}
	return chunks, nil
}

// ReassembleFromTransfer reconstructs a file from received chunks, verifies
// its hash against expectedHash, and stores it for ownerID under a fresh
// file key wrapped for ownerID. key is the file key the caller already
// unwrapped locally (via a FileKeyExchange envelope), used only to open the
// received chunks — it is never persisted.
func (s *Service) ReassembleFromTransfer(ctx context.Context, ownerID, filename, expectedHash string, chunks []FileChunk, key []byte) (*FileMetadata, error) {
	tmpPath := filepath.Join(os.TempDir(), "dafs_recv_"+uuid.NewString())
	fullHash, err := s.chunker.Reassemble(chunks, key, tmpPath)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "files", "ReassembleFromTransfer", err)
	}
	defer os.Remove(tmpPath)

	if expectedHash != "" && fullHash != expectedHash {
		return nil, dafserr.New(dafserr.BadCiphertext, "files", "ReassembleFromTransfer")
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "files", "ReassembleFromTransfer", err)
	}

	return s.Store(ctx, ownerID, filename, data)
}

// requireAccess fetches fileID's metadata and confirms userID may access
// it, returning the metadata so callers don't have to fetch it twice.
func (s *Service) requireAccess(ctx context.Context, userID, fileID string) (*FileMetadata, error) {
	meta, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !meta.CanAccess(userID) {
		return nil, dafserr.New(dafserr.AccessDenied, "files", "requireAccess")
	}
	return meta, nil
}

func hashBytes(data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "dafs_hash_*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := tmp.Write(data); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	return HashFile(tmp.Name())
}
