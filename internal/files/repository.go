package files

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dafs-project/dafs/internal/dafserr"
	"github.com/dafs-project/dafs/internal/kv"
)

// Repository persists file metadata — including each file's wrapped key
// envelopes and allowed-peer set — in the node's key-value store, the same
// Badger instance backing identities and session state, so a file record
// and its owner's identity are always consistent with each other without a
// separate database engine.
type Repository struct {
	store  *kv.Store
	logger zerolog.Logger
}

// NewRepository creates a file metadata repository over store.
func NewRepository(store *kv.Store, logger zerolog.Logger) *Repository {
	return &Repository{
		store:  store,
		logger: logger.With().Str("component", "file_repo").Logger(),
	}
}

// Save inserts or replaces a file's metadata record.
func (r *Repository) Save(ctx context.Context, m *FileMetadata) error {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return dafserr.Wrap(dafserr.Internal, "files", "Save", err)
	}
	if err := r.store.Put(ctx, kv.NamespaceFile, []byte(m.FileID), data); err != nil {
		return dafserr.Wrap(dafserr.Storage, "files", "Save", err)
	}
	return nil
}

// GetByID retrieves a file's metadata by ID.
func (r *Repository) GetByID(ctx context.Context, fileID string) (*FileMetadata, error) {
	raw, err := r.store.Get(ctx, kv.NamespaceFile, []byte(fileID))
	if err != nil {
		if dafserr.KindOf(err) == dafserr.NotFound {
			return nil, dafserr.New(dafserr.NotFound, "files", "GetByID")
		}
		return nil, err
	}
	var m FileMetadata
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "files", "GetByID", err)
	}
	return &m, nil
}

// ListByOwner returns every file owned by ownerID.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]*FileMetadata, error) {
	entries, err := r.store.List(ctx, kv.NamespaceFile)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Storage, "files", "ListByOwner", err)
	}

	var owned []*FileMetadata
	for _, e := range entries {
		var m FileMetadata
		if err := msgpack.Unmarshal(e.Value, &m); err != nil {
			continue
		}
		if m.OwnerID == ownerID {
			owned = append(owned, &m)
		}
	}
	return owned, nil
}

// GetByHash finds a file by its plaintext SHA-256 hash, for
// deduplication. Returns dafserr.ErrNotFound if no file has this hash.
func (r *Repository) GetByHash(ctx context.Context, hash string) (*FileMetadata, error) {
	var found *FileMetadata
	err := r.store.Iterate(ctx, kv.NamespaceFile, func(e kv.Entry) (bool, error) {
		var m FileMetadata
		if err := msgpack.Unmarshal(e.Value, &m); err != nil {
			return true, nil
		}
		if m.Hash == hash {
			found = &m
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Storage, "files", "GetByHash", err)
	}
	if found == nil {
		return nil, dafserr.New(dafserr.NotFound, "files", "GetByHash")
	}
	return found, nil
}

// Delete removes a file's metadata record.
func (r *Repository) Delete(ctx context.Context, fileID string) error {
	if err := r.store.Delete(ctx, kv.NamespaceFile, []byte(fileID)); err != nil {
		return dafserr.Wrap(dafserr.Storage, "files", "Delete", err)
	}
	return nil
}

// ListSharedWith returns every file that has been shared with userID (not
// including files userID owns).
func (r *Repository) ListSharedWith(ctx context.Context, userID string) ([]*FileMetadata, error) {
	entries, err := r.store.List(ctx, kv.NamespaceFile)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Storage, "files", "ListSharedWith", err)
	}

	var shared []*FileMetadata
	for _, e := range entries {
		var m FileMetadata
		if err := msgpack.Unmarshal(e.Value, &m); err != nil {
			continue
		}
		if m.OwnerID != userID && m.AllowedPeers[userID] {
			shared = append(shared, &m)
		}
	}
	return shared, nil
}
</content>
