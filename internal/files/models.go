package files

import "github.com/dafs-project/dafs/pkg/crypto"

// FileMetadata describes one file held in a node's local store, plus the
// per-recipient key envelopes needed to open it. The plaintext file key
// itself is never part of this record: WrappedFileKey carries the owner's
// own copy, sealed under the owner's public key, and SharedKeys carries one
// envelope per peer the file has been shared with, each sealed under that
// peer's own public key. AllowedPeers is kept alongside as the access-check
// set so requireAccess never has to range over SharedKeys to answer "can
// this user download".
//
// Invariants maintained by Service: OwnerID is always a member of
// AllowedPeers, and every key of SharedKeys is also a member of
// AllowedPeers.
type FileMetadata struct {
	FileID     string `json:"file_id"`
	OwnerID    string `json:"owner_id"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
	Hash       string `json:"hash"` // SHA-256 of the plaintext file
	ChunkSize  int    `json:"chunk_size"`
	ChunkCount int    `json:"chunk_count"`
	LocalPath  string `json:"local_path"`
	CreatedAt  int64  `json:"created_at"`

	WrappedFileKey crypto.FileKeyEnvelope            `json:"wrapped_file_key"`
	SharedKeys     map[string]crypto.FileKeyEnvelope `json:"shared_keys"`
	AllowedPeers   map[string]bool                   `json:"allowed_peers"`
}

// CanAccess reports whether userID may download this file: the owner, or
// anyone holding a wrapped copy of its key in SharedKeys.
func (m *FileMetadata) CanAccess(userID string) bool {
	return m.AllowedPeers[userID]
}

// envelopeFor returns the key envelope userID should unwrap to recover the
// file key, or ok=false if userID has no access.
func (m *FileMetadata) envelopeFor(userID string) (crypto.FileKeyEnvelope, bool) {
	if userID == m.OwnerID {
		return m.WrappedFileKey, true
	}
	env, ok := m.SharedKeys[userID]
	return env, ok
}

// grant adds userID to AllowedPeers and records their wrapped key in
// SharedKeys, maintaining both invariants at once. Idempotent: sharing with
// the same user twice simply replaces their envelope.
func (m *FileMetadata) grant(userID string, env crypto.FileKeyEnvelope) {
	if m.SharedKeys == nil {
		m.SharedKeys = make(map[string]crypto.FileKeyEnvelope)
	}
	if m.AllowedPeers == nil {
		m.AllowedPeers = make(map[string]bool)
	}
	m.SharedKeys[userID] = env
	m.AllowedPeers[userID] = true
}

// revoke removes userID's access. The owner can never be revoked this way;
// Service.Revoke rejects an owner target before reaching here.
func (m *FileMetadata) revoke(userID string) {
	delete(m.SharedKeys, userID)
	delete(m.AllowedPeers, userID)
}

// FileChunk carries one chunk of (encrypted, on-wire) file data.
type FileChunk struct {
	FileID string `json:"file_id"`
	Index  int    `json:"index"`
	Data   []byte `json:"data"`
	Hash   string `json:"hash"` // SHA-256 of the plaintext chunk
}

// SearchResult is one hit from the local file search index.
type SearchResult struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	OwnerID  string `json:"owner_id"`
	Snippet  string `json:"snippet"`
}

// MaxFileSize is the maximum allowed file size (50 MB).
const MaxFileSize = 50 << 20

// DefaultChunkSize is the default chunk size for P2P transfer (256 KB).
const DefaultChunkSize = 256 << 10
