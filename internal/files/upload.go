package files

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// UploadStager stages chunks of an in-progress upload on disk under
// baseDir/{file_id}/chunk_{i}, so an upload can be resumed — by this
// process or a freshly restarted one — from whatever chunks already
// landed, rather than restarting from scratch. Presence is derived from
// what is actually on disk rather than from in-memory bookkeeping, so a
// restart between two UploadChunk calls loses nothing.
type UploadStager struct {
	baseDir string
	logger  zerolog.Logger
}

// uploadManifest records what an in-progress upload expects, so a later
// chunk (possibly after a restart) can be validated and, once every chunk
// up to TotalChunks has arrived, the file can be finalized without the
// caller having to repeat those details on every call.
type uploadManifest struct {
	OwnerID     string `json:"owner_id"`
	Filename    string `json:"filename"`
	TotalChunks int    `json:"total_chunks"`
}

// NewUploadStager creates a chunk stager rooted at baseDir.
func NewUploadStager(baseDir string, logger zerolog.Logger) (*UploadStager, error) {
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("files: create upload staging dir: %w", err)
	}
	return &UploadStager{
		baseDir: baseDir,
		logger:  logger.With().Str("component", "upload_stager").Logger(),
	}, nil
}

func (u *UploadStager) dir(fileID string) string {
	return filepath.Join(u.baseDir, fileID)
}

func (u *UploadStager) chunkPath(fileID string, chunkIndex int) string {
	return filepath.Join(u.dir(fileID), fmt.Sprintf("chunk_%d", chunkIndex))
}

func (u *UploadStager) manifestPath(fileID string) string {
	return filepath.Join(u.dir(fileID), "manifest.json")
}

// writeAtomic writes data to path by first writing a sibling temp file and
// renaming it into place, so a crash mid-write never leaves a truncated
// chunk or manifest for a later call to trip over.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Open begins (or resumes) a staged upload for fileID, recording its
// expected shape on first call and validating it against what was
// recorded on every subsequent call — including one made after a process
// restart, since the manifest lives on disk, not in memory.
func (u *UploadStager) Open(fileID, ownerID, filename string, totalChunks int) error {
	if err := os.MkdirAll(u.dir(fileID), 0750); err != nil {
		return fmt.Errorf("files: create upload dir: %w", err)
	}

	existing, err := u.readManifest(fileID)
	if err == nil {
		if existing.OwnerID != ownerID || existing.TotalChunks != totalChunks {
			return fmt.Errorf("files: upload %s already in progress with different parameters", fileID)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}

	data, err := json.Marshal(uploadManifest{OwnerID: ownerID, Filename: filename, TotalChunks: totalChunks})
	if err != nil {
		return fmt.Errorf("files: encode upload manifest: %w", err)
	}
	return writeAtomic(u.manifestPath(fileID), data)
}

func (u *UploadStager) readManifest(fileID string) (*uploadManifest, error) {
	raw, err := os.ReadFile(u.manifestPath(fileID))
	if err != nil {
		return nil, err
	}
	var m uploadManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("files: decode upload manifest: %w", err)
	}
	return &m, nil
}

// PutChunk stages one chunk. Writes are idempotent: restaging an index
// that already landed (e.g. after a retried send) just overwrites it with
// identical bytes, and presence of every other chunk is unaffected.
func (u *UploadStager) PutChunk(fileID string, chunkIndex int, data []byte) error {
	return writeAtomic(u.chunkPath(fileID, chunkIndex), data)
}

// Ready reports whether every chunk in [0, totalChunks) has been staged.
func (u *UploadStager) Ready(fileID string, totalChunks int) bool {
	for i := 0; i < totalChunks; i++ {
		if !u.chunkStaged(fileID, i) {
			return false
		}
	}
	return true
}

// chunkStaged reports whether chunkIndex has already been staged for
// fileID.
func (u *UploadStager) chunkStaged(fileID string, chunkIndex int) bool {
	_, err := os.Stat(u.chunkPath(fileID, chunkIndex))
	return err == nil
}

// Manifest returns the recorded shape of an in-progress upload, or
// os.ErrNotExist if Open was never called for fileID (including across a
// restart, since it reads straight from disk).
func (u *UploadStager) Manifest(fileID string) (ownerID, filename string, totalChunks int, err error) {
	m, err := u.readManifest(fileID)
	if err != nil {
		return "", "", 0, err
	}
	return m.OwnerID, m.Filename, m.TotalChunks, nil
}

// Finalize concatenates every staged chunk for fileID in index order and
// removes the staging directory. Callers must have already confirmed
// Ready.
func (u *UploadStager) Finalize(fileID string, totalChunks int) ([]byte, error) {
	var out []byte
	for i := 0; i < totalChunks; i++ {
		chunk, err := os.ReadFile(u.chunkPath(fileID, i))
		if err != nil {
			return nil, fmt.Errorf("files: read staged chunk %d: %w", i, err)
		}
		out = append(out, chunk...)
	}
	if err := os.RemoveAll(u.dir(fileID)); err != nil {
		u.logger.Warn().Err(err).Str("file_id", fileID).Msg("failed to clean up upload staging dir")
	}
	return out, nil
}

// Abort discards every chunk staged for fileID.
func (u *UploadStager) Abort(fileID string) error {
	return os.RemoveAll(u.dir(fileID))
}
