package files

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/dafs-project/dafs/pkg/crypto"
)

// Chunker splits plaintext files into fixed-size chunks and seals each one
// under a per-file AES-256-GCM key before it ever touches disk or the wire.
// Complexity: O(n/c) where n = file size, c = chunk size.
type Chunker struct {
	chunkSize int
}

// NewChunker creates a new file chunker with the given chunk size.
func NewChunker(chunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Chunker{chunkSize: chunkSize}
}

// ChunkFile reads a plaintext file, seals each chunk under key, and returns
// the encrypted chunks plus the SHA-256 hash of the plaintext file.
func (c *Chunker) ChunkFile(path string, key []byte) ([]FileChunk, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("files: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("files: stat: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, "", fmt.Errorf("files: file exceeds maximum size of %d bytes", MaxFileSize)
	}

	var chunks []FileChunk
	fileHasher := sha256.New()
	buf := make([]byte, c.chunkSize)
	idx := 0

	for {
		n, err := f.Read(buf)
		if n > 0 {
			plain := buf[:n]
			chunkHash := sha256.Sum256(plain)
			fileHasher.Write(plain)

			sealed, sealErr := crypto.EncryptFile(key, plain)
			if sealErr != nil {
				return nil, "", fmt.Errorf("files: seal chunk %d: %w", idx, sealErr)
			}

			chunks = append(chunks, FileChunk{
				Index: idx,
				Data:  sealed,
				Hash:  hex.EncodeToString(chunkHash[:]),
			})
			idx++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", fmt.Errorf("files: read chunk %d: %w", idx, err)
		}
	}

	fullHash := hex.EncodeToString(fileHasher.Sum(nil))
	return chunks, fullHash, nil
}

// ChunkCount returns how many chunks a file of the given size will produce.
func (c *Chunker) ChunkCount(sizeBytes int64) int {
	count := int(sizeBytes / int64(c.chunkSize))
	if sizeBytes%int64(c.chunkSize) != 0 {
		count++
	}
	return count
}

// Reassemble opens each chunk under key, verifies its plaintext hash, and
// writes the result to destPath in order. Returns the full-file SHA-256
// hash.
func (c *Chunker) Reassemble(chunks []FileChunk, key []byte, destPath string) (string, error) {
	f, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("files: create dest: %w", err)
	}
	defer f.Close()

	fileHasher := sha256.New()

	for i, chunk := range chunks {
		if chunk.Index != i {
			return "", fmt.Errorf("files: expected chunk %d, got %d", i, chunk.Index)
		}

		plain, err := crypto.DecryptFile(key, chunk.Data)
		if err != nil {
			return "", fmt.Errorf("files: open chunk %d: %w", i, err)
		}

		h := sha256.Sum256(plain)
		actual := hex.EncodeToString(h[:])
		if chunk.Hash != "" && actual != chunk.Hash {
			return "", fmt.Errorf("files: chunk %d hash mismatch: expected %s, got %s", i, chunk.Hash, actual)
		}

		if _, err := f.Write(plain); err != nil {
			return "", fmt.Errorf("files: write chunk %d: %w", i, err)
		}
		fileHasher.Write(plain)
	}

	return hex.EncodeToString(fileHasher.Sum(nil)), nil
}

// HashFile computes the SHA-256 hash of a plaintext file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
</content>
