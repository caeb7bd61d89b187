package files

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafs-project/dafs/pkg/crypto"
)

func TestChunkFileAndReassembleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	data := bytes.Repeat([]byte("A"), 1024)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	key, err := crypto.GenerateFileKey()
	require.NoError(t, err)

	chunker := NewChunker(512)
	chunks, fullHash, err := chunker.ChunkFile(path, key)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.NotEqual(t, data[:512], c.Data) // ciphertext, not plaintext
	}

	destPath := filepath.Join(dir, "out.txt")
	reassembledHash, err := chunker.Reassemble(chunks, key, destPath)
	require.NoError(t, err)
	assert.Equal(t, fullHash, reassembledHash)

	out, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestReassembleWrongKeyFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	key, _ := crypto.GenerateFileKey()
	wrongKey, _ := crypto.GenerateFileKey()

	chunker := NewChunker(4096)
	chunks, _, err := chunker.ChunkFile(path, key)
	require.NoError(t, err)

	_, err = chunker.Reassemble(chunks, wrongKey, filepath.Join(dir, "out.txt"))
	assert.Error(t, err)
}

func TestChunkCount(t *testing.T) {
	c := NewChunker(512)
	assert.Equal(t, 1, c.ChunkCount(100))
	assert.Equal(t, 1, c.ChunkCount(512))
	assert.Equal(t, 2, c.ChunkCount(513))
}
</content>
