package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileShareRendezvousIsStableAndNamespaced(t *testing.T) {
	code := FileShareRendezvous("file-123")
	assert.Equal(t, "dafs-file/file-123", code)
	assert.Equal(t, code, FileShareRendezvous("file-123"))
}

func TestFileShareRendezvousDistinctPerFile(t *testing.T) {
	assert.NotEqual(t, FileShareRendezvous("a"), FileShareRendezvous("b"))
}
