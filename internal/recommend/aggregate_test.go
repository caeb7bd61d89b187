package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImportRoundTrip(t *testing.T) {
	m := New()
	require.NoError(t, m.Train([]Interaction{{UserID: "alice", FileID: "file1"}}))

	blob, err := m.Export()
	require.NoError(t, err)

	restored := New()
	require.NoError(t, restored.Import(blob))

	assert.Equal(t, m.Epoch(), restored.Epoch())

	before, err := m.Score("alice", "file1")
	require.NoError(t, err)
	after, err := restored.Score("alice", "file1")
	require.NoError(t, err)
	assert.InDelta(t, before, after, 1e-9)
}

func TestAggregateAveragesMatchingEmbeddings(t *testing.T) {
	a := New()
	b := New()

	require.NoError(t, a.Train([]Interaction{{UserID: "alice", FileID: "file1"}}))
	require.NoError(t, b.Train([]Interaction{{UserID: "alice", FileID: "file1"}}))

	a.mu.RLock()
	aVal := append([]float64(nil), a.userEmbeddings["alice"]...)
	a.mu.RUnlock()
	b.mu.RLock()
	bVal := append([]float64(nil), b.userEmbeddings["alice"]...)
	b.mu.RUnlock()

	require.NoError(t, a.Aggregate(b))

	a.mu.RLock()
	merged := a.userEmbeddings["alice"]
	a.mu.RUnlock()

	for i := range merged {
		assert.InDelta(t, (aVal[i]+bVal[i])/2, merged[i], 1e-9)
	}
}

func TestAggregateAdoptsOneSidedEmbeddingsUnchanged(t *testing.T) {
	a := New()
	b := New()
	require.NoError(t, b.Train([]Interaction{{UserID: "carol", FileID: "fileZ"}}))

	require.NoError(t, a.Aggregate(b))

	a.mu.RLock()
	defer a.mu.RUnlock()
	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Equal(t, b.userEmbeddings["carol"], a.userEmbeddings["carol"])
}

func TestAggregateTakesMaxEpoch(t *testing.T) {
	a := New()
	b := New()
	require.NoError(t, b.Train(nil))
	b.mu.Lock()
	b.epoch = 9
	b.mu.Unlock()

	require.NoError(t, a.Aggregate(b))
	assert.Equal(t, uint32(9), a.Epoch())
}

func TestAggregateRejectsShapeMismatchWithoutMutation(t *testing.T) {
	a := New()
	require.NoError(t, a.Train([]Interaction{{UserID: "alice", FileID: "file1"}}))
	before, err := a.Export()
	require.NoError(t, err)

	bad := wireModel{
		W1: [][]float64{{1, 2, 3}}, // wrong shape
		W2: [][]float64{make([]float64, hiddenSize)},
		B1: make([]float64, hiddenSize),
		B2: make([]float64, outputSize),
	}
	err = a.aggregateWire(bad)
	require.Error(t, err)

	after, err := a.Export()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
