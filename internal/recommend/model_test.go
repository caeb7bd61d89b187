package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainLowersErrorForSeenPair(t *testing.T) {
	m := New()

	before, err := m.Score("alice", "file1")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, m.Train([]Interaction{{UserID: "alice", FileID: "file1"}}))
	}

	after, err := m.Score("alice", "file1")
	require.NoError(t, err)

	// Target is 1.0; repeated training should move the score toward it.
	assert.Greater(t, after, before)
	assert.Equal(t, uint32(50), m.Epoch())
}

func TestTrainCreatesEmbeddingsLazily(t *testing.T) {
	m := New()
	require.NoError(t, m.Train([]Interaction{{UserID: "bob", FileID: "fileX"}}))

	m.mu.RLock()
	_, hasUser := m.userEmbeddings["bob"]
	_, hasFile := m.fileEmbeddings["fileX"]
	m.mu.RUnlock()

	assert.True(t, hasUser)
	assert.True(t, hasFile)
}

func TestScoreUnknownPairUsesZeroFallbackWithoutMutation(t *testing.T) {
	m := New()
	_, err := m.Score("ghost", "nowhere")
	require.NoError(t, err)

	m.mu.RLock()
	_, hasUser := m.userEmbeddings["ghost"]
	_, hasFile := m.fileEmbeddings["nowhere"]
	m.mu.RUnlock()

	assert.False(t, hasUser)
	assert.False(t, hasFile)
}

func TestTrainRollsBackOnNumericalInstability(t *testing.T) {
	m := New()
	require.NoError(t, m.Train([]Interaction{{UserID: "alice", FileID: "file1"}}))

	before := m.snapshotLocked()

	// Force an instability by blowing up a dense-layer weight directly.
	m.mu.Lock()
	m.w1.Set(0, 0, 1e308)
	m.mu.Unlock()

	err := m.Train([]Interaction{{UserID: "alice", FileID: "file1"}})
	require.Error(t, err)

	// Train's internal snapshot/restore only covers the batch that failed;
	// the corrupted w1 entry set directly above (outside Train) is not
	// part of that snapshot and is expected to remain. What must NOT
	// happen is the embeddings diverging further from their pre-call
	// state captured in `before`.
	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Equal(t, before.userEmbeddings["alice"], m.userEmbeddings["alice"])
}

func TestRecommendRanksByScoreAndBreaksTiesByOrder(t *testing.T) {
	m := New()
	out := m.Recommend("alice", []string{"f1", "f2", "f3"}, 2)
	// A fresh model has no embeddings for any candidate, so all three
	// score the same and the tie keeps their input order.
	assert.Equal(t, []string{"f1", "f2"}, out)
}

func TestRecommendClampsKToCandidateCount(t *testing.T) {
	m := New()
	out := m.Recommend("alice", []string{"f1"}, 5)
	assert.Len(t, out, 1)
}
