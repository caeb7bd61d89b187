package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDiscoveredThenConnectedTransition(t *testing.T) {
	tr := NewTracker()
	tr.Discovered("peer1", []string{"/ip4/127.0.0.1/tcp/4001"})

	rec, ok := tr.Get("peer1")
	assert.True(t, ok)
	assert.Equal(t, StateDiscovered, rec.State)

	tr.Connecting("peer1")
	rec, _ = tr.Get("peer1")
	assert.Equal(t, StateConnecting, rec.State)

	tr.Connected("peer1")
	rec, _ = tr.Get("peer1")
	assert.Equal(t, StateConnected, rec.State)
	assert.Equal(t, 0, rec.FailCount)
}

func TestConnectedPeersListsOnlyConnected(t *testing.T) {
	tr := NewTracker()
	tr.Connected("a")
	tr.Connected("b")
	tr.Disconnected("c")

	connected := tr.ConnectedPeers()
	assert.ElementsMatch(t, []string{"a", "b"}, connected)
}

func TestDialFailedIncrementsFailCountAndBackoffGrows(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, time.Duration(0), tr.Backoff("ghost"))

	tr.DialFailed("p")
	first := tr.Backoff("p")
	assert.Equal(t, 2*time.Second, first)

	tr.DialFailed("p")
	second := tr.Backoff("p")
	assert.Greater(t, second, first)

	rec, ok := tr.Get("p")
	assert.True(t, ok)
	assert.Equal(t, StateDisconnected, rec.State)
	assert.Equal(t, 2, rec.FailCount)
}

func TestBackoffCapsAtCeiling(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 20; i++ {
		tr.DialFailed("p")
	}
	assert.LessOrEqual(t, tr.Backoff("p"), peerBackoffCap)
}

func TestConnectedResetsFailCount(t *testing.T) {
	tr := NewTracker()
	tr.DialFailed("p")
	tr.DialFailed("p")
	tr.Connected("p")

	rec, _ := tr.Get("p")
	assert.Equal(t, 0, rec.FailCount)
	assert.Equal(t, time.Duration(0), tr.Backoff("p"))
}

func TestForgetRemovesRecord(t *testing.T) {
	tr := NewTracker()
	tr.Connected("p")
	tr.Forget("p")

	_, ok := tr.Get("p")
	assert.False(t, ok)
}
