package p2p

import (
	"sync"
	"time"
)

// ConnState describes where a peer sits in the connection lifecycle.
type ConnState string

const (
	StateDiscovered   ConnState = "discovered"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
)

// peerBackoffCap bounds how long the tracker will ask a caller to wait
// before retrying a consistently unreachable peer.
const peerBackoffCap = 5 * time.Minute

// PeerRecord is a point-in-time snapshot of a peer's connection state.
type PeerRecord struct {
	PeerID    string
	Addresses []string
	State     ConnState
	LastSeen  time.Time
	FailCount int
}

// Tracker maintains in-memory connection state for every peer the host has
// discovered or dialed, independent of libp2p's own connection manager. It
// exists so higher-level code (file transfer, messaging) can ask "is this
// peer worth dialing right now" without reaching into the libp2p swarm.
type Tracker struct {
	mu    sync.RWMutex
	peers map[string]*PeerRecord
}

// NewTracker creates an empty peer state tracker.
func NewTracker() *Tracker {
	return &Tracker{peers: make(map[string]*PeerRecord)}
}

// Discovered records that a peer was found (via mDNS or the DHT) but no
// connection attempt has been made yet. It does not overwrite an existing
// record's state, only its known addresses.
func (t *Tracker) Discovered(peerID string, addrs []string) {
	if peerID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.peers[peerID]
	if !ok {
		t.peers[peerID] = &PeerRecord{
			PeerID:    peerID,
			Addresses: addrs,
			State:     StateDiscovered,
			LastSeen:  time.Now().UTC(),
		}
		return
	}
	rec.Addresses = addrs
}

// Connecting marks a peer as mid-dial.
func (t *Tracker) Connecting(peerID string) {
	t.setState(peerID, StateConnecting)
}

// Connected marks a peer as reachable and resets its failure count.
func (t *Tracker) Connected(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.getOrCreate(peerID)
	rec.State = StateConnected
	rec.LastSeen = time.Now().UTC()
	rec.FailCount = 0
}

// Disconnected marks a peer as no longer connected, without counting it as
// a dial failure (used for clean disconnects).
func (t *Tracker) Disconnected(peerID string) {
	t.setState(peerID, StateDisconnected)
}

// DialFailed marks a peer as disconnected and increments its failure count,
// which feeds Backoff.
func (t *Tracker) DialFailed(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.getOrCreate(peerID)
	rec.State = StateDisconnected
	rec.FailCount++
}

func (t *Tracker) setState(peerID string, state ConnState) {
	if peerID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.getOrCreate(peerID)
	rec.State = state
	rec.LastSeen = time.Now().UTC()
}

// getOrCreate must be called with mu held.
func (t *Tracker) getOrCreate(peerID string) *PeerRecord {
	rec, ok := t.peers[peerID]
	if !ok {
		rec = &PeerRecord{PeerID: peerID, State: StateDiscovered}
		t.peers[peerID] = rec
	}
	return rec
}

// Get returns a copy of the current record for a peer, if known.
func (t *Tracker) Get(peerID string) (PeerRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.peers[peerID]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// ConnectedPeers lists the peer IDs currently marked connected.
func (t *Tracker) ConnectedPeers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for id, rec := range t.peers {
		if rec.State == StateConnected {
			out = append(out, id)
		}
	}
	return out
}

// Backoff returns how long the caller should wait before redialing peerID,
// doubling per consecutive failure up to peerBackoffCap. An unknown or
// never-failed peer has zero backoff.
func (t *Tracker) Backoff(peerID string) time.Duration {
	t.mu.RLock()
	rec, ok := t.peers[peerID]
	t.mu.RUnlock()
	if !ok || rec.FailCount == 0 {
		return 0
	}
	wait := time.Second
	for i := 0; i < rec.FailCount && wait < peerBackoffCap; i++ {
		wait *= 2
	}
	if wait > peerBackoffCap {
		wait = peerBackoffCap
	}
	return wait
}

// Forget removes a peer's state entirely, e.g. after the host decides it
// is permanently gone (explicit unshare, allow-list removal).
func (t *Tracker) Forget(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, peerID)
}
