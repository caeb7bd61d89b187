package p2p

import (
	"context"
	"time"

	"github.com/dafs-project/dafs/internal/kv"
	"github.com/vmihailenco/msgpack/v5"
)

// knownPeerKeyPrefix sub-prefixes kv.NamespacePeer to distinguish a remembered
// bootstrap/allow-list entry from any other record sharing the namespace.
var knownPeerKeyPrefix = []byte("known:")

// KnownPeer is a peer address DAFS remembers across restarts so it can
// redial without waiting for mDNS or a DHT lookup to rediscover it.
type KnownPeer struct {
	PeerID    string    `msgpack:"peer_id"`
	Addresses []string  `msgpack:"addresses"`
	Allowed   bool      `msgpack:"allowed"`
	AddedAt   time.Time `msgpack:"added_at"`
	LastSeen  time.Time `msgpack:"last_seen"`
}

// BootstrapStore persists the set of peers worth redialing at startup,
// separate from libp2p's own (in-memory only) peerstore.
type BootstrapStore struct {
	store *kv.Store
}

// NewBootstrapStore wraps a kv.Store for known-peer persistence.
func NewBootstrapStore(store *kv.Store) *BootstrapStore {
	return &BootstrapStore{store: store}
}

func knownPeerKey(peerID string) []byte {
	return append(append([]byte{}, knownPeerKeyPrefix...), peerID...)
}

// Remember records or updates a known peer's addresses. Allowed carries
// over from any existing record unless explicitly changed via Allow/Deny.
func (b *BootstrapStore) Remember(ctx context.Context, peerID string, addrs []string) error {
	existing, err := b.get(ctx, peerID)
	now := time.Now().UTC()
	if err != nil {
		existing = KnownPeer{PeerID: peerID, Allowed: true, AddedAt: now}
	}
	existing.Addresses = addrs
	existing.LastSeen = now
	return b.put(ctx, existing)
}

// Allow marks a peer as permitted to connect regardless of discovery
// source, used for pinning a small trusted set in closed deployments.
func (b *BootstrapStore) Allow(ctx context.Context, peerID string) error {
	existing, err := b.get(ctx, peerID)
	if err != nil {
		existing = KnownPeer{PeerID: peerID, AddedAt: time.Now().UTC()}
	}
	existing.Allowed = true
	return b.put(ctx, existing)
}

// Deny revokes a peer's allow-list membership without forgetting its
// addresses, so it can be re-allowed later without rediscovery.
func (b *BootstrapStore) Deny(ctx context.Context, peerID string) error {
	existing, err := b.get(ctx, peerID)
	if err != nil {
		return nil
	}
	existing.Allowed = false
	return b.put(ctx, existing)
}

// IsAllowed reports whether peerID is on the allow-list. An unknown peer
// is never allowed.
func (b *BootstrapStore) IsAllowed(ctx context.Context, peerID string) bool {
	rec, err := b.get(ctx, peerID)
	if err != nil {
		return false
	}
	return rec.Allowed
}

// List returns every known peer, most recently seen first is not
// guaranteed; callers that care about recency should sort LastSeen.
func (b *BootstrapStore) List(ctx context.Context) ([]KnownPeer, error) {
	entries, err := b.store.List(ctx, kv.NamespacePeer)
	if err != nil {
		return nil, err
	}
	out := make([]KnownPeer, 0, len(entries))
	for _, e := range entries {
		if len(e.Key) < len(knownPeerKeyPrefix) {
			continue
		}
		var kp KnownPeer
		if err := msgpack.Unmarshal(e.Value, &kp); err != nil {
			continue
		}
		out = append(out, kp)
	}
	return out, nil
}

// Forget removes a peer from persisted bootstrap state entirely.
func (b *BootstrapStore) Forget(ctx context.Context, peerID string) error {
	return b.store.Delete(ctx, kv.NamespacePeer, knownPeerKey(peerID))
}

func (b *BootstrapStore) get(ctx context.Context, peerID string) (KnownPeer, error) {
	raw, err := b.store.Get(ctx, kv.NamespacePeer, knownPeerKey(peerID))
	if err != nil {
		return KnownPeer{}, err
	}
	var kp KnownPeer
	if err := msgpack.Unmarshal(raw, &kp); err != nil {
		return KnownPeer{}, err
	}
	return kp, nil
}

func (b *BootstrapStore) put(ctx context.Context, kp KnownPeer) error {
	raw, err := msgpack.Marshal(kp)
	if err != nil {
		return err
	}
	return b.store.Put(ctx, kv.NamespacePeer, knownPeerKey(kp.PeerID), raw)
}
