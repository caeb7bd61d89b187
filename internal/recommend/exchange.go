package recommend

import (
	"crypto/ed25519"
	"encoding/binary"
	"sync"

	"github.com/dafs-project/dafs/internal/dafserr"
	"github.com/dafs-project/dafs/pkg/crypto"
	"github.com/dafs-project/dafs/pkg/protocol"
)

// Verifier holds the Ed25519 signing public keys of known peers, used to
// authenticate an incoming ModelUpdate's claimed origin before it is
// aggregated. Unauthenticated aggregation would let any peer poison the
// shared model; this closes that gap the same way SessionManager closes
// it for encrypted messages, with a per-peer key registry.
type Verifier struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewVerifier creates an empty peer-key registry.
func NewVerifier() *Verifier {
	return &Verifier{keys: make(map[string]ed25519.PublicKey)}
}

// AddPeerKey records a peer's Ed25519 signing public key.
func (v *Verifier) AddPeerKey(peerID string, pub ed25519.PublicKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.keys[peerID] = pub
}

func canonicalUpdateBytes(fromID string, epoch uint32, weights []byte) []byte {
	buf := make([]byte, 0, len(fromID)+4+len(weights))
	buf = append(buf, []byte(fromID)...)
	var epochBytes [4]byte
	binary.LittleEndian.PutUint32(epochBytes[:], epoch)
	buf = append(buf, epochBytes[:]...)
	buf = append(buf, weights...)
	return buf
}

// BuildUpdate exports the model's current state and signs it as fromID,
// producing the wire envelope for transmission to peers.
func (m *Model) BuildUpdate(fromID string, signer *crypto.SigningKeyPair) (protocol.ModelUpdate, error) {
	weights, err := m.Export()
	if err != nil {
		return protocol.ModelUpdate{}, err
	}
	epoch := m.Epoch()
	sig := signer.Sign(canonicalUpdateBytes(fromID, epoch, weights))
	return protocol.ModelUpdate{
		Weights:   weights,
		Epoch:     epoch,
		FromID:    fromID,
		Signature: sig,
	}, nil
}

// VerifyAndAggregate authenticates an incoming ModelUpdate against its
// claimed sender's known signing key, then merges it into this model by
// federated averaging. The update is rejected without mutating this
// model if the sender is unknown, the signature does not verify, or the
// decoded model fails shape validation.
func (m *Model) VerifyAndAggregate(update protocol.ModelUpdate, verifier *Verifier) error {
	verifier.mu.RLock()
	pub, ok := verifier.keys[update.FromID]
	verifier.mu.RUnlock()
	if !ok {
		return dafserr.New(dafserr.Unauthenticated, "recommend", "VerifyAndAggregate")
	}

	msg := canonicalUpdateBytes(update.FromID, update.Epoch, update.Weights)
	if !crypto.VerifySignature(pub, msg, update.Signature) {
		return dafserr.New(dafserr.Unauthenticated, "recommend", "VerifyAndAggregate")
	}

	incoming := New()
	if err := incoming.Import(update.Weights); err != nil {
		return err
	}
	return m.Aggregate(incoming)
}
