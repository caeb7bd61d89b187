package p2p

import (
	"crypto/sha256"
	"fmt"
	"math/big"
)

// rendezvousWordlist renders a peer ID as a human-readable code a user can
// read aloud to a friend, rather than a raw multihash.
var rendezvousWordlist = []string{
	"alpha", "bravo", "cobra", "delta", "echo", "foxtrot", "golf", "hotel",
	"india", "juliet", "kilo", "lima", "mike", "november", "oscar", "papa",
	"quebec", "romeo", "sierra", "tango", "uniform", "victor", "whiskey",
	"xray", "yankee", "zulu", "amber", "blaze", "cedar", "dawn",
	"ember", "forge", "grove", "haven", "ivory", "jade", "knot", "lunar",
}

// RendezvousCode generates a deterministic, human-readable code from the
// Host's peer ID, of the form "word-NNNN" (e.g. "alpha-4271").
func (h *Host) RendezvousCode() string {
	id := h.host.ID().String()
	hash := sha256.Sum256([]byte(id))
	n := new(big.Int).SetBytes(hash[:4])
	wordIdx := new(big.Int).Mod(n, big.NewInt(int64(len(rendezvousWordlist)))).Int64()
	numPart := new(big.Int).Mod(new(big.Int).Rsh(n, 10), big.NewInt(9000)).Int64() + 1000
	return fmt.Sprintf("%s-%d", rendezvousWordlist[wordIdx], numPart)
}

// FileShareRendezvous returns the DHT rendezvous string peers advertise
// under when offering fileID for discovery, independent of the ordinary
// peer-discovery protocol used once two peers already know each other.
func FileShareRendezvous(fileID string) string {
	return "dafs-file/" + fileID
}
</content>
