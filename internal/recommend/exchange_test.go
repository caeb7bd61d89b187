package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafs-project/dafs/internal/dafserr"
	"github.com/dafs-project/dafs/pkg/crypto"
)

func TestBuildUpdateVerifiesAndAggregates(t *testing.T) {
	senderKP, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	signer := crypto.DeriveSigningKeyPair(senderKP)

	sender := New()
	require.NoError(t, sender.Train([]Interaction{{UserID: "alice", FileID: "file1"}}))

	update, err := sender.BuildUpdate("peer-a", signer)
	require.NoError(t, err)

	receiver := New()
	verifier := NewVerifier()
	verifier.AddPeerKey("peer-a", signer.PublicKey)

	require.NoError(t, receiver.VerifyAndAggregate(update, verifier))
	assert.Equal(t, sender.Epoch(), receiver.Epoch())
}

func TestVerifyAndAggregateRejectsUnknownPeer(t *testing.T) {
	senderKP, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	signer := crypto.DeriveSigningKeyPair(senderKP)

	sender := New()
	update, err := sender.BuildUpdate("peer-a", signer)
	require.NoError(t, err)

	receiver := New()
	verifier := NewVerifier() // peer-a never registered

	err = receiver.VerifyAndAggregate(update, verifier)
	assert.Equal(t, dafserr.Unauthenticated, dafserr.KindOf(err))
}

func TestVerifyAndAggregateRejectsTamperedWeights(t *testing.T) {
	senderKP, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	signer := crypto.DeriveSigningKeyPair(senderKP)

	sender := New()
	update, err := sender.BuildUpdate("peer-a", signer)
	require.NoError(t, err)
	update.Weights[0] ^= 0xFF // tamper after signing

	receiver := New()
	verifier := NewVerifier()
	verifier.AddPeerKey("peer-a", signer.PublicKey)

	err = receiver.VerifyAndAggregate(update, verifier)
	assert.Equal(t, dafserr.Unauthenticated, dafserr.KindOf(err))
}
