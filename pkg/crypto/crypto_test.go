package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPairDeterministicFromSeed(t *testing.T) {
	var seed [KeySize]byte
	for i := range seed {
		seed[i] = byte(i)
	}
	kp1, err := KeyPairFromSeed(seed)
	require.NoError(t, err)
	kp2, err := KeyPairFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, kp1.PublicKey, kp2.PublicKey)
}

func TestFileEncryptRoundTrip(t *testing.T) {
	key, err := GenerateFileKey()
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")
	ciphertext, err := EncryptFile(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := DecryptFile(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestFileDecryptWrongKeyFails(t *testing.T) {
	key1, _ := GenerateFileKey()
	key2, _ := GenerateFileKey()

	ciphertext, err := EncryptFile(key1, []byte("secret"))
	require.NoError(t, err)

	_, err = DecryptFile(key2, ciphertext)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestSessionManagerSealOpenRoundTrip(t *testing.T) {
	aliceKP, err := GenerateKeyPair()
	require.NoError(t, err)
	bobKP, err := GenerateKeyPair()
	require.NoError(t, err)

	alice := NewSessionManager(aliceKP, "dafs/file-exchange/1.0.0")
	bob := NewSessionManager(bobKP, "dafs/file-exchange/1.0.0")

	require.NoError(t, alice.AddPeerKey("bob", bobKP.PublicKey))
	require.NoError(t, bob.AddPeerKey("alice", aliceKP.PublicKey))

	sealed, err := alice.Seal("bob", []byte("hello bob"))
	require.NoError(t, err)

	plain, err := bob.Open("alice", sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(plain))
}

func TestSessionManagerNoSessionKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	mgr := NewSessionManager(kp, "dafs/messaging/1.0.0")

	_, err = mgr.Seal("unknown-peer", []byte("x"))
	assert.ErrorIs(t, err, ErrNoSessionKey)
}

func TestFileKeyEnvelopeRoundTrip(t *testing.T) {
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)

	fileKey, err := GenerateFileKey()
	require.NoError(t, err)

	env, err := WrapFileKeyFor(fileKey, recipient.PublicKey)
	require.NoError(t, err)

	recovered, err := UnwrapFileKey(env, recipient.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, fileKey, recovered)
}

func TestFileKeyEnvelopeWrongRecipientFails(t *testing.T) {
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)
	stranger, err := GenerateKeyPair()
	require.NoError(t, err)

	fileKey, err := GenerateFileKey()
	require.NoError(t, err)

	env, err := WrapFileKeyFor(fileKey, recipient.PublicKey)
	require.NoError(t, err)

	_, err = UnwrapFileKey(env, stranger.PrivateKey)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestFileKeyEnvelopeWireRoundTrip(t *testing.T) {
	recipient, err := GenerateKeyPair()
	require.NoError(t, err)
	fileKey, err := GenerateFileKey()
	require.NoError(t, err)

	env, err := WrapFileKeyFor(fileKey, recipient.PublicKey)
	require.NoError(t, err)

	wire := EncodeFileKeyEnvelope(env)
	decoded, err := DecodeFileKeyEnvelope(wire)
	require.NoError(t, err)

	recovered, err := UnwrapFileKey(decoded, recipient.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, fileKey, recovered)
}

func TestWrapUnwrapSeedRoundTrip(t *testing.T) {
	seed, wrapped, err := WrapSeed("correct horse battery staple")
	require.NoError(t, err)

	recovered, err := UnwrapSeed("correct horse battery staple", wrapped)
	require.NoError(t, err)
	assert.Equal(t, seed, recovered)
}

func TestUnwrapSeedWrongPassword(t *testing.T) {
	_, wrapped, err := WrapSeed("correct horse battery staple")
	require.NoError(t, err)

	_, err = UnwrapSeed("wrong password", wrapped)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}
</content>
