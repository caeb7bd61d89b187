package messaging

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafs-project/dafs/internal/dafserr"
	"github.com/dafs-project/dafs/internal/kv"
	"github.com/dafs-project/dafs/pkg/crypto"
	"github.com/dafs-project/dafs/pkg/protocol"
)

// fakeTransport routes RequestMessaging calls directly into a peer's
// Service.HandleStream, simulating the network without a real libp2p host.
type fakeTransport struct {
	selfID    string
	peers     map[string]*Service
	connected []string
}

func (f *fakeTransport) RequestMessaging(ctx context.Context, peerID string, msgType protocol.MessageType, msg interface{}) (*protocol.Envelope, error) {
	peer, ok := f.peers[peerID]
	if !ok {
		return nil, dafserr.New(dafserr.Network, "fake_transport", "RequestMessaging")
	}
	wire, err := protocol.Encode(msgType, msg)
	if err != nil {
		return nil, err
	}
	env, err := protocol.Decode(bytes.NewReader(wire))
	if err != nil {
		return nil, err
	}
	return peer.HandleStream(f.selfID, env)
}

func (f *fakeTransport) ConnectedPeerIDs() []string {
	return f.connected
}

func newTestService(t *testing.T, selfID string) (*Service, *crypto.SessionManager) {
	t.Helper()
	store, err := kv.Open(kv.Options{InMemory: true}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	sessions := crypto.NewSessionManager(kp, "messaging-test")

	repo := NewRepository(store, zerolog.Nop())
	presence := NewPresenceTracker(time.Minute)
	t.Cleanup(presence.Stop)

	svc := NewService(repo, &fakeTransport{selfID: selfID, peers: map[string]*Service{}}, sessions, presence, selfID, zerolog.Nop())
	return svc, sessions
}

func pairUp(a, b *Service) {
	at := a.transport.(*fakeTransport)
	bt := b.transport.(*fakeTransport)
	at.peers[bt.selfID] = b
	bt.peers[at.selfID] = a
	at.connected = append(at.connected, bt.selfID)
	bt.connected = append(bt.connected, at.selfID)
}

func TestSendEncryptedMessageDeliversAndPersists(t *testing.T) {
	alice, aliceSessions := newTestService(t, "alice")
	bob, bobSessions := newTestService(t, "bob")
	pairUp(alice, bob)

	require.NoError(t, aliceSessions.AddPeerKey("bob", bobSessions.PublicKey()))
	require.NoError(t, bobSessions.AddPeerKey("alice", aliceSessions.PublicKey()))

	msg, delivered, err := alice.SendEncryptedMessage(context.Background(), "bob", "device1", "text", "hello bob")
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Equal(t, "alice", msg.SenderID)

	history, err := alice.Conversation(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, history, 1)

	bobHistory, err := bob.Conversation(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, bobHistory, 1)

	plain, err := bobSessions.Open("alice", bobHistory[0].EncryptedContent)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(plain))
}

func TestSendEncryptedMessageRejectsEmptyContent(t *testing.T) {
	alice, _ := newTestService(t, "alice")
	_, _, err := alice.SendEncryptedMessage(context.Background(), "bob", "device1", "text", "   ")
	assert.Equal(t, dafserr.BadRequest, dafserr.KindOf(err))
}

func TestSendEncryptedMessageNoSessionKeyFails(t *testing.T) {
	alice, _ := newTestService(t, "alice")
	_, _, err := alice.SendEncryptedMessage(context.Background(), "bob", "device1", "text", "hi")
	assert.Equal(t, dafserr.BadCiphertext, dafserr.KindOf(err))
}

func TestCreateRoomBroadcastsAndReconciles(t *testing.T) {
	alice, _ := newTestService(t, "alice")
	bob, _ := newTestService(t, "bob")
	pairUp(alice, bob)

	room, err := alice.CreateRoom(context.Background(), "general", []string{"alice", "bob"}, false)
	require.NoError(t, err)

	got, err := bob.repo.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, "general", got.Name)
}

func TestBroadcastStatusUpdatesPeerPresence(t *testing.T) {
	alice, _ := newTestService(t, "alice")
	bob, _ := newTestService(t, "bob")
	pairUp(alice, bob)

	err := alice.BroadcastStatus(context.Background(), UserStatus{Username: "alice", Online: true})
	require.NoError(t, err)

	assert.True(t, bob.presence.IsOnline("alice"))
	status, err := bob.repo.GetStatus(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, status.Online)
}

func TestSendEncryptedMessageQueuesForRetryWhenUnreachable(t *testing.T) {
	alice, aliceSessions := newTestService(t, "alice")
	bob, bobSessions := newTestService(t, "bob")

	require.NoError(t, aliceSessions.AddPeerKey("bob", bobSessions.PublicKey()))
	require.NoError(t, bobSessions.AddPeerKey("alice", aliceSessions.PublicKey()))
	// Deliberately not paired yet: bob is "offline" from alice's transport.

	msg, delivered, err := alice.SendEncryptedMessage(context.Background(), "bob", "device1", "text", "hello")
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, 1, alice.pending.Pending("bob"))

	pairUp(alice, bob)
	alice.RetryPending(context.Background(), "bob")

	assert.Equal(t, 0, alice.pending.Pending("bob"))
	bobHistory, err := bob.Conversation(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, bobHistory, 1)
	assert.Equal(t, msg.ID, bobHistory[0].ID)
}

func TestReconcileRoomKeepsNewerLastMessageAt(t *testing.T) {
	svc, _ := newTestService(t, "alice")
	ctx := context.Background()

	older := Room{ID: "r1", Name: "old-name", LastMessageAt: time.Now().Add(-time.Hour)}
	require.NoError(t, svc.repo.SaveRoom(ctx, older))

	newer := Room{ID: "r1", Name: "new-name", LastMessageAt: time.Now()}
	require.NoError(t, svc.reconcileRoom(newer))

	got, err := svc.repo.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "new-name", got.Name)

	stale := Room{ID: "r1", Name: "stale-name", LastMessageAt: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, svc.reconcileRoom(stale))

	got, err = svc.repo.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "new-name", got.Name)
}
