// Package protocol defines the wire protocol spoken between DAFS peers.
// Wire format: [1 byte type][4 bytes length (big-endian)][payload (msgpack)].
// Every request/response pair travels over one of three libp2p protocol
// IDs, each with its own per-call timeout.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// MessageType identifies the kind of protocol message.
type MessageType uint8

const (
	TypeFileKeyExchange    MessageType = 0x01
	TypeFileChunkRequest   MessageType = 0x02
	TypeFileChunkResponse  MessageType = 0x03
	TypeFileListRequest    MessageType = 0x04
	TypeFileListResponse   MessageType = 0x05
	TypeModelUpdate        MessageType = 0x06
	TypeEncryptedMessage   MessageType = 0x10
	TypeMessageAck         MessageType = 0x11
	TypeUserStatus         MessageType = 0x12
	TypeChatRoomCreate     MessageType = 0x13
	TypeChatRoomJoin       MessageType = 0x14
	TypeChatRoomLeave      MessageType = 0x15
	TypeChatRoomMessage    MessageType = 0x16
	TypeTypingIndicator    MessageType = 0x17
	TypePeerDiscovery      MessageType = 0x20
	TypePeerPing           MessageType = 0x21
	TypePeerPong           MessageType = 0x22
)

// Protocol IDs and per-protocol request timeouts, one pair per DAFS
// subsystem that talks over a libp2p request/response stream.
const (
	FileExchangeProtocolID  = "/dafs/file-exchange/1.0.0"
	MessagingProtocolID     = "/dafs/messaging/1.0.0"
	PeerDiscoveryProtocolID = "/dafs/peer-discovery/1.0.0"

	FileExchangeTimeout  = 30 * time.Second
	MessagingTimeout     = 10 * time.Second
	PeerDiscoveryTimeout = 15 * time.Second
)

// MaxPayloadSize is the maximum allowed payload size (4 MB — large enough
// for a full file chunk plus envelope overhead).
const MaxPayloadSize = 4 << 20

// HeaderSize is type (1) + length (4).
const HeaderSize = 5

var (
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds max size")
	ErrInvalidHeader   = errors.New("protocol: invalid header")
)

// Envelope wraps a typed message for wire transport.
type Envelope struct {
	Type    MessageType `msgpack:"-"`
	Payload []byte      `msgpack:"-"`
}

// FileKeyExchange delivers a file's AES key, wrapped in an ephemeral-static
// envelope under the recipient's public key (an encoded
// crypto.FileKeyEnvelope), so they can decrypt subsequently fetched chunks.
type FileKeyExchange struct {
	FileID       string `msgpack:"file_id"`
	EncryptedKey []byte `msgpack:"encrypted_key"`
	From         string `msgpack:"from"`
	To           string `msgpack:"to"`
}

// FileChunkRequest asks a peer for one chunk of a file it hosts.
type FileChunkRequest struct {
	FileID     string `msgpack:"file_id"`
	ChunkIndex int    `msgpack:"chunk_index"`
	ChunkSize  int    `msgpack:"chunk_size"`
	Signature  []byte `msgpack:"signature,omitempty"`
}

// FileChunkResponse carries one (still-encrypted) chunk of file data.
type FileChunkResponse struct {
	FileID     string `msgpack:"file_id"`
	ChunkIndex int    `msgpack:"chunk_index"`
	Data       []byte `msgpack:"data"`
}

// FileListRequest asks a peer to enumerate the files it shares with us.
type FileListRequest struct {
	Signature []byte `msgpack:"signature,omitempty"`
}

// FileMetadataWire is the wire shape of a file's metadata, independent of
// how the local store represents it.
type FileMetadataWire struct {
	FileID    string `msgpack:"file_id"`
	OwnerID   string `msgpack:"owner_id"`
	Filename  string `msgpack:"filename"`
	SizeBytes int64  `msgpack:"size_bytes"`
	Hash      string `msgpack:"hash"`
	CreatedAt int64  `msgpack:"created_at"`
}

// FileListResponse answers a FileListRequest.
type FileListResponse struct {
	Files []FileMetadataWire `msgpack:"files"`
}

// ModelUpdate carries a peer's local recommender weights for federated
// averaging. Weights is the msgpack-encoded NCF model; epoch allows the
// receiver to discard stale updates without decoding the payload.
type ModelUpdate struct {
	Weights []byte `msgpack:"weights"`
	Epoch   uint32 `msgpack:"epoch"`
	FromID  string `msgpack:"from_id"`
	// Signature authenticates FromID's claim over Weights using their
	// identity key, closing the unauthenticated-aggregation gap.
	Signature []byte `msgpack:"signature"`
}

// EncryptedMessageWire is the wire shape of a direct message; content is
// already AEAD-sealed by the sender under the recipient's session key.
type EncryptedMessageWire struct {
	ID               string `msgpack:"id"`
	SenderID         string `msgpack:"sender_id"`
	RecipientID      string `msgpack:"recipient_id"`
	EncryptedContent []byte `msgpack:"encrypted_content"`
	Timestamp        int64  `msgpack:"timestamp"`
	MessageType      string `msgpack:"message_type"`
	DeviceID         string `msgpack:"device_id"`
}

// MessageAck confirms delivery of a message to a specific device.
type MessageAck struct {
	MessageID        string `msgpack:"message_id"`
	Delivered        bool   `msgpack:"delivered"`
	Timestamp        int64  `msgpack:"timestamp"`
	RecipientDevice  string `msgpack:"recipient_device_id"`
}

// UserStatusWire announces presence.
type UserStatusWire struct {
	UserID          string  `msgpack:"user_id"`
	Username        string  `msgpack:"username"`
	Online          bool    `msgpack:"online"`
	LastSeen        int64   `msgpack:"last_seen"`
	StatusMessage   *string `msgpack:"status_message,omitempty"`
	CurrentDeviceID *string `msgpack:"current_device_id,omitempty"`
}

// ChatRoomWire is the wire shape of a room.
type ChatRoomWire struct {
	ID             string   `msgpack:"id"`
	Name           string   `msgpack:"name"`
	Participants   []string `msgpack:"participants"`
	CreatedAt      int64    `msgpack:"created_at"`
	LastMessageAt  int64    `msgpack:"last_message_at"`
	CreatedBy      string   `msgpack:"created_by"`
	IsPrivate      bool     `msgpack:"is_private"`
}

type ChatRoomCreate struct {
	Room ChatRoomWire `msgpack:"room"`
}

type ChatRoomJoin struct {
	RoomID   string `msgpack:"room_id"`
	Username string `msgpack:"username"`
}

type ChatRoomLeave struct {
	RoomID   string `msgpack:"room_id"`
	Username string `msgpack:"username"`
}

type ChatRoomMessage struct {
	RoomID  string               `msgpack:"room_id"`
	Message EncryptedMessageWire `msgpack:"message"`
}

type TypingIndicator struct {
	RoomID    string `msgpack:"room_id"`
	Username  string `msgpack:"username"`
	IsTyping  bool   `msgpack:"is_typing"`
}

// PeerDiscovery announces a peer's addresses and (optionally) identity.
// SigningPublicKey, when present, is the announcing node's Ed25519
// recommender-update signing key, letting the receiver authenticate future
// ModelUpdate messages claiming to be from PeerID.
type PeerDiscovery struct {
	PeerID           string   `msgpack:"peer_id"`
	Addresses        []string `msgpack:"addresses"`
	HasUser          bool     `msgpack:"has_user"`
	UserID           string   `msgpack:"user_id,omitempty"`
	Username         string   `msgpack:"username,omitempty"`
	SigningPublicKey []byte   `msgpack:"signing_public_key,omitempty"`
}

// PeerPing/PeerPong are used for keepalive and RTT measurement.
type PeerPing struct {
	Timestamp int64  `msgpack:"timestamp"`
	PeerID    string `msgpack:"peer_id"`
}

type PeerPong struct {
	Timestamp int64  `msgpack:"timestamp"`
	PeerID    string `msgpack:"peer_id"`
}

// Encode serializes a message type and payload into wire format.
func Encode(msgType MessageType, v interface{}) ([]byte, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal failed: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(msgType)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[5:], payload)
	return buf, nil
}

// Decode reads one message from a reader and returns the envelope.
func Decode(r io.Reader) (*Envelope, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("protocol: read header: %w", err)
	}

	msgType := MessageType(header[0])
	length := binary.BigEndian.Uint32(header[1:5])

	if length > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: read payload: %w", err)
	}

	return &Envelope{Type: msgType, Payload: payload}, nil
}

// DecodePayload unmarshals the envelope payload into the target struct.
func (e *Envelope) DecodePayload(v interface{}) error {
	return msgpack.Unmarshal(e.Payload, v)
}

// EncodeRaw creates wire bytes from a pre-built envelope.
func (e *Envelope) EncodeRaw() ([]byte, error) {
	if len(e.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderSize+len(e.Payload))
	buf[0] = byte(e.Type)
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(e.Payload)))
	copy(buf[5:], e.Payload)
	return buf, nil
}
</content>
