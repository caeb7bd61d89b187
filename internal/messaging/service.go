package messaging

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dafs-project/dafs/internal/dafserr"
	"github.com/dafs-project/dafs/internal/security"
	"github.com/dafs-project/dafs/pkg/crypto"
	"github.com/dafs-project/dafs/pkg/protocol"
)

// Transport is the subset of internal/p2p.Host the messaging service
// needs: a pinned-protocol request/response call and the current
// connected-peer set for room broadcast. Decoupling from the concrete
// libp2p host keeps this package testable without a real overlay.
type Transport interface {
	RequestMessaging(ctx context.Context, peerID string, msgType protocol.MessageType, msg interface{}) (*protocol.Envelope, error)
	ConnectedPeerIDs() []string
}

// Service orchestrates direct messages, chat rooms, and presence
// broadcast over the messaging protocol.
type Service struct {
	repo      *Repository
	transport Transport
	sessions  *crypto.SessionManager
	presence  *PresenceTracker
	pending   *PendingQueue
	selfID    string
	logger    zerolog.Logger
	validator *security.Validator
}

// NewService creates a messaging service. sessions supplies the per-peer
// AEAD session keys used to seal/open direct-message content; selfID is
// this node's own user ID, stamped on outgoing presence broadcasts.
func NewService(repo *Repository, transport Transport, sessions *crypto.SessionManager, presence *PresenceTracker, selfID string, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "messaging_service").Logger()
	return &Service{
		repo:      repo,
		transport: transport,
		sessions:  sessions,
		presence:  presence,
		pending:   NewPendingQueue(logger),
		selfID:    selfID,
		logger:    logger,
		validator: &security.Validator{MaxInputLength: MaxMessageLength},
	}
}

// SendEncryptedMessage seals content under the recipient's session key,
// sends it over the messaging protocol, and persists it to the per-pair
// log whether or not the send succeeded. delivered reports whether the
// recipient returned a matching acknowledgement within the messaging
// timeout; a timeout or transport error is not fatal; it yields
// delivered=false and the message is queued for RetryPending.
func (s *Service) SendEncryptedMessage(ctx context.Context, recipientID, deviceID, messageType, content string) (msg Message, delivered bool, err error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, false, dafserr.New(dafserr.BadRequest, "messaging", "SendEncryptedMessage")
	}
	if err := s.validator.ValidateTextInput(content, "message content"); err != nil {
		return Message{}, false, dafserr.Wrap(dafserr.BadRequest, "messaging", "SendEncryptedMessage", err)
	}

	sealed, err := s.sessions.Seal(recipientID, []byte(content))
	if err != nil {
		return Message{}, false, dafserr.Wrap(dafserr.BadCiphertext, "messaging", "SendEncryptedMessage", err)
	}

	msg = Message{
		ID:               uuid.New().String(),
		SenderID:         s.selfID,
		RecipientID:      recipientID,
		EncryptedContent: sealed,
		MessageType:      messageType,
		DeviceID:         deviceID,
		CreatedAt:        time.Now().UTC(),
	}

	wire := protocol.EncryptedMessageWire{
		ID:               msg.ID,
		SenderID:         msg.SenderID,
		RecipientID:      msg.RecipientID,
		EncryptedContent: msg.EncryptedContent,
		Timestamp:        msg.CreatedAt.Unix(),
		MessageType:      msg.MessageType,
		DeviceID:         msg.DeviceID,
	}

	env, reqErr := s.transport.RequestMessaging(ctx, recipientID, protocol.TypeEncryptedMessage, wire)
	if reqErr != nil {
		s.logger.Warn().Err(reqErr).Str("recipient_id", recipientID).Msg("message send failed, queued for retry")
		s.pending.Enqueue(recipientID, msg)
	} else {
		var ack protocol.MessageAck
		if decodeErr := env.DecodePayload(&ack); decodeErr == nil {
			delivered = ack.Delivered && ack.MessageID == msg.ID
		}
	}

	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return msg, delivered, dafserr.Wrap(dafserr.Storage, "messaging", "SendEncryptedMessage", err)
	}

	s.logger.Info().Str("message_id", msg.ID).Str("recipient_id", recipientID).Bool("delivered", delivered).Msg("message sent")
	return msg, delivered, nil
}

// RetryPending drains and re-sends every message queued for recipientID
// after a prior failed delivery attempt, e.g. once the host observes that
// peer reconnecting. Messages are already persisted from the first
// attempt, so a retry failure only re-queues; it never double-persists.
func (s *Service) RetryPending(ctx context.Context, recipientID string) {
	for _, msg := range s.pending.Drain(recipientID) {
		wire := protocol.EncryptedMessageWire{
			ID:               msg.ID,
			SenderID:         msg.SenderID,
			RecipientID:      msg.RecipientID,
			EncryptedContent: msg.EncryptedContent,
			Timestamp:        msg.CreatedAt.Unix(),
			MessageType:      msg.MessageType,
			DeviceID:         msg.DeviceID,
		}
		if _, err := s.transport.RequestMessaging(ctx, recipientID, protocol.TypeEncryptedMessage, wire); err != nil {
			s.logger.Debug().Err(err).Str("recipient_id", recipientID).Str("message_id", msg.ID).Msg("retry failed, re-queued")
			s.pending.Enqueue(recipientID, msg)
		}
	}
}

// Conversation returns the merged, chronologically ordered history
// between the local user and peerID.
func (s *Service) Conversation(ctx context.Context, peerID string) ([]Message, error) {
	return s.repo.ListConversation(ctx, s.selfID, peerID)
}

// HandleStream dispatches one decoded envelope received on the messaging
// protocol, the "protocol ID selects a behavior" pattern applied within a
// single protocol's multiple message types.
func (s *Service) HandleStream(peerID string, env *protocol.Envelope) (*protocol.Envelope, error) {
	switch env.Type {
	case protocol.TypeEncryptedMessage:
		return s.handleIncomingMessage(peerID, env)
	case protocol.TypeUserStatus:
		return nil, s.handleUserStatus(env)
	case protocol.TypeChatRoomCreate, protocol.TypeChatRoomJoin, protocol.TypeChatRoomLeave:
		return nil, s.handleRoomLifecycle(env)
	case protocol.TypeChatRoomMessage:
		return nil, s.handleRoomMessage(env)
	case protocol.TypeTypingIndicator:
		// Ephemeral, never persisted.
		return nil, nil
	default:
		return nil, dafserr.New(dafserr.BadRequest, "messaging", "HandleStream")
	}
}

func (s *Service) handleIncomingMessage(peerID string, env *protocol.Envelope) (*protocol.Envelope, error) {
	var wire protocol.EncryptedMessageWire
	if err := env.DecodePayload(&wire); err != nil {
		return nil, dafserr.Wrap(dafserr.BadRequest, "messaging", "handleIncomingMessage", err)
	}

	msg := Message{
		ID:               wire.ID,
		SenderID:         wire.SenderID,
		RecipientID:      wire.RecipientID,
		EncryptedContent: wire.EncryptedContent,
		MessageType:      wire.MessageType,
		DeviceID:         wire.DeviceID,
		CreatedAt:        time.Unix(wire.Timestamp, 0).UTC(),
	}
	if err := s.repo.AppendMessage(context.Background(), msg); err != nil {
		return nil, dafserr.Wrap(dafserr.Storage, "messaging", "handleIncomingMessage", err)
	}

	ack := protocol.MessageAck{MessageID: msg.ID, Delivered: true, Timestamp: time.Now().Unix(), RecipientDevice: msg.DeviceID}
	payload, err := protocol.Encode(protocol.TypeMessageAck, ack)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "messaging", "handleIncomingMessage", err)
	}
	return &protocol.Envelope{Type: protocol.TypeMessageAck, Payload: payload[protocol.HeaderSize:]}, nil
}

// BroadcastStatus sends this node's presence to every connected peer.
// Delivery is best-effort; a failed send to one peer does not abort the
// broadcast to the rest.
func (s *Service) BroadcastStatus(ctx context.Context, status UserStatus) error {
	status.UserID = s.selfID
	status.LastSeen = time.Now().UTC()
	if err := s.repo.SaveStatus(ctx, status); err != nil {
		return dafserr.Wrap(dafserr.Storage, "messaging", "BroadcastStatus", err)
	}

	wire := protocol.UserStatusWire{
		UserID:   status.UserID,
		Username: status.Username,
		Online:   status.Online,
		LastSeen: status.LastSeen.Unix(),
	}
	if status.StatusMessage != "" {
		wire.StatusMessage = &status.StatusMessage
	}
	if status.CurrentDeviceID != "" {
		wire.CurrentDeviceID = &status.CurrentDeviceID
	}

	for _, peerID := range s.transport.ConnectedPeerIDs() {
		if _, err := s.transport.RequestMessaging(ctx, peerID, protocol.TypeUserStatus, wire); err != nil {
			s.logger.Debug().Err(err).Str("peer_id", peerID).Msg("status broadcast failed")
		}
	}
	return nil
}

func (s *Service) handleUserStatus(env *protocol.Envelope) error {
	var wire protocol.UserStatusWire
	if err := env.DecodePayload(&wire); err != nil {
		return dafserr.Wrap(dafserr.BadRequest, "messaging", "handleUserStatus", err)
	}
	status := UserStatus{
		UserID:   wire.UserID,
		Username: wire.Username,
		Online:   wire.Online,
		LastSeen: time.Unix(wire.LastSeen, 0).UTC(),
	}
	if wire.StatusMessage != nil {
		status.StatusMessage = *wire.StatusMessage
	}
	if wire.CurrentDeviceID != nil {
		status.CurrentDeviceID = *wire.CurrentDeviceID
	}
	if status.Online {
		s.presence.Touch(status.UserID)
	} else {
		s.presence.SetOffline(status.UserID)
	}
	return s.repo.SaveStatus(context.Background(), status)
}

// CreateRoom creates a room and broadcasts its creation to connected
// peers; participants independently decide to persist it.
func (s *Service) CreateRoom(ctx context.Context, name string, participants []string, isPrivate bool) (Room, error) {
	name = strings.TrimSpace(name)
	if err := s.validator.ValidateRoomName(name); err != nil {
		return Room{}, dafserr.Wrap(dafserr.BadRequest, "messaging", "CreateRoom", err)
	}

	room := Room{
		ID:            uuid.New().String(),
		Name:          name,
		Participants:  participants,
		CreatedAt:     time.Now().UTC(),
		LastMessageAt: time.Now().UTC(),
		CreatedBy:     s.selfID,
		IsPrivate:     isPrivate,
	}
	if err := s.repo.SaveRoom(ctx, room); err != nil {
		return Room{}, dafserr.Wrap(dafserr.Storage, "messaging", "CreateRoom", err)
	}

	s.broadcastRoomLifecycle(ctx, protocol.TypeChatRoomCreate, protocol.ChatRoomCreate{Room: roomToWire(room)})
	return room, nil
}

// JoinRoom announces membership to connected peers; the local room record
// is not changed.
func (s *Service) JoinRoom(ctx context.Context, roomID, username string) error {
	s.broadcastRoomLifecycle(ctx, protocol.TypeChatRoomJoin, protocol.ChatRoomJoin{RoomID: roomID, Username: username})
	return nil
}

// LeaveRoom announces departure from a room.
func (s *Service) LeaveRoom(ctx context.Context, roomID, username string) error {
	s.broadcastRoomLifecycle(ctx, protocol.TypeChatRoomLeave, protocol.ChatRoomLeave{RoomID: roomID, Username: username})
	return nil
}

func (s *Service) broadcastRoomLifecycle(ctx context.Context, msgType protocol.MessageType, payload interface{}) {
	for _, peerID := range s.transport.ConnectedPeerIDs() {
		if _, err := s.transport.RequestMessaging(ctx, peerID, msgType, payload); err != nil {
			s.logger.Debug().Err(err).Str("peer_id", peerID).Msg("room lifecycle broadcast failed")
		}
	}
}

func (s *Service) handleRoomLifecycle(env *protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeChatRoomCreate:
		var create protocol.ChatRoomCreate
		if err := env.DecodePayload(&create); err != nil {
			return dafserr.Wrap(dafserr.BadRequest, "messaging", "handleRoomLifecycle", err)
		}
		return s.reconcileRoom(wireToRoom(create.Room))
	case protocol.TypeChatRoomJoin, protocol.TypeChatRoomLeave:
		// A received join/leave is accepted but not applied: the stored
		// room's participant set is not changed, whether or not the room
		// is known here.
		return nil
	}
	return nil
}

// reconcileRoom applies last-writer-wins on LastMessageAt when a peer's
// view of a room conflicts with the local one.
func (s *Service) reconcileRoom(incoming Room) error {
	existing, err := s.repo.GetRoom(context.Background(), incoming.ID)
	if err != nil {
		return s.repo.SaveRoom(context.Background(), incoming)
	}
	if incoming.LastMessageAt.After(existing.LastMessageAt) {
		return s.repo.SaveRoom(context.Background(), incoming)
	}
	return nil
}

// handleRoomMessage persists an incoming room message if this node knows
// about (i.e. is a participant in) the room, and bumps the room's
// LastMessageAt for last-writer-wins reconciliation. A message for an
// unknown room is silently dropped, mirroring the independent
// persist-or-ignore choice each recipient makes.
func (s *Service) handleRoomMessage(env *protocol.Envelope) error {
	var wire protocol.ChatRoomMessage
	if err := env.DecodePayload(&wire); err != nil {
		return dafserr.Wrap(dafserr.BadRequest, "messaging", "handleRoomMessage", err)
	}

	room, err := s.repo.GetRoom(context.Background(), wire.RoomID)
	if err != nil {
		return nil
	}

	msg := Message{
		ID:               wire.Message.ID,
		SenderID:         wire.Message.SenderID,
		RecipientID:      wire.RoomID,
		EncryptedContent: wire.Message.EncryptedContent,
		MessageType:      wire.Message.MessageType,
		DeviceID:         wire.Message.DeviceID,
		CreatedAt:        time.Unix(wire.Message.Timestamp, 0).UTC(),
	}
	if err := s.repo.AppendMessage(context.Background(), msg); err != nil {
		return dafserr.Wrap(dafserr.Storage, "messaging", "handleRoomMessage", err)
	}

	room.LastMessageAt = msg.CreatedAt
	return s.repo.SaveRoom(context.Background(), *room)
}

// BroadcastRoomMessage sends a room message to every connected peer;
// recipients that are participants persist it.
func (s *Service) BroadcastRoomMessage(ctx context.Context, roomID, deviceID, messageType, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, dafserr.New(dafserr.BadRequest, "messaging", "BroadcastRoomMessage")
	}
	if err := s.validator.ValidateTextInput(content, "message content"); err != nil {
		return Message{}, dafserr.Wrap(dafserr.BadRequest, "messaging", "BroadcastRoomMessage", err)
	}

	msg := Message{
		ID:          uuid.New().String(),
		SenderID:    s.selfID,
		MessageType: messageType,
		DeviceID:    deviceID,
		CreatedAt:   time.Now().UTC(),
	}
	// A room has no single shared session key, so the returned Message
	// holds the content as given; per-recipient sealing happens at the
	// transport fan-out below, under each connected peer's session key as
	// in SendEncryptedMessage. A peer with no session key is skipped.
	msg.EncryptedContent = []byte(content)

	room, err := s.repo.GetRoom(ctx, roomID)
	if err == nil {
		room.LastMessageAt = msg.CreatedAt
		if saveErr := s.repo.SaveRoom(ctx, *room); saveErr != nil {
			s.logger.Warn().Err(saveErr).Str("room_id", roomID).Msg("failed to bump room last_message_at")
		}
	}

	wire := protocol.ChatRoomMessage{
		RoomID: roomID,
		Message: protocol.EncryptedMessageWire{
			ID:          msg.ID,
			SenderID:    msg.SenderID,
			MessageType: msg.MessageType,
			DeviceID:    msg.DeviceID,
			Timestamp:   msg.CreatedAt.Unix(),
		},
	}
	for _, peerID := range s.transport.ConnectedPeerIDs() {
		sealed, err := s.sessions.Seal(peerID, []byte(content))
		if err != nil {
			s.logger.Debug().Err(err).Str("peer_id", peerID).Msg("room message seal failed")
			continue
		}
		w := wire
		w.Message.EncryptedContent = sealed
		if _, err := s.transport.RequestMessaging(ctx, peerID, protocol.TypeChatRoomMessage, w); err != nil {
			s.logger.Debug().Err(err).Str("peer_id", peerID).Msg("room message broadcast failed")
		}
	}
	return msg, nil
}

func roomToWire(r Room) protocol.ChatRoomWire {
	return protocol.ChatRoomWire{
		ID:            r.ID,
		Name:          r.Name,
		Participants:  r.Participants,
		CreatedAt:     r.CreatedAt.Unix(),
		LastMessageAt: r.LastMessageAt.Unix(),
		CreatedBy:     r.CreatedBy,
		IsPrivate:     r.IsPrivate,
	}
}

func wireToRoom(w protocol.ChatRoomWire) Room {
	return Room{
		ID:            w.ID,
		Name:          w.Name,
		Participants:  w.Participants,
		CreatedAt:     time.Unix(w.CreatedAt, 0).UTC(),
		LastMessageAt: time.Unix(w.LastMessageAt, 0).UTC(),
		CreatedBy:     w.CreatedBy,
		IsPrivate:     w.IsPrivate,
	}
}
