package messaging

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dafs-project/dafs/internal/kv"
)

// Repository persists messages, rooms, and presence records in the shared
// Badger-backed store, namespaced the same way internal/files and
// internal/identity are.
type Repository struct {
	store  *kv.Store
	logger zerolog.Logger
}

// NewRepository wraps a kv.Store for messaging persistence.
func NewRepository(store *kv.Store, logger zerolog.Logger) *Repository {
	return &Repository{
		store:  store,
		logger: logger.With().Str("component", "messaging_repository").Logger(),
	}
}

// messageKey orders a sender->recipient log by send time: iterating the
// prefix senderID+":"+recipientID yields messages in FIFO send order,
// satisfying the per-pair ordering guarantee without a separate index.
func messageKey(senderID, recipientID string, createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%020d:%s", senderID, recipientID, createdAt.UnixNano(), id))
}

func messagePrefix(senderID, recipientID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", senderID, recipientID))
}

// AppendMessage stores one sent message in the sender->recipient log.
func (r *Repository) AppendMessage(ctx context.Context, msg Message) error {
	raw, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("messaging: marshal message: %w", err)
	}
	key := messageKey(msg.SenderID, msg.RecipientID, msg.CreatedAt, msg.ID)
	return r.store.Put(ctx, kv.NamespaceMessage, key, raw)
}

// ListDirectional returns every message sent from senderID to recipientID,
// oldest first.
func (r *Repository) ListDirectional(ctx context.Context, senderID, recipientID string) ([]Message, error) {
	var out []Message
	prefix := messagePrefix(senderID, recipientID)
	err := r.store.Iterate(ctx, kv.NamespaceMessage, func(e kv.Entry) (bool, error) {
		if !hasPrefix(e.Key, prefix) {
			return true, nil
		}
		var m Message
		if err := msgpack.Unmarshal(e.Value, &m); err != nil {
			return false, fmt.Errorf("messaging: unmarshal message: %w", err)
		}
		out = append(out, m)
		return true, nil
	})
	return out, err
}

// ListConversation merges both directions of a pair's message history into
// one chronologically sorted slice.
func (r *Repository) ListConversation(ctx context.Context, userA, userB string) ([]Message, error) {
	aToB, err := r.ListDirectional(ctx, userA, userB)
	if err != nil {
		return nil, err
	}
	bToA, err := r.ListDirectional(ctx, userB, userA)
	if err != nil {
		return nil, err
	}
	all := append(aToB, bToA...)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all, nil
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

// SaveRoom creates or overwrites a room record.
func (r *Repository) SaveRoom(ctx context.Context, room Room) error {
	raw, err := msgpack.Marshal(room)
	if err != nil {
		return fmt.Errorf("messaging: marshal room: %w", err)
	}
	return r.store.Put(ctx, kv.NamespaceRoom, []byte(room.ID), raw)
}

// GetRoom returns a room by ID.
func (r *Repository) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	raw, err := r.store.Get(ctx, kv.NamespaceRoom, []byte(roomID))
	if err != nil {
		return nil, err
	}
	var room Room
	if err := msgpack.Unmarshal(raw, &room); err != nil {
		return nil, fmt.Errorf("messaging: unmarshal room: %w", err)
	}
	return &room, nil
}

// ListRooms returns every known room.
func (r *Repository) ListRooms(ctx context.Context) ([]Room, error) {
	entries, err := r.store.List(ctx, kv.NamespaceRoom)
	if err != nil {
		return nil, err
	}
	rooms := make([]Room, 0, len(entries))
	for _, e := range entries {
		var room Room
		if err := msgpack.Unmarshal(e.Value, &room); err != nil {
			continue
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// SaveStatus persists a user's last-known presence record.
func (r *Repository) SaveStatus(ctx context.Context, status UserStatus) error {
	raw, err := msgpack.Marshal(status)
	if err != nil {
		return fmt.Errorf("messaging: marshal status: %w", err)
	}
	return r.store.Put(ctx, kv.NamespacePresence, []byte(status.UserID), raw)
}

// GetStatus returns a user's last-known presence record.
func (r *Repository) GetStatus(ctx context.Context, userID string) (*UserStatus, error) {
	raw, err := r.store.Get(ctx, kv.NamespacePresence, []byte(userID))
	if err != nil {
		return nil, err
	}
	var status UserStatus
	if err := msgpack.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("messaging: unmarshal status: %w", err)
	}
	return &status, nil
}
