package messaging

import (
	"sync"

	"github.com/rs/zerolog"
)

// PendingQueue holds messages that failed to reach a recipient (offline or
// unreachable) so they can be retried once the recipient reconnects. Each
// recipient has an independent slice of pending messages. Thread-safe via
// sync.RWMutex.
type PendingQueue struct {
	mu     sync.RWMutex
	queue  map[string][]Message // recipientID -> undelivered messages
	logger zerolog.Logger
}

// NewPendingQueue creates a new empty pending-delivery queue.
func NewPendingQueue(logger zerolog.Logger) *PendingQueue {
	return &PendingQueue{
		queue:  make(map[string][]Message),
		logger: logger.With().Str("component", "pending_queue").Logger(),
	}
}

// Enqueue appends a message to a recipient's pending queue.
func (q *PendingQueue) Enqueue(recipientID string, msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queue[recipientID] = append(q.queue[recipientID], msg)

	q.logger.Debug().
		Str("recipient_id", recipientID).
		Str("message_id", msg.ID).
		Int("queue_size", len(q.queue[recipientID])).
		Msg("message queued for retry")
}

// Drain removes and returns all pending messages for a recipient. Returns
// nil if the recipient has no pending messages.
func (q *PendingQueue) Drain(recipientID string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	messages := q.queue[recipientID]
	if len(messages) == 0 {
		return nil
	}
	delete(q.queue, recipientID)

	q.logger.Info().
		Str("recipient_id", recipientID).
		Int("count", len(messages)).
		Msg("draining pending messages for retry")

	return messages
}

// Pending returns the number of messages queued for a recipient.
func (q *PendingQueue) Pending(recipientID string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.queue[recipientID])
}
