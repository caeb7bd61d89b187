package messaging

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestPendingQueueEnqueueAndDrain(t *testing.T) {
	q := NewPendingQueue(zerolog.Nop())
	msg := Message{ID: "m1", CreatedAt: time.Now()}

	assert.Equal(t, 0, q.Pending("bob"))
	q.Enqueue("bob", msg)
	assert.Equal(t, 1, q.Pending("bob"))

	drained := q.Drain("bob")
	assert.Len(t, drained, 1)
	assert.Equal(t, "m1", drained[0].ID)
	assert.Equal(t, 0, q.Pending("bob"))
}

func TestPendingQueueDrainEmptyReturnsNil(t *testing.T) {
	q := NewPendingQueue(zerolog.Nop())
	assert.Nil(t, q.Drain("nobody"))
}

func TestPendingQueueIsolatedPerRecipient(t *testing.T) {
	q := NewPendingQueue(zerolog.Nop())
	q.Enqueue("bob", Message{ID: "m1"})
	q.Enqueue("carol", Message{ID: "m2"})

	assert.Equal(t, 1, q.Pending("bob"))
	assert.Equal(t, 1, q.Pending("carol"))
}
