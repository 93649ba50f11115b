package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"chatflow/signaling/models"
	"chatflow/signaling/utils"
)

// Mailbox is the per-recipient store of pending signaling events. It is owned
// by the relay: constructed at startup, passed to the signal handlers, and
// discarded at shutdown. There is no package-level state.
//
// Expiry is sweep-on-write plus a filter on drain; the mailbox holds no
// background timer, so memory stays bounded by what was deposited since the
// recipient last polled.
type Mailbox struct {
	mu     sync.Mutex
	queues map[string][]models.SignalEvent
	ttl    time.Duration
	logger *utils.Logger

	// now is swappable for tests
	now func() time.Time
}

func NewMailbox(ttl time.Duration, logger *utils.Logger) *Mailbox {
	return &Mailbox{
		queues: make(map[string][]models.SignalEvent),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Deposit appends one event to the recipient's queue, stamping it with the
// current time, then sweeps that queue of expired entries. Deposit+sweep is
// atomic with respect to other deposits and drains for the same recipient.
func (m *Mailbox) Deposit(recipientID string, senderID string, kind models.SignalKind, payload []byte) models.SignalEvent {
	now := m.now()
	event := models.SignalEvent{
		ID:          uuid.New(),
		Kind:        kind,
		SenderID:    senderID,
		RecipientID: recipientID,
		Payload:     payload,
		CreatedAt:   now,
	}

	m.mu.Lock()
	queue := append(m.queues[recipientID], event)
	m.queues[recipientID] = m.sweep(queue, now)
	m.mu.Unlock()

	m.logger.Debug("signal queued", "kind", kind, "sender", senderID, "recipient", recipientID)
	return event
}

// Drain atomically returns the recipient's pending events, oldest first, and
// leaves the queue empty. Expired events are filtered out here as well, so an
// event past its TTL is never delivered even if no deposit swept it.
func (m *Mailbox) Drain(recipientID string) []models.SignalEvent {
	now := m.now()

	m.mu.Lock()
	queue, ok := m.queues[recipientID]
	if ok {
		delete(m.queues, recipientID)
	}
	m.mu.Unlock()

	swept := m.sweep(queue, now)
	if len(swept) == 0 {
		// Always a real slice, so the handler serializes an empty array
		// rather than null when everything expired.
		return []models.SignalEvent{}
	}
	return swept
}

// Pending reports how many undelivered events a recipient has, expired
// entries included.
func (m *Mailbox) Pending(recipientID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[recipientID])
}

// sweep drops entries whose age is at or past the TTL. The surviving slice is
// rebuilt in place order-preserving; deposit order is the delivery order.
func (m *Mailbox) sweep(queue []models.SignalEvent, now time.Time) []models.SignalEvent {
	kept := queue[:0]
	for _, event := range queue {
		if now.Sub(event.CreatedAt) < m.ttl {
			kept = append(kept, event)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
