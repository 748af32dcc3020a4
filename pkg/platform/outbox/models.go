// Package outbox implements the transactional outbox used to stream
// committed ledger events to Kafka.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Entry is a pending message written in the same transaction as the ledger
// events it describes.
type Entry struct {
	ID            uuid.UUID
	AggregateType string // "registry" or "credential"
	AggregateID   string // party address or token id
	EventType     string // ledger event kind
	Seq           uint64 // ledger seq of the event
	Payload       []byte // JSON-encoded ledger.Event
	CreatedAt     time.Time
	ProcessedAt   *time.Time // nil until published
}

// IsPending returns true if this entry has not been processed yet.
func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// NewEntry creates a new outbox entry with a generated UUID.
func NewEntry(aggregateType, aggregateID, eventType string, seq uint64, payload []byte, now time.Time) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Seq:           seq,
		Payload:       payload,
		CreatedAt:     now,
	}
}
