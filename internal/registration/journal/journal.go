// Package journal records the progress of each registration so a crash or a
// failed identity write between the ledger commit and the store write is
// visible to the reconciler.
package journal

import (
	"time"

	"github.com/google/uuid"

	id "trustid/pkg/domain"
)

// State is a registration's position in the dual write.
type State string

const (
	StateStarted         State = "started"
	StateLedgerCommitted State = "ledger_committed"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// Pending reports whether the reconciler still owns the entry.
func (s State) Pending() bool {
	return s == StateStarted || s == StateLedgerCommitted
}

// Entry is one registration attempt. PasswordHash is cleared once the
// identity record is written.
type Entry struct {
	ID           uuid.UUID
	Username     string
	Role         id.Role
	Address      id.Address
	State        State
	LastError    string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
