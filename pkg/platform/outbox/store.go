package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the outbox persistence operations.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append stores the entries as one unit: all of them or none. Postgres
	// implementations join the transaction carried by ctx so the entries
	// commit with the ledger events.
	Append(ctx context.Context, entries ...*Entry) error

	// FetchUnprocessed returns up to limit pending entries in ledger order.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)

	// MarkProcessed marks an entry as published.
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error

	// CountPending returns the number of unprocessed entries.
	CountPending(ctx context.Context) (int64, error)

	// DeleteProcessedBefore removes old processed entries and returns how many were deleted.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
