package ledger

//go:generate mockgen -source=log.go -destination=mocks/mock_log.go -package=mocks Reader,Log

import (
	"context"

	id "trustid/pkg/domain"
)

// SubmitFunc decides which events a submission appends. It runs at the
// ledger's single serialization point: no other submission commits between
// the tip it is given and the commit of the drafts it returns. Returning no
// drafts commits nothing.
type SubmitFunc func(ctx context.Context, tip uint64) ([]Draft, error)

// Reader is the read side of the ordered log.
type Reader interface {
	// Read returns committed events with after < seq <= upTo in order.
	Read(ctx context.Context, after, upTo uint64) ([]Event, error)
	// Tip returns the seq of the last committed event (0 for an empty log).
	Tip(ctx context.Context) (uint64, error)
}

// Log is the ledger platform: an ordered, replayable log with atomic,
// serialized submission. Events returned by Submit are visible to Read as
// soon as Submit returns.
type Log interface {
	Reader
	Submit(ctx context.Context, submitter id.Address, fn SubmitFunc) ([]Event, error)
}

// ReadAll returns every event committed up to upTo.
func ReadAll(ctx context.Context, r Reader, upTo uint64) ([]Event, error) {
	return r.Read(ctx, 0, upTo)
}
