package ledger

import (
	"context"
	"sync"
	"time"

	id "trustid/pkg/domain"
	dErrors "trustid/pkg/domain-errors"
	"trustid/pkg/platform/outbox"
	"trustid/pkg/requestcontext"
)

// MemoryLog is an in-process ledger. Submissions are serialized by submitMu;
// the event slice has its own lock so a SubmitFunc can read the log it is
// about to extend.
type MemoryLog struct {
	submitMu sync.Mutex
	mu       sync.RWMutex
	events   []Event
	outbox   outbox.Store
}

// MemoryOption configures a MemoryLog.
type MemoryOption func(*MemoryLog)

// WithOutbox copies every committed event into the outbox.
func WithOutbox(store outbox.Store) MemoryOption {
	return func(l *MemoryLog) {
		l.outbox = store
	}
}

// NewMemoryLog creates an empty in-memory ledger.
func NewMemoryLog(opts ...MemoryOption) *MemoryLog {
	l := &MemoryLog{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLog) Tip(_ context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.events)), nil
}

func (l *MemoryLog) Read(ctx context.Context, after, upTo uint64) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger read canceled")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	tip := uint64(len(l.events))
	if upTo == 0 || upTo > tip {
		upTo = tip
	}
	if after >= upTo {
		return nil, nil
	}
	out := make([]Event, upTo-after)
	copy(out, l.events[after:upTo])
	return out, nil
}

func (l *MemoryLog) Submit(ctx context.Context, submitter id.Address, fn SubmitFunc) ([]Event, error) {
	l.submitMu.Lock()
	defer l.submitMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger submission canceled")
	}

	tip, err := l.Tip(ctx)
	if err != nil {
		return nil, err
	}
	drafts, err := fn(ctx, tip)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, nil
	}

	committed := seal(drafts, tip, submitter, requestcontext.Now(ctx))
	if l.outbox != nil {
		entries, err := OutboxEntries(committed)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to stage ledger event")
		}
		if err := l.outbox.Append(ctx, entries...); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to stage ledger events")
		}
	}

	l.mu.Lock()
	l.events = append(l.events, committed...)
	l.mu.Unlock()

	out := make([]Event, len(committed))
	copy(out, committed)
	return out, nil
}

// seal assigns seqs and the transaction envelope to a batch of drafts.
func seal(drafts []Draft, tip uint64, submitter id.Address, now time.Time) []Event {
	txID := id.NewTxID()
	events := make([]Event, len(drafts))
	for i, d := range drafts {
		events[i] = Event{
			Seq:       tip + uint64(i) + 1, // #nosec G115
			Kind:      d.Kind,
			TxID:      txID,
			Submitter: submitter,
			Timestamp: now.UTC(),
			Payload:   d.Payload,
		}
	}
	return events
}
