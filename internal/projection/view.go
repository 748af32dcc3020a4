package projection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"trustid/internal/ledger"
)

const defaultCheckpointEvery = 100

type viewOptions struct {
	checkpoints CheckpointStore
	every       uint64
	metrics     *Metrics
	logger      *slog.Logger
}

// Option configures a View.
type Option func(*viewOptions)

// WithCheckpoints persists the memoized state every `every` folded events.
func WithCheckpoints(store CheckpointStore, every uint64) Option {
	return func(o *viewOptions) {
		o.checkpoints = store
		if every > 0 {
			o.every = every
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *viewOptions) {
		o.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *viewOptions) {
		o.logger = logger
	}
}

// View memoizes a fold over the log behind a cursor (the last folded seq).
// Reads at or past the cursor catch up incrementally; reads of an older
// prefix are recomputed from genesis without touching the memo.
type View[S any] struct {
	viewOptions
	name   string
	reader ledger.Reader
	init   func() S
	fold   Fold[S]

	mu        sync.Mutex
	state     S
	cursor    uint64
	restored  bool
	lastSaved uint64
}

// NewView creates a view named name; the name keys its checkpoints and metrics.
func NewView[S any](name string, r ledger.Reader, init func() S, fold Fold[S], opts ...Option) *View[S] {
	v := &View[S]{
		viewOptions: viewOptions{every: defaultCheckpointEvery, logger: slog.Default()},
		name:        name,
		reader:      r,
		init:        init,
		fold:        fold,
		state:       init(),
	}
	for _, opt := range opts {
		opt(&v.viewOptions)
	}
	return v
}

// Cursor returns the last seq folded into the memo.
func (v *View[S]) Cursor() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cursor
}

// Read runs fn against the state folded over exactly [1, asOf] (asOf zero
// means the current tip) and passes the prefix length it resolved. fn must
// not retain or mutate the state.
func (v *View[S]) Read(ctx context.Context, asOf uint64, fn func(state S, asOf uint64) error) error {
	upTo, err := Resolve(ctx, v.reader, asOf)
	if err != nil {
		return err
	}

	v.mu.Lock()
	if upTo < v.cursor {
		v.mu.Unlock()
		state, _, err := Replay(ctx, v.reader, v.init(), v.fold, 0, upTo)
		if err != nil {
			return err
		}
		if v.metrics != nil {
			v.metrics.Recomputes.WithLabelValues(v.name).Inc()
		}
		return fn(state, upTo)
	}
	defer v.mu.Unlock()

	v.restore(ctx, upTo)
	if err := v.catchUp(ctx, upTo); err != nil {
		return err
	}
	if v.metrics != nil {
		if tip, err := v.reader.Tip(ctx); err == nil && tip >= v.cursor {
			v.metrics.Lag.WithLabelValues(v.name).Set(float64(tip - v.cursor))
		}
	}
	return fn(v.state, upTo)
}

func (v *View[S]) catchUp(ctx context.Context, upTo uint64) error {
	if upTo == v.cursor {
		return nil
	}
	state, n, err := Replay(ctx, v.reader, v.state, v.fold, v.cursor, upTo)
	if err != nil {
		// The memo may be partially folded; start over on the next read.
		v.state, v.cursor, v.lastSaved = v.init(), 0, 0
		return err
	}
	v.state, v.cursor = state, upTo
	if v.metrics != nil {
		v.metrics.FoldedEvents.WithLabelValues(v.name).Add(float64(n))
		v.metrics.Cursor.WithLabelValues(v.name).Set(float64(v.cursor))
	}
	v.checkpoint(ctx)
	return nil
}

// restore seeds an empty memo from the stored checkpoint when it was taken
// from this log and covers no more than the requested prefix.
func (v *View[S]) restore(ctx context.Context, upTo uint64) {
	if v.restored || v.checkpoints == nil || v.cursor != 0 {
		return
	}
	cp, ok, err := v.checkpoints.Load(ctx, v.name)
	if err != nil {
		v.countCheckpoint("load", "error")
		v.logger.WarnContext(ctx, "projection_checkpoint_load_failed", "view", v.name, "error", err)
		return
	}
	if !ok {
		v.restored = true
		return
	}
	same, err := v.anchored(ctx, cp)
	if err != nil {
		v.countCheckpoint("load", "error")
		v.logger.WarnContext(ctx, "projection_checkpoint_anchor_unreadable", "view", v.name, "cursor", cp.Cursor, "error", err)
		return
	}
	if !same {
		v.restored = true
		return
	}
	if cp.Cursor > upTo {
		return
	}
	state := v.init()
	if err := json.Unmarshal(cp.Snapshot, &state); err != nil {
		v.countCheckpoint("load", "error")
		v.logger.WarnContext(ctx, "projection_checkpoint_corrupt", "view", v.name, "cursor", cp.Cursor, "error", err)
		v.restored = true
		return
	}
	v.state, v.cursor, v.lastSaved, v.restored = state, cp.Cursor, cp.Cursor, true
	v.countCheckpoint("load", "success")
	v.logger.InfoContext(ctx, "projection_checkpoint_restored", "view", v.name, "cursor", cp.Cursor)
}

// anchored reports whether cp was taken from this log. A checkpoint from
// another log (a reset database, a fresh memory ledger) is deleted so a
// lower cursor can be saved in its place.
func (v *View[S]) anchored(ctx context.Context, cp Checkpoint) (bool, error) {
	if cp.Cursor > 0 && !cp.Anchor.IsNil() {
		events, err := v.reader.Read(ctx, cp.Cursor-1, cp.Cursor)
		if err != nil {
			return false, err
		}
		if len(events) == 1 && events[0].TxID == cp.Anchor {
			return true, nil
		}
	}
	v.countCheckpoint("load", "stale")
	v.logger.WarnContext(ctx, "projection_checkpoint_stale", "view", v.name, "cursor", cp.Cursor, "anchor", cp.Anchor.String())
	if err := v.checkpoints.Delete(ctx, v.name); err != nil {
		v.countCheckpoint("delete", "error")
		v.logger.WarnContext(ctx, "projection_checkpoint_delete_failed", "view", v.name, "error", err)
	}
	return false, nil
}

func (v *View[S]) checkpoint(ctx context.Context) {
	if v.checkpoints == nil || v.cursor-v.lastSaved < v.every {
		return
	}
	anchor, err := v.reader.Read(ctx, v.cursor-1, v.cursor)
	if err != nil || len(anchor) != 1 {
		v.countCheckpoint("save", "error")
		v.logger.WarnContext(ctx, "projection_checkpoint_anchor_unreadable", "view", v.name, "cursor", v.cursor, "error", err)
		return
	}
	snapshot, err := json.Marshal(v.state)
	if err != nil {
		v.countCheckpoint("save", "error")
		v.logger.WarnContext(ctx, "projection_checkpoint_encode_failed", "view", v.name, "error", err)
		return
	}
	if err := v.checkpoints.Save(ctx, v.name, Checkpoint{Cursor: v.cursor, Anchor: anchor[0].TxID, Snapshot: snapshot}); err != nil {
		v.countCheckpoint("save", "error")
		v.logger.WarnContext(ctx, "projection_checkpoint_save_failed", "view", v.name, "cursor", v.cursor, "error", err)
		return
	}
	v.lastSaved = v.cursor
	v.countCheckpoint("save", "success")
}

func (v *View[S]) countCheckpoint(op, outcome string) {
	if v.metrics != nil {
		v.metrics.Checkpoints.WithLabelValues(v.name, op, outcome).Inc()
	}
}
