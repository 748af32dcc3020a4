// Package projection derives read models by folding the ordered ledger log.
// There is no secondary index: every view is a pure function of a log prefix.
package projection

import (
	"context"

	"trustid/internal/ledger"
	dErrors "trustid/pkg/domain-errors"
)

// Fold applies one event to a state and returns the resulting state.
type Fold[S any] func(state S, e ledger.Event) (S, error)

// Resolve turns a requested as-of into a concrete prefix length. Zero means
// the current tip; a prefix beyond the tip is rejected so a snapshot can
// never change after it has been served.
func Resolve(ctx context.Context, r ledger.Reader, asOf uint64) (uint64, error) {
	tip, err := r.Tip(ctx)
	if err != nil {
		return 0, err
	}
	if asOf == 0 {
		return tip, nil
	}
	if asOf > tip {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "as_of is beyond the ledger tip")
	}
	return asOf, nil
}

// Replay folds the events after `after` up to `upTo` into state.
func Replay[S any](ctx context.Context, r ledger.Reader, state S, fold Fold[S], after, upTo uint64) (S, int, error) {
	if upTo <= after {
		return state, 0, nil
	}
	events, err := r.Read(ctx, after, upTo)
	if err != nil {
		return state, 0, err
	}
	for _, e := range events {
		if state, err = fold(state, e); err != nil {
			return state, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fold ledger event")
		}
	}
	return state, len(events), nil
}

// Compute folds a fresh state over the prefix [1, asOf].
func Compute[S any](ctx context.Context, r ledger.Reader, init func() S, fold Fold[S], asOf uint64) (S, uint64, error) {
	upTo, err := Resolve(ctx, r, asOf)
	if err != nil {
		var zero S
		return zero, 0, err
	}
	state, _, err := Replay(ctx, r, init(), fold, 0, upTo)
	return state, upTo, err
}

// Project returns the events of the given kinds that satisfy match, in log
// order, over the prefix [1, asOf]. A nil match selects every event of the
// kinds; no kinds selects every kind.
func Project(ctx context.Context, r ledger.Reader, asOf uint64, kinds []ledger.Kind, match func(ledger.Event) bool) ([]ledger.Event, error) {
	upTo, err := Resolve(ctx, r, asOf)
	if err != nil {
		return nil, err
	}
	if upTo == 0 {
		return nil, nil
	}
	events, err := r.Read(ctx, 0, upTo)
	if err != nil {
		return nil, err
	}
	wanted := make(map[ledger.Kind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}
	var out []ledger.Event
	for _, e := range events {
		if len(wanted) > 0 && !wanted[e.Kind] {
			continue
		}
		if match == nil || match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ProjectAs is Project with typed payloads.
func ProjectAs[T any](ctx context.Context, r ledger.Reader, asOf uint64, kind ledger.Kind, match func(T) bool) ([]T, error) {
	events, err := Project(ctx, r, asOf, []ledger.Kind{kind}, nil)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(events))
	for _, e := range events {
		p, err := ledger.Decode[T](e)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode ledger event")
		}
		if match == nil || match(p) {
			out = append(out, p)
		}
	}
	return out, nil
}
