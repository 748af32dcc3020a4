package testutil

import (
	"sync"

	dErrors "trustid/pkg/domain-errors"
)

// Outcome holds the results of a Parallel run. Index i of Values and Errs
// belongs to the call fn(i).
type Outcome[T any] struct {
	Values []T
	Errs   []error
}

// Parallel runs fn(0) through fn(n-1) on separate goroutines released at
// the same moment, and waits for all of them.
func Parallel[T any](n int, fn func(i int) (T, error)) Outcome[T] {
	out := Outcome[T]{Values: make([]T, n), Errs: make([]error, n)}
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			<-start
			out.Values[i], out.Errs[i] = fn(i)
		})
	}
	close(start)
	wg.Wait()
	return out
}

// FirstErr returns the lowest-indexed error, if any.
func (o Outcome[T]) FirstErr() error {
	for _, err := range o.Errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Failures counts the failed calls by domain error code. Errors that carry
// no code count as internal.
func (o Outcome[T]) Failures() map[dErrors.Code]int {
	counts := map[dErrors.Code]int{}
	for _, err := range o.Errs {
		if err != nil {
			counts[dErrors.CodeOf(err)]++
		}
	}
	return counts
}

// Count returns how many successful values satisfy keep.
func (o Outcome[T]) Count(keep func(T) bool) int {
	n := 0
	for i, v := range o.Values {
		if o.Errs[i] == nil && keep(v) {
			n++
		}
	}
	return n
}
