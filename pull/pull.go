// Package pull implements a demand-driven streaming protocol. A Source hands
// out one value per call, and only once asked for it; a Sink drives a Source
// to completion. One-shot operations are expressed as a Continuable.
//
// Every callback shape in this package follows the same convention:
//
//	cb(value, true, nil)  a value
//	cb(zero, false, nil)  clean end of stream
//	cb(zero, false, err)  the stream terminated with err
//
// End of stream is a success outcome and is never represented as an error.
package pull

import (
	"emperror.dev/errors"
)

// ErrCancel is passed as the abort argument of a Source to stop it without
// reporting an error. The Source acknowledges it with a clean end of stream.
const ErrCancel = errors.Sentinel("pull: stream canceled")

// Callback receives the outcome of a single pull.
type Callback[T any] func(value T, ok bool, err error)

// Source yields the next value of a sequence to cb. A nil abort requests the
// next value, a non-nil abort asks the Source to release its resources and
// stop; cb is then called once the Source has done so.
type Source[T any] func(abort error, cb Callback[T])

// Drain runs a transfer to completion and reports how it ended, nil for a
// clean end of stream.
type Drain func(done func(err error))

// Sink consumes a Source. Nothing happens until the returned Drain is
// invoked.
type Sink[T any] func(source Source[T]) Drain

// Continuable is a deferred single operation. Every invocation performs the
// operation again.
type Continuable[T any] func(cb func(result T, err error))

// Reason converts an abort signal into the error it should be acknowledged
// with: nil for ErrCancel, the abort itself otherwise.
func Reason(abort error) error {
	if errors.Is(abort, ErrCancel) {
		return nil
	}
	return abort
}

// Result is one produced outcome of a stream, waiting to be matched with a
// pull.
type Result[T any] struct {
	Value T
	Ok    bool
	Err   error
}

// Item wraps a value.
func Item[T any](v T) Result[T] {
	return Result[T]{Value: v, Ok: true}
}

// End is a terminal result, a clean end of stream if err is nil.
func End[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Terminal reports whether the result ends the stream.
func (r Result[T]) Terminal() bool {
	return !r.Ok
}

// Deliver hands the result to cb.
func (r Result[T]) Deliver(cb Callback[T]) {
	cb(r.Value, r.Ok, r.Err)
}
