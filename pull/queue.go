package pull

import (
	"github.com/gammazero/deque"
)

// Queue pairs pulls waiting for data with results waiting for a pull, both
// in arrival order. The zero value is ready to use.
//
// Queue is not safe for concurrent use, the owner serialises access to it
// (see Serial). Callbacks are invoked synchronously from Match and Flush.
type Queue[T any] struct {
	pulls   deque.Deque[Callback[T]]
	results deque.Deque[Result[T]]
}

// Pull records a pull waiting for a result.
func (q *Queue[T]) Pull(cb Callback[T]) {
	q.pulls.PushBack(cb)
}

// Push records a produced result waiting for a pull.
func (q *Queue[T]) Push(r Result[T]) {
	q.results.PushBack(r)
}

// Waiting returns the number of unresolved pulls.
func (q *Queue[T]) Waiting() int {
	return q.pulls.Len()
}

// Buffered returns the number of results that have no pull yet.
func (q *Queue[T]) Buffered() int {
	return q.results.Len()
}

// Match resolves waiting pulls with buffered results, oldest with oldest,
// until either side runs out. A terminal result is not delivered: it is
// removed and returned with true so the owner can clean up before it
// resolves the remaining pulls with Flush.
func (q *Queue[T]) Match() (Result[T], bool) {
	for q.pulls.Len() > 0 && q.results.Len() > 0 {
		r := q.results.PopFront()
		if r.Terminal() {
			return r, true
		}
		r.Deliver(q.pulls.PopFront())
	}
	return Result[T]{}, false
}

// Discard drops every buffered result.
func (q *Queue[T]) Discard() {
	q.results.Clear()
}

// Flush drops every buffered result and resolves all waiting pulls with r.
func (q *Queue[T]) Flush(r Result[T]) {
	q.results.Clear()
	for q.pulls.Len() > 0 {
		r.Deliver(q.pulls.PopFront())
	}
}
