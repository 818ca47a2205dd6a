package pull

import (
	"io"
	"sync"

	"github.com/juju/ratelimit"
)

// Values returns a Source yielding each of values in turn and then ending.
// An abort ends it early; later pulls see a clean end of stream.
func Values[T any](values ...T) Source[T] {
	var mu sync.Mutex
	var i int
	return func(abort error, cb Callback[T]) {
		mu.Lock()
		if abort != nil {
			i = len(values)
			mu.Unlock()
			End[T](Reason(abort)).Deliver(cb)
			return
		}
		if i >= len(values) {
			mu.Unlock()
			End[T](nil).Deliver(cb)
			return
		}
		v := values[i]
		i++
		mu.Unlock()
		Item(v).Deliver(cb)
	}
}

// Empty returns a Source that ends immediately.
func Empty[T any]() Source[T] {
	return Values[T]()
}

// Error returns a Source whose every pull fails with err. Aborts are
// acknowledged as usual.
func Error[T any](err error) Source[T] {
	return func(abort error, cb Callback[T]) {
		if abort != nil {
			End[T](Reason(abort)).Deliver(cb)
			return
		}
		End[T](err).Deliver(cb)
	}
}

// Reader returns a Source handing out what r produces in chunks of at most
// size bytes. Reads block the puller. An abort is acknowledged right away,
// even while a read is still blocked.
func Reader(r io.Reader, size int) Source[[]byte] {
	var (
		mu    sync.Mutex
		done  bool
		final error
	)
	return func(abort error, cb Callback[[]byte]) {
		mu.Lock()
		if abort != nil {
			done = true
			mu.Unlock()
			End[[]byte](Reason(abort)).Deliver(cb)
			return
		}
		if done {
			err := final
			mu.Unlock()
			End[[]byte](err).Deliver(cb)
			return
		}
		mu.Unlock()

		buf := make([]byte, size)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				Item(buf[:n]).Deliver(cb)
				return
			}
			if err == nil {
				continue
			}
			if err == io.EOF {
				err = nil
			}
			mu.Lock()
			if !done {
				done, final = true, err
			}
			err = final
			mu.Unlock()
			End[[]byte](err).Deliver(cb)
			return
		}
	}
}

// Throttle limits the rate at which source hands out bytes. Each chunk is
// held back until bucket has enough tokens for all of its bytes, on the
// goroutine that produced it.
func Throttle(source Source[[]byte], bucket *ratelimit.Bucket) Source[[]byte] {
	return func(abort error, cb Callback[[]byte]) {
		if abort != nil {
			source(abort, cb)
			return
		}
		source(nil, func(chunk []byte, ok bool, err error) {
			if ok && len(chunk) > 0 {
				bucket.Wait(int64(len(chunk)))
			}
			cb(chunk, ok, err)
		})
	}
}

// Each pulls source until it ends, calling fn with every value, then calls
// done with the terminal error. Sources that answer synchronously are pulled
// in a loop rather than recursively, so the stack does not grow with the
// length of the stream.
func Each[T any](source Source[T], fn func(T), done func(error)) {
	var loop func()
	loop = func() {
		for {
			var (
				mu       sync.Mutex
				returned bool
				resolved bool
			)
			source(nil, func(v T, ok bool, err error) {
				if !ok {
					done(err)
					return
				}
				fn(v)
				mu.Lock()
				resolved = true
				async := returned
				mu.Unlock()
				if async {
					loop()
				}
			})
			mu.Lock()
			returned = true
			again := resolved
			mu.Unlock()
			if !again {
				return
			}
		}
	}
	loop()
}

// Collect returns a Continuable gathering every value of source.
func Collect[T any](source Source[T]) Continuable[[]T] {
	return func(cb func([]T, error)) {
		var out []T
		Each(source, func(v T) {
			out = append(out, v)
		}, func(err error) {
			cb(out, err)
		})
	}
}

// Concat returns a Continuable joining every chunk of source.
func Concat(source Source[[]byte]) Continuable[[]byte] {
	return func(cb func([]byte, error)) {
		var out []byte
		Each(source, func(chunk []byte) {
			out = append(out, chunk...)
		}, func(err error) {
			cb(out, err)
		})
	}
}
