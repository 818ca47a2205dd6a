package pull

// Executor runs blocking work, typically a single system call, and reports
// back through whatever the task closes over. *workerpool.WorkerPool
// satisfies it.
type Executor interface {
	Submit(task func())
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(task func())

// Submit calls f(task).
func (f ExecutorFunc) Submit(task func()) {
	f(task)
}

var (
	// Go runs every task on its own goroutine.
	Go Executor = ExecutorFunc(func(task func()) { go task() })

	// Inline runs every task on the calling goroutine before Submit returns.
	Inline Executor = ExecutorFunc(func(task func()) { task() })
)

// Async returns a Continuable that runs op on exec each time it is invoked.
func Async[T any](exec Executor, op func() (T, error)) Continuable[T] {
	return func(cb func(T, error)) {
		exec.Submit(func() {
			cb(op())
		})
	}
}

// Await invokes c and blocks until it completes.
func Await[T any](c Continuable[T]) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	c(func(v T, err error) {
		ch <- result{v, err}
	})
	r := <-ch
	return r.v, r.err
}

// Wait invokes d and blocks until the transfer completes.
func Wait(d Drain) error {
	ch := make(chan error, 1)
	d(func(err error) {
		ch <- err
	})
	return <-ch
}

// Next pulls a single value from source and blocks until it arrives.
func Next[T any](source Source[T]) (T, bool, error) {
	return pullSync(source, nil)
}

// Abort sends abort to source and blocks until it is acknowledged,
// returning the error the acknowledgment carried.
func Abort[T any](source Source[T], abort error) error {
	_, _, err := pullSync(source, abort)
	return err
}

func pullSync[T any](source Source[T], abort error) (T, bool, error) {
	ch := make(chan Result[T], 1)
	source(abort, func(v T, ok bool, err error) {
		ch <- Result[T]{Value: v, Ok: ok, Err: err}
	})
	r := <-ch
	return r.Value, r.Ok, r.Err
}
