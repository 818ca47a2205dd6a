package filesystem

import (
	"io"

	"github.com/gammazero/deque"

	"github.com/pterodactyl/streamfs/internal/ufs"
	"github.com/pterodactyl/streamfs/pull"
)

// WriteOptions configure a write stream. Mode is the permission the file is
// created with, the Filesystem's WriteMode when nil.
type WriteOptions struct {
	Mode *ufs.FileMode
}

type writeState int

const (
	writeOpening writeState = iota
	writeIdle
	writeWriting
	// writeAborting waits for the source to acknowledge an abort.
	writeAborting
	writeClosing
	writeDone
)

// writeStream is the state of one invocation of a Drain returned by a
// WriteStream sink. Every field is only touched from inside serial.
type writeStream struct {
	fs     ufs.Filesystem
	exec   pull.Executor
	path   string
	mode   ufs.FileMode
	source pull.Source[[]byte]
	done   func(error)

	serial  pull.Serial
	results deque.Deque[pull.Result[[]byte]]
	state   writeState
	reading bool
	file    ufs.File
	err     error
}

// WriteStream returns a Sink that writes every chunk of its source to path,
// creating or truncating the file. Opening the file and pulling the first
// chunk happen concurrently.
func (fs *Filesystem) WriteStream(p string, opts WriteOptions) pull.Sink[[]byte] {
	mode := fs.writeMode
	if opts.Mode != nil {
		mode = *opts.Mode
	}
	return func(source pull.Source[[]byte]) pull.Drain {
		return func(done func(error)) {
			s := &writeStream{
				fs:     fs.fs,
				exec:   fs.exec,
				path:   p,
				mode:   mode,
				source: source,
				done:   done,
			}
			s.serial.Do(s.start)
		}
	}
}

func (s *writeStream) start() {
	s.state = writeOpening
	s.exec.Submit(func() {
		f, err := s.fs.OpenFile(s.path, ufs.O_WRONLY|ufs.O_CREATE|ufs.O_TRUNC, s.mode)
		s.serial.Do(func() { s.opened(f, err) })
	})
	s.next()
}

// next pulls from the source unless a pull is already outstanding or a
// result is still waiting to be written.
func (s *writeStream) next() {
	if s.reading || s.results.Len() > 0 {
		return
	}
	switch s.state {
	case writeOpening, writeIdle, writeWriting:
	default:
		return
	}
	s.reading = true
	s.source(nil, func(chunk []byte, ok bool, err error) {
		s.serial.Do(func() { s.pulled(pull.Result[[]byte]{Value: chunk, Ok: ok, Err: err}) })
	})
}

func (s *writeStream) pulled(r pull.Result[[]byte]) {
	s.reading = false
	if s.state >= writeAborting {
		// The transfer already failed, whatever the source still had to say
		// is of no use.
		return
	}
	s.results.PushBack(r)
	s.check()
}

func (s *writeStream) opened(f ufs.File, err error) {
	if err != nil {
		s.fail(err)
		return
	}
	s.file = f
	s.state = writeIdle
	s.check()
}

// check writes the next pulled chunk once the file is open and no other
// write is in flight, then keeps the source busy.
func (s *writeStream) check() {
	for s.state == writeIdle && s.results.Len() > 0 {
		r := s.results.PopFront()
		if r.Terminal() {
			s.err = r.Err
			s.release()
			return
		}
		if len(r.Value) > 0 {
			s.write(r.Value)
		}
	}
	s.next()
}

func (s *writeStream) write(chunk []byte) {
	s.state = writeWriting
	f := s.file
	s.exec.Submit(func() {
		n, err := f.Write(chunk)
		s.serial.Do(func() { s.wrote(chunk, n, err) })
	})
}

func (s *writeStream) wrote(chunk []byte, n int, err error) {
	switch {
	case err != nil:
		s.fail(err)
	case n >= len(chunk):
		s.state = writeIdle
		s.check()
	case n > 0:
		// Short write, push the rest out before anything else.
		s.write(chunk[n:])
	default:
		s.fail(io.ErrShortWrite)
	}
}

// fail aborts the source with err so it can release its own resources and
// finishes once the source has acknowledged. err is what gets reported, the
// acknowledgment only tells us the source is done.
func (s *writeStream) fail(err error) {
	s.state = writeAborting
	s.err = err
	s.results.Clear()
	s.source(err, func([]byte, bool, error) {
		s.serial.Do(s.release)
	})
}

// release closes the file if it was opened and reports the outcome.
func (s *writeStream) release() {
	s.state = writeClosing
	f := s.file
	s.file = nil
	if f == nil {
		s.complete(nil)
		return
	}
	s.exec.Submit(func() {
		err := f.Close()
		s.serial.Do(func() { s.complete(err) })
	})
}

func (s *writeStream) complete(closeErr error) {
	if s.state == writeDone {
		return
	}
	s.state = writeDone
	err := s.err
	if err == nil {
		err = closeErr
	}
	if s.done != nil {
		s.done(err)
	}
}
