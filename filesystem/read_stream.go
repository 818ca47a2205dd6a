package filesystem

import (
	"io"

	"github.com/pterodactyl/streamfs/internal/ufs"
	"github.com/pterodactyl/streamfs/pull"
)

// ReadOptions bound the byte range of a read stream. Start is the first
// offset read, End the offset reading stops at (exclusive). With neither set
// the file is read sequentially from its current position.
type ReadOptions struct {
	Start *int64
	End   *int64
}

type readState int

const (
	readUnopened readState = iota
	readOpening
	readIdle
	readReading
	readClosing
	readClosed
)

// readStream is the state behind a Source returned by ReadStream. Every
// field is only touched from inside serial.
type readStream struct {
	fs         ufs.Filesystem
	exec       pull.Executor
	path       string
	chunkSize  int
	end        *int64
	positional bool

	serial pull.Serial
	queue  pull.Queue[[]byte]
	state  readState
	file   ufs.File
	pos    int64
	// final is what every pull is resolved with once the stream is closed.
	final pull.Result[[]byte]
}

// ReadStream returns a Source producing the contents of path in chunks of at
// most ChunkSize bytes. The file is opened on the first pull and closed
// after the stream ends, fails or is aborted.
func (fs *Filesystem) ReadStream(p string, opts ReadOptions) pull.Source[[]byte] {
	s := &readStream{
		fs:         fs.fs,
		exec:       fs.exec,
		path:       p,
		chunkSize:  fs.chunkSize,
		end:        opts.End,
		positional: opts.Start != nil || opts.End != nil,
	}
	if opts.Start != nil {
		s.pos = *opts.Start
	}
	return s.pull
}

func (s *readStream) pull(abort error, cb pull.Callback[[]byte]) {
	s.serial.Do(func() {
		if abort != nil {
			s.abort(abort, cb)
			return
		}
		s.queue.Pull(cb)
		s.check()
	})
}

// check delivers whatever can be delivered and then, if a pull is still
// waiting, starts the next system call.
func (s *readStream) check() {
	if s.state == readClosed {
		s.queue.Flush(s.final)
		return
	}
	if r, ok := s.queue.Match(); ok {
		s.finish(r)
		return
	}
	if s.queue.Waiting() == 0 || s.queue.Buffered() > 0 {
		return
	}
	switch s.state {
	case readUnopened:
		s.open()
	case readIdle:
		s.read()
	}
}

func (s *readStream) open() {
	s.state = readOpening
	s.exec.Submit(func() {
		f, err := s.fs.OpenFile(s.path, ufs.O_RDONLY, 0)
		s.serial.Do(func() { s.opened(f, err) })
	})
}

func (s *readStream) opened(f ufs.File, err error) {
	if s.state == readClosing {
		// Aborted while the open was in flight.
		if err == nil {
			s.file = f
		}
		s.release()
		return
	}
	if err != nil {
		// Nothing can be buffered ahead of an open, the error is next in line.
		s.finish(pull.End[[]byte](err))
		return
	}
	s.file = f
	s.state = readIdle
	s.check()
}

func (s *readStream) read() {
	n := s.chunkSize
	if s.end != nil {
		if remaining := *s.end - s.pos; remaining < int64(n) {
			n = int(remaining)
		}
		if n <= 0 {
			s.queue.Push(pull.End[[]byte](nil))
			s.check()
			return
		}
	}

	s.state = readReading
	f, pos, positional := s.file, s.pos, s.positional
	buf := make([]byte, n)
	s.exec.Submit(func() {
		var read int
		var err error
		if positional {
			read, err = f.ReadAt(buf, pos)
		} else {
			read, err = f.Read(buf)
		}
		s.serial.Do(func() { s.onRead(buf[:read], err) })
	})
}

func (s *readStream) onRead(chunk []byte, err error) {
	if s.state == readClosing {
		// Aborted while the read was in flight, its result is discarded.
		s.release()
		return
	}
	s.state = readIdle
	switch {
	case len(chunk) > 0:
		// A short read is delivered as is, even when it came with io.EOF;
		// the next read reports the end.
		s.pos += int64(len(chunk))
		s.queue.Push(pull.Item(chunk))
	case err == nil || err == io.EOF:
		s.queue.Push(pull.End[[]byte](nil))
	default:
		s.queue.Push(pull.End[[]byte](err))
	}
	s.check()
}

// finish starts closing the stream after it produced its terminal result.
func (s *readStream) finish(r pull.Result[[]byte]) {
	s.final = r
	s.state = readClosing
	s.release()
}

func (s *readStream) abort(abort error, cb pull.Callback[[]byte]) {
	r := pull.End[[]byte](pull.Reason(abort))
	if s.state == readClosed {
		r.Deliver(cb)
		return
	}
	// The abort outcome replaces anything produced so far, including a
	// terminal result that is still being closed over.
	s.final = r
	s.queue.Discard()
	s.queue.Pull(cb)

	busy := s.state == readOpening || s.state == readReading || s.state == readClosing
	s.state = readClosing
	if busy {
		// Whatever is in flight calls release once it completes.
		return
	}
	s.release()
}

// release closes the file, if one is open, and then resolves every waiting
// pull with the final result. It runs exactly once per stream.
func (s *readStream) release() {
	f := s.file
	s.file = nil
	if f == nil {
		s.closed()
		return
	}
	s.exec.Submit(func() {
		_ = f.Close()
		s.serial.Do(s.closed)
	})
}

func (s *readStream) closed() {
	s.state = readClosed
	s.queue.Flush(s.final)
}
