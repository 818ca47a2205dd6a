package filesystem

import (
	"github.com/pterodactyl/streamfs/internal/ufs"
	"github.com/pterodactyl/streamfs/pull"
)

type dirState int

const (
	dirUnlisted dirState = iota
	dirListing
	dirListed
	dirClosed
)

type dirStream struct {
	fs   ufs.Filesystem
	exec pull.Executor
	path string

	serial pull.Serial
	queue  pull.Queue[string]
	state  dirState
	final  pull.Result[string]
}

// Readdir returns a Source producing the names of the entries in the
// directory at path, sorted by name. The directory is listed once, on the
// first pull; a failed listing is reported to every pull from then on.
func (fs *Filesystem) Readdir(p string) pull.Source[string] {
	s := &dirStream{fs: fs.fs, exec: fs.exec, path: p}
	return s.pull
}

func (s *dirStream) pull(abort error, cb pull.Callback[string]) {
	s.serial.Do(func() {
		if abort != nil {
			s.abort(abort, cb)
			return
		}
		if s.state == dirClosed {
			s.final.Deliver(cb)
			return
		}
		s.queue.Pull(cb)
		switch s.state {
		case dirUnlisted:
			s.list()
		case dirListed:
			s.check()
		}
	})
}

func (s *dirStream) list() {
	s.state = dirListing
	s.exec.Submit(func() {
		names, err := s.fs.ReadDirNames(s.path)
		s.serial.Do(func() { s.listed(names, err) })
	})
}

func (s *dirStream) listed(names []string, err error) {
	if s.state == dirClosed {
		return
	}
	s.state = dirListed
	for _, name := range names {
		s.queue.Push(pull.Item(name))
	}
	s.queue.Push(pull.End[string](err))
	s.check()
}

func (s *dirStream) check() {
	if r, ok := s.queue.Match(); ok {
		s.final = r
		s.state = dirClosed
		s.queue.Flush(r)
	}
}

// abort ends the stream without waiting for a listing in flight, there is
// no handle to release. Pulls still waiting get the abort outcome, later ones
// end of stream.
func (s *dirStream) abort(abort error, cb pull.Callback[string]) {
	r := pull.End[string](pull.Reason(abort))
	if s.state != dirClosed {
		s.state = dirClosed
		s.final = pull.End[string](nil)
		s.queue.Flush(r)
	}
	r.Deliver(cb)
}
