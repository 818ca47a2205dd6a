package filesystem

import (
	"io"
	"path/filepath"
	"sync"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gammazero/workerpool"

	"github.com/pterodactyl/streamfs/internal/ufs"
	"github.com/pterodactyl/streamfs/pull"
)

// DefaultChunkSize is the largest chunk a read stream asks the kernel for.
const DefaultChunkSize = 8192

// Options configure a Filesystem. The zero value is usable.
type Options struct {
	// Executor runs the blocking system calls. When nil a worker pool of
	// Workers goroutines is created and stopped again by Close.
	Executor pull.Executor
	Workers  int

	// ChunkSize overrides DefaultChunkSize for read streams.
	ChunkSize int

	// WriteMode is the mode files created by Write and WriteStream get when
	// no explicit mode is passed, 0o644 by default.
	WriteMode ufs.FileMode

	// UseOpenat2 switches the confined backend to openat2(2), which needs
	// Linux 5.6 or newer.
	UseOpenat2 bool

	// Denylist holds .gitignore style patterns of files that may not be
	// opened, removed, renamed or linked.
	Denylist []string
}

// Filesystem exposes file and directory operations as deferred work: one
// shot operations return a pull.Continuable, bulk transfers a pull.Source or
// pull.Sink. Nothing touches the disk until the returned value is invoked.
type Filesystem struct {
	fs        *guardedFS
	exec      *closableExecutor
	pool      *workerpool.WorkerPool
	root      string
	chunkSize int
	writeMode ufs.FileMode
	closeOnce sync.Once
}

// New returns a Filesystem operating on backend.
func New(backend ufs.Filesystem, opts Options) *Filesystem {
	fs := &Filesystem{
		fs:        guard(backend, opts.Denylist),
		chunkSize: opts.ChunkSize,
		writeMode: opts.WriteMode,
	}
	exec := opts.Executor
	if exec == nil {
		workers := opts.Workers
		if workers <= 0 {
			workers = 4
		}
		fs.pool = workerpool.New(workers)
		exec = fs.pool
	}
	fs.exec = &closableExecutor{exec: exec, owned: fs.pool != nil}
	if fs.chunkSize <= 0 {
		fs.chunkSize = DefaultChunkSize
	}
	if fs.writeMode == 0 {
		fs.writeMode = 0o644
	}
	return fs
}

// Chroot returns a Filesystem confined to root. Every path given to it,
// absolute or not, is resolved beneath root; rename resolves both of its
// paths and symlink the path of the link it creates.
func Chroot(root string, opts Options) (*Filesystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	backend, err := ufs.NewUnixFS(abs, opts.UseOpenat2)
	if err != nil {
		return nil, errors.WrapIf(err, "filesystem: failed to open root directory")
	}
	fs := New(backend, opts)
	fs.root = backend.BasePath()
	fs.log().WithField("openat2", opts.UseOpenat2).Debug("opened confined filesystem")
	return fs, nil
}

// Local returns a Filesystem that passes paths through to the operating
// system unchanged.
func Local(opts Options) *Filesystem {
	return New(ufs.NewOSFS(), opts)
}

// Root returns the directory a confined Filesystem is rooted at, or an empty
// string for an unconfined one.
func (fs *Filesystem) Root() string {
	return fs.root
}

// Close waits for outstanding system calls to finish and releases the
// backend. Operations started afterwards, including the next call of a
// stream that is still open, fail with ufs.ErrClosed.
func (fs *Filesystem) Close() error {
	var err error
	fs.closeOnce.Do(func() {
		fs.fs.closed.Store(true)
		fs.exec.close()
		if fs.pool != nil {
			fs.pool.StopWait()
		}
		err = fs.fs.Close()
		fs.log().Debug("closed filesystem")
	})
	return err
}

// closableExecutor stops handing tasks to exec once closed and runs them on
// the calling goroutine instead. Those tasks only reach a closed backend.
// Submitting to an owned worker pool holds the read lock so that Close
// cannot stop the pool in between.
type closableExecutor struct {
	mu     sync.RWMutex
	closed bool
	exec   pull.Executor
	owned  bool
}

func (e *closableExecutor) Submit(task func()) {
	if !e.owned {
		e.mu.RLock()
		closed := e.closed
		e.mu.RUnlock()
		if closed {
			task()
		} else {
			e.exec.Submit(task)
		}
		return
	}

	e.mu.RLock()
	if !e.closed {
		e.exec.Submit(task)
		e.mu.RUnlock()
		return
	}
	e.mu.RUnlock()
	task()
}

func (e *closableExecutor) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func (fs *Filesystem) log() *log.Entry {
	return log.WithField("subsystem", "filesystem").WithField("root", fs.root)
}

// Stat returns the metadata of path, following symlinks.
func (fs *Filesystem) Stat(p string) pull.Continuable[*StatRecord] {
	return pull.Async(fs.exec, func() (*StatRecord, error) {
		st, err := fs.fs.Stat(p)
		if err != nil {
			return nil, err
		}
		return NewStatRecord(st), nil
	})
}

// Lstat is like Stat but describes a symlink itself.
func (fs *Filesystem) Lstat(p string) pull.Continuable[*StatRecord] {
	return pull.Async(fs.exec, func() (*StatRecord, error) {
		st, err := fs.fs.Lstat(p)
		if err != nil {
			return nil, err
		}
		return NewStatRecord(st), nil
	})
}

// Read returns the whole contents of path.
func (fs *Filesystem) Read(p string) pull.Continuable[[]byte] {
	return pull.Async(fs.exec, func() ([]byte, error) {
		f, err := fs.fs.OpenFile(p, ufs.O_RDONLY, 0)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	})
}

// Write replaces the contents of path with data, creating the file if
// needed.
func (fs *Filesystem) Write(p string, data []byte) pull.Continuable[struct{}] {
	return pull.Async(fs.exec, func() (struct{}, error) {
		f, err := fs.fs.OpenFile(p, ufs.O_WRONLY|ufs.O_CREATE|ufs.O_TRUNC, fs.writeMode)
		if err != nil {
			return struct{}{}, err
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return struct{}{}, err
		}
		return struct{}{}, f.Close()
	})
}

// Unlink removes the file at path.
func (fs *Filesystem) Unlink(p string) pull.Continuable[struct{}] {
	return fs.do(func() error { return fs.fs.Unlink(p) })
}

// Rmdir removes the empty directory at path.
func (fs *Filesystem) Rmdir(p string) pull.Continuable[struct{}] {
	return fs.do(func() error { return fs.fs.Rmdir(p) })
}

// Mkdir creates the directory at path with mode 0o777 before umask.
func (fs *Filesystem) Mkdir(p string) pull.Continuable[struct{}] {
	return fs.do(func() error { return fs.fs.Mkdir(p, 0o777) })
}

// Readlink returns the target of the symlink at path.
func (fs *Filesystem) Readlink(p string) pull.Continuable[string] {
	return pull.Async(fs.exec, func() (string, error) {
		return fs.fs.Readlink(p)
	})
}

// Symlink creates a symlink at linkPath pointing to target.
func (fs *Filesystem) Symlink(target, linkPath string) pull.Continuable[struct{}] {
	return fs.do(func() error { return fs.fs.Symlink(target, linkPath) })
}

// Rename moves oldPath to newPath.
func (fs *Filesystem) Rename(oldPath, newPath string) pull.Continuable[struct{}] {
	return fs.do(func() error { return fs.fs.Rename(oldPath, newPath) })
}

func (fs *Filesystem) do(op func() error) pull.Continuable[struct{}] {
	return pull.Async(fs.exec, func() (struct{}, error) {
		return struct{}{}, op()
	})
}
