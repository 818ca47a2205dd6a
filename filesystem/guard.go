package filesystem

import (
	"path"
	"strings"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/cenkalti/backoff/v4"
	ignore "github.com/sabhiram/go-gitignore"
	"golang.org/x/sys/unix"

	"github.com/pterodactyl/streamfs/internal/ufs"
)

// ErrDenylistFile is returned when a path matches the denylist of a
// Filesystem.
const ErrDenylistFile = errors.Sentinel("filesystem: file is on the denylist")

// busyInterval is the first pause before opening a busy executable again.
var busyInterval = 100 * time.Millisecond

// guardedFS sits between a Filesystem and its backend. It refuses to touch
// paths on the denylist and retries opening a file for writing while the
// kernel reports it as a running executable. Once closed every call fails
// with ufs.ErrClosed without reaching the backend.
type guardedFS struct {
	ufs.Filesystem

	denylist *ignore.GitIgnore
	closed   atomic.Bool
}

func guard(backend ufs.Filesystem, denylist []string) *guardedFS {
	return &guardedFS{Filesystem: backend, denylist: ignore.CompileIgnoreLines(denylist...)}
}

// IsIgnored returns an error for the first of paths that is on the
// denylist. Patterns follow .gitignore rules, anchored at the root.
func (fs *guardedFS) IsIgnored(paths ...string) error {
	for _, p := range paths {
		clean := strings.TrimPrefix(path.Clean("/"+p), "/")
		if clean != "" && fs.denylist.MatchesPath(clean) {
			return errors.WithDetails(errors.WithStack(ErrDenylistFile), "path", p)
		}
	}
	return nil
}

// check fails once the filesystem is closed, then consults the denylist.
func (fs *guardedFS) check(op string, paths ...string) error {
	if err := fs.live(op, paths[0]); err != nil {
		return err
	}
	return fs.IsIgnored(paths...)
}

// live fails once the filesystem is closed.
func (fs *guardedFS) live(op, name string) error {
	if fs.closed.Load() {
		return &ufs.PathError{Op: op, Path: name, Err: ufs.ErrClosed}
	}
	return nil
}

func (fs *guardedFS) OpenFile(name string, flag int, perm ufs.FileMode) (ufs.File, error) {
	if err := fs.check("open", name); err != nil {
		return nil, err
	}
	if flag&(ufs.O_WRONLY|ufs.O_RDWR) == 0 {
		f, err := fs.Filesystem.OpenFile(name, flag, perm)
		if err != nil {
			return nil, err
		}
		return &guardedFile{File: f, fs: fs}, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = busyInterval
	b.RandomizationFactor = 0
	b.Reset()

	var f ufs.File
	err := backoff.Retry(func() error {
		var err error
		f, err = fs.Filesystem.OpenFile(name, flag, perm)
		if err != nil && !errors.Is(err, unix.ETXTBSY) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(b, 3))
	if err != nil {
		return nil, err
	}
	return &guardedFile{File: f, fs: fs}, nil
}

// guardedFile refuses reads and writes once its filesystem is closed.
// Closing it always reaches the backend.
type guardedFile struct {
	ufs.File
	fs *guardedFS
}

func (f *guardedFile) Read(b []byte) (int, error) {
	if err := f.fs.live("read", f.Name()); err != nil {
		return 0, err
	}
	return f.File.Read(b)
}

func (f *guardedFile) ReadAt(b []byte, off int64) (int, error) {
	if err := f.fs.live("read", f.Name()); err != nil {
		return 0, err
	}
	return f.File.ReadAt(b, off)
}

func (f *guardedFile) Write(b []byte) (int, error) {
	if err := f.fs.live("write", f.Name()); err != nil {
		return 0, err
	}
	return f.File.Write(b)
}

func (fs *guardedFS) ReadDirNames(name string) ([]string, error) {
	if err := fs.live("readdir", name); err != nil {
		return nil, err
	}
	return fs.Filesystem.ReadDirNames(name)
}

func (fs *guardedFS) Stat(name string) (ufs.FileInfo, error) {
	if err := fs.live("stat", name); err != nil {
		return nil, err
	}
	return fs.Filesystem.Stat(name)
}

func (fs *guardedFS) Lstat(name string) (ufs.FileInfo, error) {
	if err := fs.live("lstat", name); err != nil {
		return nil, err
	}
	return fs.Filesystem.Lstat(name)
}

func (fs *guardedFS) Rmdir(name string) error {
	if err := fs.live("rmdir", name); err != nil {
		return err
	}
	return fs.Filesystem.Rmdir(name)
}

func (fs *guardedFS) Mkdir(name string, perm ufs.FileMode) error {
	if err := fs.live("mkdir", name); err != nil {
		return err
	}
	return fs.Filesystem.Mkdir(name, perm)
}

func (fs *guardedFS) Readlink(name string) (string, error) {
	if err := fs.live("readlink", name); err != nil {
		return "", err
	}
	return fs.Filesystem.Readlink(name)
}

func (fs *guardedFS) Unlink(name string) error {
	if err := fs.check("unlink", name); err != nil {
		return err
	}
	return fs.Filesystem.Unlink(name)
}

func (fs *guardedFS) Rename(oldpath, newpath string) error {
	if err := fs.check("rename", oldpath, newpath); err != nil {
		return err
	}
	return fs.Filesystem.Rename(oldpath, newpath)
}

func (fs *guardedFS) Symlink(oldname, newname string) error {
	if err := fs.check("symlink", newname); err != nil {
		return err
	}
	return fs.Filesystem.Symlink(oldname, newname)
}
