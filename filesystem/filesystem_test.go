//go:build linux

package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pterodactyl/streamfs/internal/ufs"
	"github.com/pterodactyl/streamfs/pull"
)

// countingFS records the calls that reach the backend and lets a test
// misbehave on writes.
type countingFS struct {
	ufs.Filesystem

	mu     sync.Mutex
	opens  int
	lists  int
	reads  int
	writes int
	closes int

	// maxWrite caps how many bytes a single write accepts.
	maxWrite int
	// zeroWrite makes every write accept nothing without failing.
	zeroWrite bool
	writeErr  error
	readErr   error
	closeErr  error

	// readGate, when set, holds every read until it is closed. The first
	// read to wait signals readBlocked.
	readGate    chan struct{}
	readBlocked chan struct{}
}

func (fs *countingFS) OpenFile(name string, flag int, perm ufs.FileMode) (ufs.File, error) {
	fs.mu.Lock()
	fs.opens++
	fs.mu.Unlock()
	f, err := fs.Filesystem.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &countingFile{File: f, fs: fs}, nil
}

func (fs *countingFS) ReadDirNames(name string) ([]string, error) {
	fs.mu.Lock()
	fs.lists++
	fs.mu.Unlock()
	return fs.Filesystem.ReadDirNames(name)
}

func (fs *countingFS) count(n *int) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return *n
}

type countingFile struct {
	ufs.File
	fs *countingFS
}

// read counts a read and reports the error it should fail with.
func (f *countingFile) read() error {
	f.fs.mu.Lock()
	f.fs.reads++
	reads, rerr := f.fs.reads, f.fs.readErr
	gate, blocked := f.fs.readGate, f.fs.readBlocked
	f.fs.mu.Unlock()
	if gate != nil {
		select {
		case blocked <- struct{}{}:
		default:
		}
		<-gate
	}
	// The first read always succeeds so a stream fails midway.
	if rerr != nil && reads > 1 {
		return rerr
	}
	return nil
}

func (f *countingFile) Read(b []byte) (int, error) {
	if err := f.read(); err != nil {
		return 0, err
	}
	return f.File.Read(b)
}

func (f *countingFile) ReadAt(b []byte, off int64) (int, error) {
	if err := f.read(); err != nil {
		return 0, err
	}
	return f.File.ReadAt(b, off)
}

func (f *countingFile) Write(b []byte) (int, error) {
	f.fs.mu.Lock()
	f.fs.writes++
	maxWrite, zero, werr := f.fs.maxWrite, f.fs.zeroWrite, f.fs.writeErr
	f.fs.mu.Unlock()
	switch {
	case werr != nil:
		return 0, werr
	case zero:
		return 0, nil
	case maxWrite > 0 && len(b) > maxWrite:
		return f.File.Write(b[:maxWrite])
	}
	return f.File.Write(b)
}

func (f *countingFile) Close() error {
	f.fs.mu.Lock()
	f.fs.closes++
	cerr := f.fs.closeErr
	f.fs.mu.Unlock()
	if err := f.File.Close(); err != nil {
		return err
	}
	return cerr
}

// manualExecutor holds submitted system calls until the test runs them.
type manualExecutor struct {
	mu    sync.Mutex
	tasks []func()
}

func (e *manualExecutor) Submit(task func()) {
	e.mu.Lock()
	e.tasks = append(e.tasks, task)
	e.mu.Unlock()
}

// RunOne runs the oldest pending task and reports whether there was one.
func (e *manualExecutor) RunOne() bool {
	e.mu.Lock()
	if len(e.tasks) == 0 {
		e.mu.Unlock()
		return false
	}
	task := e.tasks[0]
	e.tasks = e.tasks[1:]
	e.mu.Unlock()
	task()
	return true
}

func (e *manualExecutor) RunAll() {
	for e.RunOne() {
	}
}

func (e *manualExecutor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

type testFS struct {
	*Filesystem
	backend *countingFS
	dir     string
}

func (fs *testFS) Cleanup() {
	_ = fs.Close()
	_ = os.RemoveAll(fs.dir)
}

func (fs *testFS) CreateFile(p string, c string) {
	if err := os.WriteFile(filepath.Join(fs.dir, p), []byte(c), 0o644); err != nil {
		panic(err)
	}
}

func (fs *testFS) ReadFile(p string) string {
	b, err := os.ReadFile(filepath.Join(fs.dir, p))
	if err != nil {
		panic(err)
	}
	return string(b)
}

// newTestFS returns a Filesystem confined to a fresh temporary directory.
// A nil executor runs every call inline.
func newTestFS(exec pull.Executor, chunkSize int) *testFS {
	dir, err := os.MkdirTemp(os.TempDir(), "streamfs")
	if err != nil {
		panic(err)
	}
	dir, err = filepath.EvalSymlinks(dir)
	if err != nil {
		panic(err)
	}
	unixFS, err := ufs.NewUnixFS(dir, false)
	if err != nil {
		panic(err)
	}
	if exec == nil {
		exec = pull.Inline
	}
	backend := &countingFS{Filesystem: unixFS}
	fs := New(backend, Options{Executor: exec, ChunkSize: chunkSize})
	return &testFS{Filesystem: fs, backend: backend, dir: dir}
}

func TestFilesystem_Operations(t *testing.T) {
	fs := newTestFS(nil, 0)
	defer fs.Cleanup()

	_, err := pull.Await(fs.Write("hello.txt", []byte("Hello, World!")))
	require.NoError(t, err)

	b, err := pull.Await(fs.Read("/hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(b))

	st, err := pull.Await(fs.Stat("hello.txt"))
	require.NoError(t, err)
	assert.EqualValues(t, 13, st.Size)
	assert.False(t, st.IsDir())
	assert.EqualValues(t, 0o644, st.Mode&0o777)

	_, err = pull.Await(fs.Mkdir("dir"))
	require.NoError(t, err)
	st, err = pull.Await(fs.Stat("dir"))
	require.NoError(t, err)
	assert.True(t, st.IsDir())

	_, err = pull.Await(fs.Rename("hello.txt", "dir/moved.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", fs.ReadFile("dir/moved.txt"))

	_, err = pull.Await(fs.Symlink("moved.txt", "dir/link"))
	require.NoError(t, err)
	target, err := pull.Await(fs.Readlink("dir/link"))
	require.NoError(t, err)
	assert.Equal(t, "moved.txt", target)

	st, err = pull.Await(fs.Lstat("dir/link"))
	require.NoError(t, err)
	assert.True(t, st.IsSymlink())
	st, err = pull.Await(fs.Stat("dir/link"))
	require.NoError(t, err)
	assert.False(t, st.IsSymlink())
	assert.EqualValues(t, 13, st.Size)

	names, err := pull.Await(pull.Collect(fs.Readdir("dir")))
	require.NoError(t, err)
	assert.Equal(t, []string{"link", "moved.txt"}, names)

	_, err = pull.Await(fs.Rmdir("dir"))
	assert.Error(t, err, "a directory that is not empty cannot be removed")

	for _, p := range []string{"dir/link", "dir/moved.txt"} {
		_, err = pull.Await(fs.Unlink(p))
		require.NoError(t, err)
	}
	_, err = pull.Await(fs.Rmdir("dir"))
	require.NoError(t, err)

	_, err = pull.Await(fs.Stat("dir"))
	assert.ErrorIs(t, err, ufs.ErrNotExist)
}

func TestFilesystem_ContinuablesRunOnEveryInvocation(t *testing.T) {
	fs := newTestFS(nil, 0)
	defer fs.Cleanup()

	fs.CreateFile("a.txt", "a")
	read := fs.Read("a.txt")
	for i := 0; i < 3; i++ {
		_, err := pull.Await(read)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, fs.backend.count(&fs.backend.opens))

	mkdir := fs.Mkdir("once")
	_, err := pull.Await(mkdir)
	require.NoError(t, err)
	_, err = pull.Await(mkdir)
	assert.ErrorIs(t, err, ufs.ErrExist)
}

func TestFilesystem_Encodings(t *testing.T) {
	fs := newTestFS(nil, 0)
	defer fs.Cleanup()

	_, err := pull.Await(fs.WriteString("hex.txt", "48656c6c6f", "hex"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", fs.ReadFile("hex.txt"))

	s, err := pull.Await(fs.ReadString("hex.txt", "base64"))
	require.NoError(t, err)
	assert.Equal(t, "SGVsbG8=", s)

	s, err = pull.Await(fs.ReadString("hex.txt", "utf8"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", s)

	_, err = pull.Await(fs.ReadString("hex.txt", "latin1"))
	assert.ErrorIs(t, err, ErrUnknownEncoding)
	_, err = pull.Await(fs.WriteString("other.txt", "abc", "ucs2"))
	assert.ErrorIs(t, err, ErrUnknownEncoding)
	_, err = pull.Await(fs.WriteString("other.txt", "zz", "hex"))
	assert.Error(t, err)

	_, err = os.Stat(filepath.Join(fs.dir, "other.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "nothing is written for invalid input")
}

func TestChroot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(dir), "outside.txt"), []byte("secret"), 0o644))
	defer os.Remove(filepath.Join(filepath.Dir(dir), "outside.txt"))

	fs, err := Chroot(dir, Options{Workers: 2})
	require.NoError(t, err)
	defer fs.Close()

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, fs.Root())

	_, err = pull.Await(fs.Write("/inside.txt", []byte("ok")))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "inside.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(b))

	_, err = pull.Await(fs.Read("../outside.txt"))
	assert.ErrorIs(t, err, ufs.ErrNotExist)

	_, err = pull.Await(fs.Symlink("..", "up"))
	require.NoError(t, err)
	_, err = pull.Await(fs.Read("up/outside.txt"))
	assert.ErrorIs(t, err, ufs.ErrBadPathResolution)

	names, err := pull.Await(pull.Collect(fs.Readdir("/")))
	require.NoError(t, err)
	assert.Equal(t, []string{"inside.txt", "up"}, names)

	require.NoError(t, fs.Close())
	require.NoError(t, fs.Close())
}

func TestLocal(t *testing.T) {
	dir := t.TempDir()
	fs := Local(Options{})
	defer fs.Close()

	assert.Equal(t, "", fs.Root())

	p := filepath.Join(dir, "local.txt")
	_, err := pull.Await(fs.WriteString(p, "bG9jYWw=", "base64"))
	require.NoError(t, err)

	s, err := pull.Await(fs.ReadString(p, ""))
	require.NoError(t, err)
	assert.Equal(t, "local", s)

	names, err := pull.Await(pull.Collect(fs.Readdir(dir)))
	require.NoError(t, err)
	assert.Equal(t, []string{"local.txt"}, names)

	backend := ufs.NewOSFS()
	require.NoError(t, backend.Close())
	_, err = backend.Stat(p)
	assert.ErrorIs(t, err, ufs.ErrClosed)
	_, err = backend.OpenFile(p, ufs.O_RDONLY, 0)
	assert.ErrorIs(t, err, ufs.ErrClosed)
	assert.ErrorIs(t, backend.Unlink(p), ufs.ErrClosed)
}

func TestFilesystem_Close(t *testing.T) {
	base := newTestFS(nil, 0)
	defer base.Cleanup()
	base.CreateFile("hello.txt", "Hello, World!")

	fs := New(base.backend, Options{Workers: 2, ChunkSize: 5})
	source := fs.ReadStream("hello.txt", ReadOptions{})
	chunk, ok, err := pull.Next(source)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Hello", string(chunk))
	names := fs.Readdir("/")

	require.NoError(t, fs.Close())

	require.NotPanics(t, func() {
		_, err := pull.Await(fs.Stat("hello.txt"))
		assert.ErrorIs(t, err, ufs.ErrClosed)

		_, ok, err := pull.Next(source)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ufs.ErrClosed)

		_, err = pull.Await(pull.Collect(names))
		assert.ErrorIs(t, err, ufs.ErrClosed)

		err = pull.Wait(fs.WriteStream("new.txt", WriteOptions{})(pull.Values([]byte("x"))))
		assert.ErrorIs(t, err, ufs.ErrClosed)
	})

	assert.Equal(t, 1, base.backend.count(&base.backend.closes), "the open read stream closes its file")
	_, err = os.Stat(filepath.Join(base.dir, "new.txt"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFilesystem_CloseDuringRead(t *testing.T) {
	base := newTestFS(nil, 0)
	defer base.Cleanup()
	base.CreateFile("hello.txt", "Hello, World!")
	base.backend.readGate = make(chan struct{})
	base.backend.readBlocked = make(chan struct{}, 1)

	fs := New(base.backend, Options{Workers: 1, ChunkSize: 5})
	source := fs.ReadStream("hello.txt", ReadOptions{})

	// Keep pulling from inside the callback, so the chunk that completes
	// while the pool shuts down asks for the next one from a worker.
	var chunks []string
	done := make(chan error, 1)
	var drain pull.Callback[[]byte]
	drain = func(chunk []byte, ok bool, err error) {
		if !ok {
			done <- err
			return
		}
		chunks = append(chunks, string(chunk))
		source(nil, drain)
	}
	source(nil, drain)
	<-base.backend.readBlocked

	closed := make(chan error, 1)
	go func() { closed <- fs.Close() }()
	require.Eventually(t, fs.fs.closed.Load, time.Second, time.Millisecond)
	close(base.backend.readGate)

	require.NoError(t, <-closed)
	assert.ErrorIs(t, <-done, ufs.ErrClosed)
	assert.Equal(t, []string{"Hello"}, chunks)
	assert.Equal(t, 1, base.backend.count(&base.backend.closes))
}
