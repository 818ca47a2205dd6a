//go:build linux

package filesystem

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/pterodactyl/streamfs/internal/ufs"
	"github.com/pterodactyl/streamfs/pull"
)

// busyFS reports the first busy opens of a file as a running executable.
type busyFS struct {
	ufs.Filesystem
	busy  int
	tries int
}

func (fs *busyFS) OpenFile(name string, flag int, perm ufs.FileMode) (ufs.File, error) {
	fs.tries++
	if fs.tries <= fs.busy {
		return nil, &ufs.PathError{Op: "openat", Path: name, Err: unix.ETXTBSY}
	}
	return fs.Filesystem.OpenFile(name, flag, perm)
}

func TestFilesystem_Denylist(t *testing.T) {
	fs := newTestFS(nil, 0)
	defer fs.Cleanup()
	fs.Filesystem = New(fs.backend, Options{Executor: pull.Inline, Denylist: []string{"*.jar", "/config.yml", "!/allowed.jar"}})

	fs.CreateFile("server.jar", "jar")
	fs.CreateFile("config.yml", "a: b")
	fs.CreateFile("allowed.jar", "jar")
	_, err := pull.Await(fs.Mkdir("plugins"))
	require.NoError(t, err)
	fs.CreateFile("plugins/config.yml", "c: d")

	for _, p := range []string{"server.jar", "/config.yml", "plugins/../config.yml", "plugins/other.jar"} {
		_, err := pull.Await(fs.Read(p))
		assert.ErrorIs(t, err, ErrDenylistFile, p)
	}
	_, err = pull.Await(fs.Unlink("server.jar"))
	assert.ErrorIs(t, err, ErrDenylistFile)
	_, err = pull.Await(fs.Rename("allowed.jar", "config.yml"))
	assert.ErrorIs(t, err, ErrDenylistFile)
	_, err = pull.Await(fs.Symlink("allowed.jar", "link.jar"))
	assert.ErrorIs(t, err, ErrDenylistFile)
	err = pull.Wait(fs.WriteStream("new.jar", WriteOptions{})(pull.Values([]byte("x"))))
	assert.ErrorIs(t, err, ErrDenylistFile)

	b, err := pull.Await(fs.Read("allowed.jar"))
	require.NoError(t, err)
	assert.Equal(t, "jar", string(b))
	b, err = pull.Await(fs.Read("plugins/config.yml"))
	require.NoError(t, err)
	assert.Equal(t, "c: d", string(b))

	// Denied files are still listed and described.
	names, err := pull.Await(pull.Collect(fs.Readdir("/")))
	require.NoError(t, err)
	assert.Contains(t, names, "server.jar")
	_, err = pull.Await(fs.Stat("server.jar"))
	assert.NoError(t, err)
}

func TestFilesystem_BusyExecutable(t *testing.T) {
	defer func(d time.Duration) { busyInterval = d }(busyInterval)
	busyInterval = time.Millisecond

	base := newTestFS(nil, 0)
	defer base.Cleanup()
	base.CreateFile("server", "old")

	busy := &busyFS{Filesystem: base.backend, busy: 2}
	fs := New(busy, Options{Executor: pull.Inline})
	_, err := pull.Await(fs.Write("server", []byte("new")))
	require.NoError(t, err)
	assert.Equal(t, 3, busy.tries)
	assert.Equal(t, "new", base.ReadFile("server"))

	// Reads are never retried.
	busy.tries, busy.busy = 0, 1
	_, err = pull.Await(fs.Read("server"))
	assert.True(t, errors.Is(err, unix.ETXTBSY))
	assert.Equal(t, 1, busy.tries)

	// Give up after three retries.
	busy.tries, busy.busy = 0, 10
	_, err = pull.Await(fs.Write("server", []byte("newer")))
	assert.True(t, errors.Is(err, unix.ETXTBSY))
	assert.Equal(t, 4, busy.tries)
}
