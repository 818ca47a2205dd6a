// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

//go:build linux

package ufs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// UnixFS is a filesystem that uses the unix package to make io calls.
//
// Every path handed to it is treated as relative to basePath, even when it
// starts with a slash, and is resolved through a directory file descriptor so
// that the result can never point outside of basePath.
type UnixFS struct {
	// basePath is the base path for file operations to take place in.
	basePath string

	// dirfd holds the file descriptor of basePath and is used to ensure
	// operations are restricted into descendants of basePath.
	dirfd atomic.Int64

	// useOpenat2 controls whether the `openat2` syscall is used instead of the
	// older `openat` syscall.
	useOpenat2 bool
}

var _ Filesystem = (*UnixFS)(nil)

// NewUnixFS creates a new sandboxed unix filesystem rooted at basePath. The
// base itself may be listed and stat'd, but not removed or renamed.
func NewUnixFS(basePath string, useOpenat2 bool) (*UnixFS, error) {
	// The descriptor check done without openat2 compares against the real
	// location of each file, so the base must not contain symlinks either.
	resolved, err := filepath.EvalSymlinks(basePath)
	if err != nil {
		return nil, convertErrorType(err)
	}
	dirfd, err := unix.Open(resolved, O_DIRECTORY|O_RDONLY|O_CLOEXEC, 0)
	if err != nil {
		return nil, convertErrorType(&PathError{Op: "open", Path: basePath, Err: err})
	}
	basePath = strings.TrimSuffix(resolved, "/")
	fs := &UnixFS{
		basePath:   basePath,
		useOpenat2: useOpenat2,
	}
	fs.dirfd.Store(int64(dirfd))
	return fs, nil
}

// BasePath returns the base path of the UnixFS sandbox.
func (fs *UnixFS) BasePath() string {
	return fs.basePath
}

// Close releases the file descriptor used to sandbox operations within the
// base path of the filesystem.
func (fs *UnixFS) Close() error {
	fd := fs.dirfd.Swap(-1)
	if fd == -1 {
		return nil
	}
	return unix.Close(int(fd))
}

// OpenFile opens the named file with the given flags, creating it with mode
// when O_CREATE is set.
func (fs *UnixFS) OpenFile(name string, flag int, mode FileMode) (File, error) {
	dirfd, file, closeFd, err := fs.safePath(name)
	defer closeFd()
	if err != nil {
		return nil, err
	}
	fd, err := fs.openat(dirfd, file, flag, mode)
	if err != nil {
		return nil, err
	}
	// The returned File owns fd from here on.
	return os.NewFile(uintptr(fd), name), nil
}

// ReadDirNames lists the named directory in a single pass.
func (fs *UnixFS) ReadDirNames(name string) ([]string, error) {
	dirfd, file, closeFd, err := fs.safePath(name)
	defer closeFd()
	if err != nil {
		return nil, err
	}
	fd, err := fs.openat(dirfd, file, O_DIRECTORY|O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	d := os.NewFile(uintptr(fd), name)
	defer d.Close()
	names, err := d.Readdirnames(-1)
	if err != nil {
		return nil, convertErrorType(err)
	}
	return sortedNames(names), nil
}

// Stat returns a FileInfo describing the named file.
func (fs *UnixFS) Stat(name string) (FileInfo, error) {
	return fs.fstat(name, 0)
}

// Lstat returns a FileInfo describing the named file without following a
// trailing symlink.
func (fs *UnixFS) Lstat(name string) (FileInfo, error) {
	return fs.fstat(name, AT_SYMLINK_NOFOLLOW)
}

func (fs *UnixFS) fstat(name string, flags int) (FileInfo, error) {
	dirfd, file, closeFd, err := fs.safePath(name)
	defer closeFd()
	if err != nil {
		return nil, err
	}
	return statWith(name, func(st *unix.Stat_t) error {
		return unix.Fstatat(dirfd, file, st, flags)
	})
}

// Unlink removes the named file.
func (fs *UnixFS) Unlink(name string) error {
	return fs.unlinkat("unlink", name, 0)
}

// Rmdir removes the named empty directory.
func (fs *UnixFS) Rmdir(name string) error {
	return fs.unlinkat("rmdir", name, AT_REMOVEDIR)
}

func (fs *UnixFS) unlinkat(op, name string, flags int) error {
	dirfd, file, closeFd, err := fs.safePath(name)
	defer closeFd()
	if err != nil {
		return err
	}
	// Prevent trying to remove the base directory.
	if file == "." {
		return &PathError{Op: op, Path: name, Err: ErrBadPathResolution}
	}
	if err := ignoringEINTR(func() error {
		return unix.Unlinkat(dirfd, file, flags)
	}); err != nil {
		return convertErrorType(&PathError{Op: op, Path: name, Err: err})
	}
	return nil
}

// Mkdir creates a new directory with the specified name and permission
// bits (before umask).
func (fs *UnixFS) Mkdir(name string, mode FileMode) error {
	dirfd, file, closeFd, err := fs.safePath(name)
	defer closeFd()
	if err != nil {
		return err
	}
	if err := ignoringEINTR(func() error {
		return unix.Mkdirat(dirfd, file, syscallMode(mode))
	}); err != nil {
		return convertErrorType(&PathError{Op: "mkdir", Path: name, Err: err})
	}
	return nil
}

// Readlink returns the destination of the named symbolic link. The target is
// returned as stored, it is not rewritten relative to the base path.
func (fs *UnixFS) Readlink(name string) (string, error) {
	dirfd, file, closeFd, err := fs.safePath(name)
	defer closeFd()
	if err != nil {
		return "", err
	}
	return readlinkWith(name, func(b []byte) (int, error) {
		return unix.Readlinkat(dirfd, file, b)
	})
}

// Symlink creates newname as a symbolic link to oldname.
func (fs *UnixFS) Symlink(oldname, newname string) error {
	dirfd, file, closeFd, err := fs.safePath(newname)
	defer closeFd()
	if err != nil {
		return err
	}
	if err := ignoringEINTR(func() error {
		// oldname is not resolved: a symlink may point anywhere, following it
		// later goes through the same confinement as any other path.
		return unix.Symlinkat(oldname, dirfd, file)
	}); err != nil {
		return convertErrorType(&LinkError{Op: "symlink", Old: oldname, New: newname, Err: err})
	}
	return nil
}

// Rename renames (moves) oldpath to newpath. Both paths are resolved under
// the base path.
func (fs *UnixFS) Rename(oldpath, newpath string) error {
	olddirfd, oldname, closeOld, err := fs.safePath(oldpath)
	defer closeOld()
	if err != nil {
		return err
	}
	newdirfd, newname, closeNew, err := fs.safePath(newpath)
	defer closeNew()
	if err != nil {
		return err
	}
	// Ensure that we are not trying to rename the base directory itself, or
	// to rename something over it.
	if oldname == "." || newname == "." {
		return &LinkError{Op: "rename", Old: oldpath, New: newpath, Err: ErrBadPathResolution}
	}
	if err := ignoringEINTR(func() error {
		return unix.Renameat(olddirfd, oldname, newdirfd, newname)
	}); err != nil {
		return convertErrorType(&LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err})
	}
	return nil
}

// openat is a wrapper around both unix.Openat and unix.Openat2. If the UnixFS
// was configured to enable openat2 support, unix.Openat2 will be used instead
// of unix.Openat due to having better security properties for our use-case.
func (fs *UnixFS) openat(dirfd int, name string, flag int, mode FileMode) (int, error) {
	if flag&O_CLOEXEC == 0 {
		flag |= O_CLOEXEC
	}
	// Without RESOLVE_BENEATH the final component is only checked after it
	// has been opened, which is too late for a create or truncate.
	if !fs.useOpenat2 && flag&(O_WRONLY|O_RDWR|O_CREATE|O_TRUNC) != 0 {
		flag |= O_NOFOLLOW
	}

	var fd int
	err := ignoringEINTR(func() error {
		var err error
		if fs.useOpenat2 {
			fd, err = unix.Openat2(dirfd, name, &unix.OpenHow{
				Flags: uint64(flag) | unix.O_LARGEFILE,
				Mode:  uint64(syscallMode(mode)),
				// This is the bread and butter of preventing a symlink escape.
				Resolve: unix.RESOLVE_BENEATH,
			})
		} else {
			fd, err = unix.Openat(dirfd, name, flag, syscallMode(mode))
		}
		return err
	})
	if err != nil {
		op := "openat"
		if fs.useOpenat2 {
			op = "openat2"
		}
		return 0, convertErrorType(&PathError{Op: op, Path: name, Err: err})
	}

	// If we are not using openat2, check where the descriptor actually ended
	// up now that every symlink along the way has been followed.
	if !fs.useOpenat2 {
		finalPath, err := os.Readlink(filepath.Join("/proc/self/fd", strconv.Itoa(fd)))
		if err != nil {
			_ = unix.Close(fd)
			return 0, convertErrorType(err)
		}
		if !fs.unsafeIsPathInsideOfBase(finalPath) {
			_ = unix.Close(fd)
			return 0, &PathError{Op: "openat", Path: name, Err: ErrBadPathResolution}
		}
	}
	return fd, nil
}

// safePath splits path into a directory file descriptor and the final
// element to operate on relative to it. closeFd must always be called, even
// when an error is returned.
func (fs *UnixFS) safePath(path string) (dirfd int, file string, closeFd func(), err error) {
	closeFd = func() {}

	var name string
	name, err = fs.unsafePath(path)
	if err != nil {
		return
	}

	// Check if dirfd was closed, this will happen if (*UnixFS).Close()
	// was called.
	fsDirfd := int(fs.dirfd.Load())
	if fsDirfd == -1 {
		err = ErrClosed
		return
	}

	var dir string
	dir, file = filepath.Split(name)
	if dir == "" {
		// The base descriptor is re-used until the filesystem is closed.
		dirfd = fsDirfd
		return
	}

	dirfd, err = fs.openat(fsDirfd, strings.TrimSuffix(dir, "/"), O_DIRECTORY|O_RDONLY, 0)
	if err == nil {
		fd := dirfd
		closeFd = func() { _ = unix.Close(fd) }
	}
	return
}

// unsafePath cleans path, joins it under the base path and returns it
// relative to the base, "." meaning the base itself. The result has not been
// checked against symlinks yet.
func (fs *UnixFS) unsafePath(path string) (string, error) {
	// Joining onto "/" first means "../" can never climb above the base, the
	// same way a chroot treats it.
	r := filepath.Join(fs.basePath, filepath.Join("/", path))

	if fs.unsafeIsPathInsideOfBase(r) {
		// `*at` syscalls behave differently if given an absolute path, so trim
		// the base path and any leading slashes.
		r = strings.TrimPrefix(strings.TrimPrefix(r, fs.basePath), "/")
		if r == "" {
			return ".", nil
		}
		return r, nil
	}

	return "", &PathError{
		Op:   "safePath",
		Path: path,
		Err:  ErrBadPathResolution,
	}
}

// unsafeIsPathInsideOfBase checks if the given path is inside the filesystem's
// base path.
func (fs *UnixFS) unsafeIsPathInsideOfBase(path string) bool {
	return strings.HasPrefix(
		strings.TrimSuffix(path, "/")+"/",
		fs.basePath+"/",
	)
}
