// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

//go:build unix

package ufs

import (
	"os"
	"sync/atomic"

	"github.com/karrick/godirwalk"
	"golang.org/x/sys/unix"
)

// OSFS passes every path straight through to the kernel, relative paths are
// resolved against the working directory of the process. It performs no
// confinement whatsoever.
type OSFS struct {
	// scratchSize is the size of the buffer handed to godirwalk. Listings may
	// run concurrently so each one allocates its own.
	scratchSize int

	closed atomic.Bool
}

var _ Filesystem = (*OSFS)(nil)

// NewOSFS returns an unconfined filesystem.
func NewOSFS() *OSFS {
	return &OSFS{scratchSize: godirwalk.MinimumScratchBufferSize}
}

// OpenFile opens the named file with the given flags.
func (fs *OSFS) OpenFile(name string, flag int, perm FileMode) (File, error) {
	if err := fs.live("open", name); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(name, flag|O_CLOEXEC, perm)
	if err != nil {
		return nil, convertErrorType(err)
	}
	return f, nil
}

// ReadDirNames lists the named directory in a single pass.
func (fs *OSFS) ReadDirNames(name string) ([]string, error) {
	if err := fs.live("readdir", name); err != nil {
		return nil, err
	}
	names, err := godirwalk.ReadDirnames(name, make([]byte, fs.scratchSize))
	if err != nil {
		return nil, convertErrorType(err)
	}
	return sortedNames(names), nil
}

// Stat returns a FileInfo describing the named file.
func (fs *OSFS) Stat(name string) (FileInfo, error) {
	if err := fs.live("stat", name); err != nil {
		return nil, err
	}
	return statWith(name, func(st *unix.Stat_t) error {
		return unix.Stat(name, st)
	})
}

// Lstat returns a FileInfo describing the named file without following a
// trailing symlink.
func (fs *OSFS) Lstat(name string) (FileInfo, error) {
	if err := fs.live("lstat", name); err != nil {
		return nil, err
	}
	return statWith(name, func(st *unix.Stat_t) error {
		return unix.Lstat(name, st)
	})
}

// Unlink removes the named file.
func (fs *OSFS) Unlink(name string) error {
	return fs.pathCall("unlink", name, func() error { return unix.Unlink(name) })
}

// Rmdir removes the named empty directory.
func (fs *OSFS) Rmdir(name string) error {
	return fs.pathCall("rmdir", name, func() error { return unix.Rmdir(name) })
}

// Mkdir creates a new directory with the specified name and permission
// bits (before umask).
func (fs *OSFS) Mkdir(name string, perm FileMode) error {
	return fs.pathCall("mkdir", name, func() error { return unix.Mkdir(name, syscallMode(perm)) })
}

// Readlink returns the destination of the named symbolic link.
func (fs *OSFS) Readlink(name string) (string, error) {
	if err := fs.live("readlink", name); err != nil {
		return "", err
	}
	return readlinkWith(name, func(b []byte) (int, error) {
		return unix.Readlink(name, b)
	})
}

// Symlink creates newname as a symbolic link to oldname.
func (fs *OSFS) Symlink(oldname, newname string) error {
	if err := fs.live("symlink", newname); err != nil {
		return err
	}
	if err := ignoringEINTR(func() error { return unix.Symlink(oldname, newname) }); err != nil {
		return convertErrorType(&LinkError{Op: "symlink", Old: oldname, New: newname, Err: err})
	}
	return nil
}

// Rename renames (moves) oldpath to newpath.
func (fs *OSFS) Rename(oldpath, newpath string) error {
	if err := fs.live("rename", oldpath); err != nil {
		return err
	}
	if err := ignoringEINTR(func() error { return unix.Rename(oldpath, newpath) }); err != nil {
		return convertErrorType(&LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err})
	}
	return nil
}

// Close makes every later call fail with ErrClosed. OSFS holds no other
// resources.
func (fs *OSFS) Close() error {
	fs.closed.Store(true)
	return nil
}

func (fs *OSFS) live(op, name string) error {
	if fs.closed.Load() {
		return &PathError{Op: op, Path: name, Err: ErrClosed}
	}
	return nil
}

func (fs *OSFS) pathCall(op, name string, fn func() error) error {
	if err := fs.live(op, name); err != nil {
		return err
	}
	if err := ignoringEINTR(fn); err != nil {
		return convertErrorType(&PathError{Op: op, Path: name, Err: err})
	}
	return nil
}
