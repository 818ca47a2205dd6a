// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ufs

import (
	"io"
	iofs "io/fs"

	"golang.org/x/sys/unix"
)

// File is an open file handle returned by a Filesystem. A *os.File satisfies
// it, test doubles only need to implement the handful of calls the streaming
// layer makes.
type File interface {
	// Name returns the name of the file as presented to OpenFile.
	Name() string

	// Read reads from the current file offset, ReadAt from an explicit one
	// without moving it. At end of file both return io.EOF.
	io.Reader
	io.ReaderAt

	// Write may accept fewer bytes than given, callers are expected to retry
	// with the remainder.
	io.Writer

	io.Closer
}

// FileInfo describes a file and is returned by Stat and Lstat. Sys always
// returns a *unix.Stat_t for the backends in this package.
type FileInfo = iofs.FileInfo

// FileMode represents a file's mode and permission bits.
type FileMode = iofs.FileMode

// Mode bits, re-exported so callers need not import io/fs.
const (
	ModeDir        = iofs.ModeDir
	ModeSymlink    = iofs.ModeSymlink
	ModeDevice     = iofs.ModeDevice
	ModeCharDevice = iofs.ModeCharDevice
	ModeNamedPipe  = iofs.ModeNamedPipe
	ModeSocket     = iofs.ModeSocket
	ModeSetuid     = iofs.ModeSetuid
	ModeSetgid     = iofs.ModeSetgid
	ModeSticky     = iofs.ModeSticky
	ModePerm       = iofs.ModePerm
)

// Flags accepted by Filesystem.OpenFile.
const (
	O_RDONLY = unix.O_RDONLY
	O_WRONLY = unix.O_WRONLY
	O_RDWR   = unix.O_RDWR
	O_CREATE = unix.O_CREAT
	O_TRUNC  = unix.O_TRUNC

	// O_DIRECTORY fails the open unless the path names a directory.
	O_DIRECTORY = unix.O_DIRECTORY
	O_NOFOLLOW  = unix.O_NOFOLLOW
	O_CLOEXEC   = unix.O_CLOEXEC
)

// Flags for the *at system calls.
const (
	AT_SYMLINK_NOFOLLOW = unix.AT_SYMLINK_NOFOLLOW
	AT_REMOVEDIR        = unix.AT_REMOVEDIR
)
