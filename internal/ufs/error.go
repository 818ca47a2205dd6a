// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ufs

import (
	iofs "io/fs"
	"os"

	"emperror.dev/errors"
	"golang.org/x/sys/unix"
)

const (
	// ErrIsDirectory is an error for when an operation that operates only on
	// files is given a path to a directory.
	ErrIsDirectory = errors.Sentinel("is a directory")
	// ErrNotDirectory is an error for when an operation that operates only on
	// directories is given a path to a file.
	ErrNotDirectory = errors.Sentinel("not a directory")
	// ErrBadPathResolution is an error for when a sand-boxed filesystem
	// resolves a given path to a forbidden location.
	ErrBadPathResolution = errors.Sentinel("bad path resolution")
)

var (
	// ErrClosed is an error for when an entry was accessed after being closed.
	ErrClosed = iofs.ErrClosed
	// ErrInvalid is an error for when an invalid argument was used.
	ErrInvalid = iofs.ErrInvalid
	// ErrExist is an error for when an entry already exists.
	ErrExist = iofs.ErrExist
	// ErrNotExist is an error for when an entry does not exist.
	ErrNotExist = iofs.ErrNotExist
	// ErrPermission is an error for when the required permissions to perform an
	// operation are missing.
	ErrPermission = iofs.ErrPermission
)

// LinkError records an error during a link or symlink or rename
// system call and the paths that caused it.
type LinkError = os.LinkError

// PathError records an error and the operation and file path that caused it.
type PathError = iofs.PathError

// convertErrorType normalises the errno carried by a *PathError or *LinkError
// into one of the package sentinels so callers get consistent values no matter
// which backend produced the error. Anything else is returned untouched.
func convertErrorType(err error) error {
	if err == nil {
		return nil
	}
	var pErr *PathError
	if errors.As(err, &pErr) {
		if converted := convertErrno(pErr.Err); converted != nil {
			return &PathError{Op: pErr.Op, Path: pErr.Path, Err: converted}
		}
		return err
	}
	var lErr *LinkError
	if errors.As(err, &lErr) {
		if converted := convertErrno(lErr.Err); converted != nil {
			return &LinkError{Op: lErr.Op, Old: lErr.Old, New: lErr.New, Err: converted}
		}
	}
	return err
}

func convertErrno(err error) error {
	switch {
	case errors.Is(err, unix.EEXIST):
		return ErrExist
	case errors.Is(err, unix.EISDIR):
		return ErrIsDirectory
	case errors.Is(err, unix.ENOTDIR):
		return ErrNotDirectory
	case errors.Is(err, unix.ENOENT):
		return ErrNotExist
	case errors.Is(err, unix.EPERM):
		return ErrPermission
	// Crossing a mount point or following too many links while resolving
	// beneath the base both mean the path tried to leave the sandbox.
	case errors.Is(err, unix.EXDEV), errors.Is(err, unix.ELOOP):
		return ErrBadPathResolution
	}
	return nil
}
