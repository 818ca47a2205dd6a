// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

package ufs

// Filesystem is the set of single system call operations the streaming layer
// is built on. Implementations must be safe for concurrent use, the streams
// call into them from executor goroutines.
type Filesystem interface {
	// OpenFile opens the named file with the given flags (O_RDONLY etc.). If
	// the file does not exist and O_CREATE is passed, it is created with mode
	// perm (before umask).
	//
	// If there is an error, it will be of type *PathError.
	OpenFile(name string, flag int, perm FileMode) (File, error)

	// ReadDirNames returns the names of every entry in the named directory,
	// excluding "." and "..", sorted by name.
	ReadDirNames(name string) ([]string, error)

	// Stat returns a FileInfo describing the named file, following symlinks.
	Stat(name string) (FileInfo, error)

	// Lstat is like Stat but describes a symlink itself rather than its
	// target.
	Lstat(name string) (FileInfo, error)

	// Unlink removes the named file. It refuses to remove directories.
	Unlink(name string) error

	// Rmdir removes the named empty directory.
	Rmdir(name string) error

	// Mkdir creates a new directory with the specified name and permission
	// bits (before umask).
	Mkdir(name string, perm FileMode) error

	// Readlink returns the destination of the named symbolic link.
	Readlink(name string) (string, error)

	// Symlink creates newname as a symbolic link to oldname. Only newname is
	// resolved by the backend, oldname is stored verbatim.
	//
	// If there is an error, it will be of type *LinkError.
	Symlink(oldname, newname string) error

	// Rename renames (moves) oldpath to newpath, replacing newpath if it
	// exists and is not a directory.
	Rename(oldpath, newpath string) error

	// Close releases any resources held by the backend.
	Close() error
}
