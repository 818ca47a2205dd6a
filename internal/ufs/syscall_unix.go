// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

//go:build unix

package ufs

import (
	"sort"

	"golang.org/x/sys/unix"
)

// ignoringEINTR makes a function call and repeats it if it returns an
// EINTR error. Go installs its signal handlers with SA_RESTART, but not every
// handler in the process is guaranteed to, see https://go.dev/issue/20400.
func ignoringEINTR(fn func() error) error {
	for {
		err := fn()
		if err != unix.EINTR {
			return err
		}
	}
}

// syscallMode returns the syscall-specific mode bits from Go's portable mode bits.
func syscallMode(i FileMode) (o uint32) {
	o |= uint32(i.Perm())
	if i&ModeSetuid != 0 {
		o |= unix.S_ISUID
	}
	if i&ModeSetgid != 0 {
		o |= unix.S_ISGID
	}
	if i&ModeSticky != 0 {
		o |= unix.S_ISVTX
	}
	return
}

// readlinkWith grows its buffer until the link target fits.
func readlinkWith(name string, call func([]byte) (int, error)) (string, error) {
	for size := 128; ; size *= 2 {
		b := make([]byte, size)
		var n int
		err := ignoringEINTR(func() error {
			var err error
			n, err = call(b)
			return err
		})
		if err != nil {
			return "", convertErrorType(&PathError{Op: "readlink", Path: name, Err: err})
		}
		if n < size {
			return string(b[:n]), nil
		}
	}
}

// sortedNames drops the dot entries some listing calls return and sorts
// the remainder so listings are stable across filesystems.
func sortedNames(names []string) []string {
	out := names[:0]
	for _, n := range names {
		if n == "." || n == ".." {
			continue
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
