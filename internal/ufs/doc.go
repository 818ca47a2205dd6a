// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Copyright (c) 2024 Matthew Penner

// Package ufs provides the storage backends used by streamfs. Every backend
// performs exactly one system call per operation so the streaming layer above
// it stays in control of when, and how often, the operating system is touched.
//
// UnixFS is the confined backend: paths are cleaned, joined under a base
// directory and resolved relative to a directory file descriptor so that
// neither "../" segments nor symlinks are able to escape the base. OSFS is the
// unconfined backend and passes paths straight through to the kernel.
package ufs
