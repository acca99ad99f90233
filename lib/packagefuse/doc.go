// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

// Package packagefuse implements the FUSE protocol surface packagefs
// needs: a request dispatcher that reads framed requests from a
// control channel, the seven handlers (init, lookup, getattr, open,
// read, flush, release), and, on Linux, the mount/unmount controller
// that talks to /dev/fuse directly.
//
// The dispatcher and handlers in this package have no syscall
// dependency of their own — they operate against the Conn interface —
// so they are exercised by tests through an in-memory Conn. Only
// mount_linux.go and memory_linux.go touch the kernel.
package packagefuse
