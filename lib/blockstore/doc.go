// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockstore implements the read-stability engine at the heart
// of packagefs: a fixed-size current-block buffer, a spill buffer for
// reads that cross a block boundary, a per-block SHA-256 fingerprint
// table that pins the first observed content of each block, and an
// optional memory-bounded retention cache that lets re-reads avoid the
// provider entirely.
//
// Everything here is pure Go with no FUSE or syscall dependency, so it
// is exercised directly by tests without a kernel mount.
package blockstore
