// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

package packagefuse

import (
	"log/slog"

	"github.com/glikched/bootable-recovery/lib/blockstore"
	"github.com/glikched/bootable-recovery/lib/fuseproto"
)

// PackageName and ExitName are the only two filenames lookup ever
// resolves; everything else is -ENOENT. PackageName is deliberately
// not "package" — the host-side installer this filesystem feeds
// expects the conventional archive extension.
const (
	PackageName = "package.zip"
	ExitName    = "exit"
)

// packageFileHandle is the single constant handle returned by every
// open of the package node. There is no per-open state to track: the
// store is the only stateful thing behind the file, and it is shared
// by construction.
const packageFileHandle = 10

// Session is the per-mount state the dispatcher operates on. It is
// driven by exactly one goroutine: the request loop. Nothing here
// needs synchronization, by the same single-threaded-cooperative
// argument the design target makes (concurrent mounts sharing a
// Session are explicitly out of scope).
type Session struct {
	Store  *blockstore.Store
	UID    uint32
	GID    uint32
	Logger *slog.Logger

	negotiatedMinor uint32
}

// NewSession wires a block store to a FUSE session. uid/gid are
// reported verbatim in every attribute reply, so the mounting
// caller's identity is the one the kernel shows file owners as.
func NewSession(store *blockstore.Store, uid, gid uint32, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{Store: store, UID: uid, GID: gid, Logger: logger}
}

// modeDir, modeRegular, and modeExit are the fixed modes of the root,
// package, and exit nodes returned by getattr/lookup.
const (
	modeDir     = 0o040000 | 0o555
	modeRegular = 0o100000 | 0o444
	modeExit    = 0o100000 // mode 0: unreadable
)

func (s *Session) attrFor(nodeID uint64) (size uint64, mode uint32, ok bool) {
	switch nodeID {
	case fuseproto.RootNodeID:
		return 4096, modeDir, true
	case fuseproto.PackageNodeID:
		return s.Store.FileSize(), modeRegular, true
	case fuseproto.ExitNodeID:
		return 0, modeExit, true
	default:
		return 0, 0, false
	}
}
