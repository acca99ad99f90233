// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

package packagefuse

import (
	"fmt"
	"syscall"

	"github.com/glikched/bootable-recovery/lib/fuseproto"
)

// handleInit negotiates the kernel FUSE protocol version. A major
// version mismatch or a minor version below 6 aborts the mount before
// any reply is sent — there is no error reply the kernel would accept
// for a failed INIT.
func (s *Session) handleInit(hdr fuseproto.InHeader, payload []byte, conn Conn) (HandlerResult, error) {
	in, err := fuseproto.DecodeInitIn(payload)
	if err != nil {
		return nil, fmt.Errorf("packagefuse: decode init request: %w", err)
	}
	if in.Major != fuseproto.KernelMajorVersion || in.Minor < 6 {
		return nil, fmt.Errorf("packagefuse: unsupported kernel FUSE protocol %d.%d", in.Major, in.Minor)
	}

	negotiatedMinor := in.Minor
	if negotiatedMinor > fuseproto.KernelMinorVersion {
		negotiatedMinor = fuseproto.KernelMinorVersion
	}
	s.negotiatedMinor = negotiatedMinor

	body := fuseproto.EncodeInitOut(negotiatedMinor, in.MaxReadahead)
	if err := writeReply(conn, hdr.Unique, body); err != nil {
		return nil, err
	}
	s.Logger.Info("fuse init negotiated", "major", fuseproto.KernelMajorVersion, "minor", negotiatedMinor)
	return Replied{}, nil
}

// handleLookup recognizes exactly the package and exit filenames under
// the root directory; everything else is -ENOENT. A lookup of the
// exit node terminates the dispatcher after the reply is flushed.
func (s *Session) handleLookup(hdr fuseproto.InHeader, payload []byte, conn Conn) (HandlerResult, error) {
	name := parseNulString(payload)
	switch name {
	case PackageName:
		body := fuseproto.EncodeEntryOut(fuseproto.PackageNodeID, s.Store.FileSize(), modeRegular, s.UID, s.GID)
		if err := writeReply(conn, hdr.Unique, body); err != nil {
			return nil, err
		}
		return Replied{}, nil
	case ExitName:
		body := fuseproto.EncodeEntryOut(fuseproto.ExitNodeID, 0, modeExit, s.UID, s.GID)
		if err := writeReply(conn, hdr.Unique, body); err != nil {
			return nil, err
		}
		s.Logger.Info("exit sentinel looked up, shutting down")
		return RepliedAndExit{}, nil
	default:
		return ReplyError{Errno: -int32(syscall.ENOENT)}, nil
	}
}

// handleGetattr answers by node id. A getattr of the exit node also
// terminates the dispatcher, mirroring lookup's termination path — a
// host-side installer may stat the sentinel instead of looking it up.
func (s *Session) handleGetattr(hdr fuseproto.InHeader, _ []byte, conn Conn) (HandlerResult, error) {
	size, mode, found := s.attrFor(hdr.NodeID)
	if !found {
		return ReplyError{Errno: -int32(syscall.ENOENT)}, nil
	}
	body := fuseproto.EncodeAttrOut(hdr.NodeID, size, mode, s.UID, s.GID)
	if err := writeReply(conn, hdr.Unique, body); err != nil {
		return nil, err
	}
	if hdr.NodeID == fuseproto.ExitNodeID {
		s.Logger.Info("exit sentinel stat'd, shutting down")
		return RepliedAndExit{}, nil
	}
	return Replied{}, nil
}

// handleOpen only allows opening the package node; the exit node is
// unreadable by design (-EPERM) and anything else is -ENOENT. No
// per-open state exists, so every open gets the same handle.
func (s *Session) handleOpen(hdr fuseproto.InHeader, _ []byte, conn Conn) (HandlerResult, error) {
	switch hdr.NodeID {
	case fuseproto.PackageNodeID:
		body := fuseproto.EncodeOpenOut(packageFileHandle)
		if err := writeReply(conn, hdr.Unique, body); err != nil {
			return nil, err
		}
		return Replied{}, nil
	case fuseproto.ExitNodeID:
		return ReplyError{Errno: -int32(syscall.EPERM)}, nil
	default:
		return ReplyError{Errno: -int32(syscall.ENOENT)}, nil
	}
}

// handleRead serves package reads via the block store. A fetch or
// integrity failure surfaces to the reader as -EIO; it never aborts
// the mount on its own, since a tampered range is the provider's
// fault, not the control channel's.
func (s *Session) handleRead(hdr fuseproto.InHeader, payload []byte, conn Conn) (HandlerResult, error) {
	in, err := fuseproto.DecodeReadIn(payload)
	if err != nil {
		return ReplyError{Errno: -int32(syscall.EINVAL)}, nil
	}

	segments, err := s.Store.Read(in.Offset, in.Size)
	if err != nil {
		s.Logger.Warn("block read failed", "offset", in.Offset, "size", in.Size, "err", err)
		return ReplyError{Errno: -int32(syscall.EIO)}, nil
	}
	if err := writeReply(conn, hdr.Unique, segments...); err != nil {
		return nil, err
	}
	return Replied{}, nil
}
