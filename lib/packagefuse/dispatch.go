// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

package packagefuse

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/glikched/bootable-recovery/lib/fuseproto"
)

// pathMax bounds the longest filename payload the dispatcher accepts
// inline; the receive buffer is sized for it exactly as the original
// source sizes its buffer off PATH_MAX.
const pathMax = 4096

// RecvBufSize is the fixed size of the dispatcher's receive buffer:
// the frame header plus room for the largest payload any handled
// opcode carries.
const RecvBufSize = fuseproto.InHeaderSize + 8*pathMax

// Conn is the control channel the dispatcher reads requests from and
// writes replies to. The real implementation wraps the /dev/fuse file
// descriptor with direct read(2)/writev(2) syscalls (mount_linux.go);
// tests substitute an in-memory Conn to exercise handlers without a
// kernel mount.
type Conn interface {
	Read(buf []byte) (int, error)
	WriteSegments(segments [][]byte) error
}

// Serve drives the request loop: read one frame, decode its header,
// dispatch to a handler, and act on the handler's result. It returns
// nil on orderly termination (the exit sentinel was reached) and a
// non-nil error for any other exit path — a disconnected channel, a
// write failure, or a failed init negotiation.
func (s *Session) Serve(conn Conn) error {
	buf := make([]byte, RecvBufSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("packagefuse: control channel read: %w", err)
		}
		if n < fuseproto.InHeaderSize {
			continue
		}

		hdr, err := fuseproto.DecodeInHeader(buf[:n])
		if err != nil {
			continue
		}
		payload := buf[fuseproto.InHeaderSize:n]

		result, err := s.dispatch(hdr, payload, conn)
		if err != nil {
			return err
		}

		switch r := result.(type) {
		case Replied:
		case RepliedAndExit:
			return nil
		case ReplyError:
			if err := writeErrorReply(conn, hdr.Unique, r.Errno); err != nil {
				return fmt.Errorf("packagefuse: write error reply: %w", err)
			}
		default:
			return fmt.Errorf("packagefuse: handler returned unrecognized result %T", result)
		}
	}
}

// dispatch routes a decoded request to its handler. A non-nil error
// here means a handler failed to write its reply, or init failed: a
// failed protocol negotiation aborts the mount entirely rather than
// sending a framed reply, mirroring the original source's plain
// "return -1" on version mismatch.
func (s *Session) dispatch(hdr fuseproto.InHeader, payload []byte, conn Conn) (HandlerResult, error) {
	switch hdr.Opcode {
	case fuseproto.OpInit:
		return s.handleInit(hdr, payload, conn)
	case fuseproto.OpLookup:
		return s.handleLookup(hdr, payload, conn)
	case fuseproto.OpGetattr:
		return s.handleGetattr(hdr, payload, conn)
	case fuseproto.OpOpen:
		return s.handleOpen(hdr, payload, conn)
	case fuseproto.OpRead:
		return s.handleRead(hdr, payload, conn)
	case fuseproto.OpFlush, fuseproto.OpRelease:
		return ok(), nil
	default:
		s.Logger.Warn("unsupported FUSE opcode", "opcode", hdr.Opcode)
		return ReplyError{Errno: -int32(syscall.ENOSYS)}, nil
	}
}

func writeReply(conn Conn, unique uint64, segments ...[]byte) error {
	total := 16
	for _, seg := range segments {
		total += len(seg)
	}
	header := fuseproto.EncodeOutHeader(uint32(total), 0, unique)
	all := make([][]byte, 0, len(segments)+1)
	all = append(all, header)
	all = append(all, segments...)
	return conn.WriteSegments(all)
}

func writeErrorReply(conn Conn, unique uint64, errno int32) error {
	header := fuseproto.EncodeOutHeader(16, errno, unique)
	return conn.WriteSegments([][]byte{header})
}

func parseNulString(payload []byte) string {
	for i, b := range payload {
		if b == 0 {
			return string(payload[:i])
		}
	}
	return string(payload)
}
