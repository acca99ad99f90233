// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

package packagefuse

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"syscall"
	"testing"

	"github.com/glikched/bootable-recovery/lib/blockstore"
	"github.com/glikched/bootable-recovery/lib/fuseproto"
)

// fakeConn plays back a scripted sequence of request frames and
// records every reply written, so the dispatcher can be driven without
// a real /dev/fuse file descriptor.
type fakeConn struct {
	requests [][]byte
	idx      int
	replies  [][]byte
}

func (c *fakeConn) Read(buf []byte) (int, error) {
	if c.idx >= len(c.requests) {
		return 0, io.EOF
	}
	req := c.requests[c.idx]
	c.idx++
	return copy(buf, req), nil
}

func (c *fakeConn) WriteSegments(segments [][]byte) error {
	var all []byte
	for _, seg := range segments {
		all = append(all, seg...)
	}
	c.replies = append(c.replies, all)
	return nil
}

func buildFrame(opcode fuseproto.Opcode, unique, nodeID uint64, payload []byte) []byte {
	buf := make([]byte, fuseproto.InHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(opcode))
	binary.LittleEndian.PutUint64(buf[8:16], unique)
	binary.LittleEndian.PutUint64(buf[16:24], nodeID)
	copy(buf[fuseproto.InHeaderSize:], payload)
	return buf
}

func initPayload(major, minor, maxReadahead, flags uint32) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], major)
	binary.LittleEndian.PutUint32(buf[4:8], minor)
	binary.LittleEndian.PutUint32(buf[8:12], maxReadahead)
	binary.LittleEndian.PutUint32(buf[12:16], flags)
	return buf
}

func readPayload(fh, offset uint64, size uint32) []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint64(buf[0:8], fh)
	binary.LittleEndian.PutUint64(buf[8:16], offset)
	binary.LittleEndian.PutUint32(buf[16:20], size)
	return buf
}

func nulName(name string) []byte {
	return append([]byte(name), 0)
}

func replyLen(reply []byte) uint32 {
	return binary.LittleEndian.Uint32(reply[0:4])
}

func replyErrno(reply []byte) int32 {
	return int32(binary.LittleEndian.Uint32(reply[4:8]))
}

// testProvider is a trivial in-memory provider for handler-level tests.
type testProvider struct {
	data      []byte
	blockSize uint32
}

func (p *testProvider) FileSize() uint64  { return uint64(len(p.data)) }
func (p *testProvider) BlockSize() uint32 { return p.blockSize }
func (p *testProvider) ReadBlock(dst []byte, block uint32) error {
	off := int(block) * int(p.blockSize)
	copy(dst, p.data[off:])
	return nil
}
func (p *testProvider) Close() error { return nil }

func newTestSession(t *testing.T, data []byte, blockSize uint32) *Session {
	t.Helper()
	provider := &testProvider{data: data, blockSize: blockSize}
	store, err := blockstore.New(provider, uint64(len(data)), blockSize, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewSession(store, 1000, 1000, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// S4: init negotiation.
func TestInitRejectsOldMinor(t *testing.T) {
	s := newTestSession(t, make([]byte, 4096), 4096)
	conn := &fakeConn{requests: [][]byte{
		buildFrame(fuseproto.OpInit, 1, fuseproto.RootNodeID, initPayload(fuseproto.KernelMajorVersion, 5, 4096, 0)),
	}}
	if err := s.Serve(conn); err == nil {
		t.Fatal("expected init negotiation to abort the mount for minor < 6")
	}
}

func TestInitCompatLayoutForOldMinor(t *testing.T) {
	s := newTestSession(t, make([]byte, 4096), 4096)
	conn := &fakeConn{requests: [][]byte{
		buildFrame(fuseproto.OpInit, 1, fuseproto.RootNodeID, initPayload(fuseproto.KernelMajorVersion, 22, 4096, 0)),
	}}
	if err := s.dispatchOnce(conn); err != nil {
		t.Fatal(err)
	}
	if got, want := replyLen(conn.replies[0]), uint32(16+24); got != want {
		t.Fatalf("compat init reply length = %d, want %d", got, want)
	}
}

func TestInitFullLayoutForNewMinor(t *testing.T) {
	s := newTestSession(t, make([]byte, 4096), 4096)
	conn := &fakeConn{requests: [][]byte{
		buildFrame(fuseproto.OpInit, 1, fuseproto.RootNodeID, initPayload(fuseproto.KernelMajorVersion, 31, 4096, 0)),
	}}
	if err := s.dispatchOnce(conn); err != nil {
		t.Fatal(err)
	}
	if got, want := replyLen(conn.replies[0]), uint32(16+64); got != want {
		t.Fatalf("full init reply length = %d, want %d", got, want)
	}
}

// dispatchOnce drives exactly one request/reply round for tests that
// want to inspect a single reply rather than a whole Serve run.
func (s *Session) dispatchOnce(conn *fakeConn) error {
	buf := make([]byte, RecvBufSize)
	n, err := conn.Read(buf)
	if err != nil {
		return err
	}
	hdr, err := fuseproto.DecodeInHeader(buf[:n])
	if err != nil {
		return err
	}
	result, err := s.dispatch(hdr, buf[fuseproto.InHeaderSize:n], conn)
	if err != nil {
		return err
	}
	if re, isErr := result.(ReplyError); isErr {
		return writeErrorReply(conn, hdr.Unique, re.Errno)
	}
	return nil
}

func TestLookupUnknownNameIsENOENT(t *testing.T) {
	s := newTestSession(t, make([]byte, 4096), 4096)
	conn := &fakeConn{requests: [][]byte{
		buildFrame(fuseproto.OpLookup, 1, fuseproto.RootNodeID, nulName("nonexistent")),
	}}
	if err := s.dispatchOnce(conn); err != nil {
		t.Fatal(err)
	}
	if errno := replyErrno(conn.replies[0]); errno != -int32(syscall.ENOENT) {
		t.Fatalf("errno = %d, want %d", errno, -int32(syscall.ENOENT))
	}
}

// S5: exit via lookup terminates the dispatcher with success.
func TestLookupExitTerminatesServe(t *testing.T) {
	s := newTestSession(t, make([]byte, 4096), 4096)
	conn := &fakeConn{requests: [][]byte{
		buildFrame(fuseproto.OpLookup, 1, fuseproto.RootNodeID, nulName(ExitName)),
	}}
	if err := s.Serve(conn); err != nil {
		t.Fatalf("Serve returned error on exit sentinel lookup: %v", err)
	}
	if len(conn.replies) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(conn.replies))
	}
}

// S5 variant: exit via getattr also terminates the dispatcher.
func TestGetattrExitTerminatesServe(t *testing.T) {
	s := newTestSession(t, make([]byte, 4096), 4096)
	conn := &fakeConn{requests: [][]byte{
		buildFrame(fuseproto.OpGetattr, 1, fuseproto.ExitNodeID, nil),
	}}
	if err := s.Serve(conn); err != nil {
		t.Fatalf("Serve returned error on exit sentinel getattr: %v", err)
	}
}

func TestOpenExitIsEPERM(t *testing.T) {
	s := newTestSession(t, make([]byte, 4096), 4096)
	conn := &fakeConn{requests: [][]byte{
		buildFrame(fuseproto.OpOpen, 1, fuseproto.ExitNodeID, nil),
	}}
	if err := s.dispatchOnce(conn); err != nil {
		t.Fatal(err)
	}
	if errno := replyErrno(conn.replies[0]); errno != -int32(syscall.EPERM) {
		t.Fatalf("errno opening exit node = %d, want %d", errno, -int32(syscall.EPERM))
	}
}

// S6: a read spanning two blocks dispatches through the real Store.
func TestReadHandlerServesSpanningRead(t *testing.T) {
	const bs = 4096
	data := bytes.Repeat([]byte{0}, 3*bs)
	for i := range data[:bs] {
		data[i] = 'A'
	}
	for i := bs; i < 2*bs; i++ {
		data[i] = 'B'
	}
	s := newTestSession(t, data, bs)

	conn := &fakeConn{requests: [][]byte{
		buildFrame(fuseproto.OpRead, 1, fuseproto.PackageNodeID, readPayload(packageFileHandle, bs-10, 20)),
	}}
	if err := s.dispatchOnce(conn); err != nil {
		t.Fatal(err)
	}
	body := conn.replies[0][16:]
	want := append(bytes.Repeat([]byte{'A'}, 10), bytes.Repeat([]byte{'B'}, 10)...)
	if !bytes.Equal(body, want) {
		t.Fatalf("spanning read body = %q, want %q", body, want)
	}
}

func TestServeReturnsErrorOnDisconnect(t *testing.T) {
	s := newTestSession(t, make([]byte, 4096), 4096)
	conn := &fakeConn{requests: nil}
	err := s.Serve(conn)
	if err == nil {
		t.Fatal("expected error when control channel is immediately disconnected")
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected wrapped io.EOF, got %v", err)
	}
}
