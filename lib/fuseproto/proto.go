// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

package fuseproto

import (
	"encoding/binary"
	"fmt"
)

// Opcode identifies a FUSE request type. Values match linux/fuse.h.
type Opcode uint32

const (
	OpLookup  Opcode = 1
	OpForget  Opcode = 2
	OpGetattr Opcode = 3
	OpSetattr Opcode = 4
	OpOpen    Opcode = 14
	OpRead    Opcode = 15
	OpRelease Opcode = 18
	OpFlush   Opcode = 25
	OpInit    Opcode = 26
)

// KernelMajorVersion is the FUSE major protocol version this package
// is built against. A mismatching major version from the kernel aborts
// the mount: there is no wire compatibility across a major bump.
const KernelMajorVersion = 7

// KernelMinorVersion is the newest minor revision this package
// understands. The negotiated minor version sent back to the kernel
// is min(requested, KernelMinorVersion).
const KernelMinorVersion = 34

// initOutCompatSize is the size of fuse_init_out for kernel minor
// revisions <= 22 (the struct grew with 7.23). major/minor/
// max_readahead/flags/max_background/congestion_threshold/max_write.
const initOutCompatSize = 24

// initOutFullSize is the size of the modern fuse_init_out layout,
// which appends time_gran, max_pages, map_alignment, flags2, and
// reserved padding after max_write.
const initOutFullSize = 64

// Well-known node IDs. FUSE reserves 1 for the filesystem root.
const (
	RootNodeID    uint64 = 1
	PackageNodeID uint64 = 2
	ExitNodeID    uint64 = 3
)

// InHeaderSize is the wire size of fuse_in_header.
const InHeaderSize = 40

// InHeader is the fixed header prefixing every kernel request.
type InHeader struct {
	Len    uint32
	Opcode Opcode
	Unique uint64
	NodeID uint64
	UID    uint32
	GID    uint32
	PID    uint32
}

// DecodeInHeader parses the fixed header from the front of a request
// frame. buf must be at least InHeaderSize bytes.
func DecodeInHeader(buf []byte) (InHeader, error) {
	if len(buf) < InHeaderSize {
		return InHeader{}, fmt.Errorf("fuseproto: short header (%d bytes)", len(buf))
	}
	return InHeader{
		Len:    binary.LittleEndian.Uint32(buf[0:4]),
		Opcode: Opcode(binary.LittleEndian.Uint32(buf[4:8])),
		Unique: binary.LittleEndian.Uint64(buf[8:16]),
		NodeID: binary.LittleEndian.Uint64(buf[16:24]),
		UID:    binary.LittleEndian.Uint32(buf[24:28]),
		GID:    binary.LittleEndian.Uint32(buf[28:32]),
		PID:    binary.LittleEndian.Uint32(buf[32:36]),
		// bytes 36:40 are padding.
	}, nil
}

// InitIn is the negotiable subset of fuse_init_in; later kernels append
// fields this package does not need to read.
type InitIn struct {
	Major        uint32
	Minor        uint32
	MaxReadahead uint32
	Flags        uint32
}

// initInSize is the minimum payload length of a FUSE_INIT request.
const initInSize = 16

// DecodeInitIn parses the INIT request payload (the bytes following
// InHeader).
func DecodeInitIn(buf []byte) (InitIn, error) {
	if len(buf) < initInSize {
		return InitIn{}, fmt.Errorf("fuseproto: short init payload (%d bytes)", len(buf))
	}
	return InitIn{
		Major:        binary.LittleEndian.Uint32(buf[0:4]),
		Minor:        binary.LittleEndian.Uint32(buf[4:8]),
		MaxReadahead: binary.LittleEndian.Uint32(buf[8:12]),
		Flags:        binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// ReadIn is the fuse_read_in request payload.
type ReadIn struct {
	FH        uint64
	Offset    uint64
	Size      uint32
	ReadFlags uint32
	LockOwner uint64
	Flags     uint32
}

// readInSize is the wire size of fuse_read_in.
const readInSize = 40

// DecodeReadIn parses a FUSE_READ request payload.
func DecodeReadIn(buf []byte) (ReadIn, error) {
	if len(buf) < readInSize {
		return ReadIn{}, fmt.Errorf("fuseproto: short read payload (%d bytes)", len(buf))
	}
	return ReadIn{
		FH:        binary.LittleEndian.Uint64(buf[0:8]),
		Offset:    binary.LittleEndian.Uint64(buf[8:16]),
		Size:      binary.LittleEndian.Uint32(buf[16:20]),
		ReadFlags: binary.LittleEndian.Uint32(buf[20:24]),
		LockOwner: binary.LittleEndian.Uint64(buf[24:32]),
		Flags:     binary.LittleEndian.Uint32(buf[32:36]),
		// bytes 36:40 are padding.
	}, nil
}

// EncodeOutHeader builds a fuse_out_header. totalLen is the full reply
// length including the header itself; errno is 0 for success.
func EncodeOutHeader(totalLen uint32, errno int32, unique uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], totalLen)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(errno)))
	binary.LittleEndian.PutUint64(buf[8:16], unique)
	return buf
}

// EncodeInitOut builds the fuse_init_out reply body (everything after
// the out header). negotiatedMinor selects the struct layout: minor <=
// 22 gets the pre-7.23 compact struct, matching the original source's
// FUSE_COMPAT_22_INIT_OUT_SIZE handling.
func EncodeInitOut(negotiatedMinor, maxReadahead uint32) []byte {
	size := initOutFullSize
	if negotiatedMinor <= 22 {
		size = initOutCompatSize
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], KernelMajorVersion)
	binary.LittleEndian.PutUint32(buf[4:8], negotiatedMinor)
	binary.LittleEndian.PutUint32(buf[8:12], maxReadahead)
	binary.LittleEndian.PutUint32(buf[12:16], 0) // flags
	binary.LittleEndian.PutUint16(buf[16:18], 32) // max_background
	binary.LittleEndian.PutUint16(buf[18:20], 32) // congestion_threshold
	binary.LittleEndian.PutUint32(buf[20:24], 4096) // max_write
	// Remaining bytes (time_gran, max_pages, reserved) stay zero.
	return buf
}

// attrSize is the wire size of fuse_attr.
const attrSize = 88

// encodeAttr writes a fuse_attr describing a single node into buf[0:88].
func encodeAttr(buf []byte, nodeID, size uint64, mode uint32, uid, gid uint32) {
	binary.LittleEndian.PutUint64(buf[0:8], nodeID) // ino
	binary.LittleEndian.PutUint64(buf[8:16], size)
	blocks := uint64(0)
	if size > 0 {
		blocks = (size-1)/4096 + 1
	}
	binary.LittleEndian.PutUint64(buf[16:24], blocks)
	// atime/mtime/ctime (24:48) and their nsec fields (48:60) are left zero.
	binary.LittleEndian.PutUint32(buf[60:64], mode)
	binary.LittleEndian.PutUint32(buf[64:68], 1) // nlink
	binary.LittleEndian.PutUint32(buf[68:72], uid)
	binary.LittleEndian.PutUint32(buf[72:76], gid)
	// rdev (76:80) stays zero.
	binary.LittleEndian.PutUint32(buf[80:84], 4096) // blksize
	// padding (84:88) stays zero.
}

// EntryValidSeconds and AttrValidSeconds are the cache durations used
// for every lookup/getattr reply: the filesystem's attributes never
// change for the lifetime of a mount, so the kernel can hold onto them
// for a while without re-asking.
const (
	EntryValidSeconds = 10
	AttrValidSeconds  = 10
)

// entryOutHeaderSize is the fixed portion of fuse_entry_out preceding
// the embedded fuse_attr: nodeid, generation, entry_valid, attr_valid,
// entry_valid_nsec, attr_valid_nsec.
const entryOutHeaderSize = 40

// EncodeEntryOut builds a fuse_entry_out reply body for LOOKUP.
func EncodeEntryOut(nodeID uint64, size uint64, mode uint32, uid, gid uint32) []byte {
	buf := make([]byte, entryOutHeaderSize+attrSize)
	binary.LittleEndian.PutUint64(buf[0:8], nodeID)
	binary.LittleEndian.PutUint64(buf[8:16], nodeID) // generation: reuse nodeID, both well-known nodes are immutable
	binary.LittleEndian.PutUint64(buf[16:24], EntryValidSeconds)
	binary.LittleEndian.PutUint64(buf[24:32], AttrValidSeconds)
	// entry_valid_nsec, attr_valid_nsec (32:40) stay zero.
	encodeAttr(buf[entryOutHeaderSize:entryOutHeaderSize+attrSize], nodeID, size, mode, uid, gid)
	return buf
}

// EncodeAttrOut builds a fuse_attr_out reply body for GETATTR.
func EncodeAttrOut(nodeID uint64, size uint64, mode uint32, uid, gid uint32) []byte {
	buf := make([]byte, 16+attrSize)
	binary.LittleEndian.PutUint64(buf[0:8], AttrValidSeconds)
	// attr_valid_nsec, dummy (8:16) stay zero.
	encodeAttr(buf[16:16+attrSize], nodeID, size, mode, uid, gid)
	return buf
}

// EncodeOpenOut builds a fuse_open_out reply body.
func EncodeOpenOut(fh uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], fh)
	// open_flags, padding (8:16) stay zero.
	return buf
}
