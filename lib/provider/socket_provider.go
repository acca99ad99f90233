// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"fmt"
	"net"

	"github.com/klauspost/compress/zstd"

	"github.com/glikched/bootable-recovery/lib/codec"
)

// SocketProvider fetches blocks from a peer process reachable over a
// Unix domain socket (or any net.Conn-compatible transport), framed
// with a deterministic CBOR wire format and optional zstd compression
// for bandwidth-constrained links.
type SocketProvider struct {
	conn      net.Conn
	enc       *codec.Encoder
	dec       *codec.Decoder
	fileSize  uint64
	blockSize uint32
	zstd      *zstd.Decoder
}

// DialSocketProvider connects to address over network (typically
// "unix"), negotiates the served block size, and returns a ready
// Provider. requestedBlockSize is a hint; the peer's handshake reply
// is authoritative and BlockSize() reports what the peer actually
// chose.
func DialSocketProvider(network, address string, requestedBlockSize uint32) (*SocketProvider, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("provider: dial %s %s: %w", network, address, err)
	}

	enc := codec.NewEncoder(conn)
	dec := codec.NewDecoder(conn)

	if err := enc.Encode(handshakeRequest{WantBlockSize: requestedBlockSize}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("provider: send handshake: %w", err)
	}
	var reply handshakeReply
	if err := dec.Decode(&reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("provider: read handshake reply: %w", err)
	}

	zr, err := zstd.NewReader(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("provider: init zstd decoder: %w", err)
	}

	return &SocketProvider{
		conn:      conn,
		enc:       enc,
		dec:       dec,
		fileSize:  reply.FileSize,
		blockSize: reply.BlockSize,
		zstd:      zr,
	}, nil
}

func (p *SocketProvider) FileSize() uint64  { return p.fileSize }
func (p *SocketProvider) BlockSize() uint32 { return p.blockSize }

// ReadBlock is invoked at most once at a time: the single-threaded
// dispatcher loop this provider feeds never issues a second block
// request before the first one's reply has been read, so no locking
// is needed around the request/reply round trip.
func (p *SocketProvider) ReadBlock(dst []byte, blockIndex uint32) error {
	if err := p.enc.Encode(blockRequest{Block: blockIndex, Length: uint32(len(dst))}); err != nil {
		return fmt.Errorf("provider: send block request %d: %w", blockIndex, err)
	}
	var reply blockReply
	if err := p.dec.Decode(&reply); err != nil {
		return fmt.Errorf("provider: read block reply %d: %w", blockIndex, err)
	}
	if !reply.OK {
		return fmt.Errorf("provider: peer failed block %d: %s", blockIndex, reply.Error)
	}

	data := reply.Data
	if reply.Compressed {
		decoded, err := p.zstd.DecodeAll(data, make([]byte, 0, len(dst)))
		if err != nil {
			return fmt.Errorf("provider: decompress block %d: %w", blockIndex, err)
		}
		data = decoded
	}
	if len(data) != len(dst) {
		return fmt.Errorf("provider: block %d reply is %d bytes, want %d", blockIndex, len(data), len(dst))
	}
	copy(dst, data)
	return nil
}

func (p *SocketProvider) Close() error {
	p.zstd.Close()
	return p.conn.Close()
}
