// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"fmt"
	"io"
	"os"
)

// FileProvider serves blocks from a local file. It exists for tests
// and for demonstrating packagefs without a real device channel; a
// production deployment supplies a SocketProvider or an equivalent
// implementation of the same interface instead.
type FileProvider struct {
	f         *os.File
	fileSize  uint64
	blockSize uint32
}

// NewFileProvider opens path read-only and reports its current size as
// the served file's size.
func NewFileProvider(path string, blockSize uint32) (*FileProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("provider: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("provider: stat %s: %w", path, err)
	}
	return &FileProvider{
		f:         f,
		fileSize:  uint64(info.Size()),
		blockSize: blockSize,
	}, nil
}

func (p *FileProvider) FileSize() uint64  { return p.fileSize }
func (p *FileProvider) BlockSize() uint32 { return p.blockSize }

// ReadBlock reads exactly len(dst) bytes at the block's offset. A
// short read anywhere but the final, already-short-length final block
// (the caller is responsible for requesting the correct short length
// for the tail block) means the backing file shrank or was truncated
// out from under the mount, and is treated as a provider failure.
func (p *FileProvider) ReadBlock(dst []byte, blockIndex uint32) error {
	offset := int64(blockIndex) * int64(p.blockSize)
	n, err := p.f.ReadAt(dst, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("provider: read block %d: %w", blockIndex, err)
	}
	if n < len(dst) {
		return fmt.Errorf("provider: short read of block %d: got %d of %d bytes", blockIndex, n, len(dst))
	}
	return nil
}

func (p *FileProvider) Close() error {
	return p.f.Close()
}
