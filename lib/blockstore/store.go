// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

package blockstore

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
)

// NoBlock is the distinguished "current buffer holds nothing valid"
// value for Store.currentIndex. uint32 max can never be a real block
// index: MaxBlockCount below is far smaller.
const NoBlock uint32 = ^uint32(0)

// MinBlockSize, MaxBlockSize, and MaxBlockCount bound the session
// parameters a Store will accept.
const (
	MinBlockSize  = 4096
	MaxBlockSize  = 1 << 22
	MaxBlockCount = 1 << 18
)

// Store owns the current-block and spill buffers, the per-block
// fingerprint table, and the retention cache for one mounted package.
// It is not safe for concurrent use: the design is single-threaded
// cooperative, driven entirely by the dispatcher's request loop.
type Store struct {
	provider Provider
	logger   *slog.Logger

	blockSize  uint32
	blockCount uint32
	fileSize   uint64

	// fingerprints and observed are parallel arrays rather than the
	// zero-digest-as-sentinel scheme: a block whose true content
	// happens to hash to all zero bytes must still be pinned on first
	// observation, which a zero-sentinel cannot distinguish from "not
	// yet observed".
	fingerprints [][sha256.Size]byte
	observed     []bool

	currentBuf   []byte
	currentIndex uint32
	spillBuf     []byte

	cache *retentionCache
}

// New builds a Store for a package of the given size, served in blocks
// of blockSize bytes from provider. cacheCapacity is the number of
// blocks the retention cache may hold; 0 disables it. A nil logger
// falls back to slog.Default(), matching Session's convention.
func New(provider Provider, fileSize uint64, blockSize uint32, cacheCapacity uint32, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if blockSize < MinBlockSize || blockSize > MaxBlockSize {
		return nil, fmt.Errorf("blockstore: block size %d out of range [%d, %d]", blockSize, MinBlockSize, MaxBlockSize)
	}
	blockCount := uint32(0)
	if fileSize > 0 {
		blockCount = uint32((fileSize + uint64(blockSize) - 1) / uint64(blockSize))
	}
	if blockCount > MaxBlockCount {
		return nil, fmt.Errorf("blockstore: file requires %d blocks, exceeds maximum of %d", blockCount, MaxBlockCount)
	}
	if cacheCapacity > blockCount {
		cacheCapacity = blockCount
	}
	return &Store{
		provider:     provider,
		logger:       logger,
		blockSize:    blockSize,
		blockCount:   blockCount,
		fileSize:     fileSize,
		fingerprints: make([][sha256.Size]byte, blockCount),
		observed:     make([]bool, blockCount),
		currentBuf:   make([]byte, blockSize),
		currentIndex: NoBlock,
		spillBuf:     make([]byte, blockSize),
		cache:        newRetentionCache(cacheCapacity, blockCount, logger),
	}, nil
}

// BlockSize, BlockCount, and FileSize report the session parameters
// fixed at construction.
func (s *Store) BlockSize() uint32   { return s.blockSize }
func (s *Store) BlockCount() uint32  { return s.blockCount }
func (s *Store) FileSize() uint64    { return s.fileSize }
func (s *Store) CacheLen() int       { return s.cache.len() }

// ErrTampered is returned when a re-fetched block's bytes no longer
// hash to the fingerprint pinned on first observation.
type ErrTampered struct {
	Block uint32
}

func (e *ErrTampered) Error() string {
	return fmt.Sprintf("blockstore: block %d content disagrees with pinned fingerprint", e.Block)
}

// EnsureBlock guarantees that, on success, s.Current() holds block b's
// verified bytes (or, for b beyond the file, a zero block). It never
// touches the provider for a block already resident in currentBuf or
// the retention cache.
func (s *Store) EnsureBlock(b uint32) error {
	if s.currentIndex == b {
		return nil
	}
	if b >= s.blockCount {
		for i := range s.currentBuf {
			s.currentBuf[i] = 0
		}
		s.currentIndex = b
		return nil
	}
	if cached := s.cache.get(b); cached != nil {
		copy(s.currentBuf, cached)
		s.currentIndex = b
		return nil
	}

	length := s.blockSize
	if tail := s.fileSize - uint64(b)*uint64(s.blockSize); tail < uint64(s.blockSize) {
		length = uint32(tail)
	}
	if err := s.provider.ReadBlock(s.currentBuf[:length], b); err != nil {
		s.currentIndex = NoBlock
		s.logger.Warn("block fetch failed", "block", b, "err", err)
		return fmt.Errorf("blockstore: fetch block %d: %w", b, err)
	}
	for i := length; i < s.blockSize; i++ {
		s.currentBuf[i] = 0
	}

	sum := sha256.Sum256(s.currentBuf)
	wasObserved := s.observed[b]
	if wasObserved {
		if sum != s.fingerprints[b] {
			s.currentIndex = NoBlock
			s.logger.Error("block fingerprint mismatch", "block", b)
			return &ErrTampered{Block: b}
		}
	} else {
		s.fingerprints[b] = sum
		s.observed[b] = true
		s.logger.Debug("block fetched and pinned", "block", b, "length", length)
	}
	s.currentIndex = b
	if !wasObserved {
		s.cache.insert(b, s.currentBuf, s.currentIndex)
	}
	return nil
}

// Current returns the block currently resident in currentBuf. Valid
// only immediately after a successful EnsureBlock call for the same
// index; callers must not retain the slice past the next EnsureBlock.
func (s *Store) Current() []byte {
	return s.currentBuf
}

// Read serves a read of size bytes starting at offset, returning the
// reply as one or two segments suitable for a single gather-I/O write.
// A read that covers more than two blocks is copied block by block into
// one newly allocated segment. A read that starts within the file but runs past file_size is
// zero-padded by EnsureBlock's past-end handling; no segment ever
// needs special-casing for that here.
func (s *Store) Read(offset uint64, size uint32) ([][]byte, error) {
	b0 := uint32(offset / uint64(s.blockSize))
	o := uint32(offset - uint64(b0)*uint64(s.blockSize))

	if err := s.EnsureBlock(b0); err != nil {
		return nil, err
	}
	if o+size <= s.blockSize {
		return [][]byte{s.currentBuf[o : o+size]}, nil
	}
	if uint64(o)+uint64(size) > 2*uint64(s.blockSize) {
		out := make([]byte, 0, size)
		for pos := offset; len(out) < int(size); {
			b := uint32(pos / uint64(s.blockSize))
			if err := s.EnsureBlock(b); err != nil {
				return nil, err
			}
			start := uint32(pos - uint64(b)*uint64(s.blockSize))
			n := min(s.blockSize-start, size-uint32(len(out)))
			out = append(out, s.currentBuf[start:start+n]...)
			pos += uint64(n)
		}
		return [][]byte{out}, nil
	}

	spillLen := s.blockSize - o
	copy(s.spillBuf[:spillLen], s.currentBuf[o:s.blockSize])
	if err := s.EnsureBlock(b0 + 1); err != nil {
		return nil, err
	}
	remaining := size - spillLen
	return [][]byte{s.spillBuf[:spillLen], s.currentBuf[:remaining]}, nil
}

// Close releases the provider. Buffers and the cache are left to the
// garbage collector; there is no manual allocation to free.
func (s *Store) Close() error {
	return s.provider.Close()
}

// CacheCapacity computes the retention cache's block capacity from a
// memory budget in bytes. It returns 0 (cache disabled) if the budget
// cannot hold at least max(2, 1% of the file) blocks.
func CacheCapacity(availableBytes uint64, blockSize uint32, blockCount uint32) uint32 {
	if blockSize == 0 {
		return 0
	}
	budgetBlocks := availableBytes / uint64(blockSize)
	minBlocks := uint64(2)
	if onePercent := uint64(blockCount) / 100; onePercent > minBlocks {
		minBlocks = onePercent
	}
	if budgetBlocks < minBlocks {
		return 0
	}
	if budgetBlocks > uint64(blockCount) {
		budgetBlocks = uint64(blockCount)
	}
	return uint32(budgetBlocks)
}
