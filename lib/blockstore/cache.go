// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

package blockstore

import "log/slog"

// retentionCache is the optional in-memory map of block index to bytes
// that lets a re-read of a previously fetched block skip the provider
// entirely. A Go map gives the same O(1) lookup a direct-indexed array
// would, without paying for block_count slots up front when capacity
// is far smaller than the file.
type retentionCache struct {
	capacity   uint32
	blockCount uint32
	slots      map[uint32][]byte
	logger     *slog.Logger
}

// newRetentionCache returns nil if capacity is zero: a nil cache is a
// valid, always-miss cache, so callers never need a separate "enabled"
// check. A nil logger falls back to slog.Default().
func newRetentionCache(capacity, blockCount uint32, logger *slog.Logger) *retentionCache {
	if capacity == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retentionCache{
		capacity:   capacity,
		blockCount: blockCount,
		slots:      make(map[uint32][]byte, capacity),
		logger:     logger,
	}
}

func (c *retentionCache) get(b uint32) []byte {
	if c == nil {
		return nil
	}
	return c.slots[b]
}

// insert admits a freshly verified block's bytes. If the cache is at
// capacity it first tries to evict a victim; if eviction finds nothing
// to reclaim, admission is refused and insert is a no-op (the open
// question in the eviction policy: a walk that wraps back to
// currentIndex without finding an occupied slot leaves the cache
// unchanged rather than growing past capacity).
func (c *retentionCache) insert(b uint32, data []byte, currentIndex uint32) {
	if c == nil {
		return
	}
	if _, exists := c.slots[b]; exists {
		return
	}
	if uint32(len(c.slots)) >= c.capacity {
		if !c.evict(currentIndex) {
			return
		}
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.slots[b] = buf
}

// evict scans backward from currentIndex-1, wrapping at 0/blockCount-1,
// and releases the first occupied slot it finds. This approximates LRU
// for the sequential-reader access pattern packagefs is tuned for: the
// block just consumed, and the blocks ahead of it, are the last to go.
func (c *retentionCache) evict(currentIndex uint32) bool {
	if c.blockCount == 0 {
		return false
	}
	for i := uint32(1); i < c.blockCount; i++ {
		idx := (currentIndex + c.blockCount - i) % c.blockCount
		if _, ok := c.slots[idx]; ok {
			delete(c.slots, idx)
			c.logger.Debug("cache evicted block", "block", idx, "current", currentIndex)
			return true
		}
	}
	return false
}

func (c *retentionCache) len() int {
	if c == nil {
		return 0
	}
	return len(c.slots)
}
