// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

package blockstore

import "testing"

func TestRetentionCacheDisabledAtZeroCapacity(t *testing.T) {
	c := newRetentionCache(0, 10, nil)
	if c != nil {
		t.Fatal("expected nil cache for zero capacity")
	}
	c.insert(0, []byte{1, 2, 3}, 0) // must be a safe no-op on a nil cache
	if got := c.get(0); got != nil {
		t.Fatalf("get on nil cache returned %v, want nil", got)
	}
}

func TestRetentionCacheEvictsBackwardFromCurrent(t *testing.T) {
	c := newRetentionCache(2, 5, nil)
	c.insert(3, []byte{3}, 3)
	c.insert(2, []byte{2}, 3)
	if c.len() != 2 {
		t.Fatalf("len = %d, want 2", c.len())
	}

	// currentIndex is 4: backward scan order is 3, 2, 1, 0. Block 3 is
	// the first occupied slot found walking backward from 3, so it is
	// the one evicted to make room.
	c.insert(1, []byte{1}, 4)
	if c.len() != 2 {
		t.Fatalf("len after eviction = %d, want 2", c.len())
	}
	if got := c.get(3); got != nil {
		t.Fatal("expected block 3 to have been evicted")
	}
	if got := c.get(2); got == nil {
		t.Fatal("expected block 2 to survive eviction")
	}
	if got := c.get(1); got == nil {
		t.Fatal("expected newly inserted block 1 to be present")
	}
}

func TestRetentionCacheRefusesAdmissionWhenOnlyCurrentOccupied(t *testing.T) {
	c := newRetentionCache(1, 3, nil)
	c.insert(0, []byte{0}, 0)
	if c.len() != 1 {
		t.Fatalf("len = %d, want 1", c.len())
	}

	// currentIndex is 0 and the only occupied slot is also 0: the
	// backward walk (2, 1) finds nothing to evict, so admission of a
	// new block is refused and the cache is left unchanged.
	c.insert(1, []byte{1}, 0)
	if c.len() != 1 {
		t.Fatalf("len = %d, want 1 (admission should have been refused)", c.len())
	}
	if got := c.get(0); got == nil {
		t.Fatal("expected original block 0 to remain cached")
	}
	if got := c.get(1); got != nil {
		t.Fatal("expected block 1 to have been refused admission")
	}
}

func TestCacheCapacityDisabledBelowMinimum(t *testing.T) {
	// budget of 1 block is below max(2, 1% of 1000) = 10.
	if cap := CacheCapacity(4096, 4096, 1000); cap != 0 {
		t.Fatalf("CacheCapacity = %d, want 0", cap)
	}
}

func TestCacheCapacityClampedToBlockCount(t *testing.T) {
	// Huge budget, small file: capacity must not exceed block count.
	if cap := CacheCapacity(1<<30, 4096, 4); cap != 4 {
		t.Fatalf("CacheCapacity = %d, want 4", cap)
	}
}

func TestCacheCapacityUsesOnePercentFloor(t *testing.T) {
	// 1% of 100000 blocks is 1000, above the flat floor of 2.
	budget := uint64(1500) * 4096
	if cap := CacheCapacity(budget, 4096, 100000); cap != 1500 {
		t.Fatalf("CacheCapacity = %d, want 1500", cap)
	}
	tooSmall := uint64(500) * 4096
	if cap := CacheCapacity(tooSmall, 4096, 100000); cap != 0 {
		t.Fatalf("CacheCapacity = %d, want 0 (below 1%% floor)", cap)
	}
}
