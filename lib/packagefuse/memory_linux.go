// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package packagefuse

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultReservationBytes is the memory nominally reserved for a
// co-resident updater process before any of it is offered to the
// retention cache. Policy, not mechanism — callers that know their
// deployment's footprint may pass a different value to
// AvailableCacheBudget.
const DefaultReservationBytes = 500 * 1024 * 1024

// freeMemory reads /proc/meminfo and returns MemFree + Buffers +
// Cached in bytes, the same definition of "free" the original source
// uses: memory the kernel will hand back under pressure, not just the
// unallocated figure.
func freeMemory() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("packagefuse: open /proc/meminfo: %w", err)
	}
	defer f.Close()

	var memFree, buffers, cached uint64
	wanted := map[string]*uint64{
		"MemFree:":  &memFree,
		"Buffers:":  &buffers,
		"Cached:":   &cached,
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		dst, ok := wanted[fields[0]]
		if !ok {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		*dst = kb * 1024
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("packagefuse: scan /proc/meminfo: %w", err)
	}
	return memFree + buffers + cached, nil
}

// AvailableCacheBudget computes the byte budget left for the retention
// cache after subtracting reservationBytes (the co-resident updater's
// working set) and the fingerprint table's own footprint
// (32 bytes/block). A negative result clamps to zero, which
// CacheCapacity treats as "cache disabled".
func AvailableCacheBudget(reservationBytes uint64, blockCount uint32) (uint64, error) {
	free, err := freeMemory()
	if err != nil {
		return 0, err
	}
	fingerprintBytes := uint64(blockCount) * 32
	reserved := reservationBytes + fingerprintBytes
	if free <= reserved {
		return 0, nil
	}
	return free - reserved, nil
}
