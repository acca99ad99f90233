// Copyright 2026 The Bootable Recovery Authors
// SPDX-License-Identifier: Apache-2.0

package blockstore

import (
	"bytes"
	"errors"
	"testing"
)

// fakeProvider serves blocks from an in-memory script, one []byte
// answer per call to ReadBlock for a given block index, so tests can
// simulate a transport that changes its mind between reads.
type fakeProvider struct {
	fileSize  uint64
	blockSize uint32
	answers   map[uint32][][]byte
	calls     map[uint32]int
	closed    bool
}

func newFakeProvider(fileSize uint64, blockSize uint32) *fakeProvider {
	return &fakeProvider{
		fileSize:  fileSize,
		blockSize: blockSize,
		answers:   make(map[uint32][][]byte),
		calls:     make(map[uint32]int),
	}
}

func (p *fakeProvider) script(block uint32, answers ...[]byte) {
	p.answers[block] = answers
}

func (p *fakeProvider) FileSize() uint64  { return p.fileSize }
func (p *fakeProvider) BlockSize() uint32 { return p.blockSize }

func (p *fakeProvider) ReadBlock(dst []byte, block uint32) error {
	answers := p.answers[block]
	if len(answers) == 0 {
		return errors.New("fakeProvider: no scripted answer")
	}
	idx := p.calls[block]
	if idx >= len(answers) {
		idx = len(answers) - 1
	}
	p.calls[block]++
	copy(dst, answers[idx])
	return nil
}

func (p *fakeProvider) Close() error {
	p.closed = true
	return nil
}

func fill(b byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// S1: partial tail block and past-end zero padding.
func TestReadPartialTailAndPastEnd(t *testing.T) {
	const bs = 4096
	provider := newFakeProvider(10000, bs)
	provider.script(0, fill('A', bs))
	provider.script(1, fill('B', bs))
	tail := append(fill('C', 1808), make([]byte, bs-1808)...)
	provider.script(2, tail)

	store, err := New(provider, 10000, bs, 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	segs, err := store.Read(0, 10000)
	if err != nil {
		t.Fatal(err)
	}
	got := concat(segs...)
	want := concat(fill('A', bs), fill('B', bs), fill('C', 1808))
	if !bytes.Equal(got, want) {
		t.Fatalf("full read mismatch: got %d bytes, want %d bytes", len(got), len(want))
	}

	segs, err = store.Read(9000, 2000)
	if err != nil {
		t.Fatal(err)
	}
	got = concat(segs...)
	want = concat(fill('C', 1000), make([]byte, 1000))
	if !bytes.Equal(got, want) {
		t.Fatalf("tail+past-end read mismatch")
	}

	segs, err = store.Read(10000, 10)
	if err != nil {
		t.Fatal(err)
	}
	got = concat(segs...)
	if !bytes.Equal(got, make([]byte, 10)) {
		t.Fatalf("past-end read returned non-zero bytes: %v", got)
	}
}

// S2: straddling read stitches spill buffer and freshly fetched block.
func TestReadSpanning(t *testing.T) {
	const bs = 4096
	provider := newFakeProvider(2*bs, bs)
	provider.script(0, fill('X', bs), fill('X', bs))
	provider.script(1, fill('Y', bs), fill('Y', bs))

	store, err := New(provider, 2*bs, bs, 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	segs, err := store.Read(bs-2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got := concat(segs...); !bytes.Equal(got, []byte("XXYY")) {
		t.Fatalf("spanning read = %q, want XXYY", got)
	}

	segs, err = store.Read(0, bs)
	if err != nil {
		t.Fatal(err)
	}
	if got := concat(segs...); !bytes.Equal(got, fill('X', bs)) {
		t.Fatalf("re-read of block 0 mismatch")
	}

	segs, err = store.Read(bs, bs)
	if err != nil {
		t.Fatal(err)
	}
	if got := concat(segs...); !bytes.Equal(got, fill('Y', bs)) {
		t.Fatalf("re-read of block 1 mismatch")
	}
}

// S3: tamper detection after eviction forces a re-fetch that disagrees
// with the pinned fingerprint.
func TestTamperDetectedAfterEviction(t *testing.T) {
	const bs = 4096
	provider := newFakeProvider(2*bs, bs)
	provider.script(0, fill('X', bs), fill('Z', bs))
	provider.script(1, fill('Y', bs))

	store, err := New(provider, 2*bs, bs, 1, nil) // capacity 1 block forces eviction
	if err != nil {
		t.Fatal(err)
	}

	segs, err := store.Read(0, 16)
	if err != nil {
		t.Fatal(err)
	}
	if got := concat(segs...); !bytes.Equal(got, fill('X', 16)) {
		t.Fatalf("first read mismatch")
	}

	// Access block 1, which must evict block 0's cache slot (capacity 1).
	if _, err := store.Read(bs, 16); err != nil {
		t.Fatal(err)
	}

	// Re-reading block 0 now misses the cache and re-invokes the
	// provider, which has changed its answer: must fail, not succeed
	// with different bytes.
	_, err = store.Read(0, 16)
	if err == nil {
		t.Fatal("expected tamper error after eviction and re-fetch, got nil")
	}
	var tampered *ErrTampered
	if !errors.As(err, &tampered) {
		t.Fatalf("expected *ErrTampered, got %T: %v", err, err)
	}
	if tampered.Block != 0 {
		t.Fatalf("tamper reported on block %d, want 0", tampered.Block)
	}
}

func TestInitNegotiationBlockSizeBounds(t *testing.T) {
	provider := newFakeProvider(1, 100)
	if _, err := New(provider, 1, 100, 0, nil); err == nil {
		t.Fatal("expected error for block size below minimum")
	}
	if _, err := New(provider, 1, 1<<23, 0, nil); err == nil {
		t.Fatal("expected error for block size above maximum")
	}
}

func TestTooManyBlocksRejected(t *testing.T) {
	provider := newFakeProvider(1, MinBlockSize)
	hugeSize := uint64(MaxBlockCount+1) * MinBlockSize
	provider.fileSize = hugeSize
	if _, err := New(provider, hugeSize, MinBlockSize, 0, nil); err == nil {
		t.Fatal("expected error for block count exceeding maximum")
	}
}

func TestCloseReleasesProvider(t *testing.T) {
	provider := newFakeProvider(0, MinBlockSize)
	store, err := New(provider, 0, MinBlockSize, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if !provider.closed {
		t.Fatal("expected provider to be closed")
	}
}
