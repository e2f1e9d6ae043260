package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPagerMemoryReadWriteRoundTrip(t *testing.T) {
	p, err := OpenPagerMemory(4096, 16)
	require.NoError(t, err, "OpenPagerMemory")
	defer p.Close()

	if _, err := p.AllocatePages(4); err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}

	data := make([]byte, p.PageSize())
	for i := range data {
		data[i] = byte(i)
	}
	if err := p.WritePage(1, data); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	got, err := p.ReadPage(1)
	require.NoError(t, err, "ReadPage")
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], data[i])
		}
	}
}

func TestPagerReadBytesWriteBytesCrossPageBoundary(t *testing.T) {
	p, err := OpenPagerMemory(512, 8)
	require.NoError(t, err, "OpenPagerMemory")
	defer p.Close()

	if _, err := p.AllocatePages(4); err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}

	payload := make([]byte, 600)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := p.WriteBytes(300, payload); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	got, err := p.ReadBytes(300, len(payload))
	require.NoError(t, err, "ReadBytes")
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], payload[i])
		}
	}
}

func TestPagerAllocateFreeReuse(t *testing.T) {
	p, err := OpenPagerMemory(4096, 16)
	require.NoError(t, err, "OpenPagerMemory")
	defer p.Close()

	start, err := p.AllocatePages(3)
	require.NoError(t, err, "AllocatePages")
	p.FreePages(start, 3)

	again, err := p.AllocatePages(3)
	require.NoError(t, err, "second AllocatePages")
	if again != start {
		t.Fatalf("expected the freed run to be reused at %d, got %d", start, again)
	}
}

func TestPagerTruncatePages(t *testing.T) {
	p, err := OpenPagerMemory(4096, 16)
	require.NoError(t, err, "OpenPagerMemory")
	defer p.Close()

	if _, err := p.AllocatePages(10); err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}
	if err := p.TruncatePages(4); err != nil {
		t.Fatalf("TruncatePages: %v", err)
	}
	if p.SizePages() != 4 {
		t.Fatalf("expected 4 pages after truncate, got %d", p.SizePages())
	}
}

func TestPagerMmapRangeReflectsWrites(t *testing.T) {
	p, err := OpenPagerMemory(4096, 16)
	require.NoError(t, err, "OpenPagerMemory")
	defer p.Close()

	if _, err := p.AllocatePages(4); err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}
	data := make([]byte, p.PageSize())
	data[0] = 0xAB
	if err := p.WritePage(2, data); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	region, err := p.MmapRange(2, 1)
	require.NoError(t, err, "MmapRange")
	if region[0] != 0xAB {
		t.Fatalf("expected mmap'd region to reflect the write, got %#x", region[0])
	}
}

func TestPagerCacheStatsTrackHitsAndMisses(t *testing.T) {
	p, err := OpenPagerMemory(4096, 16)
	require.NoError(t, err, "OpenPagerMemory")
	defer p.Close()

	if _, err := p.AllocatePages(1); err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}
	// AllocatePages writes the zeroed page through the cache; drop it so the
	// first read below is a miss.
	p.ClearCache()
	if _, err := p.ReadPage(0); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if _, err := p.ReadPage(0); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	hits, misses, size, capacity := p.CacheStats()
	if hits == 0 {
		t.Fatal("expected at least one cache hit on the repeated read")
	}
	if misses == 0 {
		t.Fatal("expected at least one cache miss on the first read")
	}
	if size == 0 || capacity != 16 {
		t.Fatalf("unexpected cache stats: size=%d capacity=%d", size, capacity)
	}
}

func TestPagerSyncIsNoErrorOnMemoryBackend(t *testing.T) {
	p, err := OpenPagerMemory(4096, 16)
	require.NoError(t, err, "OpenPagerMemory")
	defer p.Close()

	if _, err := p.AllocatePages(1); err != nil {
		t.Fatalf("AllocatePages: %v", err)
	}
	if err := p.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}
