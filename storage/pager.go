package storage

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// ErrReadOnly is returned when a write operation is attempted against a
// pager opened in read-only mode.
var ErrReadOnly = fmt.Errorf("storage: database is read-only")

// pageRange is a contiguous run of free pages, tracked so the compactor can
// reuse the hole left behind by the previous snapshot region instead of
// always growing the file (spec §4.2).
type pageRange struct {
	start uint64
	count uint64
}

// Pager owns the single underlying file (or in-memory buffer) and serves
// page-aligned and byte-range I/O to the header, WAL ring, and snapshot
// reader/writer. It has no notion of header/WAL/snapshot semantics itself —
// that split is owned by the kitedb package, which is what lets this type
// stay a thin, well-tested I/O layer, the same role novusdb's Pager played
// for its document pages.
type Pager struct {
	mu       sync.RWMutex
	file     StorageFile
	path     string
	pageSize int
	lock     *fileLock
	readOnly bool

	cache *lruCache

	sizePages uint64
	freeList  []pageRange
}

// OpenPagerFile opens or creates path as a paged file. The caller is
// responsible for writing/validating the header; OpenPagerFile only takes
// the OS-level lock and establishes page-aligned I/O.
func OpenPagerFile(path string, pageSize int, readOnly bool, cacheCapacity int) (*Pager, error) {
	if !ValidPageSize(pageSize) {
		return nil, fmt.Errorf("storage: invalid page size %d", pageSize)
	}

	lock, err := lockFile(path)
	if err != nil {
		return nil, err
	}

	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		lock.unlock()
		return nil, fmt.Errorf("storage: cannot open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		lock.unlock()
		return nil, err
	}

	p := &Pager{
		file:      file,
		path:      path,
		pageSize:  pageSize,
		lock:      lock,
		readOnly:  readOnly,
		cache:     newLRUCache(cacheCapacity, pageSize),
		sizePages: uint64(info.Size()) / uint64(pageSize),
	}
	return p, nil
}

// OpenPagerMemory creates a pager entirely in memory, with no OS file lock
// and no durability — used for OpenOptions with an in-memory target.
func OpenPagerMemory(pageSize int, cacheCapacity int) (*Pager, error) {
	if !ValidPageSize(pageSize) {
		return nil, fmt.Errorf("storage: invalid page size %d", pageSize)
	}
	return &Pager{
		file:     NewMemFile(),
		path:     ":memory:",
		pageSize: pageSize,
		cache:    newLRUCache(cacheCapacity, pageSize),
	}, nil
}

// Close releases the pager's resources. It does not fsync; callers that
// need a durable close should Sync first.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.file.Close()
	if p.lock != nil {
		p.lock.unlock()
	}
	return err
}

// PageSize returns the fixed page size this pager was opened with.
func (p *Pager) PageSize() int {
	return p.pageSize
}

// IsReadOnly reports whether writes are rejected.
func (p *Pager) IsReadOnly() bool {
	return p.readOnly
}

// SizePages returns the current file size in whole pages.
func (p *Pager) SizePages() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sizePages
}

// ReadPage reads one full page.
func (p *Pager) ReadPage(pageNo uint64) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readPageLocked(pageNo)
}

func (p *Pager) readPageLocked(pageNo uint64) ([]byte, error) {
	if pageNo >= p.sizePages {
		return nil, fmt.Errorf("storage: page %d out of range (size=%d)", pageNo, p.sizePages)
	}
	if data, ok := p.cache.get(pageNo); ok {
		return data, nil
	}
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, int64(pageNo)*int64(p.pageSize)); err != nil {
		return nil, fmt.Errorf("storage: read page %d: %w", pageNo, err)
	}
	p.cache.put(pageNo, buf)
	return buf, nil
}

// WritePage writes one full page, growing the file if pageNo is the next
// unallocated page.
func (p *Pager) WritePage(pageNo uint64, data []byte) error {
	if p.readOnly {
		return ErrReadOnly
	}
	if len(data) != p.pageSize {
		return fmt.Errorf("storage: write page %d: expected %d bytes, got %d", pageNo, p.pageSize, len(data))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writePageLocked(pageNo, data)
}

func (p *Pager) writePageLocked(pageNo uint64, data []byte) error {
	if _, err := p.file.WriteAt(data, int64(pageNo)*int64(p.pageSize)); err != nil {
		return fmt.Errorf("storage: write page %d: %w", pageNo, err)
	}
	if pageNo >= p.sizePages {
		p.sizePages = pageNo + 1
	}
	p.cache.put(pageNo, data)
	return nil
}

// ReadBytes reads an arbitrary byte range, not necessarily page-aligned.
// Used by the header (fixed at page 0) and the WAL ring (byte-addressable
// within its page region).
func (p *Pager) ReadBytes(offset uint64, n int) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	buf := make([]byte, n)
	if _, err := p.file.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("storage: read bytes at %d: %w", offset, err)
	}
	return buf, nil
}

// WriteBytes writes an arbitrary byte range, invalidating any cached pages
// the write touches.
func (p *Pager) WriteBytes(offset uint64, data []byte) error {
	if p.readOnly {
		return ErrReadOnly
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.file.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("storage: write bytes at %d: %w", offset, err)
	}
	firstPage := offset / uint64(p.pageSize)
	lastPage := (offset + uint64(len(data)) - 1) / uint64(p.pageSize)
	for pg := firstPage; pg <= lastPage; pg++ {
		p.cache.invalidate(pg)
		if pg >= p.sizePages {
			p.sizePages = pg + 1
		}
	}
	return nil
}

// MmapRange returns an immutable view of count pages starting at startPage.
// This pager models it as a read-only copy rather than a true OS mmap
// (the teacher's own pager never mapped memory either — it served reads
// through ReadAt plus an LRU cache), which keeps the snapshot reader
// portable across the same build targets novusdb ships (js/wasip1 included).
func (p *Pager) MmapRange(startPage, count uint64) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if startPage+count > p.sizePages {
		return nil, fmt.Errorf("storage: mmap range [%d,%d) exceeds file size %d", startPage, startPage+count, p.sizePages)
	}
	buf := make([]byte, count*uint64(p.pageSize))
	if _, err := p.file.ReadAt(buf, int64(startPage)*int64(p.pageSize)); err != nil {
		return nil, fmt.Errorf("storage: mmap range read: %w", err)
	}
	return buf, nil
}

// Sync flushes the underlying file to stable storage.
func (p *Pager) Sync() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.file.Sync()
}

// TruncatePages resizes the file to exactly n pages, used by vacuum to
// shrink trailing free space.
func (p *Pager) TruncatePages(n uint64) error {
	if p.readOnly {
		return ErrReadOnly
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.file.(interface{ Truncate(int64) error })
	if !ok {
		return fmt.Errorf("storage: underlying file does not support truncate")
	}
	if err := f.Truncate(int64(n) * int64(p.pageSize)); err != nil {
		return fmt.Errorf("storage: truncate to %d pages: %w", n, err)
	}
	p.sizePages = n
	p.cache.clear()
	return nil
}

// FreePages marks [start, start+count) as reusable, so AllocatePages can
// hand the range back out instead of growing the file (spec §4.2).
func (p *Pager) FreePages(start, count uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeList = append(p.freeList, pageRange{start: start, count: count})
	p.coalesceFreeListLocked()
}

// AllocatePages reserves count contiguous pages, preferring a free-list hole
// over growing the file, and returns the starting page number.
func (p *Pager) AllocatePages(count uint64) (uint64, error) {
	if p.readOnly {
		return 0, ErrReadOnly
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, r := range p.freeList {
		if r.count < count {
			continue
		}
		start := r.start
		if r.count == count {
			p.freeList = append(p.freeList[:i], p.freeList[i+1:]...)
		} else {
			p.freeList[i] = pageRange{start: r.start + count, count: r.count - count}
		}
		return start, nil
	}

	start := p.sizePages
	zero := make([]byte, p.pageSize)
	for i := uint64(0); i < count; i++ {
		if err := p.writePageLocked(start+i, zero); err != nil {
			return 0, err
		}
	}
	return start, nil
}

func (p *Pager) coalesceFreeListLocked() {
	if len(p.freeList) < 2 {
		return
	}
	sort.Slice(p.freeList, func(i, j int) bool { return p.freeList[i].start < p.freeList[j].start })
	merged := p.freeList[:1]
	for _, r := range p.freeList[1:] {
		last := &merged[len(merged)-1]
		if last.start+last.count == r.start {
			last.count += r.count
		} else {
			merged = append(merged, r)
		}
	}
	p.freeList = merged
}

// ClearCache discards all cached pages.
func (p *Pager) ClearCache() {
	p.cache.clear()
}

// CacheStats reports LRU hit/miss bookkeeping, exposed for the inspection CLI.
func (p *Pager) CacheStats() (hits, misses uint64, size, capacity int) {
	return p.cache.stats()
}
