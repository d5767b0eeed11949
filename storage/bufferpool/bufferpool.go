// Package bufferpool is a fixed-size, LRU-evicted, pin-aware cache of pages
// belonging to one file. It guarantees dirty frames reach disk on
// eviction, explicit flush, and shutdown.
//
// The pool is keyed by page id within a single file, not a multi-file
// global id space, since each table owns its buffer pool exclusively.
// Eviction picks the first unpinned frame in LRU order; ErrFull if none
// exists.
package bufferpool

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Prabhat2912/mini-database-engine/storage/diskmanager"
	"github.com/Prabhat2912/mini-database-engine/types"
)

// frame is one page-sized slot in the pool.
type frame struct {
	pageId   types.PageId
	data     [types.PageSize]byte
	isDirty  bool
	isPinned bool
	valid    bool // false until a page has ever been loaded into this frame
}

// BufferPool caches up to capacity pages of one file.
type BufferPool struct {
	mu sync.Mutex

	frames   []frame
	capacity int
	pageIdx  map[types.PageId]int // page_id -> index into frames
	lru      []types.PageId       // most-recently-used at front

	disk *diskmanager.DiskManager
	log  *logrus.Entry

	pageHits   uint64
	pageMisses uint64
}

// New creates a BufferPool with the given capacity backed by disk.
func New(capacity int, disk *diskmanager.DiskManager) *BufferPool {
	if capacity <= 0 {
		capacity = types.BufferPoolSize
	}
	return &BufferPool{
		frames:   make([]frame, capacity),
		capacity: capacity,
		pageIdx:  make(map[types.PageId]int, capacity),
		lru:      make([]types.PageId, 0, capacity),
		disk:     disk,
		log:      logrus.WithField("component", "bufferpool"),
	}
}

// GetPage returns the bytes of pageId, pinned for the caller. On a cache
// hit the frame moves to the front of LRU order. On a miss, an unused frame
// is filled if one remains; otherwise a victim frame is evicted (flushing
// it first if dirty). Either way the page is read from disk.
func (bp *BufferPool) GetPage(pageId types.PageId) ([]byte, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if idx, ok := bp.pageIdx[pageId]; ok {
		bp.frames[idx].isPinned = true
		bp.touchLRU(pageId)
		bp.pageHits++
		bp.log.WithField("page_id", pageId).Debug("buffer pool hit")
		out := make([]byte, types.PageSize)
		copy(out, bp.frames[idx].data[:])
		return out, nil
	}

	bp.pageMisses++
	bp.log.WithField("page_id", pageId).Debug("buffer pool miss")

	idx, err := bp.victim()
	if err != nil {
		return nil, err
	}

	if bp.frames[idx].valid {
		if err := bp.writeBack(idx); err != nil {
			return nil, err
		}
		delete(bp.pageIdx, bp.frames[idx].pageId)
		bp.removeLRU(bp.frames[idx].pageId)
	}

	data, err := bp.disk.ReadPage(pageId)
	if err != nil {
		return nil, err
	}

	bp.frames[idx] = frame{pageId: pageId, isDirty: false, isPinned: true, valid: true}
	copy(bp.frames[idx].data[:], data)
	bp.pageIdx[pageId] = idx
	bp.lru = append([]types.PageId{pageId}, bp.lru...)

	out := make([]byte, types.PageSize)
	copy(out, bp.frames[idx].data[:])
	return out, nil
}

// PutPage writes data back into the cached frame for pageId. Callers must
// hold a pin on pageId (obtained via GetPage) before calling PutPage.
func (bp *BufferPool) PutPage(pageId types.PageId, data []byte) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageIdx[pageId]
	if !ok {
		return
	}
	copy(bp.frames[idx].data[:], data)
}

// ReleasePage clears the pin on pageId. No error if the page is not cached.
func (bp *BufferPool) ReleasePage(pageId types.PageId) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if idx, ok := bp.pageIdx[pageId]; ok {
		bp.frames[idx].isPinned = false
	}
}

// MarkDirty sets the dirty bit on pageId's cached frame. No-op if not cached.
func (bp *BufferPool) MarkDirty(pageId types.PageId) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if idx, ok := bp.pageIdx[pageId]; ok {
		bp.frames[idx].isDirty = true
	}
}

// FlushPage writes pageId to disk if cached and dirty, then clears dirty.
func (bp *BufferPool) FlushPage(pageId types.PageId) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	idx, ok := bp.pageIdx[pageId]
	if !ok || !bp.frames[idx].isDirty {
		return nil
	}
	return bp.writeBack(idx)
}

// FlushAll writes every dirty frame to disk and clears all dirty bits.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for idx := range bp.frames {
		if bp.frames[idx].valid && bp.frames[idx].isDirty {
			if err := bp.writeBack(idx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close flushes every dirty frame and closes the underlying file: no
// dirty frame may be lost on teardown.
func (bp *BufferPool) Close() error {
	if err := bp.FlushAll(); err != nil {
		return err
	}
	return bp.disk.Close()
}

// Stats returns the cache's hit/miss counters and hit ratio.
type Stats struct {
	Hits, Misses uint64
	HitRatio     float64
}

func (bp *BufferPool) Stats() Stats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	total := bp.pageHits + bp.pageMisses
	ratio := 0.0
	if total > 0 {
		ratio = float64(bp.pageHits) / float64(total)
	}
	return Stats{Hits: bp.pageHits, Misses: bp.pageMisses, HitRatio: ratio}
}

// writeBack flushes frame idx to disk if dirty. Caller holds bp.mu.
func (bp *BufferPool) writeBack(idx int) error {
	if !bp.frames[idx].isDirty {
		return nil
	}
	if err := bp.disk.WritePage(bp.frames[idx].pageId, bp.frames[idx].data[:]); err != nil {
		return err
	}
	bp.frames[idx].isDirty = false
	return nil
}

// victim returns the index of a frame to reuse: an unused frame if one
// still exists, otherwise the first unpinned frame in LRU order (oldest
// not-recently-used first). Returns ErrFull if every frame is pinned.
func (bp *BufferPool) victim() (int, error) {
	for idx := range bp.frames {
		if !bp.frames[idx].valid {
			return idx, nil
		}
	}
	for i := len(bp.lru) - 1; i >= 0; i-- {
		idx := bp.pageIdx[bp.lru[i]]
		if !bp.frames[idx].isPinned {
			return idx, nil
		}
	}
	return 0, types.ErrFull
}

// touchLRU moves pageId to the front (most-recently-used) of LRU order.
func (bp *BufferPool) touchLRU(pageId types.PageId) {
	bp.removeLRU(pageId)
	bp.lru = append([]types.PageId{pageId}, bp.lru...)
}

func (bp *BufferPool) removeLRU(pageId types.PageId) {
	for i, id := range bp.lru {
		if id == pageId {
			bp.lru = append(bp.lru[:i], bp.lru[i+1:]...)
			return
		}
	}
}
