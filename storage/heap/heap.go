// Package heap implements a single table as a singly linked chain of
// fixed-size pages cached through a Buffer Pool, plus whatever in-memory
// B-Tree indexes have been built over it.
//
// The disk manager opens the file, the buffer pool owns the pages, and
// this layer only sequences page-chain operations over a packed
// (non-slotted) page format: on Insert, a freshly allocated overflow page
// is linked onto the tail of the chain, not swapped in as a new head; on
// a chain scan, each page is released immediately after being read.
// Delete and Update rewrite a page's tuples from scratch rather than
// splicing a slot directory, since the packed layout has none.
package heap

import (
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Prabhat2912/mini-database-engine/index/btree"
	"github.com/Prabhat2912/mini-database-engine/storage/bufferpool"
	"github.com/Prabhat2912/mini-database-engine/storage/diskmanager"
	"github.com/Prabhat2912/mini-database-engine/storage/page"
	"github.com/Prabhat2912/mini-database-engine/types"
)

// HeapTable is one table's page chain, its buffer pool, and its indexes.
type HeapTable struct {
	mu sync.Mutex

	Name   string
	Schema types.Schema

	pool *bufferpool.BufferPool
	log  *logrus.Entry

	firstPage   types.PageId
	nextPageId  types.PageId
	nextTupleId types.TupleId

	indexes map[string]*btree.BTree // column name -> index
}

// Open opens (or creates, if the backing file is empty) the heap table
// stored at path. Opening an existing file recovers nextPageId and
// nextTupleId by walking the full chain once.
func Open(name string, schema types.Schema, path string, poolSize int) (*HeapTable, error) {
	dm, err := diskmanager.Open(path)
	if err != nil {
		return nil, err
	}
	pool := bufferpool.New(poolSize, dm)

	ht := &HeapTable{
		Name:        name,
		Schema:      schema,
		pool:        pool,
		log:         logrus.WithField("component", "heap").WithField("table", name),
		firstPage:   types.PageId(1),
		nextPageId:  types.PageId(2),
		nextTupleId: types.TupleId(1),
		indexes:     make(map[string]*btree.BTree),
	}

	if err := ht.recover(); err != nil {
		return nil, err
	}
	return ht, nil
}

// recover walks the existing page chain (if any) to restore the
// allocation cursors. Each page is released immediately after it is
// read, so recovery itself never pins more than one frame at a time.
func (ht *HeapTable) recover() error {
	buf, err := ht.pool.GetPage(ht.firstPage)
	if err != nil {
		return err
	}
	hdr, err := page.ReadHeader(buf)
	if err != nil {
		ht.pool.ReleasePage(ht.firstPage)
		return err
	}

	if hdr.PageId != ht.firstPage {
		// Brand new, never-initialized file: stamp the first page's
		// header now so a later reopen can tell it apart from an
		// empty/missing file.
		page.InitPage(buf, ht.firstPage)
		ht.pool.PutPage(ht.firstPage, buf)
		ht.pool.MarkDirty(ht.firstPage)
		ht.pool.ReleasePage(ht.firstPage)
		ht.nextPageId = ht.firstPage + 1
		ht.nextTupleId = types.TupleId(1)
		return nil
	}
	ht.pool.ReleasePage(ht.firstPage)

	maxPage := ht.firstPage
	var maxTuple types.TupleId

	cur := ht.firstPage
	for cur != types.NoPage {
		buf, err := ht.pool.GetPage(cur)
		if err != nil {
			return err
		}
		hdr, err := page.ReadHeader(buf)
		if err != nil {
			ht.pool.ReleasePage(cur)
			return err
		}
		tuples, err := page.ReadAllTuples(buf, ht.Schema, hdr)
		ht.pool.ReleasePage(cur)
		if err != nil {
			return err
		}

		if cur > maxPage {
			maxPage = cur
		}
		for _, t := range tuples {
			if t.Id > maxTuple {
				maxTuple = t.Id
			}
		}
		cur = hdr.NextPage
	}

	ht.nextPageId = maxPage + 1
	ht.nextTupleId = maxTuple + 1
	return nil
}

// PageWriteHook is invoked by the hook-aware Insert/Delete/Update variants
// immediately after a page's bytes are modified in memory but before the
// change is copied into the buffer pool's frame and marked dirty. before is the
// page's image prior to this call's modification, after is the image
// about to be written back; a caller coordinating a transaction uses this
// window to acquire the page's lock and append a write-ahead log record
// while the write is still uncommitted to the pool. A returned error
// aborts the modification: the page is released unmodified.
type PageWriteHook func(pageId types.PageId, before, after []byte) error

// Insert appends t to the table. If t.Id is zero, a fresh TupleId is
// assigned.
func (ht *HeapTable) Insert(t types.Tuple) (types.TupleId, error) {
	return ht.InsertWithHook(t, nil)
}

// InsertWithHook is Insert with a PageWriteHook fired on the page that
// ends up holding t, before that page is marked dirty.
func (ht *HeapTable) InsertWithHook(t types.Tuple, hook PageWriteHook) (types.TupleId, error) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	return ht.insertLocked(t, hook)
}

// insertLocked walks the chain looking for a page with enough free space;
// if none is found, it allocates a new page and links it onto the tail of
// the chain (not the head — linking at the head would orphan every page
// already appended after the old head). Caller holds ht.mu.
func (ht *HeapTable) insertLocked(t types.Tuple, hook PageWriteHook) (types.TupleId, error) {
	if !t.Matches(ht.Schema) {
		return 0, types.ErrSchemaMismatch
	}
	if t.Id == types.UnassignedTuple {
		t.Id = ht.nextTupleId
		ht.nextTupleId++
	}

	need := page.TupleSize(t)

	cur := ht.firstPage
	var last types.PageId
	for cur != types.NoPage {
		buf, err := ht.pool.GetPage(cur)
		if err != nil {
			return 0, err
		}
		hdr, err := page.ReadHeader(buf)
		if err != nil {
			ht.pool.ReleasePage(cur)
			return 0, err
		}

		if int(hdr.FreeSpace) >= need {
			before := append([]byte(nil), buf...)
			ht.writeTupleInto(buf, hdr, t, need)
			if hook != nil {
				if err := hook(cur, before, buf); err != nil {
					ht.pool.ReleasePage(cur)
					return 0, err
				}
			}
			ht.pool.PutPage(cur, buf)
			ht.pool.MarkDirty(cur)
			ht.pool.ReleasePage(cur)
			ht.indexInsert(t)
			return t.Id, nil
		}

		ht.pool.ReleasePage(cur)
		last = cur
		cur = hdr.NextPage
	}

	// No page in the chain had room: allocate a new tail page. Its
	// before-image is an all-zero page, since nothing has ever been
	// written to this offset in the file yet.
	newId := ht.nextPageId
	ht.nextPageId++

	newBuf := make([]byte, types.PageSize)
	page.InitPage(newBuf, newId)
	newHdr, err := page.ReadHeader(newBuf)
	if err != nil {
		return 0, err
	}
	before := make([]byte, types.PageSize)
	ht.writeTupleInto(newBuf, newHdr, t, need)
	if hook != nil {
		if err := hook(newId, before, newBuf); err != nil {
			return 0, err
		}
	}

	if _, err := ht.pool.GetPage(newId); err != nil {
		return 0, err
	}
	ht.pool.PutPage(newId, newBuf)
	ht.pool.MarkDirty(newId)
	ht.pool.ReleasePage(newId)

	if last != types.NoPage {
		lastBuf, err := ht.pool.GetPage(last)
		if err != nil {
			return 0, err
		}
		lastHdr, err := page.ReadHeader(lastBuf)
		if err != nil {
			ht.pool.ReleasePage(last)
			return 0, err
		}
		lastBefore := append([]byte(nil), lastBuf...)
		lastHdr.NextPage = newId
		page.WriteHeader(lastBuf, lastHdr)
		if hook != nil {
			if err := hook(last, lastBefore, lastBuf); err != nil {
				ht.pool.ReleasePage(last)
				return 0, err
			}
		}
		ht.pool.PutPage(last, lastBuf)
		ht.pool.MarkDirty(last)
		ht.pool.ReleasePage(last)
	}

	ht.indexInsert(t)
	return t.Id, nil
}

// Delete removes the tuple with id tid from the table and from any
// indexes built over it. It reports types.ErrNotFound if no such tuple
// exists.
func (ht *HeapTable) Delete(tid types.TupleId) error {
	return ht.DeleteWithHook(tid, nil)
}

// DeleteWithHook is Delete with a PageWriteHook fired on the page tid
// lived on, before that page is marked dirty.
func (ht *HeapTable) DeleteWithHook(tid types.TupleId, hook PageWriteHook) error {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	cur := ht.firstPage
	for cur != types.NoPage {
		buf, err := ht.pool.GetPage(cur)
		if err != nil {
			return err
		}
		hdr, err := page.ReadHeader(buf)
		if err != nil {
			ht.pool.ReleasePage(cur)
			return err
		}
		tuples, err := page.ReadAllTuples(buf, ht.Schema, hdr)
		if err != nil {
			ht.pool.ReleasePage(cur)
			return err
		}

		found := -1
		for i, t := range tuples {
			if t.Id == tid {
				found = i
				break
			}
		}
		if found < 0 {
			ht.pool.ReleasePage(cur)
			cur = hdr.NextPage
			continue
		}

		removed := tuples[found]
		remaining := append(append([]types.Tuple{}, tuples[:found]...), tuples[found+1:]...)

		before := append([]byte(nil), buf...)
		ht.repackPage(buf, cur, hdr.NextPage, remaining)
		if hook != nil {
			if err := hook(cur, before, buf); err != nil {
				ht.pool.ReleasePage(cur)
				return err
			}
		}
		ht.pool.PutPage(cur, buf)
		ht.pool.MarkDirty(cur)
		ht.pool.ReleasePage(cur)

		ht.indexDelete(removed)
		return nil
	}
	return pkgerrors.Wrapf(types.ErrNotFound, "no tuple with id %d", tid)
}

// Update replaces the values of the tuple with id tid with newValues,
// keeping the same id. If the resulting page still fits within one page
// it is rewritten in place; otherwise the old tuple is removed from its
// page and the updated one is reinserted, which may relocate it to a
// different page in the chain.
func (ht *HeapTable) Update(tid types.TupleId, newValues []types.Value) error {
	return ht.UpdateWithHook(tid, newValues, nil)
}

// UpdateWithHook is Update with a PageWriteHook fired on every page this
// call modifies, before that page is marked dirty.
func (ht *HeapTable) UpdateWithHook(tid types.TupleId, newValues []types.Value, hook PageWriteHook) error {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	updated := types.Tuple{Id: tid, Values: newValues}
	if !updated.Matches(ht.Schema) {
		return types.ErrSchemaMismatch
	}

	cur := ht.firstPage
	for cur != types.NoPage {
		buf, err := ht.pool.GetPage(cur)
		if err != nil {
			return err
		}
		hdr, err := page.ReadHeader(buf)
		if err != nil {
			ht.pool.ReleasePage(cur)
			return err
		}
		tuples, err := page.ReadAllTuples(buf, ht.Schema, hdr)
		if err != nil {
			ht.pool.ReleasePage(cur)
			return err
		}

		found := -1
		for i, t := range tuples {
			if t.Id == tid {
				found = i
				break
			}
		}
		if found < 0 {
			ht.pool.ReleasePage(cur)
			cur = hdr.NextPage
			continue
		}

		old := tuples[found]

		replaced := append([]types.Tuple{}, tuples...)
		replaced[found] = updated
		total := 0
		for _, t := range replaced {
			total += page.TupleSize(t)
		}

		if total <= types.PageSize-page.HeaderSize {
			before := append([]byte(nil), buf...)
			ht.repackPage(buf, cur, hdr.NextPage, replaced)
			if hook != nil {
				if err := hook(cur, before, buf); err != nil {
					ht.pool.ReleasePage(cur)
					return err
				}
			}
			ht.pool.PutPage(cur, buf)
			ht.pool.MarkDirty(cur)
			ht.pool.ReleasePage(cur)
			ht.indexDelete(old)
			ht.indexInsert(updated)
			return nil
		}

		// The updated tuple no longer fits alongside its page-mates:
		// remove it here and reinsert it, possibly onto another page.
		remaining := append(append([]types.Tuple{}, tuples[:found]...), tuples[found+1:]...)
		before := append([]byte(nil), buf...)
		ht.repackPage(buf, cur, hdr.NextPage, remaining)
		if hook != nil {
			if err := hook(cur, before, buf); err != nil {
				ht.pool.ReleasePage(cur)
				return err
			}
		}
		ht.pool.PutPage(cur, buf)
		ht.pool.MarkDirty(cur)
		ht.pool.ReleasePage(cur)
		ht.indexDelete(old)

		if _, err := ht.insertLocked(updated, hook); err != nil {
			return err
		}
		return nil
	}
	return pkgerrors.Wrapf(types.ErrNotFound, "no tuple with id %d", tid)
}

// repackPage rewrites buf's header and tuple bytes from scratch to
// contain exactly keep, preserving pageId's identity and its link to
// nextPage. Used by Delete and Update, since the packed page layout has
// no per-tuple free-list to splice a single removal into.
func (ht *HeapTable) repackPage(buf []byte, pageId, nextPage types.PageId, keep []types.Tuple) {
	page.InitPage(buf, pageId)
	hdr, _ := page.ReadHeader(buf)
	hdr.NextPage = nextPage
	page.WriteHeader(buf, hdr)
	for _, t := range keep {
		need := page.TupleSize(t)
		hdr, _ = page.ReadHeader(buf)
		ht.writeTupleInto(buf, hdr, t, need)
	}
}

// WritePageImage overwrites pageId's on-disk bytes with image directly,
// bypassing insert/delete/update logic entirely. Used only by recovery,
// which reapplies whole-page images captured in the write-ahead log.
func (ht *HeapTable) WritePageImage(pageId types.PageId, image []byte) error {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	if _, err := ht.pool.GetPage(pageId); err != nil {
		return err
	}
	ht.pool.PutPage(pageId, image)
	ht.pool.MarkDirty(pageId)
	ht.pool.ReleasePage(pageId)
	return nil
}

// writeTupleInto appends t's encoding into buf (whose header is hdr) and
// updates the in-buffer header in place. Caller guarantees hdr.FreeSpace
// >= need.
func (ht *HeapTable) writeTupleInto(buf []byte, hdr page.Header, t types.Tuple, need int) {
	offset := types.PageSize - int(hdr.FreeSpace)
	enc := page.EncodeTuple(t)
	copy(buf[offset:offset+len(enc)], enc)

	hdr.FreeSpace -= uint32(need)
	hdr.TupleCount++
	page.WriteHeader(buf, hdr)
}

func (ht *HeapTable) indexInsert(t types.Tuple) {
	for col, idx := range ht.indexes {
		i := ht.Schema.IndexOf(col)
		if i < 0 {
			continue
		}
		_ = idx.Insert(t.Values[i].Stringify(), t.Id)
	}
}

// indexDelete removes t's key from every index whose entry for that key
// points at t. Under a duplicated key an index holds the first tuple id
// it saw, and removing a different row with the same value leaves it be.
func (ht *HeapTable) indexDelete(t types.Tuple) {
	for col, idx := range ht.indexes {
		i := ht.Schema.IndexOf(col)
		if i < 0 {
			continue
		}
		key := t.Values[i].Stringify()
		if tid, found := idx.Search(key); found && tid == t.Id {
			idx.Delete(key)
		}
	}
}

// SelectAll scans the whole chain and returns every tuple in page-chain
// order: page by page from the first page, and within a page in stored
// order. A row placed in free space on an earlier page comes before rows
// on later pages, whenever it was inserted.
func (ht *HeapTable) SelectAll() ([]types.Tuple, error) {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	return ht.scanAll()
}

// BufferPoolStats returns the table's underlying buffer pool's cache
// hit/miss counters.
func (ht *HeapTable) BufferPoolStats() bufferpool.Stats {
	return ht.pool.Stats()
}

// TupleCount returns the number of live tuples currently stored in the
// table, walking the page chain the same way SelectAll does.
func (ht *HeapTable) TupleCount() (int, error) {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	count := 0
	cur := ht.firstPage
	for cur != types.NoPage {
		buf, err := ht.pool.GetPage(cur)
		if err != nil {
			return 0, err
		}
		hdr, err := page.ReadHeader(buf)
		ht.pool.ReleasePage(cur)
		if err != nil {
			return 0, err
		}
		count += int(hdr.TupleCount)
		cur = hdr.NextPage
	}
	return count, nil
}

func (ht *HeapTable) scanAll() ([]types.Tuple, error) {
	var out []types.Tuple
	cur := ht.firstPage
	for cur != types.NoPage {
		buf, err := ht.pool.GetPage(cur)
		if err != nil {
			return nil, err
		}
		hdr, err := page.ReadHeader(buf)
		if err != nil {
			ht.pool.ReleasePage(cur)
			return nil, err
		}
		tuples, err := page.ReadAllTuples(buf, ht.Schema, hdr)
		ht.pool.ReleasePage(cur)
		if err != nil {
			return nil, err
		}
		out = append(out, tuples...)
		cur = hdr.NextPage
	}
	return out, nil
}

// SelectWhere returns the tuples whose column value equals value. If an
// index exists over column, the index is probed instead of scanning the
// whole chain; an index holds one tuple id per key, so that path returns
// at most one tuple even when several rows share the value.
func (ht *HeapTable) SelectWhere(column string, value types.Value) ([]types.Tuple, error) {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	if idx, ok := ht.indexes[column]; ok {
		tid, found := idx.Search(value.Stringify())
		if !found {
			return nil, nil
		}
		t, err := ht.findById(tid)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, nil
		}
		return []types.Tuple{*t}, nil
	}

	all, err := ht.scanAll()
	if err != nil {
		return nil, err
	}
	colIdx := ht.Schema.IndexOf(column)
	if colIdx < 0 {
		return nil, pkgerrors.Wrapf(types.ErrNotFound, "no such column %q", column)
	}
	var out []types.Tuple
	for _, t := range all {
		if t.Values[colIdx].Equal(value) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (ht *HeapTable) findById(tid types.TupleId) (*types.Tuple, error) {
	all, err := ht.scanAll()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Id == tid {
			return &all[i], nil
		}
	}
	return nil, nil
}

// CreateIndex builds an in-memory B-Tree over column from the table's
// current contents. Re-requesting an index that already exists is a
// no-op.
func (ht *HeapTable) CreateIndex(column string) error {
	ht.mu.Lock()
	defer ht.mu.Unlock()

	if _, exists := ht.indexes[column]; exists {
		return nil
	}
	colIdx := ht.Schema.IndexOf(column)
	if colIdx < 0 {
		return pkgerrors.Wrapf(types.ErrNotFound, "no such column %q", column)
	}

	all, err := ht.scanAll()
	if err != nil {
		return err
	}

	idx := btree.New()
	for _, t := range all {
		if err := idx.Insert(t.Values[colIdx].Stringify(), t.Id); err != nil {
			ht.log.WithError(err).WithField("column", column).Warn("duplicate key building index")
		}
	}
	ht.indexes[column] = idx
	return nil
}

// Flush writes every dirty page to disk without closing the file, so the
// table remains usable afterward. Used by checkpointing, as opposed to
// Close, which is for shutdown.
func (ht *HeapTable) Flush() error {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	return ht.pool.FlushAll()
}

// Close flushes the buffer pool and closes the underlying file.
func (ht *HeapTable) Close() error {
	ht.mu.Lock()
	defer ht.mu.Unlock()
	return ht.pool.Close()
}
