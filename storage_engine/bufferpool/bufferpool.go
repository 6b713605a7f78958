package bufferpool

import (
	"DaemonStore/logger"
	diskmanager "DaemonStore/storage_engine/disk_manager"
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

/*
This file is the main file of the bufferpool
The buffer pool works on LRU based caching mechanism
and holds access to disk manager for flushing the pages in the cache onto the disk
similarly if page not found in the cache, disk manager loads the page from the disk and adds in the cache for future access

Pages are identified by (table id, page number)

Concurrency: the pool mutex guards the frame table and LRU links and is only held briefly.
Each frame has its own latch. FetchPage returns the frame latched and the caller releases it
with UnpinPage. Under the pool mutex a latch is only ever try-locked; when the try fails the
pool mutex is dropped and the whole lookup is retried, so a goroutine holding a latch can
always make progress into the pool.

A dirty frame is written back only after the log covering its LSN is durable.
*/

var log = logger.WithComponent("bufferpool")

var errAllLatched = errors.New("no unlatched frame")

const (
	spinRetries      = 64
	exhaustedRetries = 5000
)

// NewBufferPool creates a new buffer pool with the given number of frames (at least MinFrames)
func NewBufferPool(capacity int, diskManager *diskmanager.DiskManager) *BufferPool {
	if capacity < MinFrames {
		capacity = MinFrames
	}
	bp := &BufferPool{
		frames:      make([]Frame, capacity),
		table:       make(map[frameKey]int, capacity),
		freeFrames:  make([]int, 0, capacity),
		lruHead:     nilFrame,
		lruTail:     nilFrame,
		diskManager: diskManager,
	}
	for i := capacity - 1; i >= 0; i-- {
		bp.frames[i].idx = i
		bp.frames[i].prev = nilFrame
		bp.frames[i].next = nilFrame
		bp.freeFrames = append(bp.freeFrames, i)
	}
	log.WithField("frames", capacity).
		WithField("memory", humanize.Bytes(uint64(capacity*page.PageSize))).
		Debug("buffer pool ready")
	return bp
}

func (bp *BufferPool) SetWALManager(wal WALFlusher) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.walManager = wal
}

func backoff(attempt int) {
	if attempt < spinRetries {
		runtime.Gosched()
		return
	}
	time.Sleep(50 * time.Microsecond)
}

// FetchPage returns the frame holding the page, loading it from disk on a miss.
// The frame comes back latched; release it with UnpinPage.
func (bp *BufferPool) FetchPage(tableID types.TableID, pageNum types.PageNum) (*Frame, error) {
	key := frameKey{tableID: tableID, pageNum: pageNum}
	exhausted := 0

	for attempt := 0; ; attempt++ {
		bp.mu.Lock()

		if idx, exists := bp.table[key]; exists {
			f := &bp.frames[idx]
			if f.latch.TryLock() {
				bp.touch(idx)
				bp.hits++
				bp.mu.Unlock()
				return f, nil
			}
			bp.mu.Unlock()
			backoff(attempt)
			continue
		}

		idx, err := bp.victim()
		if err == errAllLatched {
			bp.mu.Unlock()
			exhausted++
			if exhausted > exhaustedRetries {
				return nil, errors.Wrapf(types.ErrPoolExhausted, "fetch table %d page %d", tableID, pageNum)
			}
			backoff(attempt)
			continue
		}
		if err != nil {
			bp.mu.Unlock()
			return nil, err
		}

		f := &bp.frames[idx]
		f.tableID = tableID
		f.pageNum = pageNum
		f.inUse = true
		f.dirty.Store(false)
		bp.table[key] = idx
		bp.pushMRU(idx)
		bp.misses++
		bp.mu.Unlock()

		log.WithField("table", tableID).WithField("page", pageNum).Trace("MISS")
		if err := bp.diskManager.ReadPage(tableID, pageNum, &f.page); err != nil {
			bp.mu.Lock()
			bp.discard(idx)
			bp.mu.Unlock()
			f.latch.Unlock()
			return nil, errors.Wrapf(err, "failed to load table %d page %d", tableID, pageNum)
		}
		return f, nil
	}
}

// UnpinPage releases the frame latch taken by FetchPage, marking the frame dirty if asked.
func (bp *BufferPool) UnpinPage(f *Frame, dirty bool) {
	if dirty {
		f.dirty.Store(true)
	}
	f.latch.Unlock()
}

// ReadPage copies the page into dst and releases the frame at once (read-only access).
func (bp *BufferPool) ReadPage(tableID types.TableID, pageNum types.PageNum, dst *page.Page) error {
	f, err := bp.FetchPage(tableID, pageNum)
	if err != nil {
		return err
	}
	dst.CopyFrom(&f.page)
	bp.UnpinPage(f, false)
	return nil
}

// AllocPage takes a page off the table's free list, using the cached header page.
// When the list is empty the header is handed to the disk manager, which grows the file.
func (bp *BufferPool) AllocPage(tableID types.TableID) (types.PageNum, error) {
	hdr, err := bp.FetchPage(tableID, 0)
	if err != nil {
		return 0, err
	}

	if hdr.page.FreeNum() == 0 {
		if err := bp.diskManager.WritePage(tableID, 0, &hdr.page); err != nil {
			bp.UnpinPage(hdr, true)
			return 0, err
		}
		hdr.dirty.Store(false)
		n, err := bp.diskManager.AllocPage(tableID)
		if err != nil {
			bp.UnpinPage(hdr, false)
			return 0, err
		}
		err = bp.diskManager.ReadPage(tableID, 0, &hdr.page)
		bp.UnpinPage(hdr, false)
		return n, err
	}

	// free pages never stay cached, so the on-disk image has the current next pointer
	n := hdr.page.FreeNum()
	var free page.Page
	if err := bp.diskManager.ReadPage(tableID, n, &free); err != nil {
		bp.UnpinPage(hdr, false)
		return 0, err
	}
	hdr.page.SetFreeNum(free.NextFree())
	bp.UnpinPage(hdr, true)
	return n, nil
}

// FreePage returns the page held in f to the free list and drops it from the pool.
// f must be latched by the caller; the latch is released.
func (bp *BufferPool) FreePage(f *Frame) error {
	tableID, pageNum := f.tableID, f.pageNum
	if pageNum == 0 {
		bp.UnpinPage(f, false)
		return errors.New("the header page cannot be freed")
	}

	hdr, err := bp.FetchPage(tableID, 0)
	if err != nil {
		bp.UnpinPage(f, true)
		return err
	}

	var free page.Page
	free.SetNextFree(hdr.page.FreeNum())
	free.SetLSN(f.page.LSN())
	if err := bp.diskManager.WritePage(tableID, pageNum, &free); err != nil {
		bp.UnpinPage(hdr, false)
		bp.UnpinPage(f, true)
		return err
	}
	hdr.page.SetFreeNum(pageNum)
	bp.UnpinPage(hdr, true)

	bp.mu.Lock()
	bp.discard(f.idx)
	bp.mu.Unlock()
	f.latch.Unlock()
	return nil
}

// FlushAll writes every dirty frame back, flushing the log first.
func (bp *BufferPool) FlushAll() error {
	bp.mu.Lock()
	wal := bp.walManager
	bp.mu.Unlock()

	if wal != nil {
		if err := wal.Flush(); err != nil {
			return errors.Wrap(err, "log flush before buffer flush")
		}
	}

	flushed := 0
	for i := range bp.frames {
		f := &bp.frames[i]
		f.latch.Lock()
		if f.inUse && f.dirty.Load() {
			if err := bp.diskManager.WritePage(f.tableID, f.pageNum, &f.page); err != nil {
				f.latch.Unlock()
				return err
			}
			f.dirty.Store(false)
			flushed++
		}
		f.latch.Unlock()
	}

	bp.mu.Lock()
	bp.writes += uint64(flushed)
	bp.mu.Unlock()
	log.WithField("pages", flushed).Debug("flushed all dirty frames")
	return nil
}

// victim picks a frame for a new page and returns it latched and detached from the table.
// Assumes bp.mu is held.
func (bp *BufferPool) victim() (int, error) {
	if n := len(bp.freeFrames); n > 0 {
		idx := bp.freeFrames[n-1]
		f := &bp.frames[idx]
		if f.latch.TryLock() {
			bp.freeFrames = bp.freeFrames[:n-1]
			return idx, nil
		}
	}

	for idx := bp.lruHead; idx != nilFrame; idx = bp.frames[idx].next {
		f := &bp.frames[idx]
		if !f.latch.TryLock() {
			continue
		}
		if f.dirty.Load() {
			if err := bp.writeBack(f); err != nil {
				f.latch.Unlock()
				return 0, err
			}
		}
		log.WithField("table", f.tableID).WithField("page", f.pageNum).Trace("EVICT")
		delete(bp.table, frameKey{tableID: f.tableID, pageNum: f.pageNum})
		bp.unlink(idx)
		f.inUse = false
		bp.evictions++
		return idx, nil
	}
	return 0, errAllLatched
}

// writeBack flushes a dirty latched frame, making the log durable first.
func (bp *BufferPool) writeBack(f *Frame) error {
	if bp.walManager != nil && f.page.LSN() >= bp.walManager.FlushedLSN() {
		if err := bp.walManager.Flush(); err != nil {
			return errors.Wrap(err, "log flush before eviction")
		}
	}
	if err := bp.diskManager.WritePage(f.tableID, f.pageNum, &f.page); err != nil {
		return errors.Wrapf(err, "failed to write table %d page %d during eviction", f.tableID, f.pageNum)
	}
	f.dirty.Store(false)
	bp.writes++
	return nil
}
