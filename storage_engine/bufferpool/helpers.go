package bufferpool

/*
This file holds helper functions for the bufferpool
LRU links are frame indexes, so the list needs no allocation.
All of these assume bp.mu is held.
*/

func (bp *BufferPool) unlink(idx int) {
	f := &bp.frames[idx]
	if f.prev != nilFrame {
		bp.frames[f.prev].next = f.next
	} else if bp.lruHead == idx {
		bp.lruHead = f.next
	}
	if f.next != nilFrame {
		bp.frames[f.next].prev = f.prev
	} else if bp.lruTail == idx {
		bp.lruTail = f.prev
	}
	f.prev, f.next = nilFrame, nilFrame
}

func (bp *BufferPool) pushMRU(idx int) {
	f := &bp.frames[idx]
	f.prev = bp.lruTail
	f.next = nilFrame
	if bp.lruTail != nilFrame {
		bp.frames[bp.lruTail].next = idx
	}
	bp.lruTail = idx
	if bp.lruHead == nilFrame {
		bp.lruHead = idx
	}
}

// touch moves a frame to the most recently used end
func (bp *BufferPool) touch(idx int) {
	if bp.lruTail == idx {
		return
	}
	bp.unlink(idx)
	bp.pushMRU(idx)
}

// discard forgets the page held in a frame and returns the frame to the free set
func (bp *BufferPool) discard(idx int) {
	f := &bp.frames[idx]
	delete(bp.table, frameKey{tableID: f.tableID, pageNum: f.pageNum})
	bp.unlink(idx)
	f.inUse = false
	f.dirty.Store(false)
	bp.freeFrames = append(bp.freeFrames, idx)
}

// GetStats returns current buffer pool statistics
func (bp *BufferPool) GetStats() BufferPoolStats {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	stats := BufferPoolStats{
		Capacity:  len(bp.frames),
		Cached:    len(bp.table),
		Hits:      bp.hits,
		Misses:    bp.misses,
		Evictions: bp.evictions,
		Writes:    bp.writes,
	}
	for _, idx := range bp.table {
		if bp.frames[idx].dirty.Load() {
			stats.Dirty++
		}
	}
	return stats
}

// Capacity returns the number of frames
func (bp *BufferPool) Capacity() int {
	return len(bp.frames)
}

// Contains reports whether the page is cached
func (bp *BufferPool) Contains(tableID int64, pageNum uint64) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	_, ok := bp.table[frameKey{tableID: tableID, pageNum: pageNum}]
	return ok
}
