package bufferpool

import (
	diskmanager "DaemonStore/storage_engine/disk_manager"
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"
	"sync"
	"sync/atomic"
)

const (
	MinFrames = 20
	nilFrame  = -1
)

// ############################################# FRAME #############################################

// Frame holds one cached page. Its latch guards the page image; dirty is atomic so
// stats can count it without the latch. tableID/pageNum only change while both the
// pool mutex and the latch are held.
type Frame struct {
	idx     int
	tableID types.TableID
	pageNum types.PageNum
	page    page.Page
	dirty   atomic.Bool
	inUse   bool
	prev    int // LRU neighbours, nilFrame at the ends
	next    int
	latch   sync.Mutex
}

func (f *Frame) Page() *page.Page { return &f.page }
func (f *Frame) PageNum() types.PageNum { return f.pageNum }
func (f *Frame) TableID() types.TableID { return f.tableID }

type frameKey struct {
	tableID types.TableID
	pageNum types.PageNum
}

// ############################################# BUFFER POOL #############################################

// BufferPool caches table pages in a fixed set of frames with LRU replacement.
// The LRU list runs from lruHead (least recently used) to lruTail.
type BufferPool struct {
	frames      []Frame
	table       map[frameKey]int
	freeFrames  []int
	lruHead     int
	lruTail     int
	diskManager *diskmanager.DiskManager
	walManager  WALFlusher
	mu          sync.Mutex

	hits      uint64
	misses    uint64
	evictions uint64
	writes    uint64
}

// BufferPoolStats is a point-in-time view of the pool
type BufferPoolStats struct {
	Capacity  int
	Cached    int
	Dirty     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Writes    uint64
}

// small interface so bufferpool doesn't import the whole wal package
type WALFlusher interface {
	FlushedLSN() types.LSN
	Flush() error
}
