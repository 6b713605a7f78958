package types

const (
	PageSize       = 4096 // 4KB page
	PageHeaderSize = 128  // fixed header on every page
	SlotSize       = 16   // leaf slot: key 8B, size 2B, offset 2B, trx id 4B
	BranchSize     = 16   // internal entry: key 8B, child page 8B
)

// TableID identifies an open table file; it is also the id written to the log.
type TableID = int64

// PageNum is the index of a 4096-byte page within a table file. Page 0 is the header page.
type PageNum = uint64

// TrxID is a transaction id. Zero means "no transaction".
type TrxID = int32

// LSN is a log sequence number: the byte offset of a record in the log file.
type LSN = uint64

const (
	MinValueSize = 1
	MaxValueSize = 112
)

type PageType uint8

const (
	PageTypeHeader PageType = iota
	PageTypeFree
	PageTypeInternal
	PageTypeLeaf
)

func (pt PageType) String() string {
	switch pt {
	case PageTypeHeader:
		return "header"
	case PageTypeFree:
		return "free"
	case PageTypeInternal:
		return "internal"
	case PageTypeLeaf:
		return "leaf"
	}
	return "unknown"
}
