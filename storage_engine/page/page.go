package page

import (
	"DaemonStore/types"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

/*
This contains the page image shared by every layer above the disk manager.

Every page is 4096 bytes with a fixed 128-byte header. The header is read differently
depending on what the page is:

	header page (page 0): [0:8] free list head, [8:16] num pages, [16:24] root page
	free page:            [0:8] next free page
	internal / leaf:      [0:8] parent, [8:12] is leaf, [12:16] num keys,
	                      [112:120] free space (leaf), [120:128] right sibling (leaf) / leftmost child (internal)

Bytes [24:32] hold the page LSN on every page kind. The LSN is never cleared when a page
is allocated or freed, so for a given page number it only moves forward.

The body layouts live in leaf.go and internal.go.
*/

const (
	PageSize       = types.PageSize
	HeaderSize     = types.PageHeaderSize
	InitialFree    = PageSize - HeaderSize // 3968 bytes of leaf payload
	Threshold      = 2500                  // leaf needs rebalancing once free space reaches this
	MaxOrder       = 249
	MaxBranches    = MaxOrder - 1 // 248 entries fill the internal body exactly
	PageLSNOffset  = 24
	offParent      = 0
	offNumPages    = 8
	offIsLeaf      = 8
	offNumKeys     = 12
	offRoot        = 16
	offFreeSpace   = 112
	offSiblingOrLm = 120
)

type Page struct {
	Data [PageSize]byte
}

func (p *Page) u64(off int) uint64 { return binary.LittleEndian.Uint64(p.Data[off:]) }
func (p *Page) putU64(off int, v uint64) { binary.LittleEndian.PutUint64(p.Data[off:], v) }
func (p *Page) u32(off int) uint32 { return binary.LittleEndian.Uint32(p.Data[off:]) }
func (p *Page) putU32(off int, v uint32) { binary.LittleEndian.PutUint32(p.Data[off:], v) }
func (p *Page) u16(off int) uint16 { return binary.LittleEndian.Uint16(p.Data[off:]) }
func (p *Page) putU16(off int, v uint16) { binary.LittleEndian.PutUint16(p.Data[off:], v) }

// ####### HEADER PAGE #######

func (p *Page) FreeNum() types.PageNum { return p.u64(offParent) }
func (p *Page) SetFreeNum(n types.PageNum) { p.putU64(offParent, n) }
func (p *Page) NumPages() uint64 { return p.u64(offNumPages) }
func (p *Page) SetNumPages(n uint64) { p.putU64(offNumPages, n) }
func (p *Page) RootNum() types.PageNum { return p.u64(offRoot) }
func (p *Page) SetRootNum(n types.PageNum) { p.putU64(offRoot, n) }

// ####### FREE PAGE #######

func (p *Page) NextFree() types.PageNum { return p.u64(offParent) }
func (p *Page) SetNextFree(n types.PageNum) { p.putU64(offParent, n) }

// ####### NODE HEADER #######

func (p *Page) ParentNum() types.PageNum { return p.u64(offParent) }
func (p *Page) SetParentNum(n types.PageNum) { p.putU64(offParent, n) }

func (p *Page) IsLeaf() bool { return p.u32(offIsLeaf) != 0 }

func (p *Page) SetLeaf(leaf bool) {
	var v uint32
	if leaf {
		v = 1
	}
	p.putU32(offIsLeaf, v)
}

func (p *Page) NumKeys() int { return int(p.u32(offNumKeys)) }
func (p *Page) SetNumKeys(n int) { p.putU32(offNumKeys, uint32(n)) }

func (p *Page) LSN() types.LSN { return p.u64(PageLSNOffset) }
func (p *Page) SetLSN(l types.LSN) { p.putU64(PageLSNOffset, l) }

func (p *Page) FreeSpace() int { return int(p.u64(offFreeSpace)) }
func (p *Page) SetFreeSpace(n int) { p.putU64(offFreeSpace, uint64(n)) }

// RightSibling and Leftmost share the same header field.
func (p *Page) RightSibling() types.PageNum { return p.u64(offSiblingOrLm) }
func (p *Page) SetRightSibling(n types.PageNum) { p.putU64(offSiblingOrLm, n) }
func (p *Page) Leftmost() types.PageNum { return p.u64(offSiblingOrLm) }
func (p *Page) SetLeftmost(n types.PageNum) { p.putU64(offSiblingOrLm, n) }

// Clear zeroes the page but keeps its LSN.
func (p *Page) Clear() {
	lsn := p.LSN()
	p.Data = [PageSize]byte{}
	p.SetLSN(lsn)
}

// InitLeaf turns the page into an empty leaf.
func (p *Page) InitLeaf(parent types.PageNum) {
	p.Clear()
	p.SetParentNum(parent)
	p.SetLeaf(true)
	p.SetFreeSpace(InitialFree)
}

// InitInternal turns the page into an empty internal node.
func (p *Page) InitInternal(parent types.PageNum) {
	p.Clear()
	p.SetParentNum(parent)
	p.SetLeaf(false)
}

// Checksum is the xxhash of the whole page image.
func (p *Page) Checksum() uint64 {
	return xxhash.Sum64(p.Data[:])
}

// CopyFrom overwrites the page with src.
func (p *Page) CopyFrom(src *Page) {
	p.Data = src.Data
}
