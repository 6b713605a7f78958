package page

import (
	"DaemonStore/types"
	"fmt"

	"github.com/pkg/errors"
)

/*
Leaf body layout.

Slots grow from the front of the body (16 bytes each, kept sorted by key) and values are
packed from the tail of the page downward. Values are always contiguous: the value region
is exactly [128 + 16*numKeys + freeSpace, 4096), which is what lets a new value be placed at
128 + 16*numKeys + freeSpace after the counters are updated.

Physical value order does not follow slot order once slots are inserted in the middle;
Compact re-packs values in slot order.
*/

// Slot is the decoded form of a leaf slot.
type Slot struct {
	Key    int64
	Size   uint16
	Offset uint16 // absolute offset of the value inside the page
	TrxID  types.TrxID
}

// Entry is a key/value pair lifted out of a leaf, used when leaves are rebuilt.
type Entry struct {
	Key   int64
	Value []byte
	TrxID types.TrxID
}

func slotOff(i int) int { return HeaderSize + i*types.SlotSize }

func (p *Page) Slot(i int) Slot {
	off := slotOff(i)
	return Slot{
		Key:    int64(p.u64(off)),
		Size:   p.u16(off + 8),
		Offset: p.u16(off + 10),
		TrxID:  types.TrxID(p.u32(off + 12)),
	}
}

func (p *Page) SetSlot(i int, s Slot) {
	off := slotOff(i)
	p.putU64(off, uint64(s.Key))
	p.putU16(off+8, s.Size)
	p.putU16(off+10, s.Offset)
	p.putU32(off+12, uint32(s.TrxID))
}

func (p *Page) SlotKey(i int) int64 { return int64(p.u64(slotOff(i))) }

func (p *Page) SlotTrx(i int) types.TrxID { return types.TrxID(p.u32(slotOff(i) + 12)) }

func (p *Page) SetSlotTrx(i int, trx types.TrxID) { p.putU32(slotOff(i)+12, uint32(trx)) }

// Value returns the value bytes of slot i. The slice aliases the page.
func (p *Page) Value(i int) []byte {
	s := p.Slot(i)
	return p.Data[s.Offset : int(s.Offset)+int(s.Size)]
}

// SearchSlot returns the index of key in the leaf, or -1.
func (p *Page) SearchSlot(key int64) int {
	lo, hi := 0, p.NumKeys()
	for lo < hi {
		mid := (lo + hi) / 2
		k := p.SlotKey(mid)
		switch {
		case k == key:
			return mid
		case k < key:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return -1
}

// InsertPosition returns the index at which key would be inserted to keep slots sorted.
func (p *Page) InsertPosition(key int64) int {
	lo, hi := 0, p.NumKeys()
	for lo < hi {
		mid := (lo + hi) / 2
		if p.SlotKey(mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// HasRoomFor reports whether a value of the given size fits without a split.
func (p *Page) HasRoomFor(size int) bool {
	return p.FreeSpace() >= types.SlotSize+size
}

// InsertSlot places key/value at slot index, shifting later slots right.
// The caller checks HasRoomFor first.
func (p *Page) InsertSlot(index int, key int64, value []byte) {
	nk := p.NumKeys()
	if index < nk {
		copy(p.Data[slotOff(index+1):slotOff(nk+1)], p.Data[slotOff(index):slotOff(nk)])
	}
	nk++
	p.SetNumKeys(nk)
	p.SetFreeSpace(p.FreeSpace() - types.SlotSize - len(value))
	off := HeaderSize + types.SlotSize*nk + p.FreeSpace()
	p.SetSlot(index, Slot{Key: key, Size: uint16(len(value)), Offset: uint16(off)})
	copy(p.Data[off:], value)
}

// AppendSlot adds an entry after the last slot, keeping the value region packed.
func (p *Page) AppendSlot(key int64, value []byte, trx types.TrxID) {
	nk := p.NumKeys() + 1
	p.SetNumKeys(nk)
	p.SetFreeSpace(p.FreeSpace() - types.SlotSize - len(value))
	off := HeaderSize + types.SlotSize*nk + p.FreeSpace()
	p.SetSlot(nk-1, Slot{Key: key, Size: uint16(len(value)), Offset: uint16(off), TrxID: trx})
	copy(p.Data[off:], value)
}

// RemoveSlot deletes slot index and re-packs the value region.
func (p *Page) RemoveSlot(index int) {
	nk := p.NumKeys()
	p.SetFreeSpace(p.FreeSpace() + types.SlotSize + int(p.Slot(index).Size))
	copy(p.Data[slotOff(index):slotOff(nk-1)], p.Data[slotOff(index+1):slotOff(nk)])
	p.SetNumKeys(nk - 1)
	p.Compact()
}

// RemoveFront drops the first n slots and re-packs.
func (p *Page) RemoveFront(n int) {
	nk := p.NumKeys()
	freed := 0
	for i := 0; i < n; i++ {
		freed += types.SlotSize + int(p.Slot(i).Size)
	}
	copy(p.Data[slotOff(0):slotOff(nk-n)], p.Data[slotOff(n):slotOff(nk)])
	p.SetNumKeys(nk - n)
	p.SetFreeSpace(p.FreeSpace() + freed)
	p.Compact()
}

// RemoveBack drops the last n slots and re-packs.
func (p *Page) RemoveBack(n int) {
	nk := p.NumKeys()
	freed := 0
	for i := nk - n; i < nk; i++ {
		freed += types.SlotSize + int(p.Slot(i).Size)
	}
	p.SetNumKeys(nk - n)
	p.SetFreeSpace(p.FreeSpace() + freed)
	p.Compact()
}

// Compact re-packs values from the page tail in slot order and rewrites offsets.
func (p *Page) Compact() {
	nk := p.NumKeys()
	var tmp [PageSize]byte
	off := PageSize
	for i := 0; i < nk; i++ {
		s := p.Slot(i)
		off -= int(s.Size)
		copy(tmp[off:], p.Data[s.Offset:int(s.Offset)+int(s.Size)])
		s.Offset = uint16(off)
		p.SetSlot(i, s)
	}
	start := HeaderSize + types.SlotSize*nk + p.FreeSpace()
	copy(p.Data[start:], tmp[start:])
}

// Entries copies every slot out of the leaf in key order.
func (p *Page) Entries() []Entry {
	nk := p.NumKeys()
	out := make([]Entry, nk)
	for i := 0; i < nk; i++ {
		s := p.Slot(i)
		v := make([]byte, s.Size)
		copy(v, p.Data[s.Offset:])
		out[i] = Entry{Key: s.Key, Value: v, TrxID: s.TrxID}
	}
	return out
}

// RebuildLeaf empties the leaf body and writes entries packed from the tail.
// Header fields other than num keys and free space are left alone.
func (p *Page) RebuildLeaf(entries []Entry) {
	for i := HeaderSize; i < PageSize; i++ {
		p.Data[i] = 0
	}
	p.SetNumKeys(0)
	p.SetFreeSpace(InitialFree)
	off := PageSize
	for i, e := range entries {
		off -= len(e.Value)
		p.SetSlot(i, Slot{Key: e.Key, Size: uint16(len(e.Value)), Offset: uint16(off), TrxID: e.TrxID})
		copy(p.Data[off:], e.Value)
		p.SetFreeSpace(p.FreeSpace() - types.SlotSize - len(e.Value))
	}
	p.SetNumKeys(len(entries))
}

// VerifyLeaf checks the space invariant and key order of a leaf.
func (p *Page) VerifyLeaf() error {
	if !p.IsLeaf() {
		return errors.Wrap(types.ErrCorruptPage, "not a leaf")
	}
	used := 0
	nk := p.NumKeys()
	for i := 0; i < nk; i++ {
		s := p.Slot(i)
		used += types.SlotSize + int(s.Size)
		if i > 0 && p.SlotKey(i-1) >= s.Key {
			return errors.Wrapf(types.ErrCorruptPage, "slot %d key %d out of order", i, s.Key)
		}
		if int(s.Offset) < HeaderSize+types.SlotSize*nk || int(s.Offset)+int(s.Size) > PageSize {
			return errors.Wrapf(types.ErrCorruptPage, "slot %d offset %d out of range", i, s.Offset)
		}
	}
	if used+p.FreeSpace() != InitialFree {
		return errors.Wrap(types.ErrCorruptPage,
			fmt.Sprintf("free space %d + used %d != %d", p.FreeSpace(), used, InitialFree))
	}
	return nil
}
