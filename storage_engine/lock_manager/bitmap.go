package lock_manager

import "math/bits"

// SlotBits is the number of leaf slots one bitmap can cover
const SlotBits = 256

// Bitmap marks slot indexes within a page. Slot i is bit 63-(i%64) of word i/64.
type Bitmap [SlotBits / 64]uint64

func Mask(slot int) Bitmap {
	var b Bitmap
	b[slot/64] = 1 << (63 - uint(slot%64))
	return b
}

func (b Bitmap) Intersects(o Bitmap) bool {
	for i := range b {
		if b[i]&o[i] != 0 {
			return true
		}
	}
	return false
}

func (b *Bitmap) Or(o Bitmap) {
	for i := range b {
		b[i] |= o[i]
	}
}

func (b Bitmap) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// Slots lists the set slot indexes in ascending order
func (b Bitmap) Slots() []int {
	var out []int
	for w, word := range b {
		for word != 0 {
			lz := bits.LeadingZeros64(word)
			out = append(out, w*64+lz)
			word &^= 1 << (63 - uint(lz))
		}
	}
	return out
}
