package bplus

import (
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"
)

// Iterator provides a forward-only range scan over the leaves.
// It works on a copy of the current leaf, so no latch is held between calls.
type Iterator struct {
	tree    *BPlusTree
	leaf    page.Page
	pageNum types.PageNum
	index   int
	valid   bool
	err     error
}

// SeekGE positions the iterator at the first key >= target.
func (t *BPlusTree) SeekGE(target int64) *Iterator {
	t.mu.RLock()
	defer t.mu.RUnlock()

	it := &Iterator{tree: t}
	root, err := t.rootNum()
	if err != nil || root == 0 {
		it.err = err
		return it
	}

	leafNum, err := t.findLeaf(root, target)
	if err != nil {
		it.err = err
		return it
	}
	if it.err = t.bufferPool.ReadPage(t.tableID, leafNum, &it.leaf); it.err != nil {
		return it
	}
	it.pageNum = leafNum

	it.index = it.leaf.InsertPosition(target)
	it.valid = true
	it.skipExhausted()
	return it
}

// skipExhausted moves along the sibling chain past leaves with no entries left
func (it *Iterator) skipExhausted() {
	for it.valid && it.index >= it.leaf.NumKeys() {
		next := it.leaf.RightSibling()
		if next == 0 {
			it.valid = false
			return
		}
		it.tree.mu.RLock()
		it.err = it.tree.bufferPool.ReadPage(it.tree.tableID, next, &it.leaf)
		it.tree.mu.RUnlock()
		if it.err != nil {
			it.valid = false
			return
		}
		it.pageNum = next
		it.index = 0
	}
}

// Valid reports whether the iterator is positioned on an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Next advances the iterator. Returns false when exhausted.
func (it *Iterator) Next() bool {
	if !it.valid {
		return false
	}
	it.index++
	it.skipExhausted()
	return it.valid
}

// Close ends the scan.
func (it *Iterator) Close() {
	it.valid = false
}

// Err is the first read error hit by the scan
func (it *Iterator) Err() error { return it.err }

// Key returns the current key.
func (it *Iterator) Key() int64 {
	if !it.valid {
		return 0
	}
	return it.leaf.SlotKey(it.index)
}

// Value returns a copy of the current value.
func (it *Iterator) Value() []byte {
	if !it.valid {
		return nil
	}
	return append([]byte(nil), it.leaf.Value(it.index)...)
}

// PageNum is the leaf page the iterator currently reads, 0 when exhausted
func (it *Iterator) PageNum() types.PageNum {
	if !it.valid {
		return 0
	}
	return it.pageNum
}
