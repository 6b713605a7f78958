package bplus

import (
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"

	"github.com/pkg/errors"
)

// Insertion adds key with value. Keys are unique: an existing key gives types.ErrDuplicateKey.
func (t *BPlusTree) Insertion(key int64, value []byte) error {
	if len(value) < types.MinValueSize || len(value) > types.MaxValueSize {
		return errors.Wrapf(types.ErrValueSize, "value of %d bytes", len(value))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	root, err := t.rootNum()
	if err != nil {
		return err
	}

	// If tree is empty
	if root == 0 {
		return t.startNewTree(key, value)
	}

	leafNum, err := t.findLeaf(root, key)
	if err != nil {
		return errors.Wrap(err, "Insertion: failed to find leaf")
	}

	f, err := t.fetch(leafNum)
	if err != nil {
		return err
	}
	leaf := f.Page()
	if leaf.SearchSlot(key) >= 0 {
		t.release(f, false)
		return errors.Wrapf(types.ErrDuplicateKey, "key %d", key)
	}

	pos := leaf.InsertPosition(key)
	if leaf.HasRoomFor(len(value)) {
		leaf.InsertSlot(pos, key, value)
		t.release(f, true)
		return nil
	}

	entries := insert(leaf.Entries(), pos, page.Entry{Key: key, Value: value})
	parent := leaf.ParentNum()
	sibling := leaf.RightSibling()
	t.release(f, false)

	return t.splitLeaf(leafNum, parent, sibling, entries)
}

func (t *BPlusTree) startNewTree(key int64, value []byte) error {
	root, err := t.newNode(true, 0)
	if err != nil {
		return errors.Wrap(err, "Insertion: failed to allocate root")
	}
	if err := t.modify(root, func(p *page.Page) { p.AppendSlot(key, value, 0) }); err != nil {
		return err
	}
	return t.setRoot(root)
}
