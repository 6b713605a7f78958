package bplus

import (
	"DaemonStore/storage_engine/bufferpool"
	"DaemonStore/types"

	"github.com/pkg/errors"
)

// LeafFunc works on a latched leaf; slot is the index of the key being looked at.
// It reports whether it modified the page.
type LeafFunc func(f *bufferpool.Frame, slot int) (dirty bool, err error)

// WithLeaf descends to the leaf holding key and runs fn with that leaf latched.
// The structure lock is held shared for the call, so fn must not wait on anything
// that may need the tree exclusively (record locks in particular).
func (t *BPlusTree) WithLeaf(key int64, fn LeafFunc) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	root, err := t.rootNum()
	if err != nil {
		return err
	}
	if root == 0 {
		return errors.Wrapf(types.ErrNotFound, "key %d", key)
	}
	leafNum, err := t.findLeaf(root, key)
	if err != nil {
		return err
	}

	f, err := t.fetch(leafNum)
	if err != nil {
		return err
	}
	slot := f.Page().SearchSlot(key)
	if slot < 0 {
		t.release(f, false)
		return errors.Wrapf(types.ErrNotFound, "key %d", key)
	}
	dirty, err := fn(f, slot)
	t.release(f, dirty)
	return err
}

// Locate returns the leaf page and slot currently holding key
func (t *BPlusTree) Locate(key int64) (Location, error) {
	var loc Location
	err := t.WithLeaf(key, func(f *bufferpool.Frame, slot int) (bool, error) {
		loc = Location{PageNum: f.PageNum(), Slot: slot}
		return false, nil
	})
	return loc, err
}

// Search returns a copy of the value stored under key
func (t *BPlusTree) Search(key int64) ([]byte, error) {
	var value []byte
	err := t.WithLeaf(key, func(f *bufferpool.Frame, slot int) (bool, error) {
		value = append([]byte(nil), f.Page().Value(slot)...)
		return false, nil
	})
	return value, err
}
