package bplus

import (
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"

	"github.com/pkg/errors"
)

// splitLeaf spreads entries (the leaf's slots with the new one already in place)
// over the old leaf and a new right sibling, then posts the new leaf's first key upward.
func (t *BPlusTree) splitLeaf(leafNum, parent, sibling types.PageNum, entries []page.Entry) error {
	split := leafSplitPoint(entries)

	right, err := t.newNode(true, parent)
	if err != nil {
		return errors.Wrap(err, "splitLeaf: failed to allocate right sibling")
	}
	if err := t.modify(right, func(p *page.Page) {
		p.RebuildLeaf(entries[split:])
		p.SetRightSibling(sibling) // right inherits leaf's old next pointer
	}); err != nil {
		return err
	}
	if err := t.modify(leafNum, func(p *page.Page) {
		p.RebuildLeaf(entries[:split])
		p.SetRightSibling(right)
	}); err != nil {
		return err
	}

	return t.insertIntoParent(leafNum, parent, entries[split].Key, right)
}
