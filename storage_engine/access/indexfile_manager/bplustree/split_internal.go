package bplus

import (
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"

	"github.com/pkg/errors"
)

// splitInternal divides an overflowing node. The node keeps the first cut(MaxOrder)-1
// branches, the branch at the cut becomes the new node's leftmost child, and its key
// moves up to the parent.
func (t *BPlusTree) splitInternal(nodeNum, parent types.PageNum, branches []page.Branch) error {
	split := cut(page.MaxOrder) - 1
	promote := branches[split]

	right, err := t.newNode(false, parent)
	if err != nil {
		return errors.Wrap(err, "splitInternal: failed to allocate right sibling")
	}
	if err := t.modify(right, func(p *page.Page) {
		p.SetLeftmost(promote.PageNum)
		for i, b := range branches[split+1:] {
			p.SetBranch(i, b)
		}
		p.SetNumKeys(len(branches) - split - 1)
	}); err != nil {
		return err
	}
	if err := t.modify(nodeNum, func(p *page.Page) {
		for i, b := range branches[:split] {
			p.SetBranch(i, b)
		}
		p.SetNumKeys(split)
	}); err != nil {
		return err
	}

	// children that moved must point at their new parent
	if err := t.setParent(promote.PageNum, right); err != nil {
		return err
	}
	for _, b := range branches[split+1:] {
		if err := t.setParent(b.PageNum, right); err != nil {
			return err
		}
	}

	return t.insertIntoParent(nodeNum, parent, promote.Key, right)
}
