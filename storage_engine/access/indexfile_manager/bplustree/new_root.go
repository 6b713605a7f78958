package bplus

import (
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"

	"github.com/pkg/errors"
)

// createNewRoot creates a new root internal node with left as its leftmost child
// and (promoteKey, right) as its only branch.
func (t *BPlusTree) createNewRoot(left types.PageNum, promoteKey int64, right types.PageNum) error {
	root, err := t.newNode(false, 0)
	if err != nil {
		return errors.Wrap(err, "createNewRoot: failed to allocate new root")
	}
	if err := t.modify(root, func(p *page.Page) {
		p.SetLeftmost(left)
		p.InsertBranch(0, page.Branch{Key: promoteKey, PageNum: right})
	}); err != nil {
		return err
	}

	// Update parent pointers on both children.
	for _, child := range []types.PageNum{left, right} {
		if err := t.setParent(child, root); err != nil {
			return errors.Wrapf(err, "createNewRoot: failed to update child %d", child)
		}
	}
	return t.setRoot(root)
}
