package bplus

import (
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"

	"github.com/pkg/errors"
)

// findLeaf walks from root down to the leaf that covers key.
// Only one page is latched at a time.
func (t *BPlusTree) findLeaf(root types.PageNum, key int64) (types.PageNum, error) {
	pageNum := root
	for depth := 0; ; depth++ {
		if pageNum == 0 {
			return 0, errors.Wrap(types.ErrCorruptPage, "findLeaf: child pointer 0")
		}
		if depth > 64 {
			return 0, errors.Wrap(types.ErrCorruptPage, "findLeaf: tree deeper than 64 levels")
		}

		var leaf bool
		var next types.PageNum
		if err := t.read(pageNum, func(p *page.Page) {
			leaf = p.IsLeaf()
			if !leaf {
				next = p.Child(key)
			}
		}); err != nil {
			return 0, errors.Wrapf(err, "findLeaf: failed to fetch node %d", pageNum)
		}
		if leaf {
			return pageNum, nil
		}
		pageNum = next
	}
}

// Height is the number of levels, 0 for an empty tree
func (t *BPlusTree) Height() (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pageNum, err := t.rootNum()
	if err != nil || pageNum == 0 {
		return 0, err
	}
	height := 0
	for {
		height++
		var leaf bool
		var next types.PageNum
		if err := t.read(pageNum, func(p *page.Page) {
			leaf = p.IsLeaf()
			next = p.Leftmost()
		}); err != nil {
			return 0, err
		}
		if leaf {
			return height, nil
		}
		pageNum = next
	}
}
