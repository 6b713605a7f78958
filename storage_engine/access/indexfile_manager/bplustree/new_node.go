package bplus

import (
	"DaemonStore/storage_engine/bufferpool"
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"

	"github.com/pkg/errors"
)

// fetch latches a page of this tree's table; the caller must release it.
func (t *BPlusTree) fetch(pageNum types.PageNum) (*bufferpool.Frame, error) {
	f, err := t.bufferPool.FetchPage(t.tableID, pageNum)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch page %d", pageNum)
	}
	return f, nil
}

func (t *BPlusTree) release(f *bufferpool.Frame, dirty bool) {
	t.bufferPool.UnpinPage(f, dirty)
}

// modify runs fn on a latched page and marks it dirty
func (t *BPlusTree) modify(pageNum types.PageNum, fn func(p *page.Page)) error {
	f, err := t.fetch(pageNum)
	if err != nil {
		return err
	}
	fn(f.Page())
	t.release(f, true)
	return nil
}

// read runs fn on a latched page without dirtying it
func (t *BPlusTree) read(pageNum types.PageNum, fn func(p *page.Page)) error {
	f, err := t.fetch(pageNum)
	if err != nil {
		return err
	}
	fn(f.Page())
	t.release(f, false)
	return nil
}

// newNode allocates a page and formats it as an empty leaf or internal node
func (t *BPlusTree) newNode(leaf bool, parent types.PageNum) (types.PageNum, error) {
	n, err := t.bufferPool.AllocPage(t.tableID)
	if err != nil {
		return 0, errors.Wrap(err, "newNode: failed to allocate page")
	}
	err = t.modify(n, func(p *page.Page) {
		if leaf {
			p.InitLeaf(parent)
		} else {
			p.InitInternal(parent)
		}
	})
	return n, err
}

func (t *BPlusTree) rootNum() (types.PageNum, error) {
	var root types.PageNum
	err := t.read(0, func(p *page.Page) { root = p.RootNum() })
	return root, err
}

func (t *BPlusTree) setRoot(root types.PageNum) error {
	return t.modify(0, func(p *page.Page) { p.SetRootNum(root) })
}

func (t *BPlusTree) setParent(child, parent types.PageNum) error {
	return t.modify(child, func(p *page.Page) { p.SetParentNum(parent) })
}
