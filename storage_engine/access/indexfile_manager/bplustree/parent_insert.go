package bplus

import (
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"
)

// insertIntoParent inserts (sepKey, right) into the parent of left.
// If the parent overflows, it splits and propagates upward.
// right already carries parent as its parent pointer.
func (t *BPlusTree) insertIntoParent(left, parent types.PageNum, sepKey int64, right types.PageNum) error {
	if parent == 0 {
		return t.createNewRoot(left, sepKey, right)
	}

	f, err := t.fetch(parent)
	if err != nil {
		return err
	}
	p := f.Page()
	idx := branchPosition(p, sepKey)

	if p.NumKeys() < page.MaxBranches {
		p.InsertBranch(idx, page.Branch{Key: sepKey, PageNum: right})
		t.release(f, true)
		return nil
	}

	branches := make([]page.Branch, 0, p.NumKeys()+1)
	for i := 0; i < p.NumKeys(); i++ {
		branches = append(branches, p.Branch(i))
	}
	branches = insert(branches, idx, page.Branch{Key: sepKey, PageNum: right})
	grandparent := p.ParentNum()
	t.release(f, false)

	return t.splitInternal(parent, grandparent, branches)
}
