package bplus

import (
	"DaemonStore/storage_engine/bufferpool"
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"

	"github.com/pkg/errors"
)

/*
Deletion

A leaf is left alone while its free space stays under page.Threshold. Past that it is
merged into a sibling when everything fits, otherwise entries are moved over from the
sibling until it drops back under the threshold. Internal nodes follow the same scheme
by key count: below cut(MaxOrder)-1 keys they merge when the two nodes fit in one,
otherwise one branch rotates through the parent.

The sibling is the left neighbour, except for the leftmost child which uses its right
neighbour (branch 0). myIndex below is the node's position in its parent: -1 for the
leftmost child, i for branch i.
*/

// Deletion removes key from the tree, returning types.ErrNotFound when absent.
func (t *BPlusTree) Deletion(key int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

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
	return t.deleteEntry(leafNum, key)
}

func (t *BPlusTree) deleteEntry(nodeNum types.PageNum, key int64) error {
	f, err := t.fetch(nodeNum)
	if err != nil {
		return err
	}
	node := f.Page()

	if node.ParentNum() == 0 {
		return t.adjustRoot(f, key)
	}

	parentNum := node.ParentNum()
	if node.IsLeaf() {
		idx := node.SearchSlot(key)
		if idx < 0 {
			t.release(f, false)
			return errors.Wrapf(types.ErrNotFound, "key %d", key)
		}
		node.RemoveSlot(idx)
		free := node.FreeSpace()
		t.release(f, true)
		if free < page.Threshold {
			return nil
		}

		myIndex, sibNum, err := t.sibling(parentNum, nodeNum)
		if err != nil {
			return err
		}
		var sibFree int
		if err := t.read(sibNum, func(p *page.Page) { sibFree = p.FreeSpace() }); err != nil {
			return err
		}

		if sibFree >= page.InitialFree-free {
			if myIndex == -1 {
				return t.coalesceLeaf(parentNum, myIndex, nodeNum, sibNum)
			}
			return t.coalesceLeaf(parentNum, myIndex, sibNum, nodeNum)
		}
		return t.redistributeLeaf(parentNum, myIndex, sibNum, nodeNum)
	}

	idx := branchIndex(node, key)
	if idx < 0 {
		t.release(f, false)
		return errors.Wrapf(types.ErrCorruptPage, "internal node %d has no branch for key %d", nodeNum, key)
	}
	node.RemoveBranch(idx)
	numKeys := node.NumKeys()
	t.release(f, true)
	if numKeys >= cut(page.MaxOrder)-1 {
		return nil
	}

	myIndex, sibNum, err := t.sibling(parentNum, nodeNum)
	if err != nil {
		return err
	}
	var sibKeys int
	if err := t.read(sibNum, func(p *page.Page) { sibKeys = p.NumKeys() }); err != nil {
		return err
	}

	if sibKeys+numKeys < page.MaxBranches {
		if myIndex == -1 {
			return t.coalesceInternal(parentNum, myIndex, nodeNum, sibNum)
		}
		return t.coalesceInternal(parentNum, myIndex, sibNum, nodeNum)
	}
	return t.redistributeInternal(parentNum, myIndex, sibNum, nodeNum)
}

// sibling finds node's position in parent and the neighbour it merges with
func (t *BPlusTree) sibling(parentNum, nodeNum types.PageNum) (int, types.PageNum, error) {
	var myIndex int
	var sibNum types.PageNum
	if err := t.read(parentNum, func(p *page.Page) {
		myIndex = p.ChildIndex(nodeNum)
		switch {
		case myIndex == -1:
			sibNum = p.Branch(0).PageNum
		case myIndex == 0:
			sibNum = p.Leftmost()
		case myIndex > 0:
			sibNum = p.Branch(myIndex - 1).PageNum
		}
	}); err != nil {
		return 0, 0, err
	}
	if myIndex == -2 {
		return 0, 0, errors.Wrapf(types.ErrCorruptPage, "page %d is not a child of its parent %d", nodeNum, parentNum)
	}
	return myIndex, sibNum, nil
}

// adjustRoot deletes key from the latched root and collapses the root when it empties
func (t *BPlusTree) adjustRoot(f *bufferpool.Frame, key int64) error {
	root := f.Page()
	if root.IsLeaf() {
		idx := root.SearchSlot(key)
		if idx < 0 {
			t.release(f, false)
			return errors.Wrapf(types.ErrNotFound, "key %d", key)
		}
		root.RemoveSlot(idx)
	} else {
		idx := branchIndex(root, key)
		if idx < 0 {
			t.release(f, false)
			return errors.Wrapf(types.ErrCorruptPage, "root has no branch for key %d", key)
		}
		root.RemoveBranch(idx)
	}

	if root.NumKeys() > 0 {
		t.release(f, true)
		return nil
	}

	var newRoot types.PageNum
	if !root.IsLeaf() {
		newRoot = root.Leftmost()
		if err := t.setParent(newRoot, 0); err != nil {
			t.release(f, true)
			return err
		}
	}
	if err := t.setRoot(newRoot); err != nil {
		t.release(f, true)
		return err
	}
	return t.bufferPool.FreePage(f)
}

// coalesceLeaf appends every entry of from onto into (its left neighbour) and frees from.
func (t *BPlusTree) coalesceLeaf(parentNum types.PageNum, myIndex int, into, from types.PageNum) error {
	ff, err := t.fetch(from)
	if err != nil {
		return err
	}
	entries := ff.Page().Entries()
	next := ff.Page().RightSibling()

	if err := t.modify(into, func(p *page.Page) {
		for _, e := range entries {
			p.AppendSlot(e.Key, e.Value, e.TrxID)
		}
		p.SetRightSibling(next)
	}); err != nil {
		t.release(ff, false)
		return err
	}
	if err := t.bufferPool.FreePage(ff); err != nil {
		return err
	}

	kPrime, err := t.separator(parentNum, myIndex)
	if err != nil {
		return err
	}
	return t.deleteEntry(parentNum, kPrime)
}

// separator returns the parent key between the merged pair
func (t *BPlusTree) separator(parentNum types.PageNum, myIndex int) (int64, error) {
	idx := myIndex
	if idx == -1 {
		idx = 0
	}
	var key int64
	err := t.read(parentNum, func(p *page.Page) { key = p.BranchKey(idx) })
	return key, err
}

// redistributeLeaf moves entries from the sibling into the leaf until the leaf's
// free space (counting values only) drops under the threshold. The sibling keeps
// at least one entry.
func (t *BPlusTree) redistributeLeaf(parentNum types.PageNum, myIndex int, sibNum, leafNum types.PageNum) error {
	fl, err := t.fetch(leafNum)
	if err != nil {
		return err
	}
	fs, err := t.fetch(sibNum)
	if err != nil {
		t.release(fl, false)
		return err
	}
	fp, err := t.fetch(parentNum)
	if err != nil {
		t.release(fs, false)
		t.release(fl, false)
		return err
	}
	leaf, sib, parent := fl.Page(), fs.Page(), fp.Page()
	sibEntries := sib.Entries()

	// walk from the sibling's near end: its front when it is the right neighbour
	order := make([]int, 0, len(sibEntries))
	if myIndex == -1 {
		for i := range sibEntries {
			order = append(order, i)
		}
	} else {
		for i := len(sibEntries) - 1; i >= 0; i-- {
			order = append(order, i)
		}
	}

	tmp := leaf.FreeSpace()
	room := leaf.FreeSpace()
	moves := 0
	for _, i := range order {
		if moves == len(sibEntries)-1 {
			break
		}
		need := types.SlotSize + len(sibEntries[i].Value)
		if need > room {
			break
		}
		room -= need
		tmp -= len(sibEntries[i].Value)
		moves++
		if tmp < page.Threshold {
			break
		}
	}

	if myIndex == -1 {
		for _, e := range sibEntries[:moves] {
			leaf.AppendSlot(e.Key, e.Value, e.TrxID)
		}
		sib.RemoveFront(moves)
		parent.SetBranchKey(0, sib.SlotKey(0))
	} else {
		moved := sibEntries[len(sibEntries)-moves:]
		for l, e := range moved {
			leaf.InsertSlot(l, e.Key, e.Value)
			leaf.SetSlotTrx(l, e.TrxID)
		}
		sib.RemoveBack(moves)
		parent.SetBranchKey(myIndex, leaf.SlotKey(0))
	}

	t.release(fp, true)
	t.release(fs, true)
	t.release(fl, true)
	return nil
}

// coalesceInternal pulls the separator down and appends from's leftmost child and
// branches onto into (its left neighbour), then frees from.
func (t *BPlusTree) coalesceInternal(parentNum types.PageNum, myIndex int, into, from types.PageNum) error {
	kPrime, err := t.separator(parentNum, myIndex)
	if err != nil {
		return err
	}

	ff, err := t.fetch(from)
	if err != nil {
		return err
	}
	src := ff.Page()
	moved := make([]page.Branch, 0, src.NumKeys()+1)
	moved = append(moved, page.Branch{Key: kPrime, PageNum: src.Leftmost()})
	for i := 0; i < src.NumKeys(); i++ {
		moved = append(moved, src.Branch(i))
	}

	if err := t.modify(into, func(p *page.Page) {
		for _, b := range moved {
			p.InsertBranch(p.NumKeys(), b)
		}
	}); err != nil {
		t.release(ff, false)
		return err
	}
	if err := t.bufferPool.FreePage(ff); err != nil {
		return err
	}

	for _, b := range moved {
		if err := t.setParent(b.PageNum, into); err != nil {
			return err
		}
	}
	return t.deleteEntry(parentNum, kPrime)
}

// redistributeInternal rotates one branch from the sibling through the parent
func (t *BPlusTree) redistributeInternal(parentNum types.PageNum, myIndex int, sibNum, nodeNum types.PageNum) error {
	fn, err := t.fetch(nodeNum)
	if err != nil {
		return err
	}
	fs, err := t.fetch(sibNum)
	if err != nil {
		t.release(fn, false)
		return err
	}
	fp, err := t.fetch(parentNum)
	if err != nil {
		t.release(fs, false)
		t.release(fn, false)
		return err
	}
	node, sib, parent := fn.Page(), fs.Page(), fp.Page()

	var adopted types.PageNum
	if myIndex == -1 {
		adopted = sib.Leftmost()
		node.InsertBranch(node.NumKeys(), page.Branch{Key: parent.BranchKey(0), PageNum: adopted})
		parent.SetBranchKey(0, sib.BranchKey(0))
		sib.SetLeftmost(sib.Branch(0).PageNum)
		sib.RemoveBranch(0)
	} else {
		last := sib.NumKeys() - 1
		node.InsertBranch(0, page.Branch{Key: parent.BranchKey(myIndex), PageNum: node.Leftmost()})
		adopted = sib.Branch(last).PageNum
		node.SetLeftmost(adopted)
		parent.SetBranchKey(myIndex, sib.BranchKey(last))
		sib.RemoveBranch(last)
	}

	t.release(fp, true)
	t.release(fs, true)
	t.release(fn, true)
	return t.setParent(adopted, nodeNum)
}
