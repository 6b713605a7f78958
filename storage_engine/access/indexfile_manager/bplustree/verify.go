package bplus

import (
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"
	"math"

	"github.com/pkg/errors"
)

// Shape walks the whole tree and checks its structure on the way:
// parent pointers, key order and bounds, leaf space accounting, equal leaf depth
// and a sibling chain that visits the leaves in key order.
func (t *BPlusTree) Shape() (TreeShape, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var shape TreeShape
	root, err := t.rootNum()
	if err != nil || root == 0 {
		return shape, err
	}
	shape.Root = root

	w := &walker{tree: t, shape: &shape, leafDepth: -1}
	if err := w.walk(root, 0, math.MinInt64, math.MaxInt64, 1); err != nil {
		return shape, err
	}
	shape.Height = w.leafDepth

	for i, leaf := range shape.Leaves {
		var next types.PageNum
		if err := t.read(leaf.PageNum, func(p *page.Page) { next = p.RightSibling() }); err != nil {
			return shape, err
		}
		want := types.PageNum(0)
		if i+1 < len(shape.Leaves) {
			want = shape.Leaves[i+1].PageNum
		}
		if next != want {
			return shape, errors.Wrapf(types.ErrCorruptPage, "leaf %d links to %d, want %d", leaf.PageNum, next, want)
		}
	}
	return shape, nil
}

// Verify checks the tree's structural invariants
func (t *BPlusTree) Verify() error {
	_, err := t.Shape()
	return err
}

type walker struct {
	tree      *BPlusTree
	shape     *TreeShape
	leafDepth int
}

// walk visits the subtree at pageNum whose keys must lie in [lo, hi)
func (w *walker) walk(pageNum, parent types.PageNum, lo, hi int64, depth int) error {
	var p page.Page
	if err := w.tree.bufferPool.ReadPage(w.tree.tableID, pageNum, &p); err != nil {
		return err
	}
	if p.ParentNum() != parent {
		return errors.Wrapf(types.ErrCorruptPage, "page %d has parent %d, want %d", pageNum, p.ParentNum(), parent)
	}

	nk := p.NumKeys()
	if p.IsLeaf() {
		if err := p.VerifyLeaf(); err != nil {
			return errors.Wrapf(err, "leaf %d", pageNum)
		}
		if w.leafDepth == -1 {
			w.leafDepth = depth
		} else if w.leafDepth != depth {
			return errors.Wrapf(types.ErrCorruptPage, "leaf %d at depth %d, others at %d", pageNum, depth, w.leafDepth)
		}
		info := LeafInfo{PageNum: pageNum, NumKeys: nk, FreeSpace: p.FreeSpace()}
		if nk > 0 {
			info.MinKey, info.MaxKey = p.SlotKey(0), p.SlotKey(nk-1)
			if info.MinKey < lo || info.MaxKey >= hi {
				return errors.Wrapf(types.ErrCorruptPage, "leaf %d keys [%d, %d] outside [%d, %d)", pageNum, info.MinKey, info.MaxKey, lo, hi)
			}
		}
		w.shape.Leaves = append(w.shape.Leaves, info)
		w.shape.Keys += nk
		return nil
	}

	if nk == 0 {
		return errors.Wrapf(types.ErrCorruptPage, "internal node %d is empty", pageNum)
	}
	w.shape.Internals++
	for i := 0; i < nk; i++ {
		k := p.BranchKey(i)
		if k < lo || k >= hi || (i > 0 && p.BranchKey(i-1) >= k) {
			return errors.Wrapf(types.ErrCorruptPage, "internal node %d branch %d key %d out of order", pageNum, i, k)
		}
	}

	if err := w.walk(p.Leftmost(), pageNum, lo, p.BranchKey(0), depth+1); err != nil {
		return err
	}
	for i := 0; i < nk; i++ {
		upper := hi
		if i+1 < nk {
			upper = p.BranchKey(i + 1)
		}
		if err := w.walk(p.Branch(i).PageNum, pageNum, p.BranchKey(i), upper, depth+1); err != nil {
			return err
		}
	}
	return nil
}
