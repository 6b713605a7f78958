package page

import "DaemonStore/types"

// Branch is one (key, child) pair of an internal node. Keys below Branch(0).Key
// live under the leftmost child.
type Branch struct {
	Key     int64
	PageNum types.PageNum
}

func branchOff(i int) int { return HeaderSize + i*types.BranchSize }

func (p *Page) Branch(i int) Branch {
	off := branchOff(i)
	return Branch{Key: int64(p.u64(off)), PageNum: p.u64(off + 8)}
}

func (p *Page) SetBranch(i int, b Branch) {
	off := branchOff(i)
	p.putU64(off, uint64(b.Key))
	p.putU64(off+8, b.PageNum)
}

func (p *Page) BranchKey(i int) int64 { return int64(p.u64(branchOff(i))) }

func (p *Page) SetBranchKey(i int, key int64) { p.putU64(branchOff(i), uint64(key)) }

// Child returns the child a search for key follows.
func (p *Page) Child(key int64) types.PageNum {
	nk := p.NumKeys()
	if nk == 0 || key < p.BranchKey(0) {
		return p.Leftmost()
	}
	i := 0
	for i < nk-1 && key >= p.BranchKey(i+1) {
		i++
	}
	return p.Branch(i).PageNum
}

// InsertBranch places b at index, shifting later entries right.
func (p *Page) InsertBranch(index int, b Branch) {
	nk := p.NumKeys()
	if index < nk {
		copy(p.Data[branchOff(index+1):branchOff(nk+1)], p.Data[branchOff(index):branchOff(nk)])
	}
	p.SetBranch(index, b)
	p.SetNumKeys(nk + 1)
}

// RemoveBranch deletes the entry at index.
func (p *Page) RemoveBranch(index int) {
	nk := p.NumKeys()
	copy(p.Data[branchOff(index):branchOff(nk-1)], p.Data[branchOff(index+1):branchOff(nk)])
	p.SetNumKeys(nk - 1)
}

// ChildIndex reports where child sits in this node: -1 for the leftmost child,
// i for Branch(i), -2 when child is not referenced.
func (p *Page) ChildIndex(child types.PageNum) int {
	if p.Leftmost() == child {
		return -1
	}
	for i := 0; i < p.NumKeys(); i++ {
		if p.Branch(i).PageNum == child {
			return i
		}
	}
	return -2
}
