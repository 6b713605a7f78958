package bplus

import (
	"DaemonStore/storage_engine/page"
	"DaemonStore/types"
)

// cut returns the half point of length, rounding up
func cut(length int) int {
	if length%2 == 0 {
		return length / 2
	}
	return length/2 + 1
}

// leafSplitPoint returns the first index whose running size (slot + value)
// reaches half of a leaf's capacity. Entries before it stay in the old leaf.
func leafSplitPoint(entries []page.Entry) int {
	total := 0
	for j, e := range entries {
		total += types.SlotSize + len(e.Value)
		if total >= page.InitialFree/2 {
			if j == 0 {
				return 1
			}
			return j
		}
	}
	return len(entries) - 1
}

// branchPosition returns the first branch whose key is >= key
func branchPosition(p *page.Page, key int64) int {
	lo, hi := 0, p.NumKeys()
	for lo < hi {
		mid := lo + (hi-lo)/2
		if p.BranchKey(mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// branchIndex returns the index of the branch holding exactly key, or -1
func branchIndex(p *page.Page, key int64) int {
	i := branchPosition(p, key)
	if i < p.NumKeys() && p.BranchKey(i) == key {
		return i
	}
	return -1
}

// insert inserts elem at index i in slice.
func insert[T any](slice []T, i int, elem T) []T {
	slice = append(slice, elem) // grow by 1
	copy(slice[i+1:], slice[i:])
	slice[i] = elem
	return slice
}
