package mabain

// Free lists recycle nodes released when a node grows into a larger
// capacity class and data buffers released by Remove and by value
// overwrites (RemoveAll and Shrink clear them), grouped by size class so a later
// allocation of the same class can reuse the space without a highwater
// bump (spec.md §4.2). Each free list is a singly-linked stack whose head
// offset lives in the header and whose links are stored in the first 8
// bytes of the freed record itself — the record's prior contents don't
// matter once it's on the free list.
//
// The free list is only ever touched by the single active Writer, so no
// CAS is needed; the atomic accessors exist only so a concurrent reader
// that happens to dereference a stale pointer mid-update sees a
// consistent 8-byte word rather than a torn one.

const freeListLinkOffset = 0

func freeListHeadOffset(base int, class int) int {
	return base + class*8
}

// pushFree links offset onto the head of the free list for class, whose
// head pointer lives at headBase (one of hdrOffNodeFreeHeads or
// hdrOffDataFreeHeads) in the header.
func pushFree(h *header, space *rollableFile, headBase, class int, offset uint64) error {
	rec, err := space.slice(offset, 8)
	if err != nil {
		return err
	}

	head := atomicLoadUint64(h.b, freeListHeadOffset(headBase, class))
	atomicStoreUint64(rec, freeListLinkOffset, head)
	atomicStoreUint64(h.b, freeListHeadOffset(headBase, class), offset+1)

	return nil
}

// popFree unlinks and returns the head of the free list for class, or ok
// == false if the list is empty.
func popFree(h *header, space *rollableFile, headBase, class int) (offset uint64, ok bool, err error) {
	headPlusOne := atomicLoadUint64(h.b, freeListHeadOffset(headBase, class))
	if headPlusOne == 0 {
		return 0, false, nil
	}

	offset = headPlusOne - 1

	rec, err := space.slice(offset, 8)
	if err != nil {
		return 0, false, err
	}

	next := atomicLoadUint64(rec, freeListLinkOffset)
	atomicStoreUint64(h.b, freeListHeadOffset(headBase, class), next)

	return offset, true, nil
}

// freeListDepth walks a free list counting entries, used by Shrink (via
// pendingIndexBytes/pendingDataBytes) to measure reclaimable space without
// mutating anything.
func freeListDepth(h *header, space *rollableFile, headBase, class int) (int, error) {
	count := 0
	headPlusOne := atomicLoadUint64(h.b, freeListHeadOffset(headBase, class))

	for headPlusOne != 0 {
		count++

		offset := headPlusOne - 1

		rec, err := space.slice(offset, 8)
		if err != nil {
			return count, err
		}

		headPlusOne = atomicLoadUint64(rec, freeListLinkOffset)

		if count > 1<<24 {
			return count, ErrCorrupt
		}
	}

	return count, nil
}
