package mabain

// mutateEdge rewrites the 24-byte edge record at edgeOff under the
// crash-safety exception record and the edge's own seqlock version tag.
// fn must not touch the version field; it receives the edge's raw bytes
// and writes the new content in place.
func mutateEdge(h *header, space *rollableFile, edgeOff uint64, fn func(b []byte)) error {
	b, err := space.slice(edgeOff, edgeSize)
	if err != nil {
		return err
	}

	var backup [edgeSize]byte
	copy(backup[:], b)

	if err := h.beginException(exceptionEdge, spaceIndex, edgeOff, backup[:]); err != nil {
		return err
	}

	bumpEdgeVersion(b, 0) // -> odd: readers of this edge must retry
	fn(b)
	bumpEdgeVersion(b, 0) // -> even: safe to read again

	h.endException()

	return nil
}

// mutateNodeMeta rewrites a node's 24-byte fixed header (ctrl, fanout,
// dataOffset) under the same protocol as mutateEdge, using the node's own
// version tag. fn must not touch the version field.
func mutateNodeMeta(h *header, space *rollableFile, nodeOff uint64, fn func(b []byte)) error {
	b, err := space.slice(nodeOff, nodeFixedSize)
	if err != nil {
		return err
	}

	var backup [nodeFixedSize]byte
	copy(backup[:], b)

	if err := h.beginException(exceptionNodeMeta, spaceIndex, nodeOff, backup[:]); err != nil {
		return err
	}

	bumpNodeVersion(b, 0)
	fn(b)
	bumpNodeVersion(b, 0)

	h.endException()

	return nil
}

// seqRead runs fn against b, retrying up to LockFreeRetryLimit times if
// versionOf(b) is odd (a writer is mid-mutation) or changes across the
// read. It is the generic shape behind reading an edge or a node's fixed
// header without blocking a concurrent writer.
func seqRead(versionOf func() uint32, fn func()) error {
	for attempt := 0; attempt < LockFreeRetryLimit; attempt++ {
		before := versionOf()
		if before&1 != 0 {
			continue
		}

		fn()

		after := versionOf()
		if after == before {
			return nil
		}
	}

	return ErrTryAgain
}
