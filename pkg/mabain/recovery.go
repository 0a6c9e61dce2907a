package mabain

// recoverFromException inspects the header's exception record and, if a
// writer crashed mid-mutation, restores the journaled edge record or node
// header to its pre-mutation bytes. Every edge or node-header rewrite in
// trie_write.go writes the record's prior 24 bytes into the exception
// record before touching it (see mutateEdge and mutateNodeMeta in
// trie_helpers.go), so recovery only ever undoes, never redoes, that one
// in-flight record write. RemoveAll and Shrink's reinit are not journaled.
//
// Only a Writer runs recovery, and only one Writer may hold the process
// lock at a time, so this is always called with exclusive access to the
// index space.
func recoverFromException(h *header, idx *indexStore) error {
	rec := h.readException()
	if rec.tag == exceptionNone {
		return nil
	}

	if rec.space != spaceIndex {
		// No mutation in this package's current design journals the
		// data space directly; data buffers are only ever linked in
		// after being fully written, so only defensively clear here.
		h.endException()

		return nil
	}

	b, err := idx.space.slice(rec.offset, rec.scratchLen)
	if err != nil {
		return err
	}

	copy(b, rec.scratch[:rec.scratchLen])

	h.endException()

	return nil
}
