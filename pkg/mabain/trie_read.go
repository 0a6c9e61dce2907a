package mabain

import "fmt"

// trieReader performs lock-free lookups against the trie. Any number of
// these can run concurrently, in-process or across processes, against a
// store a Writer is actively mutating: every read retries against the
// version tags bumped by trie_write.go rather than taking a lock, giving
// up with ErrTryAgain after LockFreeRetryLimit attempts.
type trieReader struct {
	idx  *indexStore
	data *dataStore
}

type edgeSnapshot struct {
	empty    bool
	flags    uint32
	mode     int
	inline   byte
	labelPtr uint32
	childPtr uint64
}

func (r *trieReader) readEdge(edgeOff uint64) (edgeSnapshot, error) {
	b, err := r.idx.space.slice(edgeOff, edgeSize)
	if err != nil {
		return edgeSnapshot{}, err
	}

	var snap edgeSnapshot

	err = seqRead(func() uint32 { return edgeVersion(b, 0) }, func() {
		snap = edgeSnapshot{
			empty:    edgeIsEmpty(b, 0),
			flags:    edgeFlags(b, 0),
			mode:     edgeLabelMode(b, 0),
			inline:   edgeInlineByte(b, 0),
			labelPtr: edgeLabelPtr(b, 0),
			childPtr: edgeChildPtr(b, 0),
		}
	})

	return snap, err
}

type nodeSnapshot struct {
	match      bool
	dataOffset uint64
	class      int
	fanout     int
}

func (r *trieReader) readNodeMeta(nodeOff uint64) (nodeSnapshot, error) {
	b, err := r.idx.space.slice(nodeOff, nodeFixedSize)
	if err != nil {
		return nodeSnapshot{}, err
	}

	var snap nodeSnapshot

	err = seqRead(func() uint32 { return nodeVersion(b, 0) }, func() {
		snap = nodeSnapshot{
			match:      nodeHasMatch(b, 0),
			dataOffset: nodeDataOffset(b, 0),
			class:      nodeCapClass(b, 0),
			fanout:     nodeFanout(b, 0),
		}
	})

	return snap, err
}

// findChildEdge locates, within node nodeOff (already read as snap), the
// edge slot for first byte b, retrying the label-array scan if the node's
// version changes mid-scan (a concurrent insert can grow fanout).
func (r *trieReader) findChildEdge(nodeOff uint64, snap nodeSnapshot, b byte) (edgeOff uint64, found bool, err error) {
	full, err := r.idx.node(nodeOff, snap.class)
	if err != nil {
		return 0, false, err
	}

	err = seqRead(func() uint32 { return nodeVersion(full, 0) }, func() {
		for i := 0; i < snap.fanout; i++ {
			if full[nodeFixedSize+i] == b {
				edgeOff = nodeOff + nodeEdgesOffset(0, snap.class) + uint64(i*edgeSize)
				found = true

				return
			}
		}
	})

	return edgeOff, found, err
}

func (r *trieReader) decodeLabel(snap edgeSnapshot) ([]byte, error) {
	switch snap.mode {
	case labelModeInline:
		return []byte{snap.inline}, nil
	case labelModePointer:
		return r.idx.readLabelBlob(uint64(snap.labelPtr))
	default:
		return nil, fmt.Errorf("%w: empty edge has no label", ErrCorrupt)
	}
}

// Find returns the value stored for key, or ErrNotExist.
func (r *trieReader) Find(key []byte) ([]byte, error) {
	if len(key) == 0 || len(key) > MaxKeyLength {
		return nil, fmt.Errorf("%w: key length %d", ErrInvalidArg, len(key))
	}

	return r.findFromEdge(rootEdgeOffset(key[0]), key, 0)
}

// findFromNode resumes a lookup at nodeOffset, already known (or assumed,
// by a prefixCache hit) to be where a traversal of key's first depth
// bytes leads. Used by DB.Find's prefix-cache fast path; every byte past
// depth is still compared normally, and prefixCache's doc comment covers
// what a stale guess can return.
func (r *trieReader) findFromNode(nodeOffset uint64, key []byte, depth int) ([]byte, error) {
	if depth > len(key) {
		return nil, ErrNotExist
	}

	nmeta, err := r.readNodeMeta(nodeOffset)
	if err != nil {
		return nil, err
	}

	if depth == len(key) {
		if !nmeta.match {
			return nil, ErrNotExist
		}

		return r.data.read(nmeta.dataOffset)
	}

	nextEdgeOff, found, err := r.findChildEdge(nodeOffset, nmeta, key[depth])
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, ErrNotExist
	}

	return r.findFromEdge(nextEdgeOff, key, depth)
}

// locatePrefixNode walks from the root only far enough to find the node
// boundary exactly pfxCachePrefixLen bytes in, the (nodeOffset, depth)
// prefixCache.Store remembers for key. ok is false if key is shorter than
// pfxCachePrefixLen, ends in a leaf before that point, or has no node
// boundary at exactly that depth.
func (r *trieReader) locatePrefixNode(key []byte) (nodeOffset uint64, depth int, ok bool, err error) {
	if len(key) < pfxCachePrefixLen {
		return 0, 0, false, nil
	}

	edgeOff := rootEdgeOffset(key[0])
	consumed := 0

	for steps := 0; steps < FindTraversalLimit; steps++ {
		snap, err := r.readEdge(edgeOff)
		if err != nil {
			return 0, 0, false, err
		}

		if snap.empty {
			return 0, 0, false, nil
		}

		label, err := r.decodeLabel(snap)
		if err != nil {
			return 0, 0, false, err
		}

		remaining := key[consumed:]
		cp := commonPrefixLen(label, remaining)

		if cp != len(label) || snap.flags&edgeFlagLeaf != 0 {
			return 0, 0, false, nil
		}

		consumed += cp

		if consumed == pfxCachePrefixLen {
			return snap.childPtr, consumed, true, nil
		}

		if consumed > pfxCachePrefixLen {
			// The cache key holds only pfxCachePrefixLen bytes, so a lookup
			// resuming at this deeper node would skip comparing the rest of
			// this edge's label.
			return 0, 0, false, nil
		}

		nmeta, err := r.readNodeMeta(snap.childPtr)
		if err != nil {
			return 0, 0, false, err
		}

		nextEdgeOff, found, err := r.findChildEdge(snap.childPtr, nmeta, key[consumed])
		if err != nil {
			return 0, 0, false, err
		}

		if !found {
			return 0, 0, false, nil
		}

		edgeOff = nextEdgeOff
	}

	return 0, 0, false, fmt.Errorf("%w: traversal limit exceeded", ErrCorrupt)
}

func (r *trieReader) findFromEdge(edgeOff uint64, key []byte, consumed int) ([]byte, error) {
	steps := 0

	for {
		steps++
		if steps > FindTraversalLimit {
			return nil, fmt.Errorf("%w: traversal limit exceeded", ErrCorrupt)
		}

		snap, err := r.readEdge(edgeOff)
		if err != nil {
			return nil, err
		}

		if snap.empty {
			return nil, ErrNotExist
		}

		label, err := r.decodeLabel(snap)
		if err != nil {
			return nil, err
		}

		remaining := key[consumed:]
		cp := commonPrefixLen(label, remaining)

		if cp != len(label) {
			return nil, ErrNotExist
		}

		isLeaf := snap.flags&edgeFlagLeaf != 0

		if cp == len(remaining) {
			if isLeaf {
				return r.data.read(snap.childPtr)
			}

			nmeta, err := r.readNodeMeta(snap.childPtr)
			if err != nil {
				return nil, err
			}

			if !nmeta.match {
				return nil, ErrNotExist
			}

			return r.data.read(nmeta.dataOffset)
		}

		if isLeaf {
			return nil, ErrNotExist
		}

		consumed += cp

		nmeta, err := r.readNodeMeta(snap.childPtr)
		if err != nil {
			return nil, err
		}

		nextEdgeOff, found, err := r.findChildEdge(snap.childPtr, nmeta, key[consumed])
		if err != nil {
			return nil, err
		}

		if !found {
			return nil, ErrNotExist
		}

		edgeOff = nextEdgeOff
	}
}

// FindLongestPrefix returns the value and matched length of the longest
// prefix of key that is itself a stored key, or ErrNotExist if no prefix
// of key (including key itself) is stored.
func (r *trieReader) FindLongestPrefix(key []byte) (value []byte, matchedLen int, err error) {
	if len(key) == 0 || len(key) > MaxKeyLength {
		return nil, 0, fmt.Errorf("%w: key length %d", ErrInvalidArg, len(key))
	}

	edgeOff := rootEdgeOffset(key[0])
	consumed := 0
	steps := 0

	var (
		bestValue []byte
		bestLen   int
		haveBest  bool
	)

	for {
		steps++
		if steps > FindTraversalLimit {
			return nil, 0, fmt.Errorf("%w: traversal limit exceeded", ErrCorrupt)
		}

		snap, err := r.readEdge(edgeOff)
		if err != nil {
			return nil, 0, err
		}

		if snap.empty {
			break
		}

		label, err := r.decodeLabel(snap)
		if err != nil {
			return nil, 0, err
		}

		remaining := key[consumed:]
		cp := commonPrefixLen(label, remaining)

		if cp != len(label) {
			break
		}

		isLeaf := snap.flags&edgeFlagLeaf != 0
		consumed += cp

		if isLeaf {
			// cp == len(label) is already guaranteed above, so this leaf's
			// key is a prefix of the query regardless of whether the query
			// has bytes left over past it.
			v, err := r.data.read(snap.childPtr)
			if err != nil {
				return nil, 0, err
			}

			bestValue, bestLen, haveBest = v, consumed, true

			break
		}

		nmeta, err := r.readNodeMeta(snap.childPtr)
		if err != nil {
			return nil, 0, err
		}

		if nmeta.match {
			v, err := r.data.read(nmeta.dataOffset)
			if err != nil {
				return nil, 0, err
			}

			bestValue, bestLen, haveBest = v, consumed, true
		}

		if consumed == len(key) {
			break
		}

		nextEdgeOff, found, err := r.findChildEdge(snap.childPtr, nmeta, key[consumed])
		if err != nil {
			return nil, 0, err
		}

		if !found {
			break
		}

		edgeOff = nextEdgeOff
	}

	if !haveBest {
		return nil, 0, ErrNotExist
	}

	return bestValue, bestLen, nil
}
