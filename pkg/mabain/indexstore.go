package mabain

import "fmt"

// indexStore owns the index address space: the root table, trie nodes, and
// the length-prefixed label blobs referenced by edges whose label is
// longer than one byte.
type indexStore struct {
	h     *header
	space *rollableFile
}

func rootEdgeOffset(firstByte byte) uint64 {
	return rootTableOffset + uint64(firstByte)*edgeSize
}

func (s *indexStore) rootEdge(firstByte byte) ([]byte, uint64, error) {
	off := rootEdgeOffset(firstByte)

	b, err := s.space.slice(off, edgeSize)

	return b, off, err
}

// allocNode reserves space for a node with capacity for at least
// wantFanout edges, preferring a recycled block from the free list over
// growing the highwater mark.
func (s *indexStore) allocNode(wantFanout int) (offset uint64, class int, err error) {
	class, err = nodeClassForFanout(wantFanout)
	if err != nil {
		return 0, 0, err
	}

	if off, ok, err := popFree(s.h, s.space, hdrOffNodeFreeHeads, class); err != nil {
		return 0, 0, err
	} else if ok {
		if err := s.space.reserve(off, nodeSizeForClass(class)); err != nil {
			return 0, 0, err
		}

		return off, class, nil
	}

	size := nodeSizeForClass(class)
	off := s.h.bumpIndexHighwater(uint64(size))

	if err := s.space.reserve(off, size); err != nil {
		return 0, 0, err
	}

	return off, class, nil
}

func (s *indexStore) freeNode(offset uint64, class int) error {
	return pushFree(s.h, s.space, hdrOffNodeFreeHeads, class, offset)
}

func (s *indexStore) node(offset uint64, class int) ([]byte, error) {
	return s.space.slice(offset, nodeSizeForClass(class))
}

// newNode allocates a node not yet reachable from any edge, zeroes it
// (clearing whatever a recycled free-list entry previously held), and
// writes its fixed header. The caller populates the labels/edges arrays
// directly on the returned slice before publishing the node's offset
// through a protected edge write.
func (s *indexStore) newNode(fanout int, match bool, dataOffset uint64) (offset uint64, b []byte, err error) {
	offset, class, err := s.allocNode(fanout)
	if err != nil {
		return 0, nil, err
	}

	b, err = s.node(offset, class)
	if err != nil {
		return 0, nil, err
	}

	for i := range b {
		b[i] = 0
	}

	writeNodeHeader(b, 0, match, class, fanout, dataOffset)

	return offset, b, nil
}

// putEdgeSlot writes a complete edge record (content and a fresh even
// version) into a node that is not yet reachable by any reader. Used while
// building a node's edge array before the node itself is published.
func (s *indexStore) putEdgeSlot(nodeBytes []byte, capClass, slot int, label byte, flags uint32, mode int, inline byte, ptr uint32, childPtr uint64) {
	labelsOff := nodeFixedSize + slot
	nodeBytes[labelsOff] = label

	edgeOff := int(nodeEdgesOffset(0, capClass)) + slot*edgeSize
	writeEdge(nodeBytes, edgeOff, flags, mode, inline, ptr, childPtr)
}

// allocLabelBlob bump-allocates a length-prefixed label blob for an edge
// whose label is longer than one byte. Label blobs are not individually
// freed: a removed edge's blob becomes garbage reclaimed only by Shrink's
// compaction pass, which rewrites the trie densely. This trades a small
// amount of unreclaimed space between Shrink runs for not needing a third
// family of size-classed free lists purely for short byte strings.
func (s *indexStore) allocLabelBlob(label []byte) (uint64, error) {
	if len(label) > MaxKeyLength {
		return 0, fmt.Errorf("%w: label length %d exceeds MaxKeyLength", ErrInvalidArg, len(label))
	}

	size := align8(2 + len(label))
	off := s.h.bumpIndexHighwater(uint64(size))

	if err := s.space.reserve(off, size); err != nil {
		return 0, err
	}

	b, err := s.space.slice(off, size)
	if err != nil {
		return 0, err
	}

	b[0] = byte(len(label))
	b[1] = byte(len(label) >> 8)
	copy(b[2:], label)

	return off, nil
}

func (s *indexStore) readLabelBlob(offset uint64) ([]byte, error) {
	prefix, err := s.space.slice(offset, 2)
	if err != nil {
		return nil, err
	}

	n := int(prefix[0]) | int(prefix[1])<<8

	b, err := s.space.slice(offset, 2+n)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, b[2:])

	return out, nil
}

func align8(n int) int {
	return (n + 7) &^ 7
}
