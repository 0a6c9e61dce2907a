package mabain

import (
	"encoding/binary"
	"fmt"
)

// header is a thin typed view over the first HeaderSize bytes of the index
// address space. All fields beyond the CRC-covered prefix are read and
// written with atomic loads/stores since readers touch them without
// holding any lock.
type header struct {
	b []byte
}

func newHeader(indexSpace []byte) *header {
	return &header{b: indexSpace[:HeaderSize]}
}

func (h *header) initNew(indexBlockSize, dataBlockSize int) {
	copy(h.b[hdrOffMagic:], magic[:])
	binary.LittleEndian.PutUint64(h.b[hdrOffVersion:], formatVersion)
	binary.LittleEndian.PutUint64(h.b[hdrOffHeaderSize:], HeaderSize)
	binary.LittleEndian.PutUint64(h.b[hdrOffIndexBlockSize:], uint64(indexBlockSize))
	binary.LittleEndian.PutUint64(h.b[hdrOffDataBlockSize:], uint64(dataBlockSize))

	atomicStoreUint64(h.b, hdrOffIndexHighwater, HeaderSize+uint64(rootTableSize))
	atomicStoreUint64(h.b, hdrOffDataHighwater, dataSpaceReservedSize)
	atomicStoreUint64(h.b, hdrOffLiveKeyCount, 0)
	atomicStoreUint64(h.b, hdrOffGeneration, 0)
	atomicStoreUint64(h.b, hdrOffExceptionTag, uint64(exceptionNone))
	atomicStoreUint64(h.b, hdrOffShrinkEpoch, 0)

	// Free-list heads must be cleared explicitly: initNew runs not only
	// over a fresh, zero-filled file (where this is a no-op) but also over
	// an existing header via RemoveAll and Shrink's reinitInPlace, where
	// these slots still point at the pre-reinit free lists. Leaving them
	// set would make a subsequent Add pop a stale, now-out-of-range offset
	// instead of allocating fresh space above the reset highwater marks.
	for class := range nodeCapacityClasses {
		atomicStoreUint64(h.b, freeListHeadOffset(hdrOffNodeFreeHeads, class), 0)
	}

	for class := range dataCapacityClasses {
		atomicStoreUint64(h.b, freeListHeadOffset(hdrOffDataFreeHeads, class), 0)
	}

	binary.LittleEndian.PutUint64(h.b[hdrOffCRC:], uint64(headerCRC32C(h.b)))
}

func (h *header) validate() error {
	if string(h.b[hdrOffMagic:hdrOffMagic+8]) != string(magic[:]) {
		return fmt.Errorf("%w: bad magic", ErrIncompatible)
	}

	version := binary.LittleEndian.Uint64(h.b[hdrOffVersion:])
	if version != formatVersion {
		return fmt.Errorf("%w: format version %d, want %d", ErrIncompatible, version, formatVersion)
	}

	want := binary.LittleEndian.Uint64(h.b[hdrOffCRC:])
	if uint64(headerCRC32C(h.b)) != want {
		return fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}

	return nil
}

func (h *header) indexBlockSize() int {
	return int(binary.LittleEndian.Uint64(h.b[hdrOffIndexBlockSize:]))
}

func (h *header) dataBlockSize() int {
	return int(binary.LittleEndian.Uint64(h.b[hdrOffDataBlockSize:]))
}

func (h *header) indexHighwater() uint64 { return atomicLoadUint64(h.b, hdrOffIndexHighwater) }
func (h *header) dataHighwater() uint64  { return atomicLoadUint64(h.b, hdrOffDataHighwater) }

// bumpIndexHighwater and bumpDataHighwater reserve n bytes at the
// highwater mark. A range that would straddle a block boundary starts at
// the next block instead, since rollableFile.slice never spans two blocks.
func (h *header) bumpIndexHighwater(n uint64) uint64 {
	if bs := uint64(h.indexBlockSize()); bs > 0 {
		if cur := h.indexHighwater(); cur/bs != (cur+n-1)/bs {
			atomicStoreUint64(h.b, hdrOffIndexHighwater, (cur/bs+1)*bs)
		}
	}

	return atomicAddUint64(h.b, hdrOffIndexHighwater, n) - n
}

func (h *header) bumpDataHighwater(n uint64) uint64 {
	if bs := uint64(h.dataBlockSize()); bs > 0 {
		if cur := h.dataHighwater(); cur/bs != (cur+n-1)/bs {
			atomicStoreUint64(h.b, hdrOffDataHighwater, (cur/bs+1)*bs)
		}
	}

	return atomicAddUint64(h.b, hdrOffDataHighwater, n) - n
}

func (h *header) liveKeyCount() uint64 { return atomicLoadUint64(h.b, hdrOffLiveKeyCount) }

// addLiveKeyCount adjusts the live key counter. Go's int64->uint64
// conversion already yields the two's-complement bit pattern for negative
// deltas, so a single atomic add handles both directions.
func (h *header) addLiveKeyCount(delta int64) {
	atomicAddUint64(h.b, hdrOffLiveKeyCount, uint64(delta))
}

func (h *header) shrinkEpoch() uint64 { return atomicLoadUint64(h.b, hdrOffShrinkEpoch) }

func (h *header) bumpShrinkEpoch() { atomicAddUint64(h.b, hdrOffShrinkEpoch, 1) }

func (h *header) pfxCacheEnabled() bool { return atomicLoadUint64(h.b, hdrOffPfxCacheOn) != 0 }

func (h *header) setPfxCacheEnabled(v bool) {
	atomicStoreUint64(h.b, hdrOffPfxCacheOn, boolToU64(v))
}

func (h *header) hashIndexEnabled() bool { return atomicLoadUint64(h.b, hdrOffHashIndexOn) != 0 }

func (h *header) setHashIndexEnabled(v bool) {
	atomicStoreUint64(h.b, hdrOffHashIndexOn, boolToU64(v))
}

func boolToU64(v bool) uint64 {
	if v {
		return 1
	}

	return 0
}

// Header-level generation counter: a coarse seqlock that Stats() reads,
// separate from the per-edge protocol used for trie traversal. No
// mutation path calls beginHeaderWrite/endHeaderWrite, so the counter
// stays at the value initNew stored.
func (h *header) beginHeaderWrite() {
	atomicAddUint64(h.b, hdrOffGeneration, 1)
}

func (h *header) endHeaderWrite() {
	atomicAddUint64(h.b, hdrOffGeneration, 1)
}

func (h *header) readGeneration() uint64 {
	return atomicLoadUint64(h.b, hdrOffGeneration)
}

// --- exception record (spec.md §4.6) ---

type exceptionRecord struct {
	tag        exceptionTag
	space      addrSpace
	offset     uint64
	scratchLen int
	scratch    [exceptionScratchSize]byte
}

func (h *header) readException() exceptionRecord {
	var rec exceptionRecord

	rec.tag = exceptionTag(atomicLoadUint64(h.b, hdrOffExceptionTag))
	rec.space = addrSpace(atomicLoadUint64(h.b, hdrOffExceptionSpace))
	rec.offset = atomicLoadUint64(h.b, hdrOffExceptionOff)
	rec.scratchLen = int(atomicLoadUint64(h.b, hdrOffExceptionLen))
	copy(rec.scratch[:], h.b[hdrOffExceptionBuf:hdrOffExceptionBuf+exceptionScratchSize])

	return rec
}

// beginException journals an in-flight structural mutation before it
// touches any shared state, so a crash mid-mutation can be undone by the
// next writer that opens the store. scratch holds whatever backup bytes
// are needed to reverse the operation (e.g. the edge's prior contents).
func (h *header) beginException(tag exceptionTag, space addrSpace, offset uint64, scratch []byte) error {
	if len(scratch) > exceptionScratchSize {
		return fmt.Errorf("%w: exception scratch too large", ErrInvalidArg)
	}

	var buf [exceptionScratchSize]byte
	copy(buf[:], scratch)

	atomicStoreUint64(h.b, hdrOffExceptionOff, offset)
	atomicStoreUint64(h.b, hdrOffExceptionSpace, uint64(space))
	atomicStoreUint64(h.b, hdrOffExceptionLen, uint64(len(scratch)))
	copy(h.b[hdrOffExceptionBuf:hdrOffExceptionBuf+exceptionScratchSize], buf[:])
	atomicStoreUint64(h.b, hdrOffExceptionTag, uint64(tag))

	return nil
}

// endException clears the journal once the mutation it guarded has been
// fully applied and is safe from a half-written state.
func (h *header) endException() {
	atomicStoreUint64(h.b, hdrOffExceptionTag, uint64(exceptionNone))
}
