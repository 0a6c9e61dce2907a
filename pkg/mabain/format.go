package mabain

import (
	"encoding/binary"
	"hash/crc32"
)

// On-disk format version. Bump this whenever a change would make an
// existing store unreadable, never for additive fields covered by the
// header's reserved padding.
const formatVersion = 1

var magic = [8]byte{'M', 'A', 'B', 'A', 'I', 'N', 'v', '1'}

// Header field offsets within the index file's first HeaderSize bytes. The
// reference implementation packs pointers into 5/6-byte fields to save
// space; this port widens every shared field to a naturally aligned 4 or 8
// byte word instead, because atomic load/store (needed for the seqlock
// protocol below) requires alignment, and the space saved by narrower
// packed fields is not worth reimplementing unaligned atomics for.
const (
	hdrOffMagic          = 0
	hdrOffVersion        = 8
	hdrOffHeaderSize     = 16
	hdrOffIndexBlockSize = 24
	hdrOffDataBlockSize  = 32
	hdrOffCRCCovered     = 40 // exclusive end of the CRC-covered region
	hdrOffIndexHighwater = 40
	hdrOffDataHighwater  = 48
	hdrOffLiveKeyCount   = 56
	hdrOffGeneration     = 64
	hdrOffExceptionTag   = 72
	hdrOffExceptionSpace = 80
	hdrOffExceptionOff   = 88
	hdrOffExceptionLen   = 96
	hdrOffExceptionBuf   = 104 // 64 bytes, [104, 168)
	hdrOffPfxCacheOn     = 168
	hdrOffHashIndexOn    = 176
	hdrOffShrinkEpoch    = 184
	hdrOffCRC            = 192

	// hdrOffNodeFreeHeads holds one uint64 free-list head per node
	// capacity class (len(nodeCapacityClasses) slots of 8 bytes each).
	hdrOffNodeFreeHeads = 200

	// hdrOffDataFreeHeads holds one uint64 free-list head per data
	// buffer capacity class (len(dataCapacityClasses) slots of 8 bytes
	// each), immediately after the node free-list heads.
	hdrOffDataFreeHeads = hdrOffNodeFreeHeads + 4*8

	// HeaderSize is the fixed size of the header region at the start of
	// the index file. The root table begins immediately after it.
	HeaderSize = 512
)

const exceptionScratchSize = 64

// Exception tags for the writer's crash-safety journal (spec.md §4.6). NONE
// means no recovery is needed; every other value names the single
// in-flight structural mutation, which the next writer to open the store
// undoes by copying the journaled backup bytes back. Recovery never
// redoes a mutation.
type exceptionTag uint64

const (
	exceptionNone exceptionTag = iota

	// exceptionEdge journals a 24-byte edge record before it is
	// rewritten; recovery restores those bytes verbatim.
	exceptionEdge

	// exceptionNodeMeta journals a node's 24-byte fixed header (ctrl,
	// fanout, dataOffset, version) before a fan-out or own-value change;
	// recovery restores those bytes verbatim.
	exceptionNodeMeta
)

// Address-space discriminator for the single exception record, which may
// refer to either mapped region depending on what the in-flight mutation
// touched.
type addrSpace uint64

const (
	spaceIndex addrSpace = iota
	spaceData
)

// Edge record layout: 24 bytes, entirely 4/8-byte aligned.
//
//	[0:4)   ctrl    bit0 LEAF, bit1 MATCH, bits[2:4) labelMode, bits[8:16) inline label byte
//	[4:8)   labelPtr  index-space offset of a length-prefixed label blob (labelMode == labelModePointer)
//	[8:16)  childPtr  node offset (index space) or data offset (data space), chosen by LEAF
//	[16:24) version   per-edge version tag; odd while a writer is mutating this edge
const edgeSize = 24

const (
	edgeOffCtrl     = 0
	edgeOffLabelPtr = 4
	edgeOffChildPtr = 8
	edgeOffVersion  = 16
)

const (
	edgeFlagLeaf  = 1 << 0
	edgeFlagMatch = 1 << 1

	edgeLabelModeShift = 2
	edgeLabelModeMask  = 0x3

	edgeInlineByteShift = 8
)

const (
	labelModeEmpty = iota
	labelModeInline
	labelModePointer
)

func edgeIsEmpty(b []byte, off int) bool {
	ctrl := binary.LittleEndian.Uint32(b[off+edgeOffCtrl:])

	return (ctrl>>edgeLabelModeShift)&edgeLabelModeMask == labelModeEmpty
}

func edgeLabelMode(b []byte, off int) int {
	ctrl := binary.LittleEndian.Uint32(b[off+edgeOffCtrl:])

	return int((ctrl >> edgeLabelModeShift) & edgeLabelModeMask)
}

func edgeInlineByte(b []byte, off int) byte {
	ctrl := binary.LittleEndian.Uint32(b[off+edgeOffCtrl:])

	return byte(ctrl >> edgeInlineByteShift)
}

func edgeFlags(b []byte, off int) uint32 {
	ctrl := binary.LittleEndian.Uint32(b[off+edgeOffCtrl:])

	return ctrl & (edgeFlagLeaf | edgeFlagMatch)
}

func edgeIsLeaf(b []byte, off int) bool {
	return edgeFlags(b, off)&edgeFlagLeaf != 0
}

func edgeHasMatch(b []byte, off int) bool {
	return edgeFlags(b, off)&edgeFlagMatch != 0
}

func edgeLabelPtr(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off+edgeOffLabelPtr:])
}

func edgeChildPtr(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off+edgeOffChildPtr:])
}

func edgeVersion(b []byte, off int) uint32 {
	return atomicLoadUint32(b, off+edgeOffVersion)
}

// writeEdge encodes a full edge record. Callers performing a structural
// mutation must bump the version to odd before calling this and back to
// even after, per the seqlock protocol in trie_helpers.go.
func writeEdge(b []byte, off int, flags uint32, labelMode int, inlineByte byte, labelPtr uint32, childPtr uint64) {
	ctrl := flags | (uint32(labelMode)&edgeLabelModeMask)<<edgeLabelModeShift | uint32(inlineByte)<<edgeInlineByteShift
	binary.LittleEndian.PutUint32(b[off+edgeOffCtrl:], ctrl)
	binary.LittleEndian.PutUint32(b[off+edgeOffLabelPtr:], labelPtr)
	binary.LittleEndian.PutUint64(b[off+edgeOffChildPtr:], childPtr)
}

// writeEdgeChildPtr rewrites only an edge record's child pointer.
func writeEdgeChildPtr(b []byte, off int, childPtr uint64) {
	binary.LittleEndian.PutUint64(b[off+edgeOffChildPtr:], childPtr)
}

// clearEdge zeroes an edge record's content fields but preserves its
// version tag, which the caller bumps separately as part of the seqlock
// protocol.
func clearEdge(b []byte, off int) {
	for i := 0; i < edgeOffVersion; i++ {
		b[off+i] = 0
	}
}

func bumpEdgeVersion(b []byte, off int) uint32 {
	return atomicAddUint32(b, off+edgeOffVersion, 1)
}

// Node record layout: 24-byte fixed prefix, then a label byte array of
// capacity bytes in slot (insertion) order, then capacity edge records.
//
//	[0:4)   ctrl        bit0 MATCH, bits[8:12) capacity class index
//	[4:8)   fanout      number of populated edge slots
//	[8:16)  dataOffset  data-space offset of this node's own value, if MATCH
//	[16:24) version     node-level seqlock tag; odd while a writer is
//	                    changing fanout, the label array, or the MATCH
//	                    bit/dataOffset pair. Individual edge content
//	                    changes are instead covered by that edge's own
//	                    version tag (edgeOffVersion), so a reader walking
//	                    a sibling edge in the same node isn't forced to
//	                    retry by an unrelated edge's update.
const (
	nodeOffCtrl       = 0
	nodeOffFanout     = 4
	nodeOffDataOffset = 8
	nodeOffVersion    = 16
	nodeFixedSize     = 24
)

func nodeVersion(b []byte, off int) uint32 {
	return atomicLoadUint32(b, off+nodeOffVersion)
}

func bumpNodeVersion(b []byte, off int) uint32 {
	return atomicAddUint32(b, off+nodeOffVersion, 1)
}

const (
	nodeFlagMatch       = 1 << 0
	nodeCapClassShift    = 8
	nodeCapClassMask     = 0xf
)

func nodeCapacityForClass(class int) int {
	return nodeCapacityClasses[class]
}

func nodeSizeForClass(class int) int {
	capacity := nodeCapacityClasses[class]

	return nodeFixedSize + capacity + capacity*edgeSize
}

func nodeClassForFanout(fanout int) (int, error) {
	for i, capacity := range nodeCapacityClasses {
		if fanout <= capacity {
			return i, nil
		}
	}

	return 0, ErrInvalidArg
}

func nodeHasMatch(b []byte, off int) bool {
	ctrl := binary.LittleEndian.Uint32(b[off+nodeOffCtrl:])

	return ctrl&nodeFlagMatch != 0
}

func nodeCapClass(b []byte, off int) int {
	ctrl := binary.LittleEndian.Uint32(b[off+nodeOffCtrl:])

	return int((ctrl >> nodeCapClassShift) & nodeCapClassMask)
}

func nodeFanout(b []byte, off int) int {
	return int(binary.LittleEndian.Uint32(b[off+nodeOffFanout:]))
}

func nodeDataOffset(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off+nodeOffDataOffset:])
}

func nodeLabelsOffset(off uint64) uint64 {
	return off + nodeFixedSize
}

func nodeEdgesOffset(off uint64, capClass int) uint64 {
	return off + nodeFixedSize + uint64(nodeCapacityForClass(capClass))
}

func writeNodeHeader(b []byte, off int, match bool, capClass, fanout int, dataOffset uint64) {
	ctrl := uint32(capClass&nodeCapClassMask) << nodeCapClassShift
	if match {
		ctrl |= nodeFlagMatch
	}

	binary.LittleEndian.PutUint32(b[off+nodeOffCtrl:], ctrl)
	binary.LittleEndian.PutUint32(b[off+nodeOffFanout:], uint32(fanout))
	binary.LittleEndian.PutUint64(b[off+nodeOffDataOffset:], dataOffset)
}

// Data buffer layout: a 16-byte header followed by up to its size class's
// capacity of payload bytes.
//
//	[0:4)   length     payload bytes used in this buffer
//	[4:8)   reserved
//	[8:16)  next       data-space offset of the successor buffer in an
//	                   append chain, or 0 if this is the last link
const (
	dataOffLength = 0
	dataOffNext   = 8
	dataFixedSize = 16
)

func dataBufferSizeForClass(class int) int {
	return dataFixedSize + dataCapacityClasses[class]
}

func dataClassForPayload(n int) (int, error) {
	for i, capacity := range dataCapacityClasses {
		if n <= capacity {
			return i, nil
		}
	}

	return 0, ErrInvalidArg
}

func dataLength(b []byte, off int) int {
	return int(binary.LittleEndian.Uint32(b[off+dataOffLength:]))
}

func dataNext(b []byte, off int) uint64 {
	return atomicLoadUint64(b, off+dataOffNext)
}

func dataPayloadOffset(off uint64) uint64 {
	return off + dataFixedSize
}

func writeDataHeader(b []byte, off int, length int, next uint64) {
	binary.LittleEndian.PutUint32(b[off+dataOffLength:], uint32(length))
	atomicStoreUint64(b, off+dataOffNext, next)
}

// The root table is a fixed 256-entry edge array, one slot per possible
// first key byte, placed immediately after the header. It never moves and
// is never freed, so it isn't allocated through the free list like every
// other node.
const (
	rootTableOffset        = HeaderSize
	rootTableEntries       = 256
	rootTableSize          = rootTableEntries * edgeSize
	dataSpaceReservedSize  = 16 // offset 0 is never a valid buffer; next = 0 means "no chain"
)

// headerCRC32C computes the Castagnoli CRC32 of the header's
// format-defining prefix (magic through dataBlockSize). It deliberately
// excludes every field that changes during normal operation (highwater
// marks, counters, the exception record, generation) so that a live store
// never needs to recompute it; only Open and store creation touch it.
func headerCRC32C(b []byte) uint32 {
	return crc32.Checksum(b[hdrOffMagic:hdrOffCRCCovered], crc32.MakeTable(crc32.Castagnoli))
}
