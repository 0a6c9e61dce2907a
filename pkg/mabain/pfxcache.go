package mabain

// prefixCache is the shared-memory prefix cache of spec.md §4.8: a small
// direct-mapped table with one slot per bucket (a colliding Store
// overwrites the slot), in its own rollable mapped file so every process
// sharing the store maps the same memory, from a fixed-length key prefix
// to the node a full traversal would have reached after consuming that
// many bytes. A cache hit lets Find resume mid-trie instead of starting
// over at the root table for every lookup that shares a common prefix
// with one already seen.
//
// Like hashIndex, this is a pure accelerator: the cached nodeOffset is
// re-validated by continuing the normal seqlock-protected read from that
// point rather than trusted outright, so a stale entry (the node was
// freed and its space recycled since the entry was cached, the same
// accepted reclamation risk as growNode, see DESIGN.md) produces a wrong
// answer only if it is unlucky enough to alias another live node's bytes
// in a way that parses as a match for this key's remaining suffix; Find
// still compares every label byte past the cached depth, so in every
// other case a stale entry ends as a false miss (falls back to root).
type prefixCache struct {
	space       *rollableFile
	bucketCount uint64
}

// pfxCachePrefixLen is how many leading key bytes form a cache key. Short
// enough that most stores see reuse across lookups, long enough that the
// root table's 256-way fanout isn't doing all the same work the cache
// would.
const pfxCachePrefixLen = 4

// Slot layout: [0:1) a length/sentinel byte (0 = empty, stored length
// never 0 since callers only cache keys of at least pfxCachePrefixLen
// bytes), pad to keep nodeOffset 8-aligned, [8:16) nodeOffset, [16:20)
// depth (bytes consumed to reach nodeOffset), [20:24) prefix bytes
// (pfxCachePrefixLen <= 4, so they fit inline rather than needing a
// pointer indirection like trie edge labels do).
const (
	pfxSlotLenOff   = 0
	pfxSlotNodeOff  = 8
	pfxSlotDepthOff = 16
	pfxSlotPrefix   = 20
	pfxSlotSize     = 24
)

const pfxCacheHeaderSize = 64

func openPrefixCache(dir string, writable bool, capacity uint64) (*prefixCache, error) {
	if capacity == 0 {
		capacity = 4096
	}

	bucketCount := nextPow2Hash(capacity * 2)
	size := pfxCacheHeaderSize + int(bucketCount)*pfxSlotSize

	blockSize := size
	if blockSize < MinBlockSize {
		blockSize = MinBlockSize
	}

	space, err := openRollableFile(dir, "_mabain_p", blockSize, writable)
	if err != nil {
		return nil, err
	}

	if err := space.reserve(0, size); err != nil {
		return nil, err
	}

	return &prefixCache{space: space, bucketCount: bucketCount}, nil
}

func (c *prefixCache) close() error {
	return c.space.close()
}

// reset zeros every slot, used by Shrink once every nodeOffset a cached
// entry might point to has changed meaning.
func (c *prefixCache) reset() error {
	for bucket := uint64(0); bucket < c.bucketCount; bucket++ {
		slot, err := c.space.slice(c.slotOffset(bucket), pfxSlotSize)
		if err != nil {
			return err
		}

		for i := range slot {
			slot[i] = 0
		}
	}

	return nil
}

func (c *prefixCache) slotOffset(bucket uint64) uint64 {
	return pfxCacheHeaderSize + bucket*pfxSlotSize
}

func prefixKeyBytes(key []byte) []byte {
	if len(key) < pfxCachePrefixLen {
		return nil
	}

	return key[:pfxCachePrefixLen]
}

// Lookup returns the best cached (nodeOffset, depth) to resume a
// traversal of key from, or ok == false if key is too short to have a
// cacheable prefix or the prefix isn't cached.
func (c *prefixCache) Lookup(key []byte) (nodeOffset uint64, depth int, ok bool, err error) {
	pfx := prefixKeyBytes(key)
	if pfx == nil {
		return 0, 0, false, nil
	}

	bucket := fnv1a64(pfx) % c.bucketCount

	slot, err := c.space.slice(c.slotOffset(bucket), pfxSlotSize)
	if err != nil {
		return 0, 0, false, err
	}

	if slot[pfxSlotLenOff] == 0 {
		return 0, 0, false, nil
	}

	for i := 0; i < pfxCachePrefixLen; i++ {
		if slot[pfxSlotPrefix+i] != pfx[i] {
			return 0, 0, false, nil
		}
	}

	nodeOffset = atomicLoadUint64(slot, pfxSlotNodeOff)
	depth = int(atomicLoadUint32(slot, pfxSlotDepthOff))

	return nodeOffset, depth, true, nil
}

// Store records that, after consuming depth bytes of key, the traversal
// reached nodeOffset. Single-slot-per-bucket with unconditional
// overwrite: a collision between two prefixes just evicts the older one,
// which only costs a cache miss, never a wrong answer (see Lookup).
func (c *prefixCache) Store(key []byte, nodeOffset uint64, depth int) error {
	pfx := prefixKeyBytes(key)
	if pfx == nil {
		return nil
	}

	bucket := fnv1a64(pfx) % c.bucketCount

	slot, err := c.space.slice(c.slotOffset(bucket), pfxSlotSize)
	if err != nil {
		return err
	}

	atomicStoreUint64(slot, pfxSlotNodeOff, nodeOffset)
	atomicStoreUint32(slot, pfxSlotDepthOff, uint32(depth))
	copy(slot[pfxSlotPrefix:pfxSlotPrefix+pfxCachePrefixLen], pfx)
	slot[pfxSlotLenOff] = pfxCachePrefixLen

	return nil
}
