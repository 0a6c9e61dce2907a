package mabain

// Hard limits on key and value sizes, mirrored from the reference
// implementation's CONSTS class. These bound worst-case edge and node
// sizes so the allocator's size classes can be fixed at compile time.
const (
	// MaxKeyLength is the largest key mabain will accept, in bytes.
	MaxKeyLength = 256

	// MaxDataSize is the largest value mabain will store for a single
	// key, in bytes, including all chunks of an appended value.
	MaxDataSize = 32 * 1024

	// MaxAppendSize is the largest number of bytes a single buffer in an
	// append chain may hold before a new chain link is allocated.
	MaxAppendSize = 512
)

// Safety limits on traversal and retry, preventing an unbounded loop from a
// corrupt or adversarial structure.
const (
	// LockFreeRetryLimit bounds how many times a reader retries an edge
	// read after observing a version tag change before giving up with
	// ErrTryAgain.
	LockFreeRetryLimit = 20

	// FindTraversalLimit bounds the number of edges FindLongestPrefix or
	// Find will walk before concluding the trie is cyclic/corrupt.
	FindTraversalLimit = MaxKeyLength * 4
)

// Default block sizes for the rollable index and data files. These can be
// overridden via Options; production deployments typically want larger
// blocks (tens of MiB) to keep the number of mmap segments low, while tests
// use small blocks to exercise rolling without allocating huge files.
const (
	DefaultIndexBlockSize = 8 * 1024 * 1024
	DefaultDataBlockSize  = 8 * 1024 * 1024

	// MinBlockSize is the smallest block size Open will accept. Below
	// this, a single maximal node or data buffer might not fit in one
	// block.
	MinBlockSize = 64 * 1024
)

// Node fan-out size classes. A node's label/edge arrays are sized to the
// smallest class that fits its current fan-out; the class index is stored
// in the node header so the allocator can free it back to the right free
// list. All classes are multiples of 8 so that every node, and every edge
// record within it, lands on an 8-byte-aligned offset — required for the
// atomic loads/stores the seqlock protocol relies on.
var nodeCapacityClasses = [4]int{8, 16, 64, 256}

// Data buffer payload size classes, doubling from 16 bytes up to
// MaxAppendSize. A value larger than MaxAppendSize is stored as a chain of
// MaxAppendSize-capacity buffers linked by tail pointer.
var dataCapacityClasses = []int{16, 32, 64, 128, 256, MaxAppendSize}
