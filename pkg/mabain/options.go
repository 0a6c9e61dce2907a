package mabain

// AccessMode selects whether Open returns a handle that may mutate the
// store. Only one Writer handle may be active across all processes sharing
// a directory at a time; Reader handles never block and never take the
// cross-process lock.
type AccessMode int

const (
	Reader AccessMode = iota
	Writer
)

// WritebackMode controls when a Writer's mutations are msync'd to disk,
// trading durability for throughput.
type WritebackMode int

const (
	// WritebackSync msyncs every mapped block of both address spaces
	// after every Add, Append, Remove and RemoveAll. Safest, slowest.
	WritebackSync WritebackMode = iota

	// WritebackNone never msyncs explicitly; the kernel writes pages
	// back on its own schedule. Flush still forces a sync when called
	// directly.
	WritebackNone
)

// Options configures Open. Dir is required; everything else has a
// workable zero value or default.
type Options struct {
	// Dir is the directory holding the store's files. Open creates it if
	// it does not exist.
	Dir string

	// Access chooses Reader or Writer. Defaults to Reader.
	Access AccessMode

	// Writeback controls durability/throughput tradeoff for a Writer
	// handle. Ignored for Reader. Defaults to WritebackSync.
	Writeback WritebackMode

	// IndexBlockSize and DataBlockSize set the rollable file block size.
	// A new store records them in its header, but Open maps the files
	// with these values on every open and does not compare them with the
	// header, so an existing store must be reopened with the sizes it was
	// created with. Default to DefaultIndexBlockSize /
	// DefaultDataBlockSize.
	IndexBlockSize int
	DataBlockSize  int

	// MemoryOnly, when true, still creates the on-disk files (mabain has
	// no pure-anonymous-mmap mode, since readers in other processes must
	// be able to map the same files) but skips explicit msync calls,
	// matching the reference implementation's MEMORY_ONLY_MODE intent of
	// trading durability for speed. It implies WritebackNone.
	MemoryOnly bool

	// EnablePrefixCache turns on the shared-memory prefix cache
	// (spec.md §4.8). Only meaningful for a Writer, which owns creating
	// the cache file; Readers pick up whatever the Writer configured.
	EnablePrefixCache bool

	// PrefixCacheCapacity sizes the prefix cache's bucket table. Zero
	// picks a built-in default.
	PrefixCacheCapacity int

	// EnableHashIndex turns on the exact-match hash map (spec.md §4.9),
	// maintained alongside the trie by the Writer.
	EnableHashIndex bool

	// HashIndexCapacity sizes the hash index's bucket table. Zero picks
	// a built-in default.
	HashIndexCapacity int

	// AsyncWriter, if non-nil, causes Add/Remove/RemoveAll on the
	// returned DB to enqueue onto it instead of mutating synchronously.
	// Only valid with Access == Writer.
	AsyncWriter AsyncWriter
}

func (o *Options) setDefaults() {
	if o.IndexBlockSize == 0 {
		o.IndexBlockSize = DefaultIndexBlockSize
	}

	if o.DataBlockSize == 0 {
		o.DataBlockSize = DefaultDataBlockSize
	}

	if o.MemoryOnly {
		o.Writeback = WritebackNone
	}
}
