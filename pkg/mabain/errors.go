package mabain

import "errors"

// Sentinel errors returned by DB operations. Callers should classify with
// errors.Is rather than comparing values directly, since wrapped variants
// may carry additional context.
var (
	// ErrNotExist means the key has no entry in the trie.
	ErrNotExist = errors.New("mabain: key does not exist")

	// ErrKeyExist means Add was called without overwrite on a key that
	// already has an entry.
	ErrKeyExist = errors.New("mabain: key already exists")

	// ErrNoResource means a fixed-capacity structure has no room left:
	// the hash index's bucket table is full, or a node is already at its
	// largest capacity class.
	ErrNoResource = errors.New("mabain: no resource available")

	// ErrTryAgain means a reader exhausted its lock-free retry budget
	// racing a concurrent writer. The caller should retry the call.
	ErrTryAgain = errors.New("mabain: try again")

	// ErrReadFailure means an mmap'd read came back inconsistent in a way
	// retries cannot fix (short read, out-of-range offset).
	ErrReadFailure = errors.New("mabain: read failure")

	// ErrMutex means acquiring the writer mutex failed for a reason other
	// than it being held (e.g. the lock file could not be created).
	ErrMutex = errors.New("mabain: mutex error")

	// ErrInvalidArg means a key or value violated a size or nilness
	// constraint.
	ErrInvalidArg = errors.New("mabain: invalid argument")

	// ErrAppendOverflow means Append would grow a value past MaxDataSize.
	ErrAppendOverflow = errors.New("mabain: append overflow")

	// ErrNotAllowed means the operation is not permitted in the DB's
	// current access mode (e.g. a write on a reader-only handle).
	ErrNotAllowed = errors.New("mabain: operation not allowed")

	// ErrOpenFailure means Open could not map the underlying files.
	ErrOpenFailure = errors.New("mabain: open failure")

	// ErrNotInitialized means Open was asked for a Reader handle on a
	// directory that holds no store yet.
	ErrNotInitialized = errors.New("mabain: not initialized")

	// ErrCorrupt means the header checksum did not match or a traversal
	// met a record that cannot be valid (for example, the traversal limit
	// was exceeded). The on-disk image cannot be trusted.
	ErrCorrupt = errors.New("mabain: corrupt on-disk image")

	// ErrIncompatible means the on-disk magic or version does not match
	// this package's format.
	ErrIncompatible = errors.New("mabain: incompatible on-disk format")

	// ErrBusy means another writer already holds the cross-process lock.
	ErrBusy = errors.New("mabain: writer busy")

	// ErrClosed means an operation was attempted on a closed handle.
	ErrClosed = errors.New("mabain: handle closed")
)
