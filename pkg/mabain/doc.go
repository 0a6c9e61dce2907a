// Package mabain provides an embedded, memory-mapped key/value store
// organized as a byte-level radix trie.
//
// Keys are variable-length byte strings up to [MaxKeyLength] bytes; values
// are opaque buffers up to [MaxDataSize] bytes ([DB.Append] grows a stored
// value in place, up to the same limit). The store is designed for a
// single-writer, many-reader workload, with the on-disk image shared by
// mapping it directly into each process's address space.
//
// # Basic usage
//
//	db, err := mabain.Open(mabain.Options{
//	    Dir:    "/var/lib/mydb",
//	    Access: mabain.Writer,
//	})
//	if err != nil {
//	    // handle
//	}
//	defer db.Close()
//
//	err = db.Add([]byte("Apple"), []byte("Red"), false)
//	value, err := db.Find([]byte("Apple"))
//
// # Concurrency
//
// One writer at a time, across processes sharing the same directory; many
// concurrent readers, in-process or cross-process. Readers never block:
// they retry against a per-edge version tag and give up with [ErrTryAgain]
// after [LockFreeRetryLimit] attempts rather than spin forever.
//
// # Error handling
//
// Sentinel errors are classified with errors.Is. [ErrCorrupt] and
// [ErrIncompatible] mean the on-disk image cannot be trusted and should be
// rebuilt; [ErrBusy] and [ErrTryAgain] are transient and safe to retry.
package mabain
