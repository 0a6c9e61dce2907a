package mabain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mabaindb/mabain/pkg/fs"
)

// DB is a handle on an open store. A Reader handle may run Find,
// FindLongestPrefix, Stats, Validate, and Iterator concurrently from any
// number of goroutines or processes. A Writer handle additionally allows
// Add, Append, Remove, RemoveAll, and Shrink, but only one Writer handle
// may be open across every process sharing Dir at a time.
type DB struct {
	opt Options

	idxSpace  *rollableFile
	dataSpace *rollableFile
	header    *header
	idx       *indexStore
	data      *dataStore

	reader *trieReader
	writer *trieWriter // nil for a Reader handle

	hashIdx *hashIndex   // nil unless EnableHashIndex
	pfxCch  *prefixCache // nil unless EnablePrefixCache

	lock *fs.Lock // nil for a Reader handle

	asyncCancel context.CancelFunc
	asyncDone   chan struct{}

	mu     sync.Mutex
	closed bool
}

// Stats reports point-in-time counters for an open store. Each field is
// read with its own atomic load inside a seqRead over the header's
// generation counter; no Writer path advances that counter, so the
// fields are not guaranteed to be mutually consistent while a Writer is
// active.
type Stats struct {
	KeyCount       uint64
	IndexHighwater uint64
	DataHighwater  uint64
	ShrinkEpoch    uint64
	PrefixCacheOn  bool
	HashIndexOn    bool
}

// Open maps an existing store, or creates one if Dir is empty and opt.
// Access is Writer. Callers must Close the returned DB.
func Open(opt Options) (*DB, error) {
	if opt.Dir == "" {
		return nil, fmt.Errorf("%w: Options.Dir is required", ErrInvalidArg)
	}

	opt, err := LoadConfig(opt.Dir, opt)
	if err != nil {
		return nil, err
	}

	opt.setDefaults()

	fsys := fs.NewReal()
	if err := fsys.MkdirAll(opt.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailure, err)
	}

	db := &DB{opt: opt}

	writable := opt.Access == Writer

	if writable {
		lock, err := acquireWriterLock(fsys, opt.Dir)
		if err != nil {
			return nil, err
		}

		db.lock = lock
	}

	idxSpace, err := openRollableFile(opt.Dir, "_mabain_i", opt.IndexBlockSize, writable)
	if err != nil {
		db.closeLockOnly()

		return nil, fmt.Errorf("%w: %v", ErrOpenFailure, err)
	}

	db.idxSpace = idxSpace

	dataSpace, err := openRollableFile(opt.Dir, "_mabain_d", opt.DataBlockSize, writable)
	if err != nil {
		_ = idxSpace.close()
		db.closeLockOnly()

		return nil, fmt.Errorf("%w: %v", ErrOpenFailure, err)
	}

	db.dataSpace = dataSpace

	firstBlock, err := idxSpace.slice(0, HeaderSize)
	if err != nil {
		db.closeSpaces()

		return nil, fmt.Errorf("%w: %v", ErrOpenFailure, err)
	}

	h := newHeader(firstBlock)
	db.header = h

	isNew := idxSpace.mappedSize() == uint64(opt.IndexBlockSize) && !headerLooksInitialized(firstBlock)

	if isNew {
		if !writable {
			db.closeSpaces()

			return nil, fmt.Errorf("%w: store does not exist", ErrNotInitialized)
		}

		h.initNew(opt.IndexBlockSize, opt.DataBlockSize)
		h.setPfxCacheEnabled(opt.EnablePrefixCache)
		h.setHashIndexEnabled(opt.EnableHashIndex)
	} else if err := h.validate(); err != nil {
		db.closeSpaces()

		return nil, err
	}

	db.idx = &indexStore{h: h, space: idxSpace}
	db.data = &dataStore{h: h, space: dataSpace}
	db.reader = &trieReader{idx: db.idx, data: db.data}

	if h.pfxCacheEnabled() {
		pc, err := openPrefixCache(opt.Dir, writable, uint64(opt.PrefixCacheCapacity))
		if err != nil {
			db.closeSpaces()

			return nil, fmt.Errorf("%w: %v", ErrOpenFailure, err)
		}

		db.pfxCch = pc
	}

	if h.hashIndexEnabled() {
		hi, err := openHashIndex(opt.Dir, writable, uint64(opt.HashIndexCapacity))
		if err != nil {
			db.closePfxCache()
			db.closeSpaces()

			return nil, fmt.Errorf("%w: %v", ErrOpenFailure, err)
		}

		db.hashIdx = hi
	}

	if writable {
		if err := recoverFromException(h, db.idx); err != nil {
			db.closeSpaces()

			return nil, err
		}

		if err := cleanStaleShrinkScans(opt.Dir); err != nil {
			db.closeSpaces()

			return nil, err
		}

		db.writer = &trieWriter{h: h, idx: db.idx, data: db.data}

		if opt.AsyncWriter != nil {
			ctx, cancel := context.WithCancel(context.Background())
			db.asyncCancel = cancel
			db.asyncDone = make(chan struct{})

			go func() {
				defer close(db.asyncDone)

				opt.AsyncWriter.Drain(ctx, db.applyMutation)
			}()
		}
	}

	return db, nil
}

// headerLooksInitialized distinguishes a freshly-truncated, all-zero block
// (new store) from one that already carries a magic number (reopen of an
// existing store whose first block just happens to be exactly one block
// long).
func headerLooksInitialized(b []byte) bool {
	for _, c := range b[hdrOffMagic : hdrOffMagic+8] {
		if c != 0 {
			return true
		}
	}

	return false
}

func (db *DB) closeLockOnly() {
	if db.lock != nil {
		_ = db.lock.Close()
	}
}

func (db *DB) closePfxCache() {
	if db.pfxCch != nil {
		_ = db.pfxCch.close()
	}
}

func (db *DB) closeHashIdx() {
	if db.hashIdx != nil {
		_ = db.hashIdx.close()
	}
}

func (db *DB) closeSpaces() {
	if db.dataSpace != nil {
		_ = db.dataSpace.close()
	}

	if db.idxSpace != nil {
		_ = db.idxSpace.close()
	}

	db.closeHashIdx()
	db.closePfxCache()
	db.closeLockOnly()
}

func (db *DB) applyMutation(m *mutation) error {
	switch m.kind {
	case mutationAdd:
		if err := db.writer.Add(m.key, m.value, m.overwrite); err != nil {
			return err
		}

		return db.syncAccelerators(m.key)
	case mutationAppend:
		return db.writer.Append(m.key, m.value)
	case mutationRemove:
		if err := db.writer.Remove(m.key); err != nil {
			return err
		}

		if db.hashIdx != nil {
			return db.hashIdx.Delete(m.key)
		}

		return nil
	case mutationRemoveAll:
		if err := db.writer.RemoveAll(); err != nil {
			return err
		}

		if db.hashIdx != nil {
			if err := db.hashIdx.reset(); err != nil {
				return err
			}
		}

		if db.pfxCch != nil {
			return db.pfxCch.reset()
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown mutation kind %d", ErrInvalidArg, m.kind)
	}
}

// syncAccelerators refreshes the hash index and prefix cache entries for
// key after a successful Add, so both stay consistent with the trie
// without the caller having to know they exist.
func (db *DB) syncAccelerators(key []byte) error {
	if db.hashIdx != nil {
		dataOff, found, err := db.writer.findDataOffset(rootEdgeOffset(key[0]), key, 0)
		if err != nil {
			return err
		}

		if found {
			if err := db.hashIdx.Put(key, dataOff); err != nil && !errors.Is(err, ErrNoResource) {
				return err
			}
		}
	}

	if db.pfxCch != nil {
		nodeOffset, depth, ok, err := db.reader.locatePrefixNode(key)
		if err != nil {
			return err
		}

		if ok {
			if err := db.pfxCch.Store(key, nodeOffset, depth); err != nil {
				return err
			}
		}
	}

	return nil
}

func (db *DB) checkOpen() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}

	return nil
}

func (db *DB) checkWritable() error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	if db.writer == nil {
		return fmt.Errorf("%w: handle opened as Reader", ErrNotAllowed)
	}

	return nil
}

// mutate runs kind either synchronously against db.writer, or by enqueuing
// onto opt.AsyncWriter when one is configured.
func (db *DB) mutate(kind mutationKind, key, value []byte, overwrite bool) error {
	if err := db.checkWritable(); err != nil {
		return err
	}

	if db.opt.AsyncWriter == nil {
		err := db.applyMutation(&mutation{kind: kind, key: key, value: value, overwrite: overwrite})

		return db.maybeFlush(err)
	}

	m := &mutation{kind: kind, key: key, value: value, overwrite: overwrite, result: make(chan error, 1)}

	err := db.opt.AsyncWriter.Enqueue(context.Background(), m)

	return db.maybeFlush(err)
}

func (db *DB) maybeFlush(opErr error) error {
	if opErr != nil {
		return opErr
	}

	if db.opt.Writeback != WritebackSync || db.opt.MemoryOnly {
		return nil
	}

	if err := db.idxSpace.flush(); err != nil {
		return err
	}

	return db.dataSpace.flush()
}

// Add inserts key with value. If the key already exists, overwrite
// controls whether its value is replaced (true) or ErrKeyExist is returned
// (false).
func (db *DB) Add(key, value []byte, overwrite bool) error {
	return db.mutate(mutationAdd, key, value, overwrite)
}

// Append grows key's existing value in place by extra. Returns
// ErrNotExist if key has no entry. Unlike Add/Remove, a concurrent Find
// for the same key is not guaranteed to see an all-old or all-new value
// while an Append is in flight — see trieWriter.Append's doc comment.
func (db *DB) Append(key, extra []byte) error {
	return db.mutate(mutationAppend, key, extra, false)
}

// Remove deletes key. Returns ErrNotExist if it has no entry.
func (db *DB) Remove(key []byte) error {
	return db.mutate(mutationRemove, key, nil, false)
}

// RemoveAll deletes every key in the store and empties the hash index and
// prefix cache.
func (db *DB) RemoveAll() error {
	return db.mutate(mutationRemoveAll, nil, nil, false)
}

// Find returns the value stored for key, or ErrNotExist. When the hash
// index or prefix cache is enabled, a hit there short-circuits the full
// trie traversal; a miss or a stale entry always falls back to it, so
// Find's result never depends on whether either accelerator is on.
func (db *DB) Find(key []byte) ([]byte, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	if len(key) == 0 || len(key) > MaxKeyLength {
		return nil, fmt.Errorf("%w: key length %d", ErrInvalidArg, len(key))
	}

	if db.hashIdx != nil {
		if dataOff, ok, err := db.hashIdx.Get(key); err != nil {
			return nil, err
		} else if ok {
			if v, err := db.data.read(dataOff); err == nil {
				return v, nil
			}
		}
	}

	if db.pfxCch != nil {
		if nodeOffset, depth, ok, err := db.pfxCch.Lookup(key); err != nil {
			return nil, err
		} else if ok {
			if v, err := db.reader.findFromNode(nodeOffset, key, depth); err == nil {
				return v, nil
			} else if !errors.Is(err, ErrNotExist) {
				return nil, err
			}
		}
	}

	return db.reader.Find(key)
}

// FindLongestPrefix returns the value and matched length of the longest
// prefix of key that is itself a stored key.
func (db *DB) FindLongestPrefix(key []byte) ([]byte, int, error) {
	if err := db.checkOpen(); err != nil {
		return nil, 0, err
	}

	return db.reader.FindLongestPrefix(key)
}

// Iterator returns a new Iterator over every key currently in the store.
// The caller must Close it when done.
func (db *DB) Iterator() (*Iterator, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}

	return newIterator(db.reader), nil
}

// Flush msyncs both address spaces regardless of Writeback mode.
func (db *DB) Flush() error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	if err := db.idxSpace.flush(); err != nil {
		return err
	}

	return db.dataSpace.flush()
}

// Stats reports point-in-time counters; see the Stats type for how they
// are read.
func (db *DB) Stats() (Stats, error) {
	if err := db.checkOpen(); err != nil {
		return Stats{}, err
	}

	var st Stats

	err := seqRead(func() uint32 { return uint32(db.header.readGeneration()) }, func() {
		st = Stats{
			KeyCount:       db.header.liveKeyCount(),
			IndexHighwater: db.header.indexHighwater(),
			DataHighwater:  db.header.dataHighwater(),
			ShrinkEpoch:    db.header.shrinkEpoch(),
			PrefixCacheOn:  db.header.pfxCacheEnabled(),
			HashIndexOn:    db.header.hashIndexEnabled(),
		}
	})

	return st, err
}

// Validate walks every entry with an Iterator and checks that each key is
// 1..MaxKeyLength bytes long and each value at most MaxDataSize bytes; an
// edge, label or data chain the walk cannot read is reported with the
// error the walk returns. It does not check free-list accounting or that
// each data buffer is referenced only once. It is read-only and safe to run concurrently
// with a Writer, at the cost of possibly observing a torn snapshot, which
// surfaces as ErrTryAgain rather than a false corruption report.
func (db *DB) Validate() error {
	if err := db.checkOpen(); err != nil {
		return err
	}

	it, err := db.Iterator()
	if err != nil {
		return err
	}

	defer it.Close()

	for it.Next() {
		e := it.Entry()

		if len(e.Key) == 0 || len(e.Key) > MaxKeyLength {
			return fmt.Errorf("%w: key length %d out of range", ErrCorrupt, len(e.Key))
		}

		if len(e.Value) > MaxDataSize {
			return fmt.Errorf("%w: value length %d out of range", ErrCorrupt, len(e.Value))
		}
	}

	return it.Err()
}

// Shrink compacts the index and data address spaces, reclaiming free-list
// space that has built up from Remove calls. It does nothing when both
// spaces' free lists hold fewer bytes than their minBytes thresholds;
// otherwise it rebuilds both spaces together, including one whose free
// lists are under its threshold. Pass 0 for both to force a full
// compaction regardless of how little is pending.
// Shrink invalidates the hash index and prefix cache (every data offset
// they cached is now wrong) and resets both to empty; subsequent Adds
// repopulate them as usual.
func (db *DB) Shrink(minIndexBytes, minDataBytes uint64) (ShrinkStats, error) {
	if err := db.checkWritable(); err != nil {
		return ShrinkStats{}, err
	}

	stats, ran, err := db.writer.Shrink(minIndexBytes, minDataBytes, db.idxSpace, db.dataSpace, db.opt.Dir)
	if !ran {
		return stats, err
	}

	if db.hashIdx != nil {
		if rerr := db.hashIdx.reset(); rerr != nil && err == nil {
			err = rerr
		}
	}

	if db.pfxCch != nil {
		if rerr := db.pfxCch.reset(); rerr != nil && err == nil {
			err = rerr
		}
	}

	return stats, err
}

// CollectResource is an alias for Shrink, matching the reference
// implementation's naming for the same operation; this package documents
// one convention (spec.md §9 notes the two differ by a factor-of-two in
// the source) by making CollectResource a pure passthrough with no
// threshold rescaling.
func (db *DB) CollectResource(minIndexBytes, minDataBytes uint64) (ShrinkStats, error) {
	return db.Shrink(minIndexBytes, minDataBytes)
}

// Close releases the store's mapped memory and, for a Writer handle, the
// cross-process lock. Safe to call more than once.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()

		return nil
	}

	db.closed = true
	db.mu.Unlock()

	if db.asyncCancel != nil {
		db.asyncCancel()
		<-db.asyncDone
	}

	var firstErr error

	if db.dataSpace != nil {
		if err := db.dataSpace.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if db.idxSpace != nil {
		if err := db.idxSpace.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if db.hashIdx != nil {
		if err := db.hashIdx.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if db.pfxCch != nil {
		if err := db.pfxCch.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if db.lock != nil {
		if err := db.lock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
