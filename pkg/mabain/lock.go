package mabain

import (
	"errors"
	"fmt"

	"github.com/mabaindb/mabain/pkg/fs"
)

// writerLock is the cross-process single-writer mutex (spec.md §5). It is
// realized as an advisory flock(2) on a sidecar file rather than a
// futex-based robust mutex: flock is automatically released by the kernel
// when the holding process dies for any reason, including SIGKILL, which
// gives the same "the next writer isn't permanently locked out" guarantee
// a robust mutex exists for, without needing a robust-list protocol. The
// crash-safety exception record (header.go) is what repairs any partially
// applied mutation the dead writer left behind; the lock itself only
// arbitrates who gets to try.
const writerLockFile = "_mabain_lock"

func acquireWriterLock(fsys fs.FS, dir string) (*fs.Lock, error) {
	locker := fs.NewLocker(fsys)

	lock, err := locker.TryLock(dir + "/" + writerLockFile)
	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return nil, ErrBusy
		}

		return nil, fmt.Errorf("%w: %v", ErrMutex, err)
	}

	return lock, nil
}
