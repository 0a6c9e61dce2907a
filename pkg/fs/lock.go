package fs

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock indicates a non-blocking lock attempt found the lock already held.
var ErrWouldBlock = errors.New("fs: lock would block")

// Lock is a held advisory file lock (flock(2)). The zero value is not usable;
// obtain one through Locker.TryLock.
//
// Lock does not delete the underlying lock file on Close — the file persists
// as a rendezvous point for the next locker.
type Lock struct {
	file *os.File
}

// Close releases the lock and closes the underlying file descriptor.
func (l *Lock) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)

	return l.file.Close()
}

// Locker acquires exclusive advisory locks on files, used for cross-process
// coordination such as mabain's single-writer mutex (spec.md §5).
type Locker struct {
	fs FS
}

// NewLocker returns a Locker that creates lock files through fsys.
func NewLocker(fsys FS) *Locker {
	return &Locker{fs: fsys}
}

// TryLock acquires an exclusive, non-blocking lock on path, creating it if
// necessary. Returns ErrWouldBlock if another holder has it locked.
func (lk *Locker) TryLock(path string) (*Lock, error) {
	file, err := lk.fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = file.Close()

		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("flock: %w", err)
	}

	realFile, ok := file.(*os.File)
	if !ok {
		// Real always returns *os.File; other FS implementations aren't
		// flock-compatible since flock needs a live OS file descriptor.
		_ = file.Close()

		return nil, fmt.Errorf("fs: locker requires an *os.File-backed FS")
	}

	return &Lock{file: realFile}, nil
}
