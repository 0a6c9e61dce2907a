package fs_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/mabaindb/mabain/pkg/fs"
)

func TestLocker_TryLock_ExcludesSecondHolder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "writer.lock")
	locker := fs.NewLocker(fs.NewReal())

	first, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("first TryLock: %v", err)
	}
	defer first.Close()

	_, err = locker.TryLock(path)
	if !errors.Is(err, fs.ErrWouldBlock) {
		t.Fatalf("second TryLock: got %v, want ErrWouldBlock", err)
	}
}

func TestLocker_TryLock_ReacquireAfterClose(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "writer.lock")
	locker := fs.NewLocker(fs.NewReal())

	first, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("first TryLock: %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("second TryLock: %v", err)
	}
	defer second.Close()
}
