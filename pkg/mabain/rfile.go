package mabain

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

func init() {
	if !isLittleEndian() {
		panic("mabain: only little-endian architectures are supported")
	}

	if is32Bit() {
		panic("mabain: only 64-bit architectures are supported")
	}
}

func isLittleEndian() bool {
	var x uint16 = 1
	b := (*[2]byte)(unsafe.Pointer(&x))

	return b[0] == 1
}

func is32Bit() bool {
	return ^uintptr(0) == 0xffffffff
}

// rollableFile is a single mapped address space (index or data) backed by a
// sequence of fixed-size block files on disk, numbered prefix.0,
// prefix.1, .... New blocks are mapped in as Reserve crosses a block
// boundary, so the address space can grow without remapping already-mapped
// bytes (spec.md §4.1: "rollable mapped file").
//
// Mmap requires a live OS file descriptor, so rollableFile only works
// against fs.Real; the fs.FS abstraction used elsewhere in this package is
// for the plain config and lock-file I/O that doesn't need mmap.
type rollableFile struct {
	dir       string
	prefix    string
	blockSize int
	writable  bool

	blocks []*mappedBlock
}

type mappedBlock struct {
	file *os.File
	data []byte
}

func openRollableFile(dir, prefix string, blockSize int, writable bool) (*rollableFile, error) {
	if blockSize < MinBlockSize {
		return nil, fmt.Errorf("%w: block size %d below minimum %d", ErrInvalidArg, blockSize, MinBlockSize)
	}

	rf := &rollableFile{
		dir:       dir,
		prefix:    prefix,
		blockSize: blockSize,
		writable:  writable,
	}

	// Map in every block file that already exists, in order, so a
	// reopen of a grown store picks up right where it left off.
	for i := 0; ; i++ {
		path := rf.blockPath(i)

		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				break
			}

			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		blk, err := rf.mapBlock(i, true)
		if err != nil {
			return nil, err
		}

		rf.blocks = append(rf.blocks, blk)
	}

	if len(rf.blocks) == 0 {
		blk, err := rf.mapBlock(0, false)
		if err != nil {
			return nil, err
		}

		rf.blocks = append(rf.blocks, blk)
	}

	return rf, nil
}

func (rf *rollableFile) blockPath(index int) string {
	return fmt.Sprintf("%s/%s.%d", rf.dir, rf.prefix, index)
}

func (rf *rollableFile) mapBlock(index int, existing bool) (*mappedBlock, error) {
	flag := os.O_RDONLY
	if rf.writable {
		flag = os.O_RDWR | os.O_CREATE
	}

	f, err := os.OpenFile(rf.blockPath(index), flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open block %d of %s: %w", index, rf.prefix, err)
	}

	if !existing {
		if err := f.Truncate(int64(rf.blockSize)); err != nil {
			_ = f.Close()

			return nil, fmt.Errorf("truncate block %d of %s: %w", index, rf.prefix, err)
		}
	}

	prot := unix.PROT_READ
	if rf.writable {
		prot |= unix.PROT_WRITE
	}

	data, err := unix.Mmap(int(f.Fd()), 0, rf.blockSize, prot, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("mmap block %d of %s: %w", index, rf.prefix, err)
	}

	runtime.KeepAlive(f)

	return &mappedBlock{file: f, data: data}, nil
}

// mappedSize returns the number of bytes of address space currently
// mapped in (blocks times blockSize), used by Open to tell a brand-new
// store from an existing one.
func (rf *rollableFile) mappedSize() uint64 {
	return uint64(len(rf.blocks)) * uint64(rf.blockSize)
}

// reserve ensures the byte range [offset, offset+size) is backed by mapped
// blocks, rolling in new block files as needed. It does not move the
// caller's notion of the high-water mark; callers bump the header's
// highwater field themselves after reserve succeeds.
func (rf *rollableFile) reserve(offset uint64, size int) error {
	end := offset + uint64(size)
	lastNeeded := int((end - 1) / uint64(rf.blockSize))

	for len(rf.blocks) <= lastNeeded {
		idx := len(rf.blocks)

		blk, err := rf.mapBlock(idx, false)
		if err != nil {
			return err
		}

		rf.blocks = append(rf.blocks, blk)
	}

	return nil
}

// slice returns a byte slice aliasing the mapped memory at [offset,
// offset+size). The range must not cross a block boundary; every record
// (header, node, edge, data buffer) is smaller than a block (blockSize is
// much larger than MaxDataSize and the largest node class), and the
// header's highwater bumps start a record at the next block rather than
// let it straddle one.
func (rf *rollableFile) slice(offset uint64, size int) ([]byte, error) {
	blockIdx := int(offset / uint64(rf.blockSize))
	if blockIdx >= len(rf.blocks) {
		return nil, fmt.Errorf("%w: offset %d not mapped", ErrReadFailure, offset)
	}

	within := int(offset % uint64(rf.blockSize))
	if within+size > rf.blockSize {
		return nil, fmt.Errorf("%w: record at offset %d crosses block boundary", ErrReadFailure, offset)
	}

	return rf.blocks[blockIdx].data[within : within+size], nil
}

// flush msyncs every mapped block. Callers that track dirty ranges should
// prefer flushRange.
func (rf *rollableFile) flush() error {
	for _, blk := range rf.blocks {
		if err := unix.Msync(blk.data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("msync %s: %w", rf.prefix, err)
		}
	}

	return nil
}

// flushRange msyncs only the blocks touched by [offset, offset+size),
// narrowing the syscall cost of a commit compared to flush.
func (rf *rollableFile) flushRange(offset uint64, size int) error {
	first := int(offset / uint64(rf.blockSize))
	last := int((offset + uint64(size) - 1) / uint64(rf.blockSize))

	for i := first; i <= last && i < len(rf.blocks); i++ {
		if err := unix.Msync(rf.blocks[i].data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("msync %s block %d: %w", rf.prefix, i, err)
		}
	}

	return nil
}

func (rf *rollableFile) close() error {
	var firstErr error

	for _, blk := range rf.blocks {
		if err := unix.Munmap(blk.data); err != nil && firstErr == nil {
			firstErr = err
		}

		if err := blk.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	rf.blocks = nil

	return firstErr
}

// removeBlocksAbove truncates the address space back down to keepBlocks
// blocks, used by Shrink after compaction has proven the tail is unused.
// It is only safe to call with the writer mutex held and no outstanding
// reader could plausibly still reference the removed range.
func (rf *rollableFile) removeBlocksAbove(keepBlocks int) error {
	if keepBlocks >= len(rf.blocks) {
		return nil
	}

	for i := len(rf.blocks) - 1; i >= keepBlocks; i-- {
		blk := rf.blocks[i]

		if err := unix.Munmap(blk.data); err != nil {
			return err
		}

		path := blk.file.Name()

		if err := blk.file.Close(); err != nil {
			return err
		}

		if err := os.Remove(path); err != nil {
			return err
		}
	}

	rf.blocks = rf.blocks[:keepBlocks]

	return nil
}
