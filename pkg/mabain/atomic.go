package mabain

import (
	"sync/atomic"
	"unsafe"
)

// atomicLoadUint64 and its siblings give atomic access to 8-byte-aligned
// fields living inside an mmap'd byte slice shared across processes. Plain
// sync/atomic only operates on Go-managed memory, but on the little-endian,
// 64-bit architectures this package requires (checked in rfile.go), an
// aligned load/store through *uint64 is equivalent to what the hardware
// already guarantees for mmap'd pages, so the unsafe cast is safe in
// practice and is the same trick the slot-cache style header code relies
// on.
func atomicLoadUint64(b []byte, off int) uint64 {
	p := (*uint64)(unsafe.Pointer(&b[off]))

	return atomic.LoadUint64(p)
}

func atomicStoreUint64(b []byte, off int, v uint64) {
	p := (*uint64)(unsafe.Pointer(&b[off]))

	atomic.StoreUint64(p, v)
}

func atomicLoadUint32(b []byte, off int) uint32 {
	p := (*uint32)(unsafe.Pointer(&b[off]))

	return atomic.LoadUint32(p)
}

func atomicStoreUint32(b []byte, off int, v uint32) {
	p := (*uint32)(unsafe.Pointer(&b[off]))

	atomic.StoreUint32(p, v)
}

func atomicAddUint64(b []byte, off int, delta uint64) uint64 {
	p := (*uint64)(unsafe.Pointer(&b[off]))

	return atomic.AddUint64(p, delta)
}

func atomicAddUint32(b []byte, off int, delta uint32) uint32 {
	p := (*uint32)(unsafe.Pointer(&b[off]))

	return atomic.AddUint32(p, delta)
}

func atomicCompareAndSwapUint64(b []byte, off int, old, new uint64) bool {
	p := (*uint64)(unsafe.Pointer(&b[off]))

	return atomic.CompareAndSwapUint64(p, old, new)
}
