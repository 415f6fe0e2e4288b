package replayindex

import (
	"sync/atomic"
	"unsafe"
)

// atomicLoadInt64 and atomicStoreInt64 give the ring's beginChange and
// endChange counters sequentially-consistent load/store semantics over
// the raw mmap'd byte slice, the Go equivalent of the source's unsafe
// ordered reads/writes (spec.md §9 "Mutable memory-mapped state with
// concurrent readers"). The offsets they are called on are always
// 8-byte aligned (fixed header offsets into a page-aligned mapping).

func atomicLoadInt64(b []byte) int64 {
	return atomic.LoadInt64((*int64)(unsafe.Pointer(&b[0])))
}

func atomicStoreInt64(b []byte, v int64) {
	atomic.StoreInt64((*int64)(unsafe.Pointer(&b[0])), v)
}
