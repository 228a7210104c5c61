// Package bufpool provides pooled byte slices to avoid hot-path
// allocations when reading request frames. Uses size-bucketed pools with
// power-of-4 sizes (4KB, 16KB, 64KB, 256KB) to balance memory efficiency
// with allocation reduction.
//
// Uses the *[]byte pattern to avoid sync.Pool interface allocation
// overhead. Requests above the largest bucket get a plain allocation and
// are not returned to the pool.
package bufpool

import "sync"

// Buffer size thresholds
const (
	size4k   = 4 * 1024
	size16k  = 16 * 1024
	size64k  = 64 * 1024
	size256k = 256 * 1024
)

// globalPool is the shared buffer pool for all connections.
var globalPool = struct {
	pool4k   sync.Pool
	pool16k  sync.Pool
	pool64k  sync.Pool
	pool256k sync.Pool
}{
	pool4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool16k:  sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
	pool64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
}

// GetBuffer returns a pooled buffer of at least the requested size.
// Caller must call PutBuffer when done.
func GetBuffer(size int) []byte {
	switch {
	case size <= size4k:
		return (*globalPool.pool4k.Get().(*[]byte))[:size]
	case size <= size16k:
		return (*globalPool.pool16k.Get().(*[]byte))[:size]
	case size <= size64k:
		return (*globalPool.pool64k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*globalPool.pool256k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutBuffer returns a buffer to the pool. The buffer's capacity
// determines which pool it goes to; non-standard capacities are dropped.
func PutBuffer(buf []byte) {
	c := cap(buf)
	// Restore full capacity before returning to pool
	buf = buf[:c]
	switch c {
	case size4k:
		globalPool.pool4k.Put(&buf)
	case size16k:
		globalPool.pool16k.Put(&buf)
	case size64k:
		globalPool.pool64k.Put(&buf)
	case size256k:
		globalPool.pool256k.Put(&buf)
	}
}
