//go:build !linux

package futex

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

type bucket struct {
	mu      sync.Mutex
	cond    sync.Cond
	waiters int
}

var table [64]bucket

func init() {
	for i := range table {
		table[i].cond.L = &table[i].mu
	}
}

func bucketFor(addr *atomic.Int32) *bucket {
	return &table[(uintptr(unsafe.Pointer(addr))>>2)%uintptr(len(table))]
}

// Wait blocks the calling goroutine while the word at addr holds val.
func Wait(addr *atomic.Int32, val int32) {
	b := bucketFor(addr)
	b.mu.Lock()
	for addr.Load() == val {
		b.waiters++
		b.cond.Wait()
		b.waiters--
	}
	b.mu.Unlock()
}

// Wake wakes the waiters on addr. Buckets are shared between addresses, so every
// waiter in the bucket re-checks its word; n only bounds the reported count.
func Wake(addr *atomic.Int32, n int) int {
	b := bucketFor(addr)
	b.mu.Lock()
	woken := min(b.waiters, n)
	b.cond.Broadcast()
	b.mu.Unlock()
	return woken
}
