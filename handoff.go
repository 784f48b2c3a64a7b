package cartesianmotion

import (
	"sync"
	"sync/atomic"
)

const handoffDirty = 1 << 2

// Handoff is a latest-value exchange cell between non-real-time
// producers and a single real-time consumer. Publish stores a value
// without ever blocking or invalidating a read in progress; Latest is
// lock-free and returns the most recent value published strictly before
// the call. Intermediate values are intentionally discardable: only the
// last write matters.
//
// Internally this is a classic triple buffer. The producer and the
// consumer each own one slot index; the third index, together with a
// dirty bit, lives in a single atomic word. Each side trades its slot
// for the middle one with an atomic swap, so the three indices stay a
// permutation of {0,1,2} and the two sides never touch the same slot.
//
// Latest must only be called from one goroutine. Publish may be called
// from any goroutine; concurrent producers serialize on a mutex that
// the consumer never takes.
type Handoff[T any] struct {
	writeMu sync.Mutex
	slots   [3]T
	back    int // producer-owned, guarded by writeMu
	front   int // consumer-owned
	mid     atomic.Uint32
}

// NewHandoff returns a cell holding the zero value of T.
func NewHandoff[T any]() *Handoff[T] {
	b := &Handoff[T]{back: 0, front: 1}
	b.mid.Store(2)
	return b
}

// Publish makes v the value returned by the next Latest call.
func (b *Handoff[T]) Publish(v T) {
	b.writeMu.Lock()
	b.slots[b.back] = v
	old := b.mid.Swap(uint32(b.back) | handoffDirty)
	b.back = int(old &^ handoffDirty)
	b.writeMu.Unlock()
}

// Latest returns the most recently published value, or the zero value
// of T if nothing was ever published.
func (b *Handoff[T]) Latest() T {
	if b.mid.Load()&handoffDirty != 0 {
		old := b.mid.Swap(uint32(b.front))
		b.front = int(old &^ handoffDirty)
	}
	return b.slots[b.front]
}
