// Package pricebuf provides a bounded, time-ordered buffer of recent price
// points. Single writer (the pipeline), many readers via read-only snapshots.
package pricebuf

import (
	"sync"

	"signalwatch/internal/model"
)

// Buffer holds the most recent price points up to a fixed capacity.
// Append is O(1) amortized; the oldest point is evicted FIFO once capacity
// is exceeded. Points must arrive with strictly increasing timestamps —
// a point not after the current last point is rejected, which guards
// against duplicate and out-of-order delivery after reconnects.
type Buffer struct {
	mu  sync.RWMutex
	buf []model.PricePoint // circular
	cap int
	idx int // next write position
	len int
}

// New creates a buffer with the given capacity. Minimum capacity is 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		buf: make([]model.PricePoint, capacity),
		cap: capacity,
	}
}

// Append adds a point. Returns false when the point's timestamp is not
// after the current last point (the point is NOT stored in that case).
func (b *Buffer) Append(p model.PricePoint) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.len > 0 {
		last := b.buf[(b.idx-1+b.cap)%b.cap]
		if !p.TS.After(last.TS) {
			return false
		}
	}

	b.buf[b.idx] = p
	b.idx = (b.idx + 1) % b.cap
	if b.len < b.cap {
		b.len++
	}
	return true
}

// Snapshot returns a copy of the buffered points in chronological order.
// Safe for long-running consumers — concurrent appends never mutate it.
func (b *Buffer) Snapshot() []model.PricePoint {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.PricePoint, b.len)
	start := (b.idx - b.len + b.cap) % b.cap
	for i := 0; i < b.len; i++ {
		out[i] = b.buf[(start+i)%b.cap]
	}
	return out
}

// Last returns the most recent point, if any.
func (b *Buffer) Last() (model.PricePoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.len == 0 {
		return model.PricePoint{}, false
	}
	return b.buf[(b.idx-1+b.cap)%b.cap], true
}

// Len returns the current number of buffered points.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.len
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return b.cap
}
