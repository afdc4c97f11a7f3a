package buffer

import (
	"io"
	"sync/atomic"
	"time"
)

// Buffer is a chunk of media payload with a shared reference count.
//
// Seq and Timestamp must be set before the buffer is published. The payload
// returned by Bytes must be treated as read-only by every holder once the
// buffer is sealed.
type Buffer struct {
	Seq       uint64
	Timestamp time.Duration

	data   []byte
	refs   atomic.Int32
	sealed atomic.Bool

	pool  *Pool
	class int
}

// New wraps data in an unpooled buffer holding one reference.
func New(data []byte) *Buffer {
	b := &Buffer{data: data, class: -1}
	b.refs.Store(1)
	return b
}

// Bytes returns the payload.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the payload length.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the capacity of the backing storage.
func (b *Buffer) Cap() int { return cap(b.data) }

// Writable returns the payload for in-place writes, or ErrSealed once the
// buffer has been published.
func (b *Buffer) Writable() ([]byte, error) {
	if b.sealed.Load() {
		return nil, ErrSealed
	}
	return b.data, nil
}

// SetLen resizes the payload within the buffer's capacity.
func (b *Buffer) SetLen(n int) error {
	if b.sealed.Load() {
		return ErrSealed
	}
	if n < 0 || n > cap(b.data) {
		return io.ErrShortBuffer
	}
	b.data = b.data[:n]
	return nil
}

// Write appends p to the payload. It writes as much as fits and returns
// io.ErrShortWrite if the capacity runs out.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.sealed.Load() {
		return 0, ErrSealed
	}
	room := cap(b.data) - len(b.data)
	n := len(p)
	if n > room {
		n = room
	}
	b.data = append(b.data, p[:n]...)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Seal makes the buffer immutable. Sealing twice is harmless.
func (b *Buffer) Seal() { b.sealed.Store(true) }

// Sealed reports whether the buffer has been published.
func (b *Buffer) Sealed() bool { return b.sealed.Load() }

// Refs returns the current reference count.
func (b *Buffer) Refs() int32 { return b.refs.Load() }

// Retain adds a reference. Every Retain must be paired with a Release.
func (b *Buffer) Retain() { b.refs.Add(1) }

// Release drops a reference. The last release returns the buffer to its pool.
// Releasing a buffer that holds no references is a no-op and is counted as a
// fault in the pool statistics, so the count never goes negative.
func (b *Buffer) Release() {
	for {
		r := b.refs.Load()
		if r <= 0 {
			if b.pool != nil {
				b.pool.faults.Add(1)
			}
			return
		}
		if b.refs.CompareAndSwap(r, r-1) {
			if r == 1 && b.pool != nil {
				b.pool.put(b)
			}
			return
		}
	}
}
