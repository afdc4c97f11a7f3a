package buffer

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
)

const (
	// DefaultMinClass is the smallest size class in bytes.
	DefaultMinClass = 256
	// DefaultMaxClass is the largest pooled size class in bytes. Larger
	// requests are allocated exactly and never pooled.
	DefaultMaxClass = 16 << 20
	// DefaultMaxFreePerClass bounds how many idle buffers a class keeps.
	DefaultMaxFreePerClass = 64
)

// PoolConfig configures a Pool. Zero values select the defaults above and an
// unlimited memory cap.
type PoolConfig struct {
	MinClass        int
	MaxClass        int
	Limit           int64
	MaxFreePerClass int
}

// sizeClass is one power-of-two bucket with its own lock, so workers acquiring
// different sizes never contend.
type sizeClass struct {
	size int
	mu   sync.Mutex
	free []*Buffer
}

// Pool recycles buffers by power-of-two size class under an optional hard cap
// on the bytes it has allocated.
type Pool struct {
	classes []*sizeClass
	limit   int64
	maxFree int

	allocated atomic.Int64
	inUse     atomic.Int64

	acquires  atomic.Uint64
	reuses    atomic.Uint64
	exhausted atomic.Uint64
	faults    atomic.Uint64
}

// NewPool creates a pool. MinClass and MaxClass are rounded up to powers of two.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.MinClass <= 0 {
		cfg.MinClass = DefaultMinClass
	}
	if cfg.MaxClass <= 0 {
		cfg.MaxClass = DefaultMaxClass
	}
	if cfg.MaxFreePerClass <= 0 {
		cfg.MaxFreePerClass = DefaultMaxFreePerClass
	}
	minSize := roundPow2(cfg.MinClass)
	maxSize := roundPow2(cfg.MaxClass)
	if maxSize < minSize {
		maxSize = minSize
	}

	p := &Pool{limit: cfg.Limit, maxFree: cfg.MaxFreePerClass}
	for size := minSize; size <= maxSize; size <<= 1 {
		p.classes = append(p.classes, &sizeClass{size: size})
	}
	return p
}

func roundPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// classFor returns the index of the smallest class that fits n bytes, or -1
// when n is larger than every class.
func (p *Pool) classFor(n int) int {
	smallest := p.classes[0].size
	if n <= smallest {
		return 0
	}
	if n > p.classes[len(p.classes)-1].size {
		return -1
	}
	return bits.Len(uint(n-1)) - bits.Len(uint(smallest-1))
}

// Acquire returns a buffer holding one reference with capacity of at least
// sizeHint and a payload length of sizeHint. The payload content is undefined.
// When the hard cap would be exceeded it returns a *CapacityError wrapping
// ErrPoolExhausted.
func (p *Pool) Acquire(sizeHint int) (*Buffer, error) {
	if sizeHint < 0 {
		return nil, fmt.Errorf("invalid buffer size %d", sizeHint)
	}
	p.acquires.Add(1)

	idx := p.classFor(sizeHint)
	if idx >= 0 {
		c := p.classes[idx]
		c.mu.Lock()
		var b *Buffer
		if n := len(c.free); n > 0 {
			b = c.free[n-1]
			c.free[n-1] = nil
			c.free = c.free[:n-1]
		}
		c.mu.Unlock()
		if b != nil {
			p.reuses.Add(1)
			return p.hand(b, sizeHint), nil
		}
	}

	size := sizeHint
	if idx >= 0 {
		size = p.classes[idx].size
	}
	if err := p.reserve(int64(size)); err != nil {
		return nil, err
	}
	b := &Buffer{data: make([]byte, size), pool: p, class: idx}
	return p.hand(b, sizeHint), nil
}

func (p *Pool) hand(b *Buffer, n int) *Buffer {
	b.data = b.data[:n]
	b.Seq = 0
	b.Timestamp = 0
	b.sealed.Store(false)
	b.refs.Store(1)
	p.inUse.Add(int64(cap(b.data)))
	return b
}

// reserve accounts n new bytes against the limit. Idle buffers in other
// classes are given back first when the limit would be crossed.
func (p *Pool) reserve(n int64) error {
	if p.limit <= 0 {
		p.allocated.Add(n)
		return nil
	}
	for attempt := 0; attempt < 2; attempt++ {
		for {
			cur := p.allocated.Load()
			if cur+n > p.limit {
				break
			}
			if p.allocated.CompareAndSwap(cur, cur+n) {
				return nil
			}
		}
		if attempt == 0 {
			p.reclaim(p.allocated.Load() + n - p.limit)
		}
	}
	p.exhausted.Add(1)
	return &CapacityError{
		Resource: "buffer pool",
		Detail:   fmt.Sprintf("requested %d bytes, %d of %d allocated", n, p.allocated.Load(), p.limit),
		Err:      ErrPoolExhausted,
	}
}

// reclaim frees idle buffers, largest classes first, until at least want
// bytes are released. It returns the number of bytes freed.
func (p *Pool) reclaim(want int64) int64 {
	var freed int64
	for i := len(p.classes) - 1; i >= 0 && freed < want; i-- {
		c := p.classes[i]
		c.mu.Lock()
		for len(c.free) > 0 && freed < want {
			n := len(c.free)
			c.free[n-1] = nil
			c.free = c.free[:n-1]
			freed += int64(c.size)
		}
		c.mu.Unlock()
	}
	p.allocated.Add(-freed)
	return freed
}

func (p *Pool) put(b *Buffer) {
	size := int64(cap(b.data))
	p.inUse.Add(-size)
	if b.class < 0 {
		p.allocated.Add(-size)
		return
	}
	c := p.classes[b.class]
	c.mu.Lock()
	if len(c.free) < p.maxFree {
		c.free = append(c.free, b)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	p.allocated.Add(-size)
}

// ClassStats describes one size class.
type ClassStats struct {
	Size int `json:"size"`
	Free int `json:"free"`
}

// PoolStats is a point-in-time view of pool usage.
type PoolStats struct {
	Limit         int64        `json:"limit"`
	Allocated     int64        `json:"allocated"`
	InUse         int64        `json:"inUse"`
	Acquires      uint64       `json:"acquires"`
	Reuses        uint64       `json:"reuses"`
	Exhausted     uint64       `json:"exhausted"`
	ReleaseFaults uint64       `json:"releaseFaults"`
	Classes       []ClassStats `json:"classes,omitempty"`
}

// Stats returns the current counters. Each class lock is held only long
// enough to read the free list length.
func (p *Pool) Stats() PoolStats {
	s := PoolStats{
		Limit:         p.limit,
		Allocated:     p.allocated.Load(),
		InUse:         p.inUse.Load(),
		Acquires:      p.acquires.Load(),
		Reuses:        p.reuses.Load(),
		Exhausted:     p.exhausted.Load(),
		ReleaseFaults: p.faults.Load(),
	}
	for _, c := range p.classes {
		c.mu.Lock()
		free := len(c.free)
		c.mu.Unlock()
		if free > 0 {
			s.Classes = append(s.Classes, ClassStats{Size: c.size, Free: free})
		}
	}
	return s
}

// IsExhausted reports whether err signals pool exhaustion.
func IsExhausted(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}
