package net

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrExcessSend is returned when a permit is requested while credit is already
// negative. The size is still subtracted and never given back, so a violating
// producer permanently loses that much capacity.
var ErrExcessSend = errors.New("net: back-pressure violated")

// Permit is one unit of issued-but-unacknowledged work. Release returns its
// size to the issuing counter; releasing twice is a no-op.
type Permit struct {
	size    int64
	release func(int64)
	done    atomic.Bool
}

// NopPermit returns a permit bound to no counter.
func NopPermit() *Permit {
	return &Permit{}
}

func (p *Permit) Size() int {
	if p == nil {
		return 0
	}
	return int(p.size)
}

func (p *Permit) Release() {
	if p == nil || !p.done.CompareAndSwap(false, true) {
		return
	}
	if p.release != nil {
		p.release(p.size)
	}
}

// credit is the shared signed counter. A start is legal only while the value
// observed before the subtraction is non-negative, so a producer that saw
// credit >= 0 can always start one more task without a hard violation.
type credit struct {
	count atomic.Int64
}

func (c *credit) start(size int, release func(int64)) (*Permit, error) {
	s := int64(size)
	if s < 0 {
		panic("net: negative permit size")
	}
	if prev := c.count.Add(-s) + s; prev < 0 {
		return nil, ErrExcessSend
	}
	return &Permit{size: s, release: release}, nil
}

// BackPressure is the synchronous variant: producers poll CanSend.
type BackPressure struct {
	credit
}

func NewBackPressure(capacity int) *BackPressure {
	b := &BackPressure{}
	b.count.Store(int64(capacity))
	return b
}

// Pressure returns the remaining credit; negative means over capacity.
func (b *BackPressure) Pressure() int64 { return b.count.Load() }
func (b *BackPressure) CanSend() bool   { return b.count.Load() >= 0 }

func (b *BackPressure) Start(size int) (*Permit, error) {
	return b.start(size, func(n int64) { b.count.Add(n) })
}

// AsyncBackPressure adds a single waiter slot. Releasing a permit that moves
// the credit from negative to non-negative wakes the waiter exactly once.
type AsyncBackPressure struct {
	credit
	notify chan struct{}
	wakes  atomic.Uint64
}

func NewAsyncBackPressure(capacity int) *AsyncBackPressure {
	b := &AsyncBackPressure{notify: make(chan struct{}, 1)}
	b.count.Store(int64(capacity))
	return b
}

func (b *AsyncBackPressure) Pressure() int64 { return b.count.Load() }
func (b *AsyncBackPressure) CanSend() bool   { return b.count.Load() >= 0 }

// Wakes counts zero crossings that signalled the waiter.
func (b *AsyncBackPressure) Wakes() uint64 { return b.wakes.Load() }

func (b *AsyncBackPressure) Start(size int) (*Permit, error) {
	return b.start(size, b.release)
}

func (b *AsyncBackPressure) release(n int64) {
	now := b.count.Add(n)
	if now-n < 0 && now >= 0 {
		select {
		case b.notify <- struct{}{}:
			b.wakes.Add(1)
		default:
		}
	}
}

// Wait blocks until credit is non-negative. Only one goroutine may wait.
func (b *AsyncBackPressure) Wait(ctx context.Context) error {
	for {
		if b.count.Load() >= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.notify:
		}
	}
}
