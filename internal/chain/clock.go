package chain

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Clock reports the current block height. Heights never decrease.
type Clock interface {
	Height() Height
}

// ManualClock is advanced explicitly. Tests use it to step an auction through
// its phases.
type ManualClock struct {
	mu sync.Mutex
	h  Height
}

func NewManualClock(start Height) *ManualClock {
	return &ManualClock{h: start}
}

func (c *ManualClock) Height() Height {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h
}

// Mine advances the clock by n blocks and returns the new height.
func (c *ManualClock) Mine(n BlockCount) Height {
	c.mu.Lock()
	defer c.mu.Unlock()
	if next, ok := c.h.Add(n); ok {
		c.h = next
	}
	return c.h
}

// TickerClock produces one block per interval once Run is called.
type TickerClock struct {
	h        atomic.Uint64
	interval time.Duration
}

func NewTickerClock(start Height, interval time.Duration) *TickerClock {
	if interval <= 0 {
		interval = time.Second
	}
	c := &TickerClock{interval: interval}
	c.h.Store(uint64(start))
	return c
}

func (c *TickerClock) Height() Height { return Height(c.h.Load()) }

// Run advances the height until ctx ends. onBlock, when non-nil, is called
// with every new height.
func (c *TickerClock) Run(ctx context.Context, onBlock func(Height)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h := Height(c.h.Add(1))
			if onBlock != nil {
				onBlock(h)
			}
		}
	}
}
