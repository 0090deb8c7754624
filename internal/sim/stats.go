package sim

import (
	"sync"

	"github.com/holiman/uint256"
)

// Counter aggregates simulation outcomes. It is safe for concurrent use.
type Counter struct {
	mu         sync.Mutex
	auctions   int
	claimed    int
	mismatched int
	volume     uint256.Int
	failures   map[int]int
}

// Claimed records a settled auction and whether the expected bidder won.
func (c *Counter) Claimed(price *uint256.Int, expectedWinner bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auctions++
	c.claimed++
	if !expectedWinner {
		c.mismatched++
	}
	if price != nil {
		c.volume.Add(&c.volume, price)
	}
}

// Failed records an auction that did not settle. status is the HTTP status,
// or 0 for transport errors.
func (c *Counter) Failed(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auctions++
	if c.failures == nil {
		c.failures = make(map[int]int)
	}
	c.failures[status]++
}

type Summary struct {
	Auctions   int
	Claimed    int
	Mismatched int
	Volume     string
	Failures   map[int]int
}

func (c *Counter) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	failures := make(map[int]int, len(c.failures))
	for k, v := range c.failures {
		failures[k] = v
	}
	return Summary{
		Auctions:   c.auctions,
		Claimed:    c.claimed,
		Mismatched: c.mismatched,
		Volume:     c.volume.Dec(),
		Failures:   failures,
	}
}
