package testutil

import "sync"

// BlockClock is a deterministic block-time source in milliseconds.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type BlockClock struct {
	mu    sync.Mutex
	start uint64
	step  uint64
	now   uint64
}

// NewBlockClock creates a clock whose first Next() returns start+step.
func NewBlockClock(start, step uint64) *BlockClock {
	if step == 0 {
		step = 1
	}
	return &BlockClock{start: start, step: step, now: start}
}

// Next advances one block and returns its time.
func (c *BlockClock) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.step
	return c.now
}

// Current returns the current block time without advancing.
func (c *BlockClock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to an absolute time. Used by scenarios that pin a
// block time.
func (c *BlockClock) Set(ms uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms
}

// Reset returns the clock to its start.
func (c *BlockClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
