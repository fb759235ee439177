package syncproto

import "go.uber.org/atomic"

// CreditWindow is the sole flow-control mechanism between a Request
// and its Transfer: requests are pipelined with a bounded credit
// window, with no buffering beyond one in-flight batch per direction.
// go.uber.org/atomic backs the counter so it can be read and updated
// without a lock.
type CreditWindow struct {
	available *atomic.Int64
	max       int64
}

// NewCreditWindow creates a window that allows up to max in-flight
// requested rows before TryAcquire starts refusing further requests.
func NewCreditWindow(max int64) *CreditWindow {
	return &CreditWindow{available: atomic.NewInt64(max), max: max}
}

// TryAcquire reserves n units of credit, returning false without
// blocking if insufficient credit remains.
func (c *CreditWindow) TryAcquire(n int64) bool {
	for {
		cur := c.available.Load()
		if cur < n {
			return false
		}
		if c.available.CompareAndSwap(cur, cur-n) {
			return true
		}
	}
}

// Release returns n units of credit, bounded at the configured max:
// releasing more than was reserved leaves the window at max.
func (c *CreditWindow) Release(n int64) {
	v := c.available.Add(n)
	if v > c.max {
		c.available.Store(c.max)
	}
}

// Available reports the current credit, for tests and diagnostics.
func (c *CreditWindow) Available() int64 { return c.available.Load() }
