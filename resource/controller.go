package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrExceedsLimit is returned when a single reservation is larger than the
// configured limit and could never be granted.
var ErrExceedsLimit = errors.New("resource: request exceeds limit")

// Config holds resource limits.
type Config struct {
	// PendingLimitBytes bounds the bytes appended but not yet durable.
	// If 0, no hard limit is enforced (only tracking).
	PendingLimitBytes int64

	// IOLimitBytesPerSec is the maximum write throughput to stable storage.
	// If 0, unlimited.
	IOLimitBytesPerSec int64

	// IOBurstBytes is the token bucket size. If 0, it equals IOLimitBytesPerSec.
	IOBurstBytes int
}

// Controller manages the pending-byte budget and the IO rate.
// A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	// Pending bytes
	pendingSem  *semaphore.Weighted // nil if unlimited
	pendingUsed atomic.Int64

	// IO
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}

	if cfg.PendingLimitBytes > 0 {
		c.pendingSem = semaphore.NewWeighted(cfg.PendingLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		burst := cfg.IOBurstBytes
		if burst <= 0 {
			burst = int(cfg.IOLimitBytesPerSec)
		}
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), burst)
	}

	return c
}

// AcquirePending reserves bytes of the pending budget.
// If a hard limit is configured and usage would exceed it,
// this blocks until bytes are released or ctx is canceled.
func (c *Controller) AcquirePending(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.pendingSem != nil {
		if bytes > c.cfg.PendingLimitBytes {
			return fmt.Errorf("%w: %d > %d pending bytes", ErrExceedsLimit, bytes, c.cfg.PendingLimitBytes)
		}
		if err := c.pendingSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}

	c.pendingUsed.Add(bytes)
	return nil
}

// TryAcquirePending reserves bytes without blocking.
// Returns true if acquired, false if the limit would be exceeded.
func (c *Controller) TryAcquirePending(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}

	if c.pendingSem != nil {
		if !c.pendingSem.TryAcquire(bytes) {
			return false
		}
	}

	c.pendingUsed.Add(bytes)
	return true
}

// ReleasePending returns bytes to the pending budget.
func (c *Controller) ReleasePending(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.pendingSem != nil {
		c.pendingSem.Release(bytes)
	}
	c.pendingUsed.Add(-bytes)
}

// PendingUsage returns the reserved pending bytes.
func (c *Controller) PendingUsage() int64 {
	if c == nil {
		return 0
	}
	return c.pendingUsed.Load()
}

// PendingLimit returns the configured pending limit (0 means unlimited).
func (c *Controller) PendingLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.PendingLimitBytes
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than the bucket are split into bursts.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil || bytes <= 0 {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
