package flusher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/walbuf/buffer"
	"github.com/hupe1980/walbuf/checkpoint"
)

// Options configures a Flusher.
type Options struct {
	// Interval is the period of timer-driven flushes in Run. 0 disables the
	// timer; Run then flushes only on Notify.
	Interval time.Duration
	// MinBackoff is the first retry delay after a failed flush.
	MinBackoff time.Duration
	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration
	Logger     *slog.Logger
	Observer   Observer
	// Checkpoint receives the durable LSN after every flush that advanced it.
	Checkpoint checkpoint.Store
}

// DefaultOptions returns the default flusher options.
func DefaultOptions() Options {
	return Options{
		Interval:   10 * time.Millisecond,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: time.Second,
		Observer:   NoopObserver{},
	}
}

// Flusher is the single flush driver of a buffer.
type Flusher struct {
	buf    *buffer.Buffer
	w      buffer.Writer
	opts   Options
	notify chan struct{}

	mu    sync.Mutex // serializes flushes
	saved buffer.LSN // last checkpointed LSN
}

// New creates a flusher that drains buf into w.
func New(buf *buffer.Buffer, w buffer.Writer, optFns ...func(o *Options)) *Flusher {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Observer == nil {
		opts.Observer = NoopObserver{}
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = opts.MinBackoff
	}
	return &Flusher{
		buf:    buf,
		w:      w,
		opts:   opts,
		notify: make(chan struct{}, 1),
		saved:  buf.DurableLSN(),
	}
}

// Flush drains the buffer once and checkpoints the new durable LSN.
// Concurrent calls wait for each other.
func (f *Flusher) Flush(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := time.Now()
	n, err := f.buf.Flush(ctx, f.w)
	if cerr := f.checkpoint(ctx); cerr != nil {
		err = errors.Join(err, cerr)
	}
	elapsed := time.Since(start)

	stats := f.buf.Stats()
	f.opts.Observer.OnFlush(elapsed, n, err)
	f.opts.Observer.OnPending(stats.PendingCount, stats.PendingBytes)

	if f.opts.Logger != nil {
		if err != nil {
			f.opts.Logger.Warn("flush failed",
				"records", n,
				"durable_lsn", uint64(stats.DurableLSN),
				"pending", stats.PendingCount,
				"error", err,
			)
		} else if n > 0 {
			f.opts.Logger.Debug("flush completed",
				"records", n,
				"durable_lsn", uint64(stats.DurableLSN),
				"duration", elapsed,
			)
		}
	}
	return n, err
}

// checkpoint saves the durable LSN if it moved. Caller must hold f.mu.
func (f *Flusher) checkpoint(ctx context.Context) error {
	if f.opts.Checkpoint == nil {
		return nil
	}
	durable := f.buf.DurableLSN()
	if durable <= f.saved {
		return nil
	}
	if err := f.opts.Checkpoint.Save(ctx, durable); err != nil {
		return fmt.Errorf("flusher: save checkpoint %d: %w", durable, err)
	}
	f.saved = durable
	return nil
}

// Notify asks Run to flush soon. It never blocks.
func (f *Flusher) Notify() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Run flushes on every tick and Notify until ctx is done. A failed flush is
// retried with exponential backoff before waiting for the next trigger.
// Run returns ctx.Err().
func (f *Flusher) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if f.opts.Interval > 0 {
		ticker := time.NewTicker(f.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		case <-f.notify:
		}
		if err := f.flushWithRetry(ctx); err != nil {
			return err
		}
	}
}

// flushWithRetry flushes until it succeeds or ctx is done.
func (f *Flusher) flushWithRetry(ctx context.Context) error {
	backoff := f.opts.MinBackoff
	for attempt := 1; ; attempt++ {
		_, err := f.Flush(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if f.opts.Logger != nil {
			f.opts.Logger.Warn("retrying flush", "attempt", attempt, "backoff", backoff)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, f.opts.MaxBackoff)
	}
}
