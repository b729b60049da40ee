package walbuf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hupe1980/walbuf/buffer"
	"github.com/hupe1980/walbuf/flusher"
	"github.com/hupe1980/walbuf/resource"
)

// Log is a write-ahead log front end: records are appended to an in-memory
// buffer and a background loop drains them into a stable writer.
//
// All methods are safe for concurrent use.
type Log struct {
	opts    options
	buf     *buffer.Buffer
	rc      *resource.Controller
	w       buffer.Writer
	flusher *flusher.Flusher
	logger  *Logger
	metrics MetricsCollector

	mu     sync.RWMutex // guards closed against in-flight appends
	closed bool

	// closing is canceled as soon as Close starts; it wakes appends blocked
	// on the pending budget.
	closing     context.Context
	stopClosing context.CancelFunc

	cancel context.CancelFunc
	done   chan struct{}
}

// Positioner is implemented by stable writers that know the last LSN they
// hold. segment.Writer, pebblestore.Store, archive.Writer and TeeWriter
// implement it.
type Positioner interface {
	LastLSN() buffer.LSN
}

// Stats is a snapshot of the log accounting.
type Stats struct {
	buffer.Stats
	// ReservedBytes is the pending budget held by appended, not yet durable records.
	ReservedBytes int64
	// PendingLimitBytes is the configured budget (0 means unlimited).
	PendingLimitBytes int64
}

// Open creates a log that drains into w.
//
// The log resumes after the LSN given by WithStartLSN or, failing that, the
// LSN stored in the WithCheckpoint store. If w implements Positioner and holds
// records past the checkpoint, the log resumes after the writer's last LSN
// instead. An explicit start LSN behind the writer fails with ErrWriterAhead.
func Open(ctx context.Context, w buffer.Writer, optFns ...Option) (*Log, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: nil writer", ErrInvalidOption)
	}
	opts, err := applyOptions(optFns)
	if err != nil {
		return nil, err
	}

	start, source := opts.startLSN, "option"
	if !opts.hasStartLSN {
		source = "none"
		if opts.checkpoint != nil {
			source = "checkpoint"
			start, err = opts.checkpoint.Load(ctx)
			if err != nil {
				opts.logger.LogRecovery(ctx, buffer.InvalidLSN, source, err)
				return nil, fmt.Errorf("walbuf: load checkpoint: %w", err)
			}
		}
	}

	if p, ok := w.(Positioner); ok {
		last := p.LastLSN()
		switch {
		case last <= start:
		case opts.hasStartLSN:
			err := fmt.Errorf("%w: start %d, writer holds %d", ErrWriterAhead, start, last)
			opts.logger.LogRecovery(ctx, start, source, err)
			return nil, err
		default:
			start, source = last, "writer"
		}
	}

	buf := buffer.New(func(o *buffer.Options) {
		o.MaxPayloadSize = opts.maxPayloadSize
	})
	if err := buf.Init(start); err != nil {
		return nil, err
	}
	opts.logger.LogRecovery(ctx, start, source, nil)

	rc := resource.NewController(resource.Config{
		PendingLimitBytes:  opts.pendingLimit,
		IOLimitBytesPerSec: opts.ioLimit,
		IOBurstBytes:       opts.ioBurst,
	})

	l := &Log{
		opts:    opts,
		buf:     buf,
		rc:      rc,
		w:       w,
		logger:  opts.logger,
		metrics: opts.metrics,
		done:    make(chan struct{}),
	}
	l.flusher = flusher.New(buf, resource.NewThrottledWriter(w, rc), func(o *flusher.Options) {
		o.Interval = opts.flushInterval
		o.MinBackoff = opts.minBackoff
		o.MaxBackoff = opts.maxBackoff
		o.Logger = opts.logger.With("component", "flusher")
		o.Checkpoint = opts.checkpoint
		o.Observer = metricsObserver{metrics: opts.metrics, next: opts.observer}
	})

	l.closing, l.stopClosing = context.WithCancel(context.Background())

	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go func() {
		defer close(l.done)
		_ = l.flusher.Run(runCtx)
	}()

	return l, nil
}

// Append stages a record and returns its LSN. The record is not durable until
// WaitDurable for the LSN returns.
//
// When the pending limit is reached Append blocks until the flush loop frees
// room, ctx is done or Close is called.
func (l *Log) Append(ctx context.Context, module buffer.Module, payload []byte) (buffer.LSN, error) {
	start := time.Now()
	lsn, err := l.append(ctx, module, payload)
	l.metrics.RecordAppend(len(payload), time.Since(start), err)
	l.logger.LogAppend(ctx, lsn, module, len(payload), err)
	return lsn, err
}

func (l *Log) append(ctx context.Context, module buffer.Module, payload []byte) (buffer.LSN, error) {
	if l.closing.Err() != nil {
		return buffer.InvalidLSN, ErrClosed
	}

	size := buffer.TotalSize(len(payload))
	if !l.rc.TryAcquirePending(size) {
		l.metrics.RecordBackpressure(size)
		l.flusher.Notify()
		if err := l.waitPending(ctx, size); err != nil {
			return buffer.InvalidLSN, err
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.rc.ReleasePending(size)
		return buffer.InvalidLSN, ErrClosed
	}

	lsn, err := l.buf.Append(module, payload)
	if err != nil {
		l.rc.ReleasePending(size)
		return buffer.InvalidLSN, err
	}

	if l.opts.flushThreshold > 0 && l.buf.PendingBytes() >= l.opts.flushThreshold {
		l.flusher.Notify()
	}
	return lsn, nil
}

// waitPending blocks until size bytes of pending budget are reserved, ctx is
// done or Close is called.
func (l *Log) waitPending(ctx context.Context, size int64) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(l.closing, cancel)
	defer stop()

	err := l.rc.AcquirePending(wctx, size)
	if err != nil && ctx.Err() == nil && l.closing.Err() != nil {
		return ErrClosed
	}
	return err
}

// Commit appends a record and waits until it is durable.
func (l *Log) Commit(ctx context.Context, module buffer.Module, payload []byte) (buffer.LSN, error) {
	lsn, err := l.Append(ctx, module, payload)
	if err != nil {
		return lsn, err
	}
	l.flusher.Notify()
	return lsn, l.buf.WaitDurable(ctx, lsn)
}

// Flush synchronously writes all pending records. It returns the number of
// records written; on error the unwritten records stay pending and the
// background loop keeps retrying them.
func (l *Log) Flush(ctx context.Context) (int, error) {
	if l.closing.Err() != nil {
		return 0, ErrClosed
	}

	start := time.Now()
	n, err := l.flusher.Flush(ctx)
	l.logger.LogFlush(ctx, n, l.buf.DurableLSN(), time.Since(start), err)
	return n, err
}

// WaitDurable blocks until lsn is durable or ctx is done.
func (l *Log) WaitDurable(ctx context.Context, lsn buffer.LSN) error {
	return l.buf.WaitDurable(ctx, lsn)
}

// CurrentLSN returns the highest allocated LSN.
func (l *Log) CurrentLSN() buffer.LSN {
	return l.buf.CurrentLSN()
}

// DurableLSN returns the highest LSN confirmed by the stable writer.
func (l *Log) DurableLSN() buffer.LSN {
	return l.buf.DurableLSN()
}

// Stats returns a snapshot of the log accounting.
func (l *Log) Stats() Stats {
	return Stats{
		Stats:             l.buf.Stats(),
		ReservedBytes:     l.rc.PendingUsage(),
		PendingLimitBytes: l.rc.PendingLimit(),
	}
}

// Close stops the flush loop, writes what is still pending and closes the
// writer if it implements io.Closer. Appends blocked on the pending limit
// return ErrClosed.
//
// If ctx is done first Close returns its error; the shutdown then finishes in
// the background and closes the writer once the writer returns. Calling Close
// again returns nil.
func (l *Log) Close(ctx context.Context) error {
	l.stopClosing()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	res := make(chan error, 1)
	go func() {
		res <- l.shutdown(ctx)
	}()

	var err error
	select {
	case err = <-res:
	case <-ctx.Done():
		err = fmt.Errorf("walbuf: close: %w", ctx.Err())
	}

	stats := l.buf.Stats()
	l.logger.LogClose(ctx, stats.DurableLSN, stats.PendingCount, err)
	return err
}

func (l *Log) shutdown(ctx context.Context) error {
	l.cancel()
	<-l.done

	_, err := l.flusher.Flush(ctx)
	if c, ok := l.w.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("walbuf: close writer: %w", cerr))
		}
	}
	return err
}
