package walbuf

import (
	"fmt"
	"time"

	"github.com/hupe1980/walbuf/buffer"
	"github.com/hupe1980/walbuf/checkpoint"
	"github.com/hupe1980/walbuf/flusher"
)

const (
	// DefaultFlushInterval is the period of the background flush loop.
	DefaultFlushInterval = 10 * time.Millisecond

	// DefaultFlushThreshold wakes the flush loop early once this many bytes are pending.
	DefaultFlushThreshold = 1 << 20
)

type options struct {
	startLSN       buffer.LSN
	hasStartLSN    bool
	checkpoint     checkpoint.Store
	flushInterval  time.Duration
	flushThreshold int64
	pendingLimit   int64
	ioLimit        int64
	ioBurst        int
	maxPayloadSize int
	minBackoff     time.Duration
	maxBackoff     time.Duration
	metrics        MetricsCollector
	observer       flusher.Observer
	logger         *Logger
}

// Option configures Open.
type Option func(*options)

// WithStartLSN sets the last durable LSN the log resumes after. It takes
// precedence over the value loaded from a checkpoint.
func WithStartLSN(lsn buffer.LSN) Option {
	return func(o *options) {
		o.startLSN = lsn
		o.hasStartLSN = true
	}
}

// WithCheckpoint persists the durable LSN after every flush and, unless
// WithStartLSN is given, resumes from the stored value on Open.
func WithCheckpoint(store checkpoint.Store) Option {
	return func(o *options) {
		o.checkpoint = store
	}
}

// WithFlushInterval sets the period of the background flush loop.
// 0 disables timed flushes; the loop then only runs on demand (threshold,
// backpressure and Commit).
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) {
		o.flushInterval = d
	}
}

// WithFlushThreshold wakes the flush loop once the pending bytes reach n.
// 0 disables the threshold.
func WithFlushThreshold(n int64) Option {
	return func(o *options) {
		o.flushThreshold = n
	}
}

// WithPendingLimit bounds the bytes appended but not yet durable. Append blocks
// while the limit is reached. 0 means unlimited.
func WithPendingLimit(n int64) Option {
	return func(o *options) {
		o.pendingLimit = n
	}
}

// WithIOLimit throttles writes to stable storage to bytesPerSec with the given
// burst. A burst of 0 equals bytesPerSec.
func WithIOLimit(bytesPerSec int64, burst int) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
		o.ioBurst = burst
	}
}

// WithMaxPayloadSize rejects larger payloads in Append. 0 disables the check.
func WithMaxPayloadSize(n int) Option {
	return func(o *options) {
		o.maxPayloadSize = n
	}
}

// WithRetryBackoff sets the delay bounds for retrying failed background flushes.
func WithRetryBackoff(minDelay, maxDelay time.Duration) Option {
	return func(o *options) {
		o.minBackoff = minDelay
		o.maxBackoff = maxDelay
	}
}

// WithMetrics sets the metrics collector. If nil is passed, metrics are disabled.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metrics = m
	}
}

// WithObserver registers an additional flush observer.
func WithObserver(obs flusher.Observer) Option {
	return func(o *options) {
		if obs == nil {
			obs = flusher.NoopObserver{}
		}
		o.observer = obs
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

func applyOptions(optFns []Option) (options, error) {
	fo := flusher.DefaultOptions()
	opts := options{
		flushInterval:  DefaultFlushInterval,
		flushThreshold: DefaultFlushThreshold,
		maxPayloadSize: buffer.DefaultOptions.MaxPayloadSize,
		minBackoff:     fo.MinBackoff,
		maxBackoff:     fo.MaxBackoff,
		metrics:        NoopMetricsCollector{},
		observer:       flusher.NoopObserver{},
		logger:         NoopLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	switch {
	case opts.flushInterval < 0:
		return opts, fmt.Errorf("%w: negative flush interval %s", ErrInvalidOption, opts.flushInterval)
	case opts.flushThreshold < 0:
		return opts, fmt.Errorf("%w: negative flush threshold %d", ErrInvalidOption, opts.flushThreshold)
	case opts.pendingLimit < 0:
		return opts, fmt.Errorf("%w: negative pending limit %d", ErrInvalidOption, opts.pendingLimit)
	case opts.ioLimit < 0 || opts.ioBurst < 0:
		return opts, fmt.Errorf("%w: negative io limit %d/%d", ErrInvalidOption, opts.ioLimit, opts.ioBurst)
	case opts.maxPayloadSize < 0:
		return opts, fmt.Errorf("%w: negative max payload size %d", ErrInvalidOption, opts.maxPayloadSize)
	case opts.minBackoff <= 0 || opts.maxBackoff < opts.minBackoff:
		return opts, fmt.Errorf("%w: retry backoff %s..%s", ErrInvalidOption, opts.minBackoff, opts.maxBackoff)
	}
	if opts.pendingLimit > 0 && opts.maxPayloadSize > 0 && buffer.TotalSize(opts.maxPayloadSize) > opts.pendingLimit {
		// a maximal record must fit into the budget
		opts.maxPayloadSize = int(opts.pendingLimit) - buffer.HeaderSize
		if opts.maxPayloadSize <= 0 {
			return opts, fmt.Errorf("%w: pending limit %d smaller than a record header", ErrInvalidOption, opts.pendingLimit)
		}
	}
	return opts, nil
}
