package buffer

import (
	"container/list"
	"context"
	"math"
	"sync"
	"sync/atomic"
)

// Writer is the stable storage a Buffer drains into.
//
// Write must either store the whole record durably or return an error; it may
// block, and it must not retain rec after returning.
type Writer interface {
	Write(ctx context.Context, rec *Record) error
}

// WriterFunc adapts a function to the Writer interface.
type WriterFunc func(ctx context.Context, rec *Record) error

// Write implements Writer.
func (f WriterFunc) Write(ctx context.Context, rec *Record) error { return f(ctx, rec) }

// Options configures a Buffer.
type Options struct {
	// MaxPayloadSize rejects larger payloads in Append. 0 disables the check.
	MaxPayloadSize int
}

// DefaultOptions returns the default buffer options.
var DefaultOptions = Options{
	MaxPayloadSize: 100 * 1024 * 1024,
}

// Buffer stages log records between producers and stable storage.
//
// Append is safe for concurrent use. Flush must be driven by a single caller at a
// time; overlapping calls fail with ErrFlushInProgress.
type Buffer struct {
	mu          sync.Mutex
	opts        Options
	initialized bool
	current     LSN // highest allocated
	durable     LSN // highest confirmed by the writer
	pending     list.List
	bytes       int64
	durableCh   chan struct{} // closed on every durable advance

	flushing atomic.Bool
}

// Stats is a consistent snapshot of the buffer accounting.
type Stats struct {
	CurrentLSN   LSN
	DurableLSN   LSN
	PendingCount int
	PendingBytes int64
}

// New creates a buffer. Call Init before use.
func New(optFns ...func(o *Options)) *Buffer {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Buffer{opts: opts}
}

// Init sets the current and durable LSN to start. It must be called once, before
// any concurrent Append or Flush.
func (b *Buffer) Init(start LSN) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized || b.current != InvalidLSN || b.pending.Len() > 0 {
		return ErrAlreadyInitialized
	}
	b.current = start
	b.durable = start
	b.initialized = true
	return nil
}

// Append assigns the next LSN to a new record and queues it for flushing.
//
// The payload is copied. A failed Append does not consume an LSN.
func (b *Buffer) Append(module Module, payload []byte) (LSN, error) {
	rec, err := NewRecord(InvalidLSN, module, payload, b.opts.MaxPayloadSize)
	if err != nil {
		return InvalidLSN, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == math.MaxUint64 {
		panic("buffer: lsn overflow")
	}
	b.initialized = true
	b.current++
	rec.lsn = b.current
	b.pending.PushBack(rec)
	b.bytes += rec.TotalSize()
	return rec.lsn, nil
}

// inflight is a record taken off the queue for a write attempt. It is either
// committed (durable) or aborted (back at the head with its bytes restored).
type inflight struct {
	rec  *Record
	size int64
}

func (b *Buffer) take() (inflight, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	front := b.pending.Front()
	if front == nil {
		return inflight{}, false
	}
	rec := b.pending.Remove(front).(*Record)
	size := rec.TotalSize()
	b.bytes -= size
	return inflight{rec: rec, size: size}, true
}

func (b *Buffer) abort(f inflight) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending.PushFront(f.rec)
	b.bytes += f.size
}

func (b *Buffer) commit(f inflight) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if f.rec.lsn != b.durable+1 {
		panic("buffer: durable lsn must advance by one")
	}
	b.durable = f.rec.lsn
	if b.durableCh != nil {
		close(b.durableCh)
		b.durableCh = nil
	}
}

// Flush drains pending records into w in LSN order.
//
// It stops at the first failed write, leaving that record at the head of the
// queue, and returns the number of records written before it along with a
// *WriteError. Writes happen outside the buffer lock so appends never wait on I/O.
// ctx is handed to the writer unchanged.
func (b *Buffer) Flush(ctx context.Context, w Writer) (int, error) {
	if !b.flushing.CompareAndSwap(false, true) {
		return 0, ErrFlushInProgress
	}
	defer b.flushing.Store(false)

	count := 0
	for {
		f, ok := b.take()
		if !ok {
			return count, nil
		}
		if err := w.Write(ctx, f.rec); err != nil {
			b.abort(f)
			return count, &WriteError{LSN: f.rec.lsn, Err: err}
		}
		b.commit(f)
		count++
	}
}

// WaitDurable blocks until lsn is durable or ctx is done.
func (b *Buffer) WaitDurable(ctx context.Context, lsn LSN) error {
	for {
		b.mu.Lock()
		if lsn <= b.durable {
			b.mu.Unlock()
			return nil
		}
		if lsn > b.current {
			b.mu.Unlock()
			return ErrLSNNotAllocated
		}
		if b.durableCh == nil {
			b.durableCh = make(chan struct{})
		}
		ch := b.durableCh
		b.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PendingBytes returns the accounted size of all queued records.
func (b *Buffer) PendingBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// PendingCount returns the number of queued records.
func (b *Buffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Len()
}

// CurrentLSN returns the highest allocated LSN.
func (b *Buffer) CurrentLSN() LSN {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// DurableLSN returns the highest LSN confirmed by the writer.
func (b *Buffer) DurableLSN() LSN {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.durable
}

// Stats returns a consistent snapshot of the accounting state.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		CurrentLSN:   b.current,
		DurableLSN:   b.durable,
		PendingCount: b.pending.Len(),
		PendingBytes: b.bytes,
	}
}
