package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/walbuf/testutil"
)

var errDiskFull = errors.New("disk full")

// recordingWriter keeps every record it accepts and fails on the configured call.
type recordingWriter struct {
	mu      sync.Mutex
	calls   int
	failOn  map[int]bool
	written []*Record
}

func (w *recordingWriter) Write(_ context.Context, rec *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls++
	if w.failOn[w.calls] {
		return errDiskFull
	}
	w.written = append(w.written, rec)
	return nil
}

func (w *recordingWriter) lsns() []LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]LSN, len(w.written))
	for i, r := range w.written {
		out[i] = r.LSN()
	}
	return out
}

// checkInvariants verifies accounting against the queue contents.
func checkInvariants(t *testing.T, b *Buffer) {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()

	require.LessOrEqual(t, b.durable, b.current)

	var sum int64
	prev := b.durable
	for e := b.pending.Front(); e != nil; e = e.Next() {
		rec := e.Value.(*Record)
		require.Equal(t, prev+1, rec.LSN(), "pending must be dense and ordered")
		prev = rec.LSN()
		sum += rec.TotalSize()
	}
	require.Equal(t, b.current, prev, "pending must end at current lsn")
	require.Equal(t, sum, b.bytes)
}

func TestBuffer_InitThenAppend(t *testing.T) {
	b := New()
	require.NoError(t, b.Init(41))

	assert.Equal(t, 0, b.PendingCount())
	assert.Equal(t, int64(0), b.PendingBytes())
	assert.Equal(t, LSN(41), b.DurableLSN())

	lsn, err := b.Append(ModuleTransaction, []byte("begin"))
	require.NoError(t, err)
	assert.Equal(t, LSN(42), lsn)
	checkInvariants(t, b)
}

func TestBuffer_InitTwice(t *testing.T) {
	b := New()
	require.NoError(t, b.Init(10))
	assert.ErrorIs(t, b.Init(20), ErrAlreadyInitialized)

	b2 := New()
	_, err := b2.Append(ModuleBufferPool, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, b2.Init(5), ErrAlreadyInitialized)
}

func TestBuffer_ZeroValue(t *testing.T) {
	var b Buffer

	lsn, err := b.Append(ModuleBPlusTree, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, LSN(1), lsn)

	n, err := b.Flush(context.Background(), &recordingWriter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBuffer_MarkerRecord(t *testing.T) {
	b := New()
	require.NoError(t, b.Init(0))

	lsn, err := b.Append(ModuleTransaction, nil)
	require.NoError(t, err)
	assert.Equal(t, LSN(1), lsn)
	assert.Equal(t, int64(HeaderSize), b.PendingBytes())
	checkInvariants(t, b)
}

func TestBuffer_PayloadIsCopied(t *testing.T) {
	b := New()
	require.NoError(t, b.Init(0))

	p := []byte("abc")
	_, err := b.Append(ModuleRecordManager, p)
	require.NoError(t, err)
	p[0] = 'z'

	w := &recordingWriter{}
	_, err = b.Flush(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), w.written[0].Payload())
}

func TestBuffer_AppendTooLargeConsumesNoLSN(t *testing.T) {
	b := New(func(o *Options) { o.MaxPayloadSize = 8 })
	require.NoError(t, b.Init(0))

	_, err := b.Append(ModuleBufferPool, make([]byte, 9))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Equal(t, LSN(0), b.CurrentLSN())
	assert.Equal(t, 0, b.PendingCount())

	lsn, err := b.Append(ModuleBufferPool, make([]byte, 8))
	require.NoError(t, err)
	assert.Equal(t, LSN(1), lsn)
	checkInvariants(t, b)
}

func TestBuffer_AccountingAfterEveryOperation(t *testing.T) {
	rng := testutil.NewRNG(4711)
	b := New()
	require.NoError(t, b.Init(100))

	w := &recordingWriter{failOn: map[int]bool{7: true, 13: true}}
	for round := 0; round < 5; round++ {
		for _, p := range rng.Payloads(5, 64) {
			_, err := b.Append(Module(rng.Intn(4)), p)
			require.NoError(t, err)
			checkInvariants(t, b)
		}
		_, _ = b.Flush(context.Background(), w)
		checkInvariants(t, b)
	}

	_, err := b.Flush(context.Background(), w)
	require.NoError(t, err)
	checkInvariants(t, b)
	assert.Equal(t, 0, b.PendingCount())
	assert.Equal(t, b.CurrentLSN(), b.DurableLSN())
}

func TestBuffer_FlushDrainsAll(t *testing.T) {
	b := New()
	require.NoError(t, b.Init(0))

	for i := 0; i < 10; i++ {
		_, err := b.Append(ModuleBufferPool, []byte{byte(i)})
		require.NoError(t, err)
	}

	w := &recordingWriter{}
	n, err := b.Flush(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 0, b.PendingCount())
	assert.Equal(t, int64(0), b.PendingBytes())
	assert.Equal(t, b.CurrentLSN(), b.DurableLSN())
	assert.Equal(t, []LSN{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, w.lsns())
}

func TestBuffer_FlushEmpty(t *testing.T) {
	b := New()
	require.NoError(t, b.Init(7))

	n, err := b.Flush(context.Background(), &recordingWriter{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, LSN(7), b.DurableLSN())
}

func TestBuffer_FlushFailsOnKth(t *testing.T) {
	const k = 4

	b := New()
	require.NoError(t, b.Init(0))
	for i := 0; i < 6; i++ {
		_, err := b.Append(ModuleBPlusTree, make([]byte, 10*(i+1)))
		require.NoError(t, err)
	}
	before := b.PendingBytes()
	var durableBytes int64
	for i := 0; i < k-1; i++ {
		durableBytes += TotalSize(10 * (i + 1))
	}

	w := &recordingWriter{failOn: map[int]bool{k: true}}
	n, err := b.Flush(context.Background(), w)

	require.ErrorIs(t, err, errDiskFull)
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, LSN(k), we.LSN)

	assert.Equal(t, k-1, n)
	assert.Equal(t, LSN(k-1), b.DurableLSN())
	assert.Equal(t, 6-(k-1), b.PendingCount())
	assert.Equal(t, before-durableBytes, b.PendingBytes())

	b.mu.Lock()
	head := b.pending.Front().Value.(*Record)
	b.mu.Unlock()
	assert.Equal(t, LSN(k), head.LSN())
	checkInvariants(t, b)
}

func TestBuffer_FlushFirstWriteFailsKeepsBytes(t *testing.T) {
	b := New()
	require.NoError(t, b.Init(0))
	_, err := b.Append(ModuleBufferPool, make([]byte, 10))
	require.NoError(t, err)
	before := b.PendingBytes()

	n, err := b.Flush(context.Background(), &recordingWriter{failOn: map[int]bool{1: true}})
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, before, b.PendingBytes())
	assert.Equal(t, 1, b.PendingCount())
	assert.Equal(t, LSN(0), b.DurableLSN())
}

func TestBuffer_RetryAfterPartialFailure(t *testing.T) {
	rng := testutil.NewRNG(99)
	payloads := rng.Payloads(20, 128)

	fill := func() *Buffer {
		b := New()
		require.NoError(t, b.Init(1000))
		for i, p := range payloads {
			_, err := b.Append(Module(i%4), p)
			require.NoError(t, err)
		}
		return b
	}

	clean := &recordingWriter{}
	ref := fill()
	_, err := ref.Flush(context.Background(), clean)
	require.NoError(t, err)

	b := fill()
	flaky := &recordingWriter{failOn: map[int]bool{5: true}}
	n1, err := b.Flush(context.Background(), flaky)
	require.Error(t, err)
	assert.Equal(t, 4, n1)

	// The same writer succeeds from the sixth call on.
	n2, err := b.Flush(context.Background(), flaky)
	require.NoError(t, err)
	assert.Equal(t, 16, n2)

	assert.Equal(t, ref.Stats(), b.Stats())
	assert.Equal(t, clean.lsns(), flaky.lsns())
	for i := range clean.written {
		assert.Equal(t, clean.written[i].Payload(), flaky.written[i].Payload())
		assert.Equal(t, clean.written[i].Module(), flaky.written[i].Module())
	}
}

func TestBuffer_Scenario(t *testing.T) {
	b := New()
	require.NoError(t, b.Init(0))

	a, err := b.Append(ModuleTransaction, make([]byte, 10))
	require.NoError(t, err)
	bb, err := b.Append(ModuleTransaction, make([]byte, 20))
	require.NoError(t, err)
	assert.Equal(t, LSN(1), a)
	assert.Equal(t, LSN(2), bb)
	// Pending bytes count the record header too: 10+18 and 20+18.
	assert.Equal(t, int64(66), b.PendingBytes())

	failOnTwo := WriterFunc(func(_ context.Context, rec *Record) error {
		if rec.LSN() == 2 {
			return errDiskFull
		}
		return nil
	})
	n, err := b.Flush(context.Background(), failOnTwo)
	assert.Equal(t, 1, n)
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, LSN(1), b.DurableLSN())
	assert.Equal(t, 1, b.PendingCount())
	assert.Equal(t, TotalSize(20), b.PendingBytes())

	n, err = b.Flush(context.Background(), &recordingWriter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, LSN(2), b.DurableLSN())
	assert.Equal(t, 0, b.PendingCount())
	assert.Equal(t, int64(0), b.PendingBytes())
}

func TestBuffer_ConcurrentAppendDenseLSNs(t *testing.T) {
	const (
		start     = 500
		producers = 32
		perWorker = 250
	)

	b := New()
	require.NoError(t, b.Init(start))

	var mu sync.Mutex
	seen := roaring64.New()

	var g errgroup.Group
	for p := 0; p < producers; p++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				lsn, err := b.Append(Module(p%4), []byte{byte(p), byte(i)})
				if err != nil {
					return err
				}
				mu.Lock()
				seen.Add(uint64(lsn))
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	total := uint64(producers * perWorker)
	assert.Equal(t, total, seen.GetCardinality())
	assert.Equal(t, uint64(start+1), seen.Minimum())
	assert.Equal(t, uint64(start)+total, seen.Maximum())
	checkInvariants(t, b)
}

func TestBuffer_AppendDuringFlush(t *testing.T) {
	b := New()
	require.NoError(t, b.Init(0))
	for i := 0; i < 100; i++ {
		_, err := b.Append(ModuleBufferPool, []byte("seed"))
		require.NoError(t, err)
	}

	slow := WriterFunc(func(ctx context.Context, rec *Record) error {
		time.Sleep(100 * time.Microsecond)
		return nil
	})

	var g errgroup.Group
	g.Go(func() error {
		for b.PendingCount() > 0 {
			if _, err := b.Flush(context.Background(), slow); err != nil {
				return err
			}
		}
		return nil
	})
	for p := 0; p < 4; p++ {
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				if _, err := b.Append(ModuleTransaction, []byte("more")); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	_, err := b.Flush(context.Background(), slow)
	require.NoError(t, err)
	assert.Equal(t, LSN(300), b.DurableLSN())
	checkInvariants(t, b)
}

func TestBuffer_ConcurrentFlushRejected(t *testing.T) {
	b := New()
	require.NoError(t, b.Init(0))
	_, err := b.Append(ModuleBufferPool, []byte("a"))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := WriterFunc(func(context.Context, *Record) error {
		close(entered)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := b.Flush(context.Background(), blocking)
		done <- err
	}()
	<-entered

	n, err := b.Flush(context.Background(), &recordingWriter{})
	assert.ErrorIs(t, err, ErrFlushInProgress)
	assert.Equal(t, 0, n)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, LSN(1), b.DurableLSN())
}

func TestBuffer_WaitDurable(t *testing.T) {
	b := New()
	require.NoError(t, b.Init(0))

	lsn, err := b.Append(ModuleTransaction, []byte("commit"))
	require.NoError(t, err)

	assert.ErrorIs(t, b.WaitDurable(context.Background(), lsn+1), ErrLSNNotAllocated)

	waited := make(chan error, 1)
	go func() { waited <- b.WaitDurable(context.Background(), lsn) }()

	_, err = b.Flush(context.Background(), &recordingWriter{})
	require.NoError(t, err)

	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WaitDurable did not return")
	}

	// Already durable returns immediately.
	require.NoError(t, b.WaitDurable(context.Background(), lsn))
}

func TestBuffer_WaitDurableContext(t *testing.T) {
	b := New()
	require.NoError(t, b.Init(0))
	lsn, err := b.Append(ModuleTransaction, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, b.WaitDurable(ctx, lsn), context.DeadlineExceeded)
}

func TestBuffer_WriterReceivesContext(t *testing.T) {
	type key struct{}
	b := New()
	require.NoError(t, b.Init(0))
	_, err := b.Append(ModuleBufferPool, nil)
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), key{}, "v")
	var got any
	_, err = b.Flush(ctx, WriterFunc(func(ctx context.Context, _ *Record) error {
		got = ctx.Value(key{})
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestRecord(t *testing.T) {
	r, err := NewRecord(3, ModuleRecordManager, []byte("abcd"), 0)
	require.NoError(t, err)

	assert.Equal(t, LSN(3), r.LSN())
	assert.Equal(t, ModuleRecordManager, r.Module())
	assert.Equal(t, int64(HeaderSize+4), r.TotalSize())
	assert.Equal(t, "record_manager", r.Module().String())
	assert.Equal(t, "module(200)", Module(200).String())
	assert.Contains(t, r.String(), "lsn=3")
}
