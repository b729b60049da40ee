package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/walbuf/buffer"
	"github.com/hupe1980/walbuf/internal/fs"
	"github.com/hupe1980/walbuf/internal/frame"
)

// Durability controls when a write is considered durable.
type Durability int

const (
	// DurabilityAsync relies on OS page cache. Fast but risky.
	DurabilityAsync Durability = iota
	// DurabilitySync calls fdatasync after every record. Slow but safe.
	DurabilitySync
)

// Codec re-exports the frame codecs for callers of this package.
type Codec = frame.Codec

const (
	CodecNone = frame.CodecNone
	CodecLZ4  = frame.CodecLZ4
	CodecZstd = frame.CodecZstd
)

var (
	// ErrOutOfOrder is returned when a record does not directly follow the last one written.
	ErrOutOfOrder = errors.New("segment: record out of order")
)

// Options configures a segment Writer.
type Options struct {
	Durability Durability
	Codec      Codec
	Logger     *slog.Logger
}

// DefaultOptions returns the default segment options.
func DefaultOptions() Options {
	return Options{Durability: DurabilitySync, Codec: CodecNone}
}

// Writer appends log records to a single segment file.
//
// Each Write is all-or-nothing: a failed write truncates the file back to the
// end of the last complete record.
type Writer struct {
	mu      sync.Mutex
	fs      fs.FileSystem
	file    fs.File
	path    string
	opts    Options
	offset  int64 // end of the last complete frame
	first   buffer.LSN
	last    buffer.LSN
	digest  uint32 // frame.Digest of the last record
	closed  bool
	lastErr error // set when a rollback failed; the file needs recovery
	scratch []byte
}

// Open opens or creates the segment at path. An existing segment is scanned and
// any torn or corrupt tail is cut off.
func Open(fsys fs.FileSystem, path string, optFns ...func(o *Options)) (*Writer, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if !opts.Codec.Valid() {
		return nil, fmt.Errorf("segment: %w: %d", frame.ErrUnknownCodec, opts.Codec)
	}

	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	w := &Writer{
		fs:   fsys,
		file: f,
		path: path,
		opts: opts,
	}

	if stat.Size() == 0 {
		if err := writeHeader(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := fs.SyncData(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := fs.SyncDir(fsys, filepath.Dir(path)); err != nil {
			_ = f.Close()
			return nil, err
		}
		w.offset = segHeaderSize
		return w, nil
	}

	if err := readHeader(f, stat.Size()); err != nil {
		_ = f.Close()
		return nil, err
	}

	res, err := scan(f, stat.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if res.end < stat.Size() {
		if opts.Logger != nil {
			opts.Logger.Warn("truncating segment tail",
				"path", path,
				"last_lsn", uint64(res.last),
				"valid_bytes", res.end,
				"dropped_bytes", stat.Size()-res.end,
				"error", res.tailErr,
			)
		}
		if err := f.Truncate(res.end); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("segment: truncate tail: %w", err)
		}
		if err := fs.SyncData(f); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	w.offset = res.end
	w.first = res.first
	w.last = res.last
	w.digest = res.digest
	return w, nil
}

// Write appends rec to the segment.
//
// A retry of the last stored record (same LSN, module and payload) is
// acknowledged without writing. Any other record must carry LastLSN()+1,
// except the first record of an empty segment; an LSN the segment already
// holds fails with ErrOutOfOrder.
func (w *Writer) Write(ctx context.Context, rec *buffer.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	digest := frame.Digest(rec)
	if w.last != buffer.InvalidLSN {
		switch {
		case rec.LSN() == w.last && digest == w.digest:
			return nil
		case rec.LSN() <= w.last:
			return fmt.Errorf("%w: lsn %d already stored (last %d)", ErrOutOfOrder, rec.LSN(), w.last)
		case rec.LSN() != w.last+1:
			return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, rec.LSN(), w.last+1)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	buf, err := frame.Encode(w.scratch[:0], rec, w.opts.Codec)
	if err != nil {
		return err
	}
	w.scratch = buf

	if _, err := w.file.Write(buf); err != nil {
		return w.rollback(err)
	}
	if w.opts.Durability == DurabilitySync {
		if err := fs.SyncData(w.file); err != nil {
			return w.rollback(err)
		}
	}

	w.offset += int64(len(buf))
	if w.first == buffer.InvalidLSN {
		w.first = rec.LSN()
	}
	w.last = rec.LSN()
	w.digest = digest
	return nil
}

// rollback cuts the file back to the last complete frame. Caller must hold w.mu.
func (w *Writer) rollback(cause error) error {
	if err := w.file.Truncate(w.offset); err != nil {
		w.lastErr = fmt.Errorf("segment: rollback after %v failed: %w", cause, err)
		return w.lastErr
	}
	return cause
}

// Sync forces written records to stable storage. It is only needed with DurabilityAsync.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	return fs.SyncData(w.file)
}

// FirstLSN returns the LSN of the first record in the segment.
func (w *Writer) FirstLSN() buffer.LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.first
}

// LastLSN returns the LSN of the last complete record in the segment.
func (w *Writer) LastLSN() buffer.LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Size returns the size of the segment in bytes, header included.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// Path returns the segment file path.
func (w *Writer) Path() string {
	return w.path
}

// Close syncs and closes the segment file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	w.closed = true

	if err := fs.SyncData(w.file); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}
