package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/walbuf/blobstore"
	"github.com/hupe1980/walbuf/buffer"
	"github.com/hupe1980/walbuf/internal/frame"
)

const objectSuffix = ".rec"

// ErrOutOfOrder is returned when a record would leave a hole in the archive.
var ErrOutOfOrder = errors.New("archive: record out of order")

// ObjectName returns the object name for lsn under prefix.
func ObjectName(prefix string, lsn buffer.LSN) string {
	return path.Join(prefix, fmt.Sprintf("%020d%s", uint64(lsn), objectSuffix))
}

// ParseObjectName extracts the LSN from an object name created by ObjectName.
func ParseObjectName(name string) (buffer.LSN, bool) {
	base := path.Base(name)
	if !strings.HasSuffix(base, objectSuffix) {
		return buffer.InvalidLSN, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(base, objectSuffix), 10, 64)
	if err != nil {
		return buffer.InvalidLSN, false
	}
	return buffer.LSN(n), true
}

// Options configures an archive Writer.
type Options struct {
	Codec  frame.Codec
	Logger *slog.Logger
}

// DefaultOptions returns the default archive options. Archived records are
// compressed with zstd.
func DefaultOptions() Options {
	return Options{Codec: frame.CodecZstd}
}

// Writer puts each record into the store as its own object.
type Writer struct {
	store  blobstore.Store
	prefix string
	opts   Options

	mu     sync.Mutex
	last   buffer.LSN
	digest uint32 // frame.Digest of the last record
}

// Open creates a writer for prefix and recovers the last archived LSN.
func Open(ctx context.Context, store blobstore.Store, prefix string, optFns ...func(o *Options)) (*Writer, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if !opts.Codec.Valid() {
		return nil, fmt.Errorf("archive: %w: %d", frame.ErrUnknownCodec, opts.Codec)
	}

	last, err := LastLSN(ctx, store, prefix)
	if err != nil {
		return nil, err
	}
	w := &Writer{store: store, prefix: prefix, opts: opts, last: last}
	if last != buffer.InvalidLSN {
		data, err := store.Get(ctx, ObjectName(prefix, last))
		if err != nil {
			return nil, fmt.Errorf("archive: read record %d: %w", last, err)
		}
		rec, _, err := frame.DecodeBytes(data)
		if err != nil {
			return nil, fmt.Errorf("archive: decode record %d: %w", last, err)
		}
		w.digest = frame.Digest(rec)
	}
	if opts.Logger != nil {
		opts.Logger.Info("archive opened", "prefix", prefix, "last_lsn", uint64(last))
	}
	return w, nil
}

// Write stores rec as one object. A retry of the last archived record is
// acknowledged without writing; any other LSN the archive already holds fails
// with ErrOutOfOrder.
func (w *Writer) Write(ctx context.Context, rec *buffer.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	digest := frame.Digest(rec)
	if w.last != buffer.InvalidLSN {
		switch {
		case rec.LSN() == w.last && digest == w.digest:
			return nil
		case rec.LSN() <= w.last:
			return fmt.Errorf("%w: lsn %d already archived (last %d)", ErrOutOfOrder, rec.LSN(), w.last)
		case rec.LSN() != w.last+1:
			return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, rec.LSN(), w.last+1)
		}
	}

	data, err := frame.Encode(nil, rec, w.opts.Codec)
	if err != nil {
		return err
	}
	if err := w.store.Put(ctx, ObjectName(w.prefix, rec.LSN()), data); err != nil {
		return err
	}
	w.last = rec.LSN()
	w.digest = digest
	return nil
}

// LastLSN returns the highest LSN written or recovered by this writer.
func (w *Writer) LastLSN() buffer.LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Prune deletes every archived record with LSN <= upTo. It returns the number
// of objects removed.
func (w *Writer) Prune(ctx context.Context, upTo buffer.LSN) (int, error) {
	names, err := list(ctx, w.store, w.prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, o := range names {
		if o.lsn > upTo {
			break
		}
		if err := w.store.Delete(ctx, o.name); err != nil {
			return removed, err
		}
		removed++
	}
	if w.opts.Logger != nil && removed > 0 {
		w.opts.Logger.Debug("archive pruned", "prefix", w.prefix, "up_to", uint64(upTo), "removed", removed)
	}
	return removed, nil
}

type object struct {
	name string
	lsn  buffer.LSN
}

// list returns the record objects under prefix in LSN order.
func list(ctx context.Context, store blobstore.Store, prefix string) ([]object, error) {
	listPrefix := prefix
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}
	names, err := store.List(ctx, listPrefix)
	if err != nil {
		return nil, err
	}
	dir := path.Clean(prefix)
	out := make([]object, 0, len(names))
	for _, name := range names {
		if path.Dir(name) != dir {
			continue // nested prefix
		}
		lsn, ok := ParseObjectName(name)
		if !ok {
			continue
		}
		out = append(out, object{name: name, lsn: lsn})
	}
	return out, nil
}

// LastLSN returns the highest archived LSN under prefix, or InvalidLSN when the
// archive is empty.
func LastLSN(ctx context.Context, store blobstore.Store, prefix string) (buffer.LSN, error) {
	objs, err := list(ctx, store, prefix)
	if err != nil {
		return buffer.InvalidLSN, err
	}
	if len(objs) == 0 {
		return buffer.InvalidLSN, nil
	}
	return objs[len(objs)-1].lsn, nil
}
