package archive

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/walbuf/blobstore"
	"github.com/hupe1980/walbuf/buffer"
	"github.com/hupe1980/walbuf/internal/frame"
)

// DefaultPrefetch is the number of objects a Reader fetches concurrently.
const DefaultPrefetch = 8

// Reader returns archived records in LSN order.
type Reader struct {
	store    blobstore.Store
	objs     []object
	prefetch int

	batch []*buffer.Record
	pos   int
}

// NewReader lists the archive under prefix and returns a reader positioned at
// the first record with LSN >= from.
func NewReader(ctx context.Context, store blobstore.Store, prefix string, from buffer.LSN) (*Reader, error) {
	objs, err := list(ctx, store, prefix)
	if err != nil {
		return nil, err
	}
	start := 0
	for start < len(objs) && objs[start].lsn < from {
		start++
	}
	return &Reader{store: store, objs: objs[start:], prefetch: DefaultPrefetch}, nil
}

// Next returns the next record, or io.EOF when the archive is exhausted.
func (r *Reader) Next(ctx context.Context) (*buffer.Record, error) {
	if r.pos == len(r.batch) {
		if len(r.objs) == 0 {
			return nil, io.EOF
		}
		if err := r.fill(ctx); err != nil {
			return nil, err
		}
	}
	rec := r.batch[r.pos]
	r.pos++
	return rec, nil
}

// fill fetches the next batch of objects concurrently.
func (r *Reader) fill(ctx context.Context) error {
	n := min(r.prefetch, len(r.objs))
	batch := make([]*buffer.Record, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		o := r.objs[i]
		g.Go(func() error {
			data, err := r.store.Get(gctx, o.name)
			if err != nil {
				return fmt.Errorf("archive: get %s: %w", o.name, err)
			}
			rec, _, err := frame.DecodeBytes(data)
			if err != nil {
				return fmt.Errorf("archive: decode %s: %w", o.name, err)
			}
			if rec.LSN() != o.lsn {
				return fmt.Errorf("archive: %s holds lsn %d", o.name, rec.LSN())
			}
			batch[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.objs = r.objs[n:]
	r.batch = batch
	r.pos = 0
	return nil
}
