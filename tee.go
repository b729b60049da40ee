package walbuf

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/walbuf/buffer"
)

// TeeWriter writes every record to several stable writers concurrently.
//
// A record counts as durable only when all writers stored it. After a partial
// failure the record is retried on every writer, so the writers must
// acknowledge records they already hold (segment, pebblestore and archive do).
type TeeWriter struct {
	writers []buffer.Writer
}

// Tee creates a TeeWriter over writers.
func Tee(writers ...buffer.Writer) *TeeWriter {
	return &TeeWriter{writers: writers}
}

// Write implements buffer.Writer.
func (t *TeeWriter) Write(ctx context.Context, rec *buffer.Record) error {
	if len(t.writers) == 1 {
		return t.writers[0].Write(ctx, rec)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range t.writers {
		g.Go(func() error {
			return w.Write(gctx, rec)
		})
	}
	return g.Wait()
}

// LastLSN returns the highest LSN held by any writer that implements
// Positioner.
func (t *TeeWriter) LastLSN() buffer.LSN {
	last := buffer.InvalidLSN
	for _, w := range t.writers {
		if p, ok := w.(Positioner); ok {
			last = max(last, p.LastLSN())
		}
	}
	return last
}

// Close closes every writer that implements io.Closer.
func (t *TeeWriter) Close() error {
	var errs []error
	for _, w := range t.writers {
		if c, ok := w.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
