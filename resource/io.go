package resource

import (
	"context"

	"github.com/hupe1980/walbuf/buffer"
)

// ThrottledWriter wraps a buffer.Writer with the controller's limits.
//
// Every write first waits for IO budget for the record's total size. After a
// successful write the record's pending reservation, taken by whoever appended
// it, is released.
type ThrottledWriter struct {
	w  buffer.Writer
	rc *Controller
}

// NewThrottledWriter creates a new ThrottledWriter.
func NewThrottledWriter(w buffer.Writer, rc *Controller) *ThrottledWriter {
	return &ThrottledWriter{w: w, rc: rc}
}

// Write implements buffer.Writer.
func (t *ThrottledWriter) Write(ctx context.Context, rec *buffer.Record) error {
	size := rec.TotalSize()
	if err := t.rc.AcquireIO(ctx, int(size)); err != nil {
		return err
	}
	if err := t.w.Write(ctx, rec); err != nil {
		return err
	}
	t.rc.ReleasePending(size)
	return nil
}

// Unwrap returns the wrapped writer.
func (t *ThrottledWriter) Unwrap() buffer.Writer {
	return t.w
}
