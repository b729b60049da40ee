// Package flusher drives a buffer.Buffer to stable storage.
//
// The buffer only knows how to drain itself; a Flusher decides when. It is the
// single flush driver the buffer requires: Flush calls are serialized, and Run
// flushes on a timer, on Notify, and retries failed writes with exponential
// backoff. After every flush the durable LSN is saved to an optional
// checkpoint.Store.
//
//	f := flusher.New(buf, segmentWriter, func(o *flusher.Options) {
//	    o.Interval = 5 * time.Millisecond
//	    o.Checkpoint = checkpoint.NewFileStore(nil, "wal/CHECKPOINT")
//	})
//	go f.Run(ctx)
package flusher
