// Package archive stores log records as individual objects in a blobstore.
//
// Each record becomes one object named <prefix>/<LSN>.rec, with the LSN
// zero-padded to 20 digits so that lexical order is LSN order. The object body
// is the record frame, the same bytes a segment file would hold.
//
//	store := blobstore.NewLocalStore("/var/lib/walbuf/archive", nil)
//	w, err := archive.Open(ctx, store, "node-1")
//	n, err := buf.Flush(ctx, w)
//
// Because a Put replaces the whole object, rewriting a record after a partial
// failure is harmless.
package archive
