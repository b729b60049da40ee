// Package segment stores log records in a single append-only file.
//
// A segment starts with a 12-byte header (magic "WBSEGLOG" and a version) and
// is followed by frames in strictly increasing, dense LSN order. [Writer]
// implements buffer.Writer, so a segment can be the stable storage behind a
// buffer.Buffer:
//
//	w, err := segment.Open(nil, "wal/000001.seg")
//	n, err := buf.Flush(ctx, w)
//
// Each Write either lands completely or is rolled back by truncating the file to
// the end of the previous frame. Open cuts off a torn tail left by a crash, and
// [Recover] returns the LSN a restarted buffer should be initialized with.
package segment
