// Package walbuf provides the in-memory staging side of a write-ahead log.
//
// Producers append log records to a Log and get a log sequence number (LSN)
// back immediately. A background loop drains the records, strictly in LSN
// order, into a stable writer; an LSN is durable once the writer confirmed it.
//
// # Quick Start
//
//	ctx := context.Background()
//	seg, _ := segment.Open(nil, "./wal/000001.seg")
//	start, _ := segment.Recover(nil, "./wal/000001.seg")
//	log, _ := walbuf.Open(ctx, seg, walbuf.WithStartLSN(start))
//	defer log.Close(ctx)
//
//	lsn, _ := log.Append(ctx, buffer.ModuleTransaction, payload)
//	_ = log.WaitDurable(ctx, lsn) // or log.Commit(ctx, ...)
//
// # Stable Writers
//
// Any buffer.Writer can back a Log:
//
//   - segment: a single append-only file with CRC-checked frames
//   - pebblestore: records keyed by LSN in a Pebble database
//   - archive: one object per record in a blobstore (local, S3, MinIO)
//
// Tee fans every record out to several writers at once.
//
// # Durability Model
//
// A failed write leaves the record and everything after it pending; the flush
// loop retries with exponential backoff. Records are never reordered and never
// reported durable twice. The durable LSN can be persisted with
// WithCheckpoint (file, memory or DynamoDB) and is used as the start LSN when
// the log is reopened.
//
// # Backpressure
//
// WithPendingLimit bounds the bytes held in memory: Append blocks until the
// flush loop has freed enough room. WithIOLimit throttles the writer.
package walbuf
