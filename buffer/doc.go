// Package buffer implements the in-memory staging buffer of the write-ahead log.
//
// Producers call [Buffer.Append] and get back the LSN assigned to their record.
// A single flush driver calls [Buffer.Flush], which hands queued records to a
// [Writer] one at a time in LSN order and advances the durable LSN after each
// successful write.
//
// # Accounting
//
// The buffer tracks four values under one lock:
//
//   - CurrentLSN: highest LSN handed out
//   - DurableLSN: highest LSN the writer confirmed
//   - PendingCount / PendingBytes: records queued and their [Record.TotalSize] sum
//
// Flush removes a record and debits its bytes before the write, and restores both
// if the write fails, so PendingBytes always matches the queue between operations.
//
// # Ordering
//
// A write failure on record N stops the flush: nothing after N is offered to the
// writer until N succeeds, so the durable log never has holes.
//
//	b := buffer.New()
//	_ = b.Init(recoveredLSN)
//	lsn, err := b.Append(buffer.ModuleTransaction, payload)
//	n, err := b.Flush(ctx, writer)
//	err = b.WaitDurable(ctx, lsn)
package buffer
