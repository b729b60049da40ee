// Package checkpoint persists the durable LSN of a log.
//
// After every successful flush the flush driver saves the buffer's durable LSN;
// on restart the saved value is loaded and passed to buffer.Init so that LSN
// allocation continues where it stopped. Saves are monotonic: storing an LSN
// lower than the current checkpoint is a no-op, so concurrent or reordered
// saves can never move the checkpoint backwards.
//
// Implementations:
//
//   - MemoryStore: process-local, for tests
//   - FileStore: a small checksummed file replaced atomically
//   - DynamoStore: a DynamoDB item updated with a conditional write
package checkpoint
