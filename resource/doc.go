// Package resource bounds the memory and IO used by a log.
//
// A Controller holds two budgets:
//
//   - pending bytes: producers reserve a record's total size before appending
//     and block while the buffer holds too much undurable data
//   - IO rate: a token bucket that paces writes to stable storage
//
// ThrottledWriter ties both to a buffer.Writer: it waits for IO budget before
// each write and releases the pending reservation once the record is durable.
package resource
