package buffer

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge is returned by Append when the payload exceeds Options.MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("log record payload too large")

	// ErrAlreadyInitialized is returned by Init when the buffer already has a start LSN
	// or has handed out sequence numbers.
	ErrAlreadyInitialized = errors.New("log buffer already initialized")

	// ErrFlushInProgress is returned when Flush is called while another flush is running.
	// This is a caller bug: flushes must be serialized by a single flush driver.
	ErrFlushInProgress = errors.New("log buffer flush already in progress")

	// ErrLSNNotAllocated is returned by WaitDurable for an LSN that has not been appended yet.
	ErrLSNNotAllocated = errors.New("lsn not allocated")
)

// WriteError reports a failed stable write.
//
// The record with the given LSN is back at the head of the pending queue.
// The original writer error can be accessed via errors.Unwrap.
type WriteError struct {
	LSN LSN
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write log record %d: %v", e.LSN, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
