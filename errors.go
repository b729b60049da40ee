package walbuf

import "errors"

var (
	// ErrClosed is returned by operations on a closed Log.
	ErrClosed = errors.New("walbuf: log closed")

	// ErrInvalidOption is returned by Open when an option value is out of range.
	ErrInvalidOption = errors.New("walbuf: invalid option")

	// ErrWriterAhead is returned by Open when WithStartLSN is behind the last
	// record the writer already holds.
	ErrWriterAhead = errors.New("walbuf: writer is ahead of start lsn")
)
