// Package pebblestore is a stable log writer backed by a Pebble database.
//
// Records are stored as frames under the key "r/" followed by the big-endian
// LSN, so Pebble's key order is LSN order. [Store] implements buffer.Writer
// and can replace a segment file wherever an embedded key-value store is
// already in use.
package pebblestore
