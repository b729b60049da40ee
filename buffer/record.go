package buffer

import (
	"fmt"
)

// LSN is a log sequence number. LSNs are dense and strictly increasing for the
// lifetime of a Buffer.
type LSN uint64

// InvalidLSN is the LSN of an empty log.
const InvalidLSN LSN = 0

// Module identifies the subsystem that produced a record.
// The buffer never interprets it.
type Module uint8

const (
	ModuleBufferPool Module = iota
	ModuleBPlusTree
	ModuleRecordManager
	ModuleTransaction
)

func (m Module) String() string {
	switch m {
	case ModuleBufferPool:
		return "buffer_pool"
	case ModuleBPlusTree:
		return "bplus_tree"
	case ModuleRecordManager:
		return "record_manager"
	case ModuleTransaction:
		return "transaction"
	default:
		return fmt.Sprintf("module(%d)", uint8(m))
	}
}

// HeaderSize is the fixed per-record overhead used for accounting.
// It matches the on-disk frame header: [CRC32:4][LSN:8][Module:1][Codec:1][Length:4].
const HeaderSize = 4 + 8 + 1 + 1 + 4

// Record is an immutable log record.
type Record struct {
	lsn     LSN
	module  Module
	payload []byte
}

// NewRecord builds a record that owns a copy of payload.
// A nil or empty payload is a marker record.
func NewRecord(lsn LSN, module Module, payload []byte, maxPayload int) (*Record, error) {
	if maxPayload > 0 && len(payload) > maxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), maxPayload)
	}
	var owned []byte
	if len(payload) > 0 {
		owned = make([]byte, len(payload))
		copy(owned, payload)
	}
	return &Record{lsn: lsn, module: module, payload: owned}, nil
}

// LSN returns the sequence number assigned to the record.
func (r *Record) LSN() LSN { return r.lsn }

// Module returns the producer tag.
func (r *Record) Module() Module { return r.module }

// Payload returns the record body. Callers must not modify it.
func (r *Record) Payload() []byte { return r.payload }

// TotalSize returns the payload length plus HeaderSize.
func (r *Record) TotalSize() int64 { return TotalSize(len(r.payload)) }

// TotalSize returns the accounted size of a record with an n-byte payload.
func TotalSize(n int) int64 { return int64(HeaderSize + n) }

func (r *Record) String() string {
	return fmt.Sprintf("Record{lsn=%d module=%s size=%d}", r.lsn, r.module, len(r.payload))
}
