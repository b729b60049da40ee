package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/hupe1980/walbuf/buffer"
	"github.com/hupe1980/walbuf/internal/frame"
)

// FsyncMode defines durability behavior for writes.
type FsyncMode int

const (
	// FsyncModeAlways syncs the Pebble WAL on every record.
	FsyncModeAlways FsyncMode = iota
	// FsyncModeInterval syncs every record but lets Pebble coalesce WAL syncs
	// that arrive within FsyncInterval (group commit).
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble. A record may be lost on crash
	// even though Write returned nil.
	FsyncModeNever
)

var (
	// ErrOutOfOrder is returned when a record does not directly follow the last one stored.
	ErrOutOfOrder = errors.New("pebblestore: record out of order")
	// ErrNotFound is returned by Get for an LSN that is not stored.
	ErrNotFound = errors.New("pebblestore: record not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pebblestore: closed")
)

var recordPrefix = []byte("r/")

// Options configures the store.
type Options struct {
	Fsync FsyncMode
	// FsyncInterval is the group-commit window for FsyncModeInterval.
	FsyncInterval time.Duration
	Codec         frame.Codec
	// PebbleOptions allows advanced tuning of Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
	Logger        *slog.Logger
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		Fsync:         FsyncModeAlways,
		FsyncInterval: 5 * time.Millisecond,
		Codec:         frame.CodecNone,
	}
}

// Store writes log records into Pebble.
type Store struct {
	db        *pebble.DB
	opts      Options
	writeOpts *pebble.WriteOptions

	mu      sync.Mutex
	last    buffer.LSN
	digest  uint32 // frame.Digest of the last record
	closed  bool
	scratch []byte
}

// Open opens or creates the store in dir.
func Open(dir string, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if !opts.Codec.Valid() {
		return nil, fmt.Errorf("pebblestore: %w: %d", frame.ErrUnknownCodec, opts.Codec)
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	writeOpts := pebble.Sync
	switch opts.Fsync {
	case FsyncModeAlways:
	case FsyncModeInterval:
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	case FsyncModeNever:
		writeOpts = pebble.NoSync
	default:
		return nil, fmt.Errorf("pebblestore: unknown fsync mode %d", opts.Fsync)
	}

	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, opts: opts, writeOpts: writeOpts}
	last, digest, err := s.lastStored()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.last, s.digest = last, digest

	if opts.Logger != nil {
		opts.Logger.Info("pebble log store opened", "dir", dir, "last_lsn", uint64(last))
	}
	return s, nil
}

func recordKey(lsn buffer.LSN) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], uint64(lsn))
	return key
}

func keyLSN(key []byte) buffer.LSN {
	return buffer.LSN(binary.BigEndian.Uint64(key[len(recordPrefix):]))
}

// prefixEnd is the exclusive upper bound of all record keys.
func prefixEnd() []byte {
	end := append([]byte(nil), recordPrefix...)
	end[len(end)-1]++
	return end
}

// lastStored returns the LSN and digest of the newest record.
func (s *Store) lastStored() (buffer.LSN, uint32, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: recordPrefix, UpperBound: prefixEnd()})
	if err != nil {
		return buffer.InvalidLSN, 0, err
	}
	defer func() { _ = it.Close() }()

	if !it.Last() {
		return buffer.InvalidLSN, 0, it.Error()
	}
	lsn := keyLSN(it.Key())
	rec, _, err := frame.DecodeBytes(it.Value())
	if err != nil {
		return buffer.InvalidLSN, 0, fmt.Errorf("pebblestore: decode record %d: %w", lsn, err)
	}
	return lsn, frame.Digest(rec), nil
}

// Write stores rec. A retry of the last stored record is acknowledged without
// writing; any other LSN the store already holds fails with ErrOutOfOrder.
func (s *Store) Write(ctx context.Context, rec *buffer.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	digest := frame.Digest(rec)
	if s.last != buffer.InvalidLSN {
		switch {
		case rec.LSN() == s.last && digest == s.digest:
			return nil
		case rec.LSN() <= s.last:
			return fmt.Errorf("%w: lsn %d already stored (last %d)", ErrOutOfOrder, rec.LSN(), s.last)
		case rec.LSN() != s.last+1:
			return fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, rec.LSN(), s.last+1)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := frame.Encode(s.scratch[:0], rec, s.opts.Codec)
	if err != nil {
		return err
	}
	s.scratch = value

	if err := s.db.Set(recordKey(rec.LSN()), value, s.writeOpts); err != nil {
		return err
	}
	s.last = rec.LSN()
	s.digest = digest
	return nil
}

// LastLSN returns the highest stored LSN.
func (s *Store) LastLSN() buffer.LSN {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Get returns the record stored under lsn.
func (s *Store) Get(lsn buffer.LSN) (*buffer.Record, error) {
	value, closer, err := s.db.Get(recordKey(lsn))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer func() { _ = closer.Close() }()

	rec, _, err := frame.DecodeBytes(value)
	return rec, err
}

// Scan calls fn for every stored record with LSN >= from, in LSN order.
// Iteration stops at the first error returned by fn.
func (s *Store) Scan(ctx context.Context, from buffer.LSN, fn func(rec *buffer.Record) error) error {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: recordKey(from), UpperBound: prefixEnd()})
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()

	for valid := it.First(); valid; valid = it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, _, err := frame.DecodeBytes(it.Value())
		if err != nil {
			return fmt.Errorf("pebblestore: decode lsn %d: %w", keyLSN(it.Key()), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return it.Error()
}

// Truncate deletes every record with LSN <= upTo and compacts the freed range.
func (s *Store) Truncate(upTo buffer.LSN) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	start := recordKey(buffer.InvalidLSN)
	end := prefixEnd()
	if upTo < buffer.LSN(^uint64(0)) {
		end = recordKey(upTo + 1)
	}
	if err := s.db.DeleteRange(start, end, s.writeOpts); err != nil {
		return err
	}
	if err := s.db.Compact(start, end, true); err != nil {
		return err
	}

	if s.opts.Logger != nil {
		s.opts.Logger.Debug("pebble log store truncated", "up_to", uint64(upTo))
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.db.Close()
}
