package checkpoint

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/walbuf/buffer"
)

// ErrCorrupt is returned by Load when the stored checkpoint fails validation.
var ErrCorrupt = errors.New("checkpoint: corrupt")

// Store persists the durable LSN.
type Store interface {
	// Load returns the saved LSN, or buffer.InvalidLSN if nothing was saved yet.
	Load(ctx context.Context) (buffer.LSN, error)
	// Save records lsn unless a higher LSN is already stored.
	Save(ctx context.Context, lsn buffer.LSN) error
}

// MemoryStore keeps the checkpoint in memory.
type MemoryStore struct {
	mu  sync.Mutex
	lsn buffer.LSN
}

// NewMemoryStore creates an empty in-memory checkpoint.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context) (buffer.LSN, error) {
	if err := ctx.Err(); err != nil {
		return buffer.InvalidLSN, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lsn, nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, lsn buffer.LSN) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if lsn > m.lsn {
		m.lsn = lsn
	}
	return nil
}
