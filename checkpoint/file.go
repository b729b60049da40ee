package checkpoint

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/walbuf/buffer"
	"github.com/hupe1980/walbuf/internal/fs"
	"github.com/hupe1980/walbuf/internal/hash"
)

// fileSize is the on-disk size: [LSN:8][CRC32C:4].
const fileSize = 12

// FileStore keeps the checkpoint in a single file that is replaced atomically
// on every Save.
type FileStore struct {
	fs   fs.FileSystem
	path string

	mu     sync.Mutex
	loaded bool
	lsn    buffer.LSN
}

// NewFileStore creates a checkpoint stored at path. A nil fsys uses the local file system.
func NewFileStore(fsys fs.FileSystem, path string) *FileStore {
	if fsys == nil {
		fsys = fs.Default
	}
	return &FileStore{fs: fsys, path: path}
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context) (buffer.LSN, error) {
	if err := ctx.Err(); err != nil {
		return buffer.InvalidLSN, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lsn, err := s.read()
	if err != nil {
		return buffer.InvalidLSN, err
	}
	s.lsn = lsn
	s.loaded = true
	return lsn, nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, lsn buffer.LSN) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		cur, err := s.read()
		if err != nil && !errors.Is(err, ErrCorrupt) {
			return err
		}
		s.lsn = cur
		s.loaded = true
	}
	if lsn <= s.lsn {
		return nil
	}

	var buf [fileSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(lsn))
	binary.LittleEndian.PutUint32(buf[8:12], hash.CRC32C(buf[0:8]))
	if err := fs.WriteFileAtomic(s.fs, s.path, buf[:], 0644); err != nil {
		return fmt.Errorf("checkpoint: save %d: %w", lsn, err)
	}
	s.lsn = lsn
	return nil
}

func (s *FileStore) read() (buffer.LSN, error) {
	f, err := s.fs.OpenFile(s.path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return buffer.InvalidLSN, nil
		}
		return buffer.InvalidLSN, err
	}
	defer func() { _ = f.Close() }()

	var buf [fileSize + 1]byte
	n, err := io.ReadFull(f, buf[:])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return buffer.InvalidLSN, err
	}
	if n != fileSize {
		return buffer.InvalidLSN, fmt.Errorf("%w: size %d", ErrCorrupt, n)
	}
	if hash.CRC32C(buf[0:8]) != binary.LittleEndian.Uint32(buf[8:12]) {
		return buffer.InvalidLSN, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return buffer.LSN(binary.LittleEndian.Uint64(buf[0:8])), nil
}
