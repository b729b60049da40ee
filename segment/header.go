package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	segMagic      = "WBSEGLOG" // 8 bytes
	segVersion    = 1          // 4 bytes
	segHeaderSize = 12
)

var (
	ErrIncompatibleVersion = errors.New("incompatible segment version")
	ErrInvalidHeader       = errors.New("invalid segment header")
)

func writeHeader(w io.Writer) error {
	header := make([]byte, segHeaderSize)
	copy(header[0:8], segMagic)
	binary.LittleEndian.PutUint32(header[8:12], uint32(segVersion))
	_, err := w.Write(header)
	return err
}

func readHeader(r io.ReaderAt, size int64) error {
	if size < segHeaderSize {
		return fmt.Errorf("%w: file too small (%d < %d)", ErrInvalidHeader, size, segHeaderSize)
	}
	header := make([]byte, segHeaderSize)
	if _, err := r.ReadAt(header, 0); err != nil {
		return err
	}
	if string(header[0:8]) != segMagic {
		return fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, header[0:8])
	}
	ver := binary.LittleEndian.Uint32(header[8:12])
	if ver != segVersion {
		return fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, ver, segVersion)
	}
	return nil
}
