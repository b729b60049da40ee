package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/walbuf/buffer"
	"github.com/hupe1980/walbuf/internal/hash"
)

// HeaderSize is the size of the fixed frame header.
// Format: [CRC32:4][LSN:8][Module:1][Codec:1][Length:4][Body:Length]
// The CRC (Castagnoli) covers everything after the CRC field.
const HeaderSize = buffer.HeaderSize

// MaxBodySize bounds a single frame body (100MB).
const MaxBodySize = 100 * 1024 * 1024

var (
	ErrChecksum     = errors.New("invalid log frame checksum")
	ErrTooLarge     = errors.New("log frame too large")
	ErrUnknownCodec = errors.New("unknown log frame codec")
	ErrCorrupt      = errors.New("corrupt log frame")
)

// Encode appends the frame for rec to dst and returns the extended slice.
func Encode(dst []byte, rec *buffer.Record, codec Codec) ([]byte, error) {
	body, used, err := compress(rec.Payload(), codec)
	if err != nil {
		return dst, err
	}
	if len(body) > MaxBodySize {
		return dst, ErrTooLarge
	}

	start := len(dst)
	dst = append(dst, make([]byte, HeaderSize)...)
	h := dst[start:]
	binary.LittleEndian.PutUint64(h[4:12], uint64(rec.LSN()))
	h[12] = byte(rec.Module())
	h[13] = byte(used)
	binary.LittleEndian.PutUint32(h[14:18], uint32(len(body))) //nolint:gosec // bounded by MaxBodySize
	dst = append(dst, body...)

	crc := hash.NewCRC32C()
	crc.Write(dst[start+4:])
	binary.LittleEndian.PutUint32(dst[start:start+4], crc.Sum32())
	return dst, nil
}

// Digest returns the CRC32C of the record's module and payload. It does not
// depend on the codec, so a stored frame and a fresh record can be compared.
func Digest(rec *buffer.Record) uint32 {
	crc := hash.UpdateCRC32C(0, []byte{byte(rec.Module())})
	return hash.UpdateCRC32C(crc, rec.Payload())
}

// Decode reads one frame from r. It returns the record and the number of bytes
// consumed. io.EOF means r was empty; io.ErrUnexpectedEOF means a torn frame.
func Decode(r io.Reader) (*buffer.Record, int64, error) {
	var header [HeaderSize]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		return nil, int64(n), err
	}

	length := binary.LittleEndian.Uint32(header[14:18])
	if length > MaxBodySize {
		return nil, HeaderSize, ErrTooLarge
	}

	body := make([]byte, length)
	m, err := io.ReadFull(r, body)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, HeaderSize + int64(m), err
	}

	consumed := int64(HeaderSize) + int64(length)
	rec, err := parse(header[:], body)
	return rec, consumed, err
}

// DecodeBytes decodes the frame at the start of b.
func DecodeBytes(b []byte) (*buffer.Record, int, error) {
	if len(b) < HeaderSize {
		if len(b) == 0 {
			return nil, 0, io.EOF
		}
		return nil, len(b), io.ErrUnexpectedEOF
	}
	length := binary.LittleEndian.Uint32(b[14:18])
	if length > MaxBodySize {
		return nil, HeaderSize, ErrTooLarge
	}
	end := HeaderSize + int(length)
	if len(b) < end {
		return nil, len(b), io.ErrUnexpectedEOF
	}
	rec, err := parse(b[:HeaderSize], b[HeaderSize:end])
	return rec, end, err
}

func parse(header, body []byte) (*buffer.Record, error) {
	crc := hash.NewCRC32C()
	crc.Write(header[4:])
	crc.Write(body)
	if crc.Sum32() != binary.LittleEndian.Uint32(header[0:4]) {
		return nil, ErrChecksum
	}

	codec := Codec(header[13])
	if !codec.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}
	payload, err := decompress(body, codec)
	if err != nil {
		return nil, err
	}

	lsn := buffer.LSN(binary.LittleEndian.Uint64(header[4:12]))
	return buffer.NewRecord(lsn, buffer.Module(header[12]), payload, 0)
}
