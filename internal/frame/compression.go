package frame

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies how a frame body is stored.
type Codec uint8

const (
	// CodecNone stores the payload as is.
	CodecNone Codec = 0
	// CodecLZ4 uses LZ4 block compression (fast, good for hot logs).
	CodecLZ4 Codec = 1
	// CodecZstd uses ZSTD (better ratio, good for archived logs).
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// Valid reports whether c is a known codec.
func (c Codec) Valid() bool {
	return c <= CodecZstd
}

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// rawLenSize prefixes every compressed body with the uncompressed length.
const rawLenSize = 4

// compress returns the body for payload and the codec actually used.
// Payloads that do not shrink by at least 10% are stored uncompressed.
func compress(payload []byte, codec Codec) ([]byte, Codec, error) {
	if codec == CodecNone || len(payload) == 0 {
		return payload, CodecNone, nil
	}

	var compressed []byte
	switch codec {
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, buf, nil)
		if err != nil {
			return nil, CodecNone, err
		}
		if n == 0 {
			return payload, CodecNone, nil // Incompressible
		}
		compressed = buf[:n]
	case CodecZstd:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(payload, nil)
		putZstdEncoder(enc)
	default:
		return nil, CodecNone, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}

	if float64(rawLenSize+len(compressed)) > float64(len(payload))*0.9 {
		return payload, CodecNone, nil
	}

	body := make([]byte, rawLenSize+len(compressed))
	binary.LittleEndian.PutUint32(body, uint32(len(payload))) //nolint:gosec // bounded by MaxBodySize
	copy(body[rawLenSize:], compressed)
	return body, codec, nil
}

func decompress(body []byte, codec Codec) ([]byte, error) {
	if codec == CodecNone {
		return body, nil
	}
	if len(body) < rawLenSize {
		return nil, fmt.Errorf("%w: compressed body too small", ErrCorrupt)
	}
	rawLen := binary.LittleEndian.Uint32(body)
	if rawLen > MaxBodySize {
		return nil, ErrTooLarge
	}
	data := body[rawLenSize:]

	switch codec {
	case CodecLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint32(n) != rawLen { //nolint:gosec // n <= rawLen
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return out, nil
	case CodecZstd:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		out, err := dec.DecodeAll(data, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint32(len(out)) != rawLen { //nolint:gosec // bounded above
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}
}
