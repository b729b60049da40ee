package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/walbuf/buffer"
	"github.com/hupe1980/walbuf/internal/fs"
	"github.com/hupe1980/walbuf/internal/frame"
)

type scanResult struct {
	first   buffer.LSN
	last    buffer.LSN
	digest  uint32 // frame.Digest of the last record
	count   int
	end     int64 // offset after the last good frame
	tailErr error // why the scan stopped before EOF, if it did
}

// scan walks the frames of an open segment whose header was already validated.
// It stops at the first torn, corrupt or out-of-order frame.
func scan(f io.ReaderAt, size int64) (scanResult, error) {
	res := scanResult{end: segHeaderSize}
	r := bufio.NewReader(io.NewSectionReader(f, segHeaderSize, size-segHeaderSize))

	for {
		rec, n, err := frame.Decode(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			if isTailError(err) {
				res.tailErr = err
				return res, nil
			}
			return res, err
		}
		if res.last != buffer.InvalidLSN && rec.LSN() != res.last+1 {
			res.tailErr = fmt.Errorf("%w: got %d after %d", ErrOutOfOrder, rec.LSN(), res.last)
			return res, nil
		}
		if res.first == buffer.InvalidLSN {
			res.first = rec.LSN()
		}
		res.last = rec.LSN()
		res.digest = frame.Digest(rec)
		res.count++
		res.end += n
	}
}

// isTailError reports errors that mark the end of the valid log rather than an I/O failure.
func isTailError(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, frame.ErrChecksum) ||
		errors.Is(err, frame.ErrTooLarge) ||
		errors.Is(err, frame.ErrUnknownCodec) ||
		errors.Is(err, frame.ErrCorrupt)
}

// Reader iterates over segment records.
type Reader struct {
	f      fs.File
	r      *bufio.Reader
	offset int64
}

// NewReader opens the segment at path for reading.
// The caller is responsible for closing the returned reader.
func NewReader(fsys fs.FileSystem, path string) (*Reader, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := readHeader(f, stat.Size()); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(segHeaderSize, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Reader{f: f, r: bufio.NewReader(f), offset: segHeaderSize}, nil
}

// Next reads the next record. Returns io.EOF when done.
func (r *Reader) Next() (*buffer.Record, error) {
	rec, n, err := frame.Decode(r.r)
	if err == nil {
		r.offset += n
	}
	return rec, err
}

// Offset returns the offset just past the last record returned by Next.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Report summarizes a segment scan.
type Report struct {
	FirstLSN   buffer.LSN
	LastLSN    buffer.LSN
	Records    int
	Duplicates int
	// Dense is true when every LSN in [FirstLSN, LastLSN] is present exactly once.
	Dense bool
	// ValidBytes is the offset after the last readable record.
	ValidBytes int64
	// TailErr is set when the scan stopped at a torn or corrupt record.
	TailErr error
}

// Verify reads every record of the segment and checks that the LSN sequence has
// no holes or duplicates. Unlike Open it never modifies the file.
func Verify(fsys fs.FileSystem, path string) (Report, error) {
	r, err := NewReader(fsys, path)
	if err != nil {
		return Report{}, err
	}
	defer func() { _ = r.Close() }()

	seen := roaring64.New()
	rep := Report{ValidBytes: r.Offset()}
	for {
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if isTailError(err) {
				rep.TailErr = err
				break
			}
			return rep, err
		}
		lsn := uint64(rec.LSN())
		if !seen.CheckedAdd(lsn) {
			rep.Duplicates++
		}
		rep.Records++
		rep.ValidBytes = r.Offset()
	}

	if seen.IsEmpty() {
		rep.Dense = true
		return rep, nil
	}
	rep.FirstLSN = buffer.LSN(seen.Minimum())
	rep.LastLSN = buffer.LSN(seen.Maximum())
	rep.Dense = rep.Duplicates == 0 && seen.GetCardinality() == uint64(rep.LastLSN-rep.FirstLSN)+1
	return rep, nil
}

// Recover returns the last durable LSN stored in the segment at path, which is
// the start LSN for buffer.Init. A missing segment yields InvalidLSN.
func Recover(fsys fs.FileSystem, path string) (buffer.LSN, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return buffer.InvalidLSN, nil
		}
		return buffer.InvalidLSN, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return buffer.InvalidLSN, err
	}
	if err := readHeader(f, stat.Size()); err != nil {
		return buffer.InvalidLSN, err
	}
	res, err := scan(f, stat.Size())
	if err != nil {
		return buffer.InvalidLSN, err
	}
	return res.last, nil
}
