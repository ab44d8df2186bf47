package txnlog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/cypressdb/cypress-go/internal/core/domain"
	"github.com/cypressdb/cypress-go/internal/storage/datadir"
	"github.com/cypressdb/cypress-go/pkg/crypto/adaptive"
)

type segmentInfo struct {
	firstZxid domain.Zxid
	path      string
}

// Reader streams committed records across segments in zxid order.
//
// A truncated frame at the tail of a segment is the normal footprint of a
// crash between write and fsync: the segment ends there and reading
// continues with the next one. A complete frame that fails its CRC is
// corruption and aborts the read.
type Reader struct {
	cipher adaptive.Cipher
	from   domain.Zxid

	segments []segmentInfo
	segIndex int

	file     *os.File
	reader   *bufio.Reader
	headerOK bool
}

// NewReader creates a reader over dir delivering every record with
// zxid >= from. Pass from = 0 (or any zxid at most the first logged one)
// to read everything.
func NewReader(dir string, from domain.Zxid, cipher adaptive.Cipher) (*Reader, error) {
	segments, err := scanSegments(dir)
	if err != nil {
		return nil, err
	}

	// Start at the last segment whose first zxid is not past from; its
	// tail may still hold records at or after the watermark.
	start := 0
	for i, seg := range segments {
		if seg.firstZxid <= from {
			start = i
		} else {
			break
		}
	}

	return &Reader{
		cipher:   cipher,
		from:     from,
		segments: segments,
		segIndex: start,
	}, nil
}

func scanSegments(dir string) ([]segmentInfo, error) {
	names, err := datadir.ListZxidFiles(dir, datadir.LogPrefix)
	if err != nil {
		return nil, err
	}
	segments := make([]segmentInfo, 0, len(names))
	for _, name := range names {
		zxid, _ := datadir.ParseZxid(name, datadir.LogPrefix)
		segments = append(segments, segmentInfo{
			firstZxid: zxid,
			path:      filepath.Join(dir, name),
		})
	}
	return segments, nil
}

// Read returns the next record with zxid >= from, or io.EOF when the log
// is exhausted.
func (r *Reader) Read() (*domain.TxnRecord, error) {
	for {
		if r.reader == nil {
			if err := r.openNextSegment(); err != nil {
				return nil, err
			}
		}

		if !r.headerOK {
			if err := r.readSegmentHeader(); err != nil {
				if isTruncation(err) {
					r.closeCurrent()
					continue
				}
				return nil, err
			}
		}

		rec, err := r.readOneRecord()
		if err != nil {
			if isTruncation(err) {
				r.closeCurrent()
				continue
			}
			return nil, err
		}
		if rec.Header.Zxid < r.from {
			continue
		}
		return rec, nil
	}
}

// ReadAll drains the reader.
func (r *Reader) ReadAll() ([]*domain.TxnRecord, error) {
	var out []*domain.TxnRecord
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, rec)
	}
}

// Close closes any open segment file.
func (r *Reader) Close() error {
	return r.closeCurrent()
}

// isTruncation reports whether err is a clean end of the current segment
// rather than corruption.
func isTruncation(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (r *Reader) openNextSegment() error {
	r.closeCurrent()

	if r.segIndex >= len(r.segments) {
		return io.EOF
	}
	seg := r.segments[r.segIndex]
	r.segIndex++

	f, err := os.Open(seg.path)
	if err != nil {
		return err
	}
	r.file = f
	r.reader = bufio.NewReader(f)
	r.headerOK = false
	return nil
}

func (r *Reader) readSegmentHeader() error {
	magic := make([]byte, MagicBytesSize)
	if _, err := io.ReadFull(r.reader, magic); err != nil {
		return err
	}
	if string(magic) != MagicBytes {
		return domain.ErrCorruptRecord.WithDetails("invalid magic bytes in " + r.file.Name())
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r.reader, lenBuf[:]); err != nil {
		return err
	}
	hdrLen := binary.BigEndian.Uint32(lenBuf[:])
	if hdrLen == 0 || hdrLen > 4096 {
		return domain.ErrCorruptRecord.WithDetails("implausible header length in " + r.file.Name())
	}

	hdrJSON := make([]byte, hdrLen)
	if _, err := io.ReadFull(r.reader, hdrJSON); err != nil {
		return err
	}
	var hdr segmentHeader
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return domain.ErrCorruptRecord.WithCause(err).WithDetails("segment header in " + r.file.Name())
	}
	if hdr.Version != HeaderVersion {
		return domain.ErrCorruptRecord.WithDetails("unsupported segment version in " + r.file.Name())
	}

	r.headerOK = true
	return nil
}

func (r *Reader) readOneRecord() (*domain.TxnRecord, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.reader, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < 5 {
		return nil, domain.ErrCorruptRecord.WithDetails("frame length below minimum")
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r.reader, frame); err != nil {
		return nil, err
	}

	return decodeRecordFrame(frame, r.cipher)
}

func (r *Reader) closeCurrent() error {
	r.reader = nil
	r.headerOK = false

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// LastLoggedZxid returns the highest zxid recoverable from dir, or -1
// when no segment exists. Only the final segment needs scanning; earlier
// segments hold strictly smaller zxids. When the final segment's records
// were all lost to truncation the zxid embedded in its name is returned,
// so the name is never reused.
func LastLoggedZxid(dir string, cipher adaptive.Cipher) (domain.Zxid, error) {
	segments, err := scanSegments(dir)
	if err != nil {
		return -1, err
	}
	if len(segments) == 0 {
		return -1, nil
	}

	last := segments[len(segments)-1]
	r := &Reader{
		cipher:   cipher,
		from:     0,
		segments: []segmentInfo{last},
	}
	defer r.Close()

	highest := last.firstZxid
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return highest, nil
			}
			return -1, err
		}
		if rec.Header.Zxid > highest {
			highest = rec.Header.Zxid
		}
	}
}
