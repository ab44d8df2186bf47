// Package txnlog implements the append-only transaction log: zxid-named
// segment files holding CRC-framed transaction records.
package txnlog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cypressdb/cypress-go/internal/core/domain"
	"github.com/cypressdb/cypress-go/internal/storage/datadir"
	"github.com/cypressdb/cypress-go/pkg/crypto/adaptive"
)

// File format constants.
const (
	MagicBytes     = "CYPRLOG\x01"
	MagicBytesSize = 8
	HeaderVersion  = 1

	DefaultFilePerm = 0o600
)

// Default configuration values.
const (
	DefaultSegmentMaxBytes   int64 = 64 << 20
	DefaultSegmentMaxRecords       = 100000
)

// segmentHeader follows the magic bytes in every segment file.
type segmentHeader struct {
	Version   int         `json:"version"`
	FirstZxid domain.Zxid `json:"first_zxid"`
}

// Config configures the transaction log.
type Config struct {
	// Dir is the resolved versioned log directory.
	Dir string

	// SegmentMaxBytes and SegmentMaxRecords bound a segment; crossing
	// either closes it so the next append starts a fresh file.
	SegmentMaxBytes   int64
	SegmentMaxRecords int

	// Cipher, when set, encrypts transaction bodies at rest.
	Cipher adaptive.Cipher
}

func (cfg *Config) applyDefaults() {
	if cfg.SegmentMaxBytes == 0 {
		cfg.SegmentMaxBytes = DefaultSegmentMaxBytes
	}
	if cfg.SegmentMaxRecords == 0 {
		cfg.SegmentMaxRecords = DefaultSegmentMaxRecords
	}
}

// Log appends transaction records to zxid-named segment files. Append
// buffers in memory; Commit makes everything appended so far durable.
// Safe for concurrent use.
type Log struct {
	cfg    Config
	cipher adaptive.Cipher

	mu sync.Mutex

	file     *os.File
	filePath string

	fileBytes   int64
	fileRecords int

	buffer      [][]byte
	bufferBytes int64

	lastZxid domain.Zxid
	closed   bool

	// syncElapsedMs holds the duration of the latest Commit fsync, -1
	// until the first one completes.
	syncElapsedMs atomic.Int64
}

// New creates a transaction log writing into dir. The directory must
// already be resolved; New does not create it.
func New(cfg Config) (*Log, error) {
	if cfg.Dir == "" {
		return nil, domain.ErrMissingArgument.WithDetails("txnlog: dir is required")
	}
	if info, err := os.Stat(cfg.Dir); err != nil || !info.IsDir() {
		return nil, domain.ErrDatadir.WithCause(err).WithDetails("txnlog: " + cfg.Dir)
	}
	cfg.applyDefaults()

	l := &Log{
		cfg:      cfg,
		cipher:   cfg.Cipher,
		lastZxid: -1,
	}
	l.syncElapsedMs.Store(-1)

	// Pick up the high watermark from existing segments so ordering is
	// enforced across restarts.
	last, err := LastLoggedZxid(cfg.Dir, cfg.Cipher)
	if err != nil {
		return nil, err
	}
	l.lastZxid = last

	return l, nil
}

// LastZxid returns the highest zxid appended or found on disk, -1 when
// the log is empty.
func (l *Log) LastZxid() domain.Zxid {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastZxid
}

// SyncElapsedTime returns the duration in milliseconds of the most recent
// Commit fsync, or -1 if no commit has completed yet.
func (l *Log) SyncElapsedTime() int64 {
	return l.syncElapsedMs.Load()
}

// Append encodes and buffers a record. The record's zxid must be strictly
// greater than every previously appended zxid. The first append after a
// segment closes opens a new segment named by that record's zxid.
func (l *Log) Append(rec *domain.TxnRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("txnlog: log is closed")
	}
	if rec == nil || rec.Header == nil {
		return domain.ErrInvalidArgument.WithDetails("txnlog: record has no header")
	}
	if rec.Header.Zxid <= l.lastZxid {
		return domain.ErrZxidOrder.WithDetails(
			fmt.Sprintf("zxid %#x after %#x", rec.Header.Zxid, l.lastZxid))
	}

	frame, err := encodeRecordFrame(rec, l.cipher)
	if err != nil {
		return err
	}

	if l.file == nil {
		if err := l.openSegmentLocked(rec.Header.Zxid); err != nil {
			return err
		}
	}

	l.buffer = append(l.buffer, frame)
	l.bufferBytes += int64(len(frame))
	l.lastZxid = rec.Header.Zxid

	if l.fileBytes+l.bufferBytes >= l.cfg.SegmentMaxBytes ||
		l.fileRecords+len(l.buffer) >= l.cfg.SegmentMaxRecords {
		return l.rollLocked()
	}
	return nil
}

// Commit flushes buffered records and fsyncs the current segment. The
// elapsed fsync time becomes visible through SyncElapsedTime.
func (l *Log) Commit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("txnlog: log is closed")
	}
	if err := l.flushLocked(); err != nil {
		return err
	}
	if l.file == nil {
		return nil
	}

	start := time.Now()
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("txnlog: sync: %w", err)
	}
	l.syncElapsedMs.Store(time.Since(start).Milliseconds())
	return nil
}

// Roll closes the current segment so the next append starts a new one.
func (l *Log) Roll() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("txnlog: log is closed")
	}
	return l.rollLocked()
}

// Close flushes and fsyncs outstanding records and closes the segment.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.closeSegmentLocked()
}

func (l *Log) openSegmentLocked(firstZxid domain.Zxid) error {
	path := filepath.Join(l.cfg.Dir, datadir.LogName(firstZxid))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("txnlog: open segment: %w", err)
	}

	hdr, err := json.Marshal(segmentHeader{Version: HeaderVersion, FirstZxid: firstZxid})
	if err != nil {
		file.Close()
		return fmt.Errorf("txnlog: marshal header: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(MagicBytes)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(hdr)))
	buf.Write(lenBuf[:])
	buf.Write(hdr)

	if _, err := file.Write(buf.Bytes()); err != nil {
		file.Close()
		return fmt.Errorf("txnlog: write header: %w", err)
	}

	l.file = file
	l.filePath = path
	l.fileBytes = int64(buf.Len())
	l.fileRecords = 0
	return nil
}

func (l *Log) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}
	if l.file == nil {
		return fmt.Errorf("txnlog: file not open")
	}

	var buf bytes.Buffer
	for _, frame := range l.buffer {
		buf.Write(frame)
	}
	if _, err := l.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("txnlog: write batch: %w", err)
	}

	l.fileBytes += int64(buf.Len())
	l.fileRecords += len(l.buffer)
	l.buffer = nil
	l.bufferBytes = 0
	return nil
}

// rollLocked flushes, fsyncs and closes the current segment. The next
// append opens a fresh segment named by its own zxid.
func (l *Log) rollLocked() error {
	return l.closeSegmentLocked()
}

func (l *Log) closeSegmentLocked() error {
	if err := l.flushLocked(); err != nil {
		return err
	}
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("txnlog: sync: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("txnlog: close: %w", err)
	}
	l.file = nil
	l.filePath = ""
	return nil
}
