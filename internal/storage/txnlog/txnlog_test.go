package txnlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cypressdb/cypress-go/internal/core/domain"
	"github.com/cypressdb/cypress-go/internal/storage/datadir"
	"github.com/cypressdb/cypress-go/pkg/crypto/adaptive"
)

func createRecord(zxid domain.Zxid) *domain.TxnRecord {
	return &domain.TxnRecord{
		Header: &domain.TxnHeader{
			ClientID: 0x1000,
			Cxid:     int32(zxid),
			Zxid:     zxid,
			Time:     1700000000000 + int64(zxid),
			Type:     domain.OpCreate,
		},
		Txn: &domain.CreateTxn{
			Path: fmt.Sprintf("/node-%d", zxid),
			Data: []byte("payload"),
			ACL:  domain.OpenACLUnsafe,
		},
	}
}

func newTestLog(t *testing.T, cfg Config) (*Log, string) {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, cfg.Dir
}

func appendAll(t *testing.T, l *Log, from, to domain.Zxid) {
	t.Helper()
	for z := from; z <= to; z++ {
		if err := l.Append(createRecord(z)); err != nil {
			t.Fatalf("Append(%d): %v", z, err)
		}
	}
}

func readAllFrom(t *testing.T, dir string, from domain.Zxid, cipher adaptive.Cipher) []*domain.TxnRecord {
	t.Helper()
	r, err := NewReader(dir, from, cipher)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	recs, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return recs
}

func TestAppendCommitRead(t *testing.T) {
	l, dir := newTestLog(t, Config{})

	appendAll(t, l, 1, 5)
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	recs := readAllFrom(t, dir, 0, nil)
	if len(recs) != 5 {
		t.Fatalf("read %d records, want 5", len(recs))
	}
	for i, rec := range recs {
		want := domain.Zxid(i + 1)
		if rec.Header.Zxid != want {
			t.Fatalf("record %d zxid = %#x, want %#x", i, rec.Header.Zxid, want)
		}
		create, ok := rec.Txn.(*domain.CreateTxn)
		if !ok {
			t.Fatalf("record %d txn is %T, want *CreateTxn", i, rec.Txn)
		}
		if want := fmt.Sprintf("/node-%d", want); create.Path != want {
			t.Fatalf("record %d path = %q, want %q", i, create.Path, want)
		}
	}
}

func TestSyncElapsedTime(t *testing.T) {
	l, _ := newTestLog(t, Config{})

	if got := l.SyncElapsedTime(); got != -1 {
		t.Fatalf("SyncElapsedTime before commit = %d, want -1", got)
	}

	if err := l.Append(createRecord(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := l.SyncElapsedTime(); got < 0 {
		t.Fatalf("SyncElapsedTime after commit = %d, want >= 0", got)
	}
}

func TestZxidMustIncrease(t *testing.T) {
	l, _ := newTestLog(t, Config{})

	appendAll(t, l, 1, 3)
	err := l.Append(createRecord(3))
	if !errors.Is(err, domain.ErrZxidOrder) {
		t.Fatalf("Append(repeat) err = %v, want ErrZxidOrder", err)
	}
	if err := l.Append(createRecord(2)); !errors.Is(err, domain.ErrZxidOrder) {
		t.Fatalf("Append(lower) err = %v, want ErrZxidOrder", err)
	}
	if err := l.Append(createRecord(4)); err != nil {
		t.Fatalf("Append(next) should succeed: %v", err)
	}
}

func TestSegmentRoll(t *testing.T) {
	l, dir := newTestLog(t, Config{SegmentMaxRecords: 3})

	appendAll(t, l, 1, 8)
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	names, err := datadir.ListZxidFiles(dir, datadir.LogPrefix)
	if err != nil {
		t.Fatalf("ListZxidFiles: %v", err)
	}
	if len(names) < 2 {
		t.Fatalf("expected multiple segments, got %v", names)
	}
	if names[0] != datadir.LogName(1) {
		t.Fatalf("first segment = %q, want %q", names[0], datadir.LogName(1))
	}

	// Every record survives the rolls.
	recs := readAllFrom(t, dir, 0, nil)
	if len(recs) != 8 {
		t.Fatalf("read %d records across segments, want 8", len(recs))
	}
}

func TestReadFromWatermark(t *testing.T) {
	l, dir := newTestLog(t, Config{SegmentMaxRecords: 4})

	appendAll(t, l, 1, 10)
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	recs := readAllFrom(t, dir, 6, nil)
	if len(recs) != 5 {
		t.Fatalf("read %d records from zxid 6, want 5", len(recs))
	}
	if recs[0].Header.Zxid != 6 {
		t.Fatalf("first zxid = %#x, want 6", recs[0].Header.Zxid)
	}
}

func lastSegmentPath(t *testing.T, dir string) string {
	t.Helper()
	names, err := datadir.ListZxidFiles(dir, datadir.LogPrefix)
	if err != nil || len(names) == 0 {
		t.Fatalf("no segments in %s: %v", dir, err)
	}
	return filepath.Join(dir, names[len(names)-1])
}

func TestTruncatedTailEndsSegmentCleanly(t *testing.T) {
	l, dir := newTestLog(t, Config{})

	appendAll(t, l, 1, 3)
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := lastSegmentPath(t, dir)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-5); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	recs := readAllFrom(t, dir, 0, nil)
	if len(recs) != 2 {
		t.Fatalf("read %d records after truncation, want 2", len(recs))
	}
}

func TestCorruptRecordAbortsRead(t *testing.T) {
	l, dir := newTestLog(t, Config{})

	appendAll(t, l, 1, 3)
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Flip a payload byte of the final, complete frame.
	path := lastSegmentPath(t, dir)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := NewReader(dir, 0, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	_, err = r.ReadAll()
	if !errors.Is(err, domain.ErrCorruptRecord) {
		t.Fatalf("ReadAll err = %v, want ErrCorruptRecord", err)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	key := make([]byte, adaptive.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	cipher, err := adaptive.New(key)
	if err != nil {
		t.Fatalf("adaptive.New: %v", err)
	}

	l, dir := newTestLog(t, Config{Cipher: cipher})
	appendAll(t, l, 1, 3)
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	recs := readAllFrom(t, dir, 0, cipher)
	if len(recs) != 3 {
		t.Fatalf("read %d records, want 3", len(recs))
	}
	create := recs[0].Txn.(*domain.CreateTxn)
	if create.Path != "/node-1" {
		t.Fatalf("decrypted path = %q, want /node-1", create.Path)
	}

	// Without the cipher the records must not decode.
	r, err := NewReader(dir, 0, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	if _, err := r.ReadAll(); err == nil {
		t.Fatal("reading encrypted log without cipher should fail")
	}
}

func TestLastZxidAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	l, _ := newTestLog(t, Config{Dir: dir})
	appendAll(t, l, 1, 7)
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, _ := newTestLog(t, Config{Dir: dir})
	if got := reopened.LastZxid(); got != 7 {
		t.Fatalf("LastZxid after reopen = %#x, want 7", got)
	}
	if err := reopened.Append(createRecord(5)); !errors.Is(err, domain.ErrZxidOrder) {
		t.Fatalf("Append(5) after reopen err = %v, want ErrZxidOrder", err)
	}
	if err := reopened.Append(createRecord(8)); err != nil {
		t.Fatalf("Append(8) after reopen: %v", err)
	}
}

func TestLastLoggedZxidEmptyDir(t *testing.T) {
	zxid, err := LastLoggedZxid(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("LastLoggedZxid: %v", err)
	}
	if zxid != -1 {
		t.Fatalf("LastLoggedZxid = %#x, want -1", zxid)
	}
}

func TestPurge(t *testing.T) {
	logDir, snapDir := t.TempDir(), t.TempDir()

	touch := func(dir, name string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	touch(snapDir, datadir.SnapName(0x10))
	touch(snapDir, datadir.SnapName(0x20))
	touch(snapDir, datadir.SnapName(0x30))
	touch(logDir, datadir.LogName(0x01))
	touch(logDir, datadir.LogName(0x15))
	touch(logDir, datadir.LogName(0x25))

	removed, err := Purge(logDir, snapDir, 2)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed %v, want 2 paths", removed)
	}

	// snapshot.0x10 goes; oldest kept is 0x20, so log.0x15 (covering it)
	// stays and log.0x01 goes.
	if _, err := os.Stat(filepath.Join(snapDir, datadir.SnapName(0x10))); !os.IsNotExist(err) {
		t.Fatal("snapshot.10 should be removed")
	}
	if _, err := os.Stat(filepath.Join(logDir, datadir.LogName(0x01))); !os.IsNotExist(err) {
		t.Fatal("log.1 should be removed")
	}
	for _, keep := range []string{datadir.LogName(0x15), datadir.LogName(0x25)} {
		if _, err := os.Stat(filepath.Join(logDir, keep)); err != nil {
			t.Fatalf("%s should survive purge: %v", keep, err)
		}
	}

	if _, err := Purge(logDir, snapDir, 0); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Purge(retain 0) err = %v, want ErrInvalidArgument", err)
	}
}
