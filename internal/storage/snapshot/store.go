// Package snapshot writes and restores point-in-time images of the node
// state: an ACL table section followed by a node table section, digest
// protected and named by the zxid the image was cut at.
package snapshot

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cypressdb/cypress-go/internal/core/domain"
	"github.com/cypressdb/cypress-go/internal/storage/datadir"
	"github.com/cypressdb/cypress-go/pkg/crypto/adaptive"
)

// File format constants.
const (
	MagicBytes     = "CYPRSNAP"
	MagicBytesSize = 8
	ChecksumSize   = 32
	HeaderVersion  = 1

	DefaultFilePerm = 0o600
)

// header follows the magic bytes.
type header struct {
	Version   int         `json:"version"`
	Zxid      domain.Zxid `json:"zxid"`
	CreatedAt int64       `json:"created_at"`
	Encrypted bool        `json:"encrypted"`
}

// State is the serializable node state. The ACL table goes first so that
// ids referenced by the node table resolve on load; both walks may be
// fuzzy with respect to concurrent transactions.
type State interface {
	SerializeACLs(w io.Writer) error
	SerializeNodes(w io.Writer) error
	DeserializeACLs(r io.Reader) error
	DeserializeNodes(r io.Reader) error
}

// Info describes one snapshot file.
type Info struct {
	Name string
	Path string
	Zxid domain.Zxid
	Size int64
}

// Store reads and writes snapshots in a resolved directory.
type Store struct {
	dir    string
	cipher adaptive.Cipher
}

// NewStore creates a store over dir. The directory must already be
// resolved; NewStore does not create it.
func NewStore(dir string, cipher adaptive.Cipher) (*Store, error) {
	if dir == "" {
		return nil, domain.ErrMissingArgument.WithDetails("snapshot: dir is required")
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, domain.ErrDatadir.WithCause(err).WithDetails("snapshot: " + dir)
	}
	return &Store{dir: dir, cipher: cipher}, nil
}

// Take serializes state into a new snapshot named by zxid. The file is
// assembled under a temporary name and renamed into place, so a crash
// mid-write never leaves a file that List or LoadLatest would consider.
func (s *Store) Take(zxid domain.Zxid, state State) (string, error) {
	aclSection, err := s.buildSection(state.SerializeACLs)
	if err != nil {
		return "", fmt.Errorf("snapshot: acl section: %w", err)
	}
	nodeSection, err := s.buildSection(state.SerializeNodes)
	if err != nil {
		return "", fmt.Errorf("snapshot: node section: %w", err)
	}

	hdr, err := json.Marshal(header{
		Version:   HeaderVersion,
		Zxid:      zxid,
		CreatedAt: time.Now().UnixMilli(),
		Encrypted: s.cipher != nil,
	})
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal header: %w", err)
	}

	var body bytes.Buffer
	body.WriteString(MagicBytes)
	writeLenPrefixed(&body, hdr)
	writeLenPrefixed(&body, aclSection)
	writeLenPrefixed(&body, nodeSection)
	digest := sha256.Sum256(body.Bytes())
	body.Write(digest[:])

	final := filepath.Join(s.dir, datadir.SnapName(zxid))
	tmp := final + "." + ulid.MustNew(ulid.Now(), rand.Reader).String() + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return "", fmt.Errorf("snapshot: open temp: %w", err)
	}
	if _, err := f.Write(body.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot: rename: %w", err)
	}
	return final, nil
}

func (s *Store) buildSection(serialize func(io.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := serialize(&buf); err != nil {
		return nil, err
	}
	if s.cipher == nil {
		return buf.Bytes(), nil
	}
	return s.cipher.Encrypt(buf.Bytes(), []byte(MagicBytes))
}

func (s *Store) openSection(data []byte, encrypted bool) ([]byte, error) {
	if !encrypted {
		return data, nil
	}
	if s.cipher == nil {
		return nil, fmt.Errorf("snapshot: encrypted snapshot requires cipher")
	}
	return s.cipher.Decrypt(data, []byte(MagicBytes))
}

// List returns snapshots newest first.
func (s *Store) List() ([]Info, error) {
	names, err := datadir.ListZxidFiles(s.dir, datadir.SnapPrefix)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(names))
	// ListZxidFiles sorts ascending; walk backwards.
	for i := len(names) - 1; i >= 0; i-- {
		path := filepath.Join(s.dir, names[i])
		zxid, _ := datadir.ParseZxid(names[i], datadir.SnapPrefix)
		stat, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		infos = append(infos, Info{Name: names[i], Path: path, Zxid: zxid, Size: stat.Size()})
	}
	return infos, nil
}

// LoadLatest restores state from the newest readable snapshot and
// returns its zxid. Unreadable or inconsistent files are skipped in
// favor of older ones. With no usable snapshot at all it returns -1 and
// ErrNoValidSnapshot; callers with an intact log can still recover by
// replaying it in full.
func (s *Store) LoadLatest(state State) (domain.Zxid, error) {
	infos, err := s.List()
	if err != nil {
		return -1, err
	}

	for _, info := range infos {
		if info.Size == 0 {
			continue
		}
		zxid, err := s.Load(info.Path, state)
		if err != nil {
			continue
		}
		if zxid != info.Zxid {
			// Header and file name disagree; the image cannot be trusted.
			continue
		}
		return zxid, nil
	}
	return -1, domain.ErrNoValidSnapshot
}

// Load restores state from one snapshot file and returns the zxid in its
// header. The digest is verified before any byte reaches state.
func (s *Store) Load(path string, state State) (domain.Zxid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1, err
	}
	if len(data) < MagicBytesSize+ChecksumSize {
		return -1, domain.ErrSnapshotIntegrity.WithDetails("file too short: " + path)
	}

	body, trailer := data[:len(data)-ChecksumSize], data[len(data)-ChecksumSize:]
	digest := sha256.Sum256(body)
	if !bytes.Equal(digest[:], trailer) {
		return -1, domain.ErrSnapshotIntegrity.WithDetails("digest mismatch: " + path)
	}
	if string(body[:MagicBytesSize]) != MagicBytes {
		return -1, domain.ErrSnapshotIntegrity.WithDetails("invalid magic: " + path)
	}

	rest := body[MagicBytesSize:]
	hdrJSON, rest, err := readLenPrefixed(rest)
	if err != nil {
		return -1, domain.ErrSnapshotIntegrity.WithCause(err).WithDetails("header: " + path)
	}
	var hdr header
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return -1, domain.ErrSnapshotIntegrity.WithCause(err).WithDetails("header: " + path)
	}
	if hdr.Version != HeaderVersion {
		return -1, domain.ErrSnapshotIntegrity.WithDetails(fmt.Sprintf("unsupported version %d: %s", hdr.Version, path))
	}

	aclSection, rest, err := readLenPrefixed(rest)
	if err != nil {
		return -1, domain.ErrSnapshotIntegrity.WithCause(err).WithDetails("acl section: " + path)
	}
	nodeSection, _, err := readLenPrefixed(rest)
	if err != nil {
		return -1, domain.ErrSnapshotIntegrity.WithCause(err).WithDetails("node section: " + path)
	}

	aclPlain, err := s.openSection(aclSection, hdr.Encrypted)
	if err != nil {
		return -1, err
	}
	nodePlain, err := s.openSection(nodeSection, hdr.Encrypted)
	if err != nil {
		return -1, err
	}

	if err := state.DeserializeACLs(bytes.NewReader(aclPlain)); err != nil {
		return -1, err
	}
	if err := state.DeserializeNodes(bytes.NewReader(nodePlain)); err != nil {
		return -1, err
	}
	return hdr.Zxid, nil
}

// Prune deletes all but the keep newest snapshots and returns the paths
// removed.
func (s *Store) Prune(keep int) ([]string, error) {
	if keep < 1 {
		return nil, domain.ErrInvalidArgument.WithDetails("keep must be at least 1")
	}
	infos, err := s.List()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, info := range infos[min(keep, len(infos)):] {
		if err := os.Remove(info.Path); err != nil {
			return removed, err
		}
		removed = append(removed, info.Path)
	}
	return removed, nil
}

func writeLenPrefixed(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

func readLenPrefixed(data []byte) (section, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	length := binary.BigEndian.Uint32(data[:4])
	if int(length) > len(data)-4 {
		return nil, nil, io.ErrUnexpectedEOF
	}
	return data[4 : 4+length], data[4+length:], nil
}
