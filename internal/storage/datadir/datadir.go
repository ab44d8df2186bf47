// Package datadir resolves and validates the on-disk layout used by the
// persistence engine. Log segments and snapshots live in a versioned
// subdirectory of their configured roots so that incompatible format
// generations can coexist side by side.
package datadir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cypressdb/cypress-go/internal/core/domain"
)

// VersionDirName is the subdirectory holding the current format
// generation.
const VersionDirName = "version-2"

const (
	// LogPrefix names transaction log segments.
	LogPrefix = "log"

	// SnapPrefix names snapshot files.
	SnapPrefix = "snapshot"
)

// Kind distinguishes the two directory roles for content validation.
type Kind int

const (
	KindLog Kind = iota
	KindSnap
)

// String returns the role name.
func (k Kind) String() string {
	if k == KindLog {
		return "log"
	}
	return "snapshot"
}

// Resolve returns the versioned directory under root, creating it when
// autoCreate is set. Without autoCreate a missing directory is an error
// and nothing is created, not even intermediate path elements.
func Resolve(root string, autoCreate bool) (string, error) {
	dir := filepath.Join(root, VersionDirName)

	info, err := os.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return "", domain.ErrDatadir.WithDetails(dir + " is not a directory")
		}
		return dir, nil
	case os.IsNotExist(err):
		if !autoCreate {
			return "", domain.ErrDatadir.WithDetails(dir + " is missing and auto-create is disabled")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", domain.ErrDatadir.WithCause(err).WithDetails("creating " + dir)
		}
		return dir, nil
	default:
		return "", domain.ErrDatadir.WithCause(err).WithDetails("inspecting " + dir)
	}
}

// ContentCheckError reports files that do not belong in a directory of
// the given role. It matches domain.ErrLogDirContent or
// domain.ErrSnapDirContent through errors.Is.
type ContentCheckError struct {
	Dir       string
	Kind      Kind
	Offending []string
}

func (e *ContentCheckError) Error() string {
	return fmt.Sprintf("%s: %s directory %s contains %s",
		e.Unwrap().Error(), e.Kind, e.Dir, strings.Join(e.Offending, ", "))
}

func (e *ContentCheckError) Unwrap() error {
	if e.Kind == KindLog {
		return domain.ErrLogDirContent
	}
	return domain.ErrSnapDirContent
}

// ValidateContents verifies that a resolved directory contains only files
// of its own role. Snapshot files inside a log directory, or log segments
// inside a snapshot directory, indicate a misconfigured or swapped setup
// and are rejected before any file is touched. Files that match neither
// naming scheme are ignored.
func ValidateContents(dir string, kind Kind) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return domain.ErrDatadir.WithCause(err).WithDetails("listing " + dir)
	}

	foreign := SnapPrefix
	if kind == KindSnap {
		foreign = LogPrefix
	}

	var offending []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := ParseZxid(entry.Name(), foreign); ok {
			offending = append(offending, entry.Name())
		}
	}
	if len(offending) > 0 {
		sort.Strings(offending)
		return &ContentCheckError{Dir: dir, Kind: kind, Offending: offending}
	}
	return nil
}

// LogName returns the file name of the log segment starting at zxid.
func LogName(zxid domain.Zxid) string {
	return fmt.Sprintf("%s.%x", LogPrefix, zxid)
}

// SnapName returns the file name of the snapshot taken at zxid.
func SnapName(zxid domain.Zxid) string {
	return fmt.Sprintf("%s.%x", SnapPrefix, zxid)
}

// ParseZxid extracts the zxid from a file name of the form
// "<prefix>.<hex>". The second return is false when the name does not
// match the scheme.
func ParseZxid(name, prefix string) (domain.Zxid, bool) {
	rest, found := strings.CutPrefix(name, prefix+".")
	if !found || rest == "" {
		return 0, false
	}
	zxid, err := strconv.ParseUint(rest, 16, 64)
	if err != nil {
		return 0, false
	}
	return domain.Zxid(zxid), true
}

// ListZxidFiles returns the names of files in dir matching the prefix,
// sorted by zxid ascending.
func ListZxidFiles(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, domain.ErrDatadir.WithCause(err).WithDetails("listing " + dir)
	}

	type zf struct {
		name string
		zxid domain.Zxid
	}
	var files []zf
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if zxid, ok := ParseZxid(entry.Name(), prefix); ok {
			files = append(files, zf{name: entry.Name(), zxid: zxid})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].zxid < files[j].zxid })

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}
