package txnlog

import (
	"os"
	"path/filepath"

	"github.com/cypressdb/cypress-go/internal/core/domain"
	"github.com/cypressdb/cypress-go/internal/storage/datadir"
)

// Purge removes snapshots and log segments no longer needed for recovery,
// keeping the retainCount most recent snapshots. Log segments are kept
// from the one covering the oldest retained snapshot onward; everything
// older is deleted. Returns the paths removed.
func Purge(logDir, snapDir string, retainCount int) ([]string, error) {
	if retainCount < 1 {
		return nil, domain.ErrInvalidArgument.WithDetails("retain count must be at least 1")
	}

	snaps, err := datadir.ListZxidFiles(snapDir, datadir.SnapPrefix)
	if err != nil {
		return nil, err
	}
	if len(snaps) <= retainCount {
		return nil, nil
	}

	// Ascending order: the first len-retainCount snapshots go.
	cut := len(snaps) - retainCount
	oldestKept, _ := datadir.ParseZxid(snaps[cut], datadir.SnapPrefix)

	var removed []string
	for _, name := range snaps[:cut] {
		path := filepath.Join(snapDir, name)
		if err := os.Remove(path); err != nil {
			return removed, err
		}
		removed = append(removed, path)
	}

	logs, err := datadir.ListZxidFiles(logDir, datadir.LogPrefix)
	if err != nil {
		return removed, err
	}

	// The last segment starting at or before the oldest kept snapshot may
	// still hold records past that watermark, so it stays.
	lastCovering := -1
	for i, name := range logs {
		zxid, _ := datadir.ParseZxid(name, datadir.LogPrefix)
		if zxid <= oldestKept {
			lastCovering = i
		}
	}
	for i, name := range logs {
		if i >= lastCovering {
			break
		}
		path := filepath.Join(logDir, name)
		if err := os.Remove(path); err != nil {
			return removed, err
		}
		removed = append(removed, path)
	}
	return removed, nil
}
