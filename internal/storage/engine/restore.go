package engine

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cypressdb/cypress-go/internal/core/domain"
	"github.com/cypressdb/cypress-go/internal/storage/txnlog"
)

// InitializeMarkerFile, placed in the log root, marks an intentionally
// empty database. Restore consumes it and treats emptiness as valid even
// when AutoCreateDB is off.
const InitializeMarkerFile = "initialize"

// PlayBackObserver is called for every transaction replayed from the
// log, after it has been applied.
type PlayBackObserver func(rec *domain.TxnRecord)

// MarkInitialized writes the initialization marker.
func (e *Engine) MarkInitialized() error {
	return os.WriteFile(e.markerPath(), nil, 0o600)
}

func (e *Engine) markerPath() string {
	return filepath.Join(e.cfg.LogRoot, InitializeMarkerFile)
}

// Restore rebuilds the node store from the newest usable snapshot plus
// the transaction log tail and returns the resulting zxid. An empty
// database yields 0 when AutoCreateDB is set or the initialization
// marker is present, -1 otherwise.
//
// A missing or wholly unreadable snapshot is not fatal on its own: with
// log records present the entire log is replayed from scratch.
func (e *Engine) Restore(observer PlayBackObserver) (domain.Zxid, error) {
	start := time.Now()

	e.mu.Lock()
	e.sessions = make(map[int64]int32)
	e.mu.Unlock()

	snapZxid, err := e.snaps.LoadLatest(e.store)
	switch {
	case err == nil:
		e.store.SetLastProcessedZxid(snapZxid)
	case errors.Is(err, domain.ErrNoValidSnapshot):
		if e.log.LastZxid() == -1 {
			return e.restoreEmpty()
		}
		e.lg.Warn("no valid snapshot, replaying entire transaction log")
		snapZxid = -1
	default:
		return -1, err
	}

	applied, err := e.replay(snapZxid+1, observer)
	if err != nil {
		return -1, err
	}

	final := e.store.LastProcessedZxid()
	e.metrics.RestoreDuration.Observe(time.Since(start).Seconds())
	e.metrics.NodeCount.Set(float64(e.store.NodeCount()))
	e.lg.Info("restore complete",
		"snapshot_zxid", snapZxid, "replayed", applied, "zxid", final)
	return final, nil
}

// restoreEmpty handles the no-snapshot, no-log case.
func (e *Engine) restoreEmpty() (domain.Zxid, error) {
	if _, err := os.Stat(e.markerPath()); err == nil {
		if err := os.Remove(e.markerPath()); err != nil {
			return -1, err
		}
		e.lg.Info("initialization marker found, trusting empty database")
		e.store.SetLastProcessedZxid(0)
		return 0, nil
	}

	if !e.cfg.AutoCreateDB {
		e.lg.Warn("empty database and auto-create disabled")
		return -1, nil
	}

	// Persist the emptiness so later restarts see an initialized
	// database rather than an absent one.
	e.store.SetLastProcessedZxid(0)
	if _, err := e.snaps.Take(0, e.store); err != nil {
		return -1, err
	}
	e.lg.Info("initialized empty database")
	return 0, nil
}

func (e *Engine) replay(from domain.Zxid, observer PlayBackObserver) (int, error) {
	reader, err := txnlog.NewReader(e.logDir, from, e.cfg.Cipher)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	applied := 0
	for {
		rec, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return applied, nil
			}
			return applied, err
		}

		if err := e.store.ProcessTxn(rec.Header, rec.Txn); err != nil {
			// A fuzzy snapshot can already contain the effect of logged
			// transactions; those collisions are expected.
			if domain.IsDomainError(err, "") {
				e.lg.Warn("replay skipped transaction",
					"zxid", rec.Header.Zxid, "op", rec.Header.Type.String(), "err", err)
			} else {
				return applied, err
			}
		}
		e.trackSession(rec)
		if observer != nil {
			observer(rec)
		}
		applied++
	}
}
