// Package engine ties the transaction log, snapshot store and in-memory
// node state together behind one durability facade.
package engine

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cypressdb/cypress-go/internal/core/domain"
	"github.com/cypressdb/cypress-go/internal/storage/datadir"
	"github.com/cypressdb/cypress-go/internal/storage/snapshot"
	"github.com/cypressdb/cypress-go/internal/storage/txnlog"
	"github.com/cypressdb/cypress-go/internal/telemetry/logger"
	"github.com/cypressdb/cypress-go/internal/telemetry/metric"
	"github.com/cypressdb/cypress-go/pkg/crypto/adaptive"
)

// Default snapshot scheduling values.
const (
	DefaultSnapshotThreshold   = 100000
	DefaultSnapshotMinInterval = 30 * time.Second
)

// NodeStore is the in-memory state the engine restores into, snapshots
// from and applies committed transactions to.
type NodeStore interface {
	snapshot.State

	ProcessTxn(hdr *domain.TxnHeader, txn any) error
	LastProcessedZxid() domain.Zxid
	SetLastProcessedZxid(zxid domain.Zxid)
	NodeCount() int
}

// Config configures an Engine.
type Config struct {
	// LogRoot and SnapRoot are the configured data roots; the engine
	// works inside their versioned subdirectories.
	LogRoot  string
	SnapRoot string

	// AutoCreateDirs creates missing data directories. Without it a
	// missing directory fails construction and nothing is created.
	AutoCreateDirs bool

	// AutoCreateDB permits initializing an empty database when neither
	// snapshot nor log records exist. Without it (and without an
	// initialization marker) restore reports the database as absent.
	AutoCreateDB bool

	SegmentMaxBytes   int64
	SegmentMaxRecords int

	// SnapshotThreshold and SnapshotMinInterval drive ShouldSnapshot.
	SnapshotThreshold   int64
	SnapshotMinInterval time.Duration

	// Cipher, when set, encrypts log payloads and snapshot sections.
	Cipher adaptive.Cipher

	Logger  logger.Logger
	Metrics *metric.Registry
}

// Engine is the durability facade. Safe for concurrent use.
type Engine struct {
	cfg     Config
	logDir  string
	snapDir string

	log   *txnlog.Log
	snaps *snapshot.Store
	store NodeStore

	lg      logger.Logger
	metrics *metric.Registry

	limiter *rate.Limiter

	mu       sync.Mutex
	sessions map[int64]int32

	appendsSinceSnap int64
	snapRoll         int64
}

// rollThreshold picks the append count that triggers the next snapshot,
// randomized around half the configured threshold so that replicas
// restored from the same state do not all snapshot at the same zxid.
func rollThreshold(threshold int64) int64 {
	half := threshold / 2
	if half < 1 {
		half = 1
	}
	return half + rand.Int63n(half+1)
}

// New resolves and validates both data directories and opens the log
// and snapshot stores. When log and snapshot share one directory the
// cross-content check is skipped.
func New(cfg Config, store NodeStore) (*Engine, error) {
	if cfg.LogRoot == "" || cfg.SnapRoot == "" {
		return nil, domain.ErrMissingArgument.WithDetails("engine: log and snapshot roots are required")
	}
	if store == nil {
		return nil, domain.ErrMissingArgument.WithDetails("engine: node store is required")
	}
	if cfg.SnapshotThreshold == 0 {
		cfg.SnapshotThreshold = DefaultSnapshotThreshold
	}
	if cfg.SnapshotMinInterval == 0 {
		cfg.SnapshotMinInterval = DefaultSnapshotMinInterval
	}
	lg := cfg.Logger
	if lg == nil {
		lg = logger.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = metric.NewRegistry()
	}

	logDir, err := datadir.Resolve(cfg.LogRoot, cfg.AutoCreateDirs)
	if err != nil {
		return nil, err
	}
	snapDir, err := datadir.Resolve(cfg.SnapRoot, cfg.AutoCreateDirs)
	if err != nil {
		return nil, err
	}
	if logDir != snapDir {
		if err := datadir.ValidateContents(logDir, datadir.KindLog); err != nil {
			return nil, err
		}
		if err := datadir.ValidateContents(snapDir, datadir.KindSnap); err != nil {
			return nil, err
		}
	}

	log, err := txnlog.New(txnlog.Config{
		Dir:               logDir,
		SegmentMaxBytes:   cfg.SegmentMaxBytes,
		SegmentMaxRecords: cfg.SegmentMaxRecords,
		Cipher:            cfg.Cipher,
	})
	if err != nil {
		return nil, err
	}
	snaps, err := snapshot.NewStore(snapDir, cfg.Cipher)
	if err != nil {
		log.Close()
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		logDir:   logDir,
		snapDir:  snapDir,
		log:      log,
		snaps:    snaps,
		store:    store,
		lg:       lg.With("component", "engine"),
		metrics:  metrics,
		limiter:  rate.NewLimiter(rate.Every(cfg.SnapshotMinInterval), 1),
		sessions: make(map[int64]int32),
		snapRoll: rollThreshold(cfg.SnapshotThreshold),
	}, nil
}

// LogDir returns the resolved transaction log directory.
func (e *Engine) LogDir() string { return e.logDir }

// SnapDir returns the resolved snapshot directory.
func (e *Engine) SnapDir() string { return e.snapDir }

// Append writes a committed transaction to the log buffer.
func (e *Engine) Append(rec *domain.TxnRecord) error {
	if err := e.log.Append(rec); err != nil {
		return err
	}
	e.metrics.TxnsAppended.Inc()
	e.mu.Lock()
	e.appendsSinceSnap++
	e.mu.Unlock()
	return nil
}

// Commit makes everything appended so far durable.
func (e *Engine) Commit() error {
	if err := e.log.Commit(); err != nil {
		return err
	}
	if ms := e.log.SyncElapsedTime(); ms >= 0 {
		e.metrics.FsyncDuration.Observe(float64(ms) / 1000)
	}
	return nil
}

// TxnLogSyncElapsedTime returns the duration in milliseconds of the most
// recent commit fsync, -1 before the first one.
func (e *Engine) TxnLogSyncElapsedTime() int64 {
	return e.log.SyncElapsedTime()
}

// LastLoggedZxid returns the highest zxid the log knows about, -1 when
// empty.
func (e *Engine) LastLoggedZxid() domain.Zxid {
	return e.log.LastZxid()
}

// Apply processes a committed transaction into the node store and keeps
// the session table current. Transactions should normally be appended
// and committed before being applied.
func (e *Engine) Apply(rec *domain.TxnRecord) error {
	if err := e.store.ProcessTxn(rec.Header, rec.Txn); err != nil {
		return err
	}
	e.trackSession(rec)
	return nil
}

func (e *Engine) trackSession(rec *domain.TxnRecord) {
	switch body := rec.Txn.(type) {
	case *domain.CreateSessionTxn:
		e.mu.Lock()
		e.sessions[rec.Header.ClientID] = body.TimeoutMs
		e.mu.Unlock()
	case *domain.CloseSessionTxn:
		e.mu.Lock()
		delete(e.sessions, rec.Header.ClientID)
		e.mu.Unlock()
	}
}

// Sessions returns the session table rebuilt during restore and
// maintained by Apply: session id to negotiated timeout in milliseconds.
func (e *Engine) Sessions() map[int64]int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[int64]int32, len(e.sessions))
	for id, timeout := range e.sessions {
		out[id] = timeout
	}
	return out
}

// TakeSnapshot rolls the log and writes a snapshot at the store's
// current watermark.
func (e *Engine) TakeSnapshot() (string, error) {
	if err := e.log.Roll(); err != nil {
		return "", err
	}
	zxid := e.store.LastProcessedZxid()
	path, err := e.snaps.Take(zxid, e.store)
	if err != nil {
		return "", err
	}

	e.metrics.SnapshotsTaken.Inc()
	e.metrics.NodeCount.Set(float64(e.store.NodeCount()))
	if infos, err := e.snaps.List(); err == nil && len(infos) > 0 {
		e.metrics.SnapshotSize.Set(float64(infos[0].Size))
	}

	e.mu.Lock()
	e.appendsSinceSnap = 0
	e.snapRoll = rollThreshold(e.cfg.SnapshotThreshold)
	e.mu.Unlock()

	e.lg.Info("snapshot taken", "zxid", zxid, "path", path)
	return path, nil
}

// ShouldSnapshot reports whether enough transactions accumulated since
// the last snapshot, subject to a minimum interval between snapshots.
// The trigger point is re-randomized after every snapshot.
func (e *Engine) ShouldSnapshot() bool {
	e.mu.Lock()
	pending := e.appendsSinceSnap
	roll := e.snapRoll
	e.mu.Unlock()
	if pending < roll {
		return false
	}
	return e.limiter.Allow()
}

// Snapshots lists snapshot files newest first.
func (e *Engine) Snapshots() ([]snapshot.Info, error) {
	return e.snaps.List()
}

// Close flushes and closes the transaction log.
func (e *Engine) Close() error {
	return e.log.Close()
}

var _ io.Closer = (*Engine)(nil)
