// Package config defines the configuration structure for the Cypress
// persistence engine and its admin tooling.
package config

import (
	"encoding/hex"
	"time"

	"github.com/cypressdb/cypress-go/internal/core/domain"
	"github.com/cypressdb/cypress-go/internal/storage/engine"
	"github.com/cypressdb/cypress-go/pkg/crypto/adaptive"
)

// Config is the root configuration.
type Config struct {
	Storage  StorageSection  `koanf:"storage"`
	Security SecuritySection `koanf:"security"`
	Log      LogSection      `koanf:"log"`
}

// StorageSection configures the persistence engine.
type StorageSection struct {
	// LogDir and SnapDir are the data roots; the engine works inside
	// their versioned subdirectories. They may point at the same
	// directory.
	LogDir  string `koanf:"log_dir"`
	SnapDir string `koanf:"snap_dir"`

	// AutoCreateDirs creates missing data directories at startup.
	AutoCreateDirs bool `koanf:"auto_create_dirs"`

	// AutoCreateDB initializes an empty database when neither snapshot
	// nor log records exist.
	AutoCreateDB bool `koanf:"auto_create_db"`

	SegmentMaxBytes   int64 `koanf:"segment_max_bytes"`
	SegmentMaxRecords int   `koanf:"segment_max_records"`

	SnapshotThreshold   int64         `koanf:"snapshot_threshold"`
	SnapshotMinInterval time.Duration `koanf:"snapshot_min_interval"`

	// SnapshotRetain is how many snapshots purge keeps.
	SnapshotRetain int `koanf:"snapshot_retain"`
}

// SecuritySection configures at-rest encryption.
type SecuritySection struct {
	// EncryptionKey is a hex encoded 32 byte key. Empty disables
	// encryption.
	EncryptionKey string `koanf:"encryption_key"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Cipher builds the at-rest cipher from the security section, nil when
// encryption is disabled.
func (c *Config) Cipher() (adaptive.Cipher, error) {
	if c.Security.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.Security.EncryptionKey)
	if err != nil {
		return nil, domain.ErrInvalidArgument.WithCause(err).WithDetails("security.encryption_key is not hex")
	}
	return adaptive.New(key)
}

// ToEngine maps the configuration onto an engine configuration.
func (c *Config) ToEngine() (engine.Config, error) {
	cipher, err := c.Cipher()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		LogRoot:             c.Storage.LogDir,
		SnapRoot:            c.Storage.SnapDir,
		AutoCreateDirs:      c.Storage.AutoCreateDirs,
		AutoCreateDB:        c.Storage.AutoCreateDB,
		SegmentMaxBytes:     c.Storage.SegmentMaxBytes,
		SegmentMaxRecords:   c.Storage.SegmentMaxRecords,
		SnapshotThreshold:   c.Storage.SnapshotThreshold,
		SnapshotMinInterval: c.Storage.SnapshotMinInterval,
		Cipher:              cipher,
	}, nil
}
