package config

import "time"

// Default configuration values.
const (
	DefaultLogDir  = "/var/lib/cypress/log"
	DefaultSnapDir = "/var/lib/cypress/snapshot"

	DefaultSegmentMaxBytes   = int64(64 << 20)
	DefaultSegmentMaxRecords = 100000

	DefaultSnapshotThreshold   = int64(100000)
	DefaultSnapshotMinInterval = 30 * time.Second
	DefaultSnapshotRetain      = 3

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageSection{
			LogDir:              DefaultLogDir,
			SnapDir:             DefaultSnapDir,
			AutoCreateDirs:      true,
			AutoCreateDB:        true,
			SegmentMaxBytes:     DefaultSegmentMaxBytes,
			SegmentMaxRecords:   DefaultSegmentMaxRecords,
			SnapshotThreshold:   DefaultSnapshotThreshold,
			SnapshotMinInterval: DefaultSnapshotMinInterval,
			SnapshotRetain:      DefaultSnapshotRetain,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
