package config

import (
	"encoding/hex"
	"errors"
)

// Verify validates the configuration.
func Verify(cfg *Config) error {
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	return verifySecurity(&cfg.Security)
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.LogDir == "" {
		return errors.New("storage.log_dir is required")
	}
	if cfg.SnapDir == "" {
		return errors.New("storage.snap_dir is required")
	}
	if cfg.SegmentMaxBytes < 0 {
		return errors.New("storage.segment_max_bytes must not be negative")
	}
	if cfg.SnapshotRetain < 1 {
		return errors.New("storage.snapshot_retain must be at least 1")
	}
	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	if cfg.EncryptionKey == "" {
		return nil
	}
	key, err := hex.DecodeString(cfg.EncryptionKey)
	if err != nil {
		return errors.New("security.encryption_key must be hex encoded")
	}
	if len(key) != 32 {
		return errors.New("security.encryption_key must be 32 bytes")
	}
	return nil
}
