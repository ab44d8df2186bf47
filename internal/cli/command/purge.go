package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/cypressdb/cypress-go/internal/storage/datadir"
	"github.com/cypressdb/cypress-go/internal/storage/txnlog"
)

// PurgeCommand deletes snapshots and log segments no longer needed for
// recovery.
func PurgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Remove snapshots and log segments not needed for recovery",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "retain",
				Usage: "Number of snapshots to keep (defaults to storage.snapshot_retain)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			retain := cfg.Storage.SnapshotRetain
			if c.IsSet("retain") {
				retain = c.Int("retain")
			}

			logDir, err := datadir.Resolve(cfg.Storage.LogDir, false)
			if err != nil {
				return err
			}
			snapDir, err := datadir.Resolve(cfg.Storage.SnapDir, false)
			if err != nil {
				return err
			}

			removed, err := txnlog.Purge(logDir, snapDir, retain)
			if err != nil {
				return err
			}
			for _, path := range removed {
				fmt.Fprintf(c.App.Writer, "removed %s\n", path)
			}
			fmt.Fprintf(c.App.Writer, "purged %d files, retained %d snapshots\n", len(removed), retain)
			return nil
		},
	}
}
