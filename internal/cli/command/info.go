package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/cypressdb/cypress-go/internal/storage/datadir"
	"github.com/cypressdb/cypress-go/internal/storage/snapshot"
	"github.com/cypressdb/cypress-go/internal/storage/txnlog"
)

// InfoCommand reports what is on disk: log segments, snapshots and the
// recoverable high watermark.
func InfoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show transaction log and snapshot inventory",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			logDir, err := datadir.Resolve(cfg.Storage.LogDir, false)
			if err != nil {
				return err
			}
			snapDir, err := datadir.Resolve(cfg.Storage.SnapDir, false)
			if err != nil {
				return err
			}

			cipher, err := cfg.Cipher()
			if err != nil {
				return err
			}

			segments, err := datadir.ListZxidFiles(logDir, datadir.LogPrefix)
			if err != nil {
				return err
			}
			lastZxid, err := txnlog.LastLoggedZxid(logDir, cipher)
			if err != nil {
				return err
			}

			store, err := snapshot.NewStore(snapDir, cipher)
			if err != nil {
				return err
			}
			snaps, err := store.List()
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "log dir:       %s\n", logDir)
			fmt.Fprintf(c.App.Writer, "snapshot dir:  %s\n", snapDir)
			fmt.Fprintf(c.App.Writer, "log segments:  %d\n", len(segments))
			fmt.Fprintf(c.App.Writer, "last zxid:     %#x\n", lastZxid)
			fmt.Fprintf(c.App.Writer, "snapshots:     %d\n", len(snaps))
			for _, s := range snaps {
				fmt.Fprintf(c.App.Writer, "  %-24s zxid=%#x size=%d\n", s.Name, s.Zxid, s.Size)
			}
			return nil
		},
	}
}
