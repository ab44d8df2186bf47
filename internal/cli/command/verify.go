package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/cypressdb/cypress-go/internal/storage/datadir"
)

// VerifyCommand checks the on-disk layout without touching any data.
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Validate data directory layout and contents",
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

			if logDir != snapDir {
				if err := datadir.ValidateContents(logDir, datadir.KindLog); err != nil {
					return err
				}
				if err := datadir.ValidateContents(snapDir, datadir.KindSnap); err != nil {
					return err
				}
			}

			fmt.Fprintln(c.App.Writer, "data directories ok")
			return nil
		},
	}
}
