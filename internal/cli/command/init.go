package command

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/cypressdb/cypress-go/internal/storage/engine"
)

// InitCommand places the initialization marker so the next restore
// accepts an empty database even with auto-create disabled.
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Mark an empty database as intentionally initialized",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Storage.LogDir, 0o755); err != nil {
				return err
			}
			marker := filepath.Join(cfg.Storage.LogDir, engine.InitializeMarkerFile)
			if err := os.WriteFile(marker, nil, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "marker written: %s\n", marker)
			return nil
		},
	}
}
